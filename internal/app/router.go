package app

import (
	"github.com/gin-gonic/gin"

	"github.com/aidea-studio/aidea-backend/internal/server"
)

func wireRouter(cfg Config, handlers Handlers, middleware Middleware) *gin.Engine {
	return server.NewRouter(server.RouterConfig{
		ServiceName:    "aidea-backend",
		AllowOrigins:   cfg.AllowOrigins,
		AuthHandler:    handlers.Auth,
		AuthMiddleware: middleware.Auth,
		TurnHandler:    handlers.Turn,
		CanvasHandler:  handlers.Canvas,
		GalleryHandler: handlers.Gallery,
	})
}
