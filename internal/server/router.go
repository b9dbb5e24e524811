package server

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/aidea-studio/aidea-backend/internal/handlers"
	"github.com/aidea-studio/aidea-backend/internal/middleware"
)

type RouterConfig struct {
	ServiceName    string
	AllowOrigins   []string
	AuthHandler    *handlers.AuthHandler
	AuthMiddleware *middleware.AuthMiddleware
	TurnHandler    *handlers.TurnHandler
	CanvasHandler  *handlers.CanvasHandler
	GalleryHandler *handlers.GalleryHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()

	router.Use(otelgin.Middleware(cfg.ServiceName))
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
	}))

	router.GET("/healthcheck", handlers.HealthCheck)

	api := router.Group("/api")
	{
		api.POST("/auth/register", cfg.AuthHandler.Register)
		api.POST("/auth/login", cfg.AuthHandler.Login)
	}

	protected := api.Group("/")
	protected.Use(cfg.AuthMiddleware.RequireAuth())
	{
		// Turns
		protected.POST("/turns", cfg.TurnHandler.Submit)
		protected.GET("/turns", cfg.TurnHandler.Transcript)
		protected.POST("/turns/choice", cfg.TurnHandler.Choice)
		protected.POST("/turns/model", cfg.TurnHandler.SetModel)

		// Board tools
		protected.POST("/tools/upscale", cfg.TurnHandler.Upscale)
		protected.POST("/tools/regenerate", cfg.TurnHandler.Regenerate)
		protected.POST("/tools/remove-background", cfg.TurnHandler.RemoveBackground)
		protected.POST("/tools/import", cfg.TurnHandler.Import)

		// Canvas
		protected.POST("/canvas/commands", cfg.CanvasHandler.Command)
		protected.GET("/canvas", cfg.CanvasHandler.Snapshot)
		protected.GET("/canvas/preview.png", cfg.CanvasHandler.Preview)

		// Gallery and account
		protected.GET("/gallery", cfg.GalleryHandler.List)
		protected.GET("/credits", cfg.GalleryHandler.Credits)
	}

	return router
}
