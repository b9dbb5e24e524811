package app

import (
	"github.com/aidea-studio/aidea-backend/internal/handlers"
	"github.com/aidea-studio/aidea-backend/internal/platform/logger"
)

type Handlers struct {
	Auth    *handlers.AuthHandler
	Turn    *handlers.TurnHandler
	Canvas  *handlers.CanvasHandler
	Gallery *handlers.GalleryHandler
}

func wireHandlers(log *logger.Logger, services Services) Handlers {
	log.Info("Wiring handlers...")
	return Handlers{
		Auth:    handlers.NewAuthHandler(services.Auth),
		Turn:    handlers.NewTurnHandler(log, services.Turns, services.Gallery, services.Credits),
		Canvas:  handlers.NewCanvasHandler(log, services.Turns),
		Gallery: handlers.NewGalleryHandler(services.Gallery, services.Credits),
	}
}
