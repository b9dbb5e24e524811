package app

import (
	"gorm.io/gorm"

	"github.com/aidea-studio/aidea-backend/internal/platform/logger"
	"github.com/aidea-studio/aidea-backend/internal/repos"
)

type Repos struct {
	User        repos.UserRepo
	GalleryItem repos.GalleryItemRepo
}

func wireRepos(db *gorm.DB, log *logger.Logger) Repos {
	log.Info("Wiring repos...")
	return Repos{
		User:        repos.NewUserRepo(db, log),
		GalleryItem: repos.NewGalleryItemRepo(db, log),
	}
}
