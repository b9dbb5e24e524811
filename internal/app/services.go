package app

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/aidea-studio/aidea-backend/internal/platform/logger"
	"github.com/aidea-studio/aidea-backend/internal/services"
	"github.com/aidea-studio/aidea-backend/internal/turn"
)

type Services struct {
	Auth      services.AuthService
	Generator services.GenerationClient
	Director  services.DirectorService
	Gallery   services.GalleryService
	Credits   services.CreditService
	Turns     *turn.Manager
}

func wireServices(db *gorm.DB, log *logger.Logger, cfg Config, reposet Repos) (Services, error) {
	log.Info("Wiring services...")

	authService := services.NewAuthService(db, log, reposet.User, cfg.JWTSecretKey, cfg.AccessTokenTTL)

	generator, err := services.NewGeminiClient(log)
	if err != nil {
		return Services{}, err
	}
	director, err := services.NewDirectorService(log, generator)
	if err != nil {
		return Services{}, err
	}
	gallery, err := services.NewGalleryService(log, reposet.GalleryItem)
	if err != nil {
		return Services{}, err
	}

	credits := services.NewCreditService(log, reposet.User, newRedisClient(log, cfg.RedisAddr))
	manager := turn.NewManager(log, director, generator, gallery, credits)

	return Services{
		Auth:      authService,
		Generator: generator,
		Director:  director,
		Gallery:   gallery,
		Credits:   credits,
		Turns:     manager,
	}, nil
}

// newRedisClient returns nil when Redis is not configured or unreachable;
// CreditService degrades to database-only behavior in that case.
func newRedisClient(log *logger.Logger, addr string) *redis.Client {
	if addr == "" {
		return nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Warn("Redis unreachable, continuing without cache", "addr", addr, "error", err)
		_ = rdb.Close()
		return nil
	}
	return rdb
}
