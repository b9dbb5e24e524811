package app

import (
	"strings"
	"time"

	"github.com/aidea-studio/aidea-backend/internal/platform/logger"
	"github.com/aidea-studio/aidea-backend/internal/utils"
)

type Config struct {
	Port           string
	JWTSecretKey   string
	AccessTokenTTL time.Duration
	RedisAddr      string
	AllowOrigins   []string
	Environment    string
	Version        string
}

func LoadConfig(log *logger.Logger) Config {
	port := utils.GetEnv("PORT", "8080", log)
	jwtSecretKey := utils.GetEnv("JWT_SECRET_KEY", "defaultsecret", log)
	accessTokenTTLSeconds := utils.GetEnvAsInt("ACCESS_TOKEN_TTL", 3600, log)
	redisAddr := utils.GetEnv("REDIS_ADDR", "", log)
	environment := utils.GetEnv("ENVIRONMENT", "development", log)
	version := utils.GetEnv("SERVICE_VERSION", "dev", log)

	origins := []string{
		"http://localhost:80",
		"http://localhost:3000",
		"http://localhost:5173",
	}
	if raw := utils.GetEnv("CORS_ALLOW_ORIGINS", "", log); raw != "" {
		origins = origins[:0]
		for _, o := range strings.Split(raw, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
	}

	return Config{
		Port:           port,
		JWTSecretKey:   jwtSecretKey,
		AccessTokenTTL: time.Duration(accessTokenTTLSeconds) * time.Second,
		RedisAddr:      redisAddr,
		AllowOrigins:   origins,
		Environment:    environment,
		Version:        version,
	}
}
