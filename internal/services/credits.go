package services

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/aidea-studio/aidea-backend/internal/platform/logger"
	"github.com/aidea-studio/aidea-backend/internal/repos"
)

const (
	creditCacheTTL = 30 * time.Second
	turnLockTTL    = 5 * time.Minute
)

// CreditService reads and deducts balances, with a short Redis cache over
// the balance and a per-user turn lock that serializes generation across
// instances. Balance and Deduct satisfy turn.CreditLedger.
type CreditService interface {
	Balance(ctx context.Context, userID string) (int, error)
	Deduct(ctx context.Context, userID string, amount int) error
	TryTurnLock(ctx context.Context, userID string) (bool, error)
	ReleaseTurnLock(ctx context.Context, userID string)
}

type creditService struct {
	log   *logger.Logger
	users repos.UserRepo
	rdb   *redis.Client
}

// NewCreditService accepts a nil Redis client; caching and cross-instance
// locking degrade gracefully to database-only behavior.
func NewCreditService(log *logger.Logger, users repos.UserRepo, rdb *redis.Client) CreditService {
	return &creditService{
		log:   log.With("service", "CreditService"),
		users: users,
		rdb:   rdb,
	}
}

func creditKey(userID string) string { return "credits:" + userID }
func lockKey(userID string) string   { return "turnlock:" + userID }

func (cs *creditService) Balance(ctx context.Context, userID string) (int, error) {
	if cs.rdb != nil {
		if cached, err := cs.rdb.Get(ctx, creditKey(userID)).Result(); err == nil {
			if v, convErr := strconv.Atoi(cached); convErr == nil {
				return v, nil
			}
		}
	}

	uid, err := uuid.Parse(userID)
	if err != nil {
		return 0, fmt.Errorf("parse user id: %w", err)
	}
	user, err := cs.users.GetByID(ctx, nil, uid)
	if err != nil {
		return 0, err
	}

	if cs.rdb != nil {
		if err := cs.rdb.Set(ctx, creditKey(userID), user.Credits, creditCacheTTL).Err(); err != nil {
			cs.log.Warn("credit cache write failed", "user", userID, "error", err)
		}
	}
	return user.Credits, nil
}

func (cs *creditService) Deduct(ctx context.Context, userID string, amount int) error {
	uid, err := uuid.Parse(userID)
	if err != nil {
		return fmt.Errorf("parse user id: %w", err)
	}
	if err := cs.users.DeductCredits(ctx, nil, uid, amount); err != nil {
		return err
	}
	// The cached balance is stale now; drop it rather than recompute.
	if cs.rdb != nil {
		if err := cs.rdb.Del(ctx, creditKey(userID)).Err(); err != nil {
			cs.log.Warn("credit cache invalidation failed", "user", userID, "error", err)
		}
	}
	return nil
}

// TryTurnLock claims the user's generation slot. Without Redis there is
// nothing to coordinate across instances and the in-process busy flag is
// the only serialization, so the claim always succeeds.
func (cs *creditService) TryTurnLock(ctx context.Context, userID string) (bool, error) {
	if cs.rdb == nil {
		return true, nil
	}
	return cs.rdb.SetNX(ctx, lockKey(userID), 1, turnLockTTL).Result()
}

func (cs *creditService) ReleaseTurnLock(ctx context.Context, userID string) {
	if cs.rdb == nil {
		return
	}
	if err := cs.rdb.Del(ctx, lockKey(userID)).Err(); err != nil {
		cs.log.Warn("turn lock release failed", "user", userID, "error", err)
	}
}
