package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/aidea-studio/aidea-backend/internal/middleware"
	"github.com/aidea-studio/aidea-backend/internal/platform/logger"
)

// lockRecorder is a CreditService that records the contexts the turn lock
// calls receive.
type lockRecorder struct {
	allow      bool
	releaseCtx context.Context
}

func (l *lockRecorder) Balance(context.Context, string) (int, error) { return 0, nil }
func (l *lockRecorder) Deduct(context.Context, string, int) error    { return nil }

func (l *lockRecorder) TryTurnLock(context.Context, string) (bool, error) {
	return l.allow, nil
}

func (l *lockRecorder) ReleaseTurnLock(ctx context.Context, _ string) {
	l.releaseCtx = ctx
}

func newLockTestContext(t *testing.T, ctx context.Context) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/api/turns", nil).WithContext(ctx)
	c.Set(middleware.UserIDKey, uuid.New())
	return c, w
}

func TestTurnLockReleasedAfterClientDisconnect(t *testing.T) {
	log, err := logger.New("dev")
	if err != nil {
		t.Fatal(err)
	}
	rec := &lockRecorder{allow: true}
	th := &TurnHandler{log: log, credits: rec}

	reqCtx, cancel := context.WithCancel(context.Background())
	c, _ := newLockTestContext(t, reqCtx)

	ran := th.withTurnLock(c, func() error {
		// The client goes away mid-generation.
		cancel()
		return nil
	})
	if !ran {
		t.Fatal("locked run did not execute")
	}
	if rec.releaseCtx == nil {
		t.Fatal("lock was never released")
	}
	if rec.releaseCtx.Err() != nil {
		t.Error("release ran on the canceled request context, so the lock would linger until TTL")
	}
}

func TestTurnLockHeldElsewhereConflicts(t *testing.T) {
	log, err := logger.New("dev")
	if err != nil {
		t.Fatal(err)
	}
	rec := &lockRecorder{allow: false}
	th := &TurnHandler{log: log, credits: rec}

	c, w := newLockTestContext(t, context.Background())

	ran := th.withTurnLock(c, func() error {
		t.Error("run executed despite a held lock")
		return nil
	})
	if ran {
		t.Error("withTurnLock reported success")
	}
	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want %d", w.Code, http.StatusConflict)
	}
}
