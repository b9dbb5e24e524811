package turn

import (
	"sync"

	"github.com/aidea-studio/aidea-backend/internal/canvas"
	"github.com/aidea-studio/aidea-backend/internal/platform/logger"
)

// Surface is a product workspace. Each surface fixes its layout flow and
// default model; the two are never mixed on one board.
type Surface string

const (
	SurfaceImage Surface = "image"
	SurfaceReel  Surface = "reel"
)

var defaultViewport = canvas.Size{Width: 1280, Height: 720}

// Handle bundles one user's board session with its orchestrator.
type Handle struct {
	Session      *canvas.Session
	Orchestrator *Orchestrator
}

// Manager owns the live per-user, per-surface sessions. Sessions are created
// on first use and live for the process lifetime; durable state is the
// gallery, not the board.
type Manager struct {
	log       *logger.Logger
	director  Director
	generator Generator
	gallery   GallerySaver
	credits   CreditLedger

	mu       sync.Mutex
	sessions map[string]*Handle
}

func NewManager(log *logger.Logger, d Director, g Generator, gal GallerySaver, c CreditLedger) *Manager {
	return &Manager{
		log:       log.With("service", "TurnManager"),
		director:  d,
		generator: g,
		gallery:   gal,
		credits:   c,
		sessions:  make(map[string]*Handle),
	}
}

// Get returns the user's handle for a surface, creating it on first use.
func (m *Manager) Get(userID string, surface Surface) *Handle {
	if surface != SurfaceReel {
		surface = SurfaceImage
	}
	key := userID + "/" + string(surface)

	m.mu.Lock()
	defer m.mu.Unlock()
	if h, ok := m.sessions[key]; ok {
		return h
	}

	flow := canvas.FlowVertical
	model := ModelBanana
	if surface == SurfaceReel {
		flow = canvas.FlowHorizontal
		model = ModelVeoFast
	}

	session := canvas.NewSession(defaultViewport)
	h := &Handle{
		Session: session,
		Orchestrator: NewOrchestrator(m.log, m.director, m.generator, m.gallery, m.credits, session, Config{
			UserID: userID,
			Flow:   flow,
			Model:  model,
		}),
	}
	m.sessions[key] = h
	return h
}

// Flush drains every session's pending persistence work, for shutdown.
func (m *Manager) Flush() {
	m.mu.Lock()
	handles := make([]*Handle, 0, len(m.sessions))
	for _, h := range m.sessions {
		handles = append(handles, h)
	}
	m.mu.Unlock()
	for _, h := range handles {
		h.Orchestrator.Flush()
	}
}
