package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/aidea-studio/aidea-backend/internal/canvas"
	"github.com/aidea-studio/aidea-backend/internal/middleware"
	"github.com/aidea-studio/aidea-backend/internal/platform/logger"
	"github.com/aidea-studio/aidea-backend/internal/services"
	"github.com/aidea-studio/aidea-backend/internal/turn"
)

// TurnHandler exposes the turn machine: prompt submission, pending-choice
// resolution, board tools and the transcript.
type TurnHandler struct {
	log     *logger.Logger
	manager *turn.Manager
	gallery services.GalleryService
	credits services.CreditService
}

func NewTurnHandler(log *logger.Logger, manager *turn.Manager, gallery services.GalleryService, credits services.CreditService) *TurnHandler {
	return &TurnHandler{
		log:     log.With("handler", "TurnHandler"),
		manager: manager,
		gallery: gallery,
		credits: credits,
	}
}

// handle resolves the caller's session handle from auth context and the
// surface query parameter.
func (th *TurnHandler) handle(c *gin.Context) (*turn.Handle, bool) {
	userID, ok := middleware.UserID(c)
	if !ok {
		RespondError(c, http.StatusUnauthorized, "unauthorized", nil)
		return nil, false
	}
	return th.manager.Get(userID.String(), turn.Surface(c.Query("surface"))), true
}

// withTurnLock serializes generation per user across instances; the
// orchestrator's busy flag only covers one process. The lock covers the whole
// request since Submit returns after generation completes.
func (th *TurnHandler) withTurnLock(c *gin.Context, run func() error) bool {
	userID, _ := middleware.UserID(c)
	ok, err := th.credits.TryTurnLock(c.Request.Context(), userID.String())
	if err != nil {
		th.log.Warn("turn lock check failed, proceeding", "error", err)
	} else if !ok {
		RespondError(c, http.StatusConflict, "turn_in_progress", turn.ErrBusy)
		return false
	}
	// Release with a fresh context: the request context is canceled when the
	// client disconnects mid-generation, and a failed Del would leave the
	// lock held until its TTL expires.
	defer th.credits.ReleaseTurnLock(context.Background(), userID.String())

	if err := run(); err != nil {
		respondTurnError(c, err)
		return false
	}
	return true
}

func (th *TurnHandler) Submit(c *gin.Context) {
	h, ok := th.handle(c)
	if !ok {
		return
	}
	var in turn.SubmitInput
	if err := c.ShouldBindJSON(&in); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	if !th.withTurnLock(c, func() error {
		return h.Orchestrator.Submit(c.Request.Context(), in)
	}) {
		return
	}
	th.respondTurn(c, h)
}

func (th *TurnHandler) Transcript(c *gin.Context) {
	h, ok := th.handle(c)
	if !ok {
		return
	}
	th.respondTurn(c, h)
}

// Choice resolves a turn parked in AwaitingChoice: a prompt suggestion, a
// design plan, or a model switch.
func (th *TurnHandler) Choice(c *gin.Context) {
	h, ok := th.handle(c)
	if !ok {
		return
	}
	var req struct {
		Kind   string `json:"kind"`
		Index  int    `json:"index"`
		Accept bool   `json:"accept"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}

	var run func() error
	switch req.Kind {
	case "suggestion":
		run = func() error { return h.Orchestrator.UseSuggestion(c.Request.Context(), req.Index) }
	case "plan":
		run = func() error { return h.Orchestrator.UseDesignPlan(c.Request.Context(), req.Index) }
	case "model_switch":
		run = func() error { return h.Orchestrator.ConfirmModelSwitch(c.Request.Context(), req.Accept) }
	default:
		RespondError(c, http.StatusBadRequest, "invalid_request", &turn.ValidationError{Reason: "unknown choice kind " + req.Kind})
		return
	}
	if !th.withTurnLock(c, run) {
		return
	}
	th.respondTurn(c, h)
}

func (th *TurnHandler) SetModel(c *gin.Context) {
	h, ok := th.handle(c)
	if !ok {
		return
	}
	var req struct {
		Model turn.Model `json:"model"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	if err := h.Orchestrator.SetModel(req.Model); err != nil {
		respondTurnError(c, err)
		return
	}
	RespondOK(c, gin.H{"model": h.Orchestrator.Model()})
}

func (th *TurnHandler) Upscale(c *gin.Context) {
	h, ok := th.handle(c)
	if !ok {
		return
	}
	var req struct {
		AssetID string `json:"asset_id"`
		Factor  int    `json:"factor"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	if req.Factor == 0 {
		req.Factor = 2
	}
	if !th.withTurnLock(c, func() error {
		return h.Orchestrator.Upscale(c.Request.Context(), req.AssetID, req.Factor)
	}) {
		return
	}
	th.respondTurn(c, h)
}

func (th *TurnHandler) Regenerate(c *gin.Context) {
	h, ok := th.handle(c)
	if !ok {
		return
	}
	var req struct {
		AssetID string `json:"asset_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	if !th.withTurnLock(c, func() error {
		return h.Orchestrator.Regenerate(c.Request.Context(), req.AssetID)
	}) {
		return
	}
	th.respondTurn(c, h)
}

func (th *TurnHandler) RemoveBackground(c *gin.Context) {
	h, ok := th.handle(c)
	if !ok {
		return
	}
	var req struct {
		AssetID string `json:"asset_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	if !th.withTurnLock(c, func() error {
		return h.Orchestrator.RemoveBackground(c.Request.Context(), req.AssetID)
	}) {
		return
	}
	th.respondTurn(c, h)
}

// Import places a gallery item back on the caller's board.
func (th *TurnHandler) Import(c *gin.Context) {
	h, ok := th.handle(c)
	if !ok {
		return
	}
	var req struct {
		AssetID string `json:"asset_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	item, err := th.gallery.GetByAssetID(c.Request.Context(), req.AssetID)
	if err != nil {
		RespondError(c, http.StatusNotFound, "not_found", err)
		return
	}
	userID, _ := middleware.UserID(c)
	if item.UserID != userID {
		RespondError(c, http.StatusForbidden, "forbidden", nil)
		return
	}
	rec := turn.GalleryRecord{
		AssetID: item.AssetID,
		UserID:  item.UserID.String(),
		Kind:    canvasKind(item.Kind),
		Src:     item.URL,
		Prompt:  item.Prompt,
		Width:   item.Width,
		Height:  item.Height,
	}
	if err := h.Orchestrator.ImportGalleryItem(rec); err != nil {
		respondTurnError(c, err)
		return
	}
	th.respondTurn(c, h)
}

func canvasKind(s string) canvas.Kind {
	if s == string(canvas.KindVideo) {
		return canvas.KindVideo
	}
	return canvas.KindImage
}

// respondTurn is the common turn response: machine state, active model and
// the tagged transcript.
func (th *TurnHandler) respondTurn(c *gin.Context, h *turn.Handle) {
	transcript := h.Orchestrator.Transcript()
	out := make([]json.RawMessage, 0, len(transcript))
	for _, m := range transcript {
		raw, err := turn.MarshalMessage(m)
		if err != nil {
			th.log.Error("transcript encode failed", "error", err)
			continue
		}
		out = append(out, raw)
	}
	RespondOK(c, gin.H{
		"state":      h.Orchestrator.State(),
		"model":      h.Orchestrator.Model(),
		"transcript": out,
	})
}
