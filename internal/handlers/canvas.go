package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/aidea-studio/aidea-backend/internal/canvas"
	"github.com/aidea-studio/aidea-backend/internal/middleware"
	"github.com/aidea-studio/aidea-backend/internal/platform/logger"
	"github.com/aidea-studio/aidea-backend/internal/turn"
)

// CanvasHandler exposes the board: command dispatch, snapshots and a rendered
// preview.
type CanvasHandler struct {
	log     *logger.Logger
	manager *turn.Manager
}

func NewCanvasHandler(log *logger.Logger, manager *turn.Manager) *CanvasHandler {
	return &CanvasHandler{
		log:     log.With("handler", "CanvasHandler"),
		manager: manager,
	}
}

func (ch *CanvasHandler) handle(c *gin.Context) (*turn.Handle, bool) {
	userID, ok := middleware.UserID(c)
	if !ok {
		RespondError(c, http.StatusUnauthorized, "unauthorized", nil)
		return nil, false
	}
	return ch.manager.Get(userID.String(), turn.Surface(c.Query("surface"))), true
}

// commandEnvelope is the wire form of a board command: a type tag next to the
// command's fields.
type commandEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func decodeCommand(env commandEnvelope) (canvas.Command, error) {
	var cmd canvas.Command
	switch env.Type {
	case "pointer_down":
		var v canvas.PointerDown
		if err := json.Unmarshal(env.Data, &v); err != nil {
			return nil, err
		}
		cmd = v
	case "pointer_move":
		var v canvas.PointerMove
		if err := json.Unmarshal(env.Data, &v); err != nil {
			return nil, err
		}
		cmd = v
	case "pointer_up":
		cmd = canvas.PointerUp{}
	case "wheel":
		var v canvas.Wheel
		if err := json.Unmarshal(env.Data, &v); err != nil {
			return nil, err
		}
		cmd = v
	case "set_tool":
		var v canvas.SetTool
		if err := json.Unmarshal(env.Data, &v); err != nil {
			return nil, err
		}
		cmd = v
	case "set_scale":
		var v canvas.SetScale
		if err := json.Unmarshal(env.Data, &v); err != nil {
			return nil, err
		}
		cmd = v
	case "fit_view":
		cmd = canvas.FitView{}
	case "focus_asset":
		var v canvas.FocusAsset
		if err := json.Unmarshal(env.Data, &v); err != nil {
			return nil, err
		}
		cmd = v
	case "select":
		var v canvas.Select
		if err := json.Unmarshal(env.Data, &v); err != nil {
			return nil, err
		}
		cmd = v
	case "set_viewport":
		var v canvas.SetViewport
		if err := json.Unmarshal(env.Data, &v); err != nil {
			return nil, err
		}
		cmd = v
	default:
		return nil, fmt.Errorf("unknown command type %q", env.Type)
	}
	return cmd, nil
}

// Command dispatches one or more board commands and returns the resulting
// snapshot. Batching keeps a pointer-move stream at one request per frame
// instead of one per event.
func (ch *CanvasHandler) Command(c *gin.Context) {
	h, ok := ch.handle(c)
	if !ok {
		return
	}
	var req struct {
		Commands []commandEnvelope `json:"commands"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	if len(req.Commands) == 0 {
		RespondError(c, http.StatusBadRequest, "invalid_request", fmt.Errorf("no commands"))
		return
	}
	for _, env := range req.Commands {
		cmd, err := decodeCommand(env)
		if err != nil {
			RespondError(c, http.StatusBadRequest, "invalid_command", err)
			return
		}
		if err := h.Session.Dispatch(cmd); err != nil {
			RespondError(c, http.StatusUnprocessableEntity, "command_failed", err)
			return
		}
	}
	RespondOK(c, h.Session.Snapshot())
}

func (ch *CanvasHandler) Snapshot(c *gin.Context) {
	h, ok := ch.handle(c)
	if !ok {
		return
	}
	RespondOK(c, h.Session.Snapshot())
}

// Preview renders the board to a PNG.
func (ch *CanvasHandler) Preview(c *gin.Context) {
	h, ok := ch.handle(c)
	if !ok {
		return
	}
	width := intQuery(c, "width", 1280)
	height := intQuery(c, "height", 720)
	png, err := canvas.RenderPreview(h.Session.Snapshot(), width, height)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "preview_failed", err)
		return
	}
	c.Data(http.StatusOK, "image/png", png)
}

func intQuery(c *gin.Context, key string, def int) int {
	if v := c.Query(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			return parsed
		}
	}
	return def
}
