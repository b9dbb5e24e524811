package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/aidea-studio/aidea-backend/internal/platform/apierr"
	"github.com/aidea-studio/aidea-backend/internal/turn"
)

type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

func RespondError(c *gin.Context, status int, code string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	c.JSON(status, ErrorEnvelope{
		Error: APIError{
			Message: msg,
			Code:    code,
		},
	})
}

func RespondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}

// respondTurnError maps the orchestrator's error taxonomy onto HTTP. Only
// validation and busy errors ever reach a handler; everything else the
// orchestrator reports through the transcript.
func respondTurnError(c *gin.Context, err error) {
	var ae *apierr.Error
	if errors.As(err, &ae) {
		RespondError(c, ae.Status, ae.Code, ae)
		return
	}
	var ve *turn.ValidationError
	if errors.As(err, &ve) {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	if errors.Is(err, turn.ErrBusy) {
		RespondError(c, http.StatusConflict, "turn_in_progress", err)
		return
	}
	RespondError(c, http.StatusInternalServerError, "internal", err)
}
