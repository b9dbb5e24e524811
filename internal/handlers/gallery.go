package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/aidea-studio/aidea-backend/internal/middleware"
	"github.com/aidea-studio/aidea-backend/internal/services"
)

type GalleryHandler struct {
	gallery services.GalleryService
	credits services.CreditService
}

func NewGalleryHandler(gallery services.GalleryService, credits services.CreditService) *GalleryHandler {
	return &GalleryHandler{gallery: gallery, credits: credits}
}

func (gh *GalleryHandler) List(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		RespondError(c, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	items, err := gh.gallery.List(c.Request.Context(), userID.String(), intQuery(c, "limit", 100))
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "list_failed", err)
		return
	}
	RespondOK(c, gin.H{"items": items})
}

// Credits returns the caller's balance for the model picker.
func (gh *GalleryHandler) Credits(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		RespondError(c, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	balance, err := gh.credits.Balance(c.Request.Context(), userID.String())
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "balance_failed", err)
		return
	}
	RespondOK(c, gin.H{"credits": balance})
}
