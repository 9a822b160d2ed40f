// internal/handler/campaign_handler.go
package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/unclebandit/vendor-dispatch/internal/service"
)

// CampaignHandler holds the dependencies for campaign-related HTTP handlers
type CampaignHandler struct {
	Service *service.CampaignService
	Log     zerolog.Logger
}

// GetCampaignHandlerWithStats returns one campaign with its ledger and
// response counts.
func (h *CampaignHandler) GetCampaignHandlerWithStats(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	details, err := h.Service.GetCampaignDetailsWithStats(r.Context(), id)
	if err != nil {
		WriteError(w, h.Log, err)
		return
	}
	WriteJSON(w, http.StatusOK, details)
}

// EndCampaign stops further chunks and marks the campaign Completed.
func (h *CampaignHandler) EndCampaign(w http.ResponseWriter, r *http.Request) {
	c, err := h.Service.EndCampaign(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, h.Log, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"success": true, "campaign": c})
}

func (h *CampaignHandler) CancelCampaign(w http.ResponseWriter, r *http.Request) {
	c, err := h.Service.CancelCampaign(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, h.Log, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"success": true, "campaign": c})
}
