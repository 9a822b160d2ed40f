package handler

import (
	"context"
	"net/http"

	"github.com/rs/zerolog"

	appErrors "github.com/unclebandit/vendor-dispatch/internal/errors"
	"github.com/unclebandit/vendor-dispatch/internal/service"
)

// ChunkDispatcher is the orchestrator surface the triggers call.
type ChunkDispatcher interface {
	StartDispatch(ctx context.Context, campaignID string) (*service.ChunkResult, error)
	RunChunk(ctx context.Context, req service.ChunkRequest) (*service.ChunkResult, error)
	ResumeCampaign(ctx context.Context, campaignID string) (*service.ChunkResult, error)
}

// DispatchHandler exposes the three dispatch triggers. Chunks run to the end
// even if the client goes away; the ledger keeps a retry safe either way.
type DispatchHandler struct {
	Dispatcher ChunkDispatcher
	Log        zerolog.Logger
}

type campaignRequest struct {
	CampaignID string `json:"campaignId"`
}

func (h *DispatchHandler) decodeCampaign(r *http.Request) (string, error) {
	var body campaignRequest
	if err := DecodeJSON(r, &body); err != nil {
		return "", err
	}
	if body.CampaignID == "" {
		return "", appErrors.Invalidf("campaignId is required")
	}
	return body.CampaignID, nil
}

// StartDispatch handles POST /dispatch/start
func (h *DispatchHandler) StartDispatch(w http.ResponseWriter, r *http.Request) {
	id, err := h.decodeCampaign(r)
	if err != nil {
		WriteError(w, h.Log, err)
		return
	}
	res, err := h.Dispatcher.StartDispatch(context.WithoutCancel(r.Context()), id)
	h.respond(w, res, err)
}

// RunChunk handles POST /dispatch/chunk
func (h *DispatchHandler) RunChunk(w http.ResponseWriter, r *http.Request) {
	var req service.ChunkRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteError(w, h.Log, err)
		return
	}
	switch {
	case req.CampaignID == "":
		WriteError(w, h.Log, appErrors.Invalidf("campaignId is required"))
		return
	case req.ChunkSize < 0:
		WriteError(w, h.Log, appErrors.Invalidf("chunkSize must be positive"))
		return
	case req.StartIndex < 0:
		WriteError(w, h.Log, appErrors.Invalidf("startIndex must not be negative"))
		return
	}
	res, err := h.Dispatcher.RunChunk(context.WithoutCancel(r.Context()), req)
	h.respond(w, res, err)
}

// ResumeDispatch handles POST /dispatch/resume
func (h *DispatchHandler) ResumeDispatch(w http.ResponseWriter, r *http.Request) {
	id, err := h.decodeCampaign(r)
	if err != nil {
		WriteError(w, h.Log, err)
		return
	}
	res, err := h.Dispatcher.ResumeCampaign(context.WithoutCancel(r.Context()), id)
	h.respond(w, res, err)
}

func (h *DispatchHandler) respond(w http.ResponseWriter, res *service.ChunkResult, err error) {
	if err != nil {
		WriteError(w, h.Log, err)
		return
	}
	WriteJSON(w, http.StatusOK, res)
}
