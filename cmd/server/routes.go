package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/unclebandit/vendor-dispatch/internal/controller"
	"github.com/unclebandit/vendor-dispatch/internal/handler"
	"github.com/unclebandit/vendor-dispatch/internal/service"
)

func newRouter(orch handler.ChunkDispatcher, campaigns *service.CampaignService, log zerolog.Logger) http.Handler {
	dispatchHandler := &handler.DispatchHandler{Dispatcher: orch, Log: log}
	campaignHandler := &handler.CampaignHandler{Service: campaigns, Log: log}
	campaignController := &controller.CampaignController{CampaignService: campaigns, Log: log}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(handler.RequestLogger(log))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		handler.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// Dispatch triggers
	r.Post("/dispatch/start", dispatchHandler.StartDispatch)
	r.Post("/dispatch/chunk", dispatchHandler.RunChunk)
	r.Post("/dispatch/resume", dispatchHandler.ResumeDispatch)

	// Campaign routes
	r.Post("/campaigns", campaignController.CreateCampaign)
	r.Get("/campaigns", campaignController.ListCampaigns)
	r.Get("/campaigns/{id}", campaignHandler.GetCampaignHandlerWithStats)
	r.Post("/campaigns/{id}/end", campaignHandler.EndCampaign)
	r.Post("/campaigns/{id}/cancel", campaignHandler.CancelCampaign)
	r.Post("/campaigns/{id}/preview", campaignController.PersonalizedPreview)

	return r
}
