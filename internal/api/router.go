// Package api assembles the panel's HTTP surface.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	mw "github.com/ComfyAssets/kiko-trainer-sub001/internal/api/middleware"
	"github.com/ComfyAssets/kiko-trainer-sub001/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth *mw.Auth

	HealthHandler http.HandlerFunc
	LoginHandler  http.HandlerFunc

	UploadImages    http.HandlerFunc
	ListImages      http.HandlerFunc
	SetCaption      http.HandlerFunc
	GenerateCaption http.HandlerFunc
	RemoveImage     http.HandlerFunc
	ClearImages     http.HandlerFunc

	GetTrainingConfig   http.HandlerFunc
	PatchTrainingConfig http.HandlerFunc
	GetCaptionConfig    http.HandlerFunc
	PatchCaptionConfig  http.HandlerFunc

	StartCaptionJob  http.HandlerFunc
	CancelCaptionJob http.HandlerFunc
	CaptionJobStatus http.HandlerFunc

	StartTraining  http.HandlerFunc
	StopTraining   http.HandlerFunc
	TrainingStatus http.HandlerFunc
	TrainingLogs   http.HandlerFunc

	ListModels  http.HandlerFunc
	ListOutputs http.HandlerFunc
	Publish     http.HandlerFunc

	SetHFToken   http.HandlerFunc
	ClearHFToken http.HandlerFunc
}

// NewRouter builds the Chi router with the middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	// Public routes
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))
	r.Post("/api/v1/auth/login", orNotImplemented(deps.LoginHandler))

	// Panel routes (gated only when a password is configured)
	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)

		r.Post("/api/v1/images", orNotImplemented(deps.UploadImages))
		r.Get("/api/v1/images", orNotImplemented(deps.ListImages))
		r.Delete("/api/v1/images", orNotImplemented(deps.ClearImages))
		r.Put("/api/v1/images/{imageID}/caption", orNotImplemented(deps.SetCaption))
		r.Post("/api/v1/images/{imageID}/caption/generate", orNotImplemented(deps.GenerateCaption))
		r.Delete("/api/v1/images/{imageID}", orNotImplemented(deps.RemoveImage))

		r.Get("/api/v1/config/training", orNotImplemented(deps.GetTrainingConfig))
		r.Patch("/api/v1/config/training", orNotImplemented(deps.PatchTrainingConfig))
		r.Get("/api/v1/config/caption", orNotImplemented(deps.GetCaptionConfig))
		r.Patch("/api/v1/config/caption", orNotImplemented(deps.PatchCaptionConfig))

		r.Post("/api/v1/caption/start", orNotImplemented(deps.StartCaptionJob))
		r.Post("/api/v1/caption/cancel", orNotImplemented(deps.CancelCaptionJob))
		r.Get("/api/v1/caption/status", orNotImplemented(deps.CaptionJobStatus))

		r.Post("/api/v1/train/start", orNotImplemented(deps.StartTraining))
		r.Post("/api/v1/train/stop", orNotImplemented(deps.StopTraining))
		r.Get("/api/v1/train/status", orNotImplemented(deps.TrainingStatus))
		r.Get("/api/v1/train/logs", orNotImplemented(deps.TrainingLogs))

		r.Get("/api/v1/models", orNotImplemented(deps.ListModels))
		r.Get("/api/v1/outputs", orNotImplemented(deps.ListOutputs))
		r.Post("/api/v1/publish", orNotImplemented(deps.Publish))

		r.Post("/api/v1/auth/huggingface", orNotImplemented(deps.SetHFToken))
		r.Delete("/api/v1/auth/huggingface", orNotImplemented(deps.ClearHFToken))
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
