// Package main is the entrypoint for the kiko panel server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ComfyAssets/kiko-trainer-sub001/internal/api"
	"github.com/ComfyAssets/kiko-trainer-sub001/internal/api/handler"
	mw "github.com/ComfyAssets/kiko-trainer-sub001/internal/api/middleware"
	"github.com/ComfyAssets/kiko-trainer-sub001/internal/api/response"
	"github.com/ComfyAssets/kiko-trainer-sub001/internal/cache"
	"github.com/ComfyAssets/kiko-trainer-sub001/internal/captioner"
	"github.com/ComfyAssets/kiko-trainer-sub001/internal/catalog"
	"github.com/ComfyAssets/kiko-trainer-sub001/internal/config"
	"github.com/ComfyAssets/kiko-trainer-sub001/internal/store"
	"github.com/ComfyAssets/kiko-trainer-sub001/internal/trainer"
	"github.com/ComfyAssets/kiko-trainer-sub001/pkg/models"
)

const (
	shutdownTimeout = 30 * time.Second
	pollPeriod      = 2 * time.Second
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config — fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "trainer", cfg.Trainer.BaseURL, "env", cfg.Server.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Open the state store and rehydrate the persisted record
	st, err := store.Open(cfg.Data.Dir)
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	defer st.Close()
	slog.Info("state store open", "dir", cfg.Data.Dir)

	// 3. Trainer client + status poller
	client := trainer.NewHTTPClient(cfg.Trainer.BaseURL, cfg.Trainer.Timeout)
	poller := trainer.NewPoller(client, st, pollPeriod)

	// 4. Captioner; resume a job that was in flight when we went down
	runner := captioner.New(st, client)
	if runner.Resume(ctx) {
		job := st.Snapshot().CaptionJob
		slog.Info("resumed captioning job", "current", job.Current, "total", job.Total)
	}

	// 5. Reattach to a training run the backend still has active
	reattachTraining(ctx, st, client, poller)

	// 6. Base-model catalog; a missing file is not fatal
	cat, err := catalog.Load(cfg.Catalog.ModelsFile)
	if err != nil {
		slog.Warn("model catalog unavailable", "file", cfg.Catalog.ModelsFile, "error", err)
		cat = catalog.Catalog{}
	}

	// 7. Build router with dependencies
	auth := mw.NewAuth(cfg.Auth.PasswordHash)
	memCache := cache.NewMemoryCache()

	deps := api.Dependencies{
		Auth: auth,

		HealthHandler: healthHandler(st, client),
		LoginHandler:  handler.NewLoginHandler(auth),

		UploadImages:    handler.NewUploadImagesHandler(st),
		ListImages:      handler.NewListImagesHandler(st),
		SetCaption:      handler.NewSetCaptionHandler(st),
		GenerateCaption: handler.NewGenerateCaptionHandler(st, runner),
		RemoveImage:     handler.NewRemoveImageHandler(st),
		ClearImages:     handler.NewClearImagesHandler(st),

		GetTrainingConfig:   handler.NewGetTrainingConfigHandler(st),
		PatchTrainingConfig: handler.NewPatchTrainingConfigHandler(st),
		GetCaptionConfig:    handler.NewGetCaptionConfigHandler(st),
		PatchCaptionConfig:  handler.NewPatchCaptionConfigHandler(st),

		StartCaptionJob:  handler.NewStartCaptionJobHandler(ctx, st, runner),
		CancelCaptionJob: handler.NewCancelCaptionJobHandler(st, runner),
		CaptionJobStatus: handler.NewCaptionJobStatusHandler(st),

		StartTraining:  handler.NewStartTrainingHandler(ctx, st, client, poller),
		StopTraining:   handler.NewStopTrainingHandler(st, client),
		TrainingStatus: handler.NewTrainingStatusHandler(st),
		TrainingLogs:   handler.NewTrainingLogsHandler(st),

		ListModels:  handler.NewListModelsHandler(client, cat, memCache, cfg.Catalog.CacheTTL),
		ListOutputs: handler.NewListOutputsHandler(client, memCache, cfg.Catalog.CacheTTL),
		Publish:     handler.NewPublishHandler(st, client),

		SetHFToken:   handler.NewSetHFTokenHandler(st),
		ClearHFToken: handler.NewClearHFTokenHandler(st),
	}

	router := api.NewRouter(deps)

	// 8. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 10 * time.Minute, // single-image captioning is served synchronously
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

// reattachTraining picks up a run that kept going while the panel was down.
func reattachTraining(ctx context.Context, st *store.Store, client trainer.Client, poller *trainer.Poller) {
	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	runs, err := client.ActiveRuns(checkCtx)
	if err != nil {
		slog.Warn("active run check failed", "error", err)
		return
	}
	for _, run := range runs {
		if run.Status == "running" || run.Status == "stopping" {
			slog.Info("reattached to training run", "run_id", run.RunID, "status", run.Status)
			st.UpdateTraining(func(ts *models.TrainingStatus) {
				*ts = models.TrainingStatus{Running: true, RunID: run.RunID, StatusText: run.Status}
			})
			poller.Watch(ctx, run.RunID)
			return
		}
	}
}

// healthHandler checks trainer backend connectivity.
func healthHandler(st *store.Store, client trainer.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"trainer": "ok",
		}
		if err := client.Ping(r.Context()); err != nil {
			checks["trainer"] = "degraded"
		}

		snap := st.Snapshot()
		body := map[string]any{
			"status":   "ok",
			"services": checks,
			"images":   len(snap.Images),
		}

		if checks["trainer"] != "ok" {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"Trainer backend unreachable", checks)
			return
		}
		response.JSON(w, body)
	}
}
