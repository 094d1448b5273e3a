package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/ComfyAssets/kiko-trainer-sub001/internal/api/response"
	"github.com/ComfyAssets/kiko-trainer-sub001/internal/store"
	"github.com/ComfyAssets/kiko-trainer-sub001/internal/trainer"
	"github.com/ComfyAssets/kiko-trainer-sub001/pkg/models"
)

// RunWatcher is the slice of the status poller the handlers depend on.
type RunWatcher interface {
	Watch(ctx context.Context, runID string) bool
}

// NewStartTrainingHandler uploads the captioned image collection with the
// persisted training configuration to prepare a run, starts it, and begins
// polling its status. The backend shares no filesystem with the panel, so
// the dataset travels with the prepare call.
func NewStartTrainingHandler(appCtx context.Context, st *store.Store, client trainer.Client, watcher RunWatcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if st.Snapshot().Training.Running {
			response.Error(w, http.StatusConflict, "TRAINING_RUNNING",
				"A training run is already active", nil)
			return
		}

		prep := trainer.PrepareRequest{Config: st.Snapshot().TrainingConfig}
		for _, img := range st.Images() {
			data, err := st.ImageBytes(img.ID)
			if err != nil {
				response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
					"Failed to read image "+img.Filename, nil)
				return
			}
			prep.Images = append(prep.Images, trainer.ImageFile{Name: img.Filename, Data: data})
			prep.Captions = append(prep.Captions, img.Caption)
		}

		runID, err := client.PrepareTraining(r.Context(), prep)
		if err != nil {
			writeTrainerError(w, err)
			return
		}
		if err := client.StartTraining(r.Context(), runID); err != nil {
			writeTrainerError(w, err)
			return
		}

		st.UpdateTraining(func(ts *models.TrainingStatus) {
			*ts = models.TrainingStatus{Running: true, RunID: runID, StatusText: "running"}
		})
		watcher.Watch(appCtx, runID)

		response.Accepted(w, map[string]string{"run_id": runID})
	}
}

// NewStopTrainingHandler asks the backend to terminate the active run.
func NewStopTrainingHandler(st *store.Store, client trainer.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		training := st.Snapshot().Training
		if !training.Running || training.RunID == "" {
			response.Error(w, http.StatusConflict, "NO_TRAINING", "No training run is active", nil)
			return
		}
		if err := client.StopTraining(r.Context(), training.RunID); err != nil {
			writeTrainerError(w, err)
			return
		}
		st.UpdateTraining(func(ts *models.TrainingStatus) {
			ts.StatusText = "stopping"
		})
		response.Accepted(w, map[string]string{"run_id": training.RunID, "status": "stopping"})
	}
}

// NewTrainingStatusHandler reports the run state the poller has accumulated.
func NewTrainingStatusHandler(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		training := st.Snapshot().Training
		response.JSON(w, map[string]any{
			"running":     training.Running,
			"run_id":      training.RunID,
			"status":      training.StatusText,
			"step":        training.Step,
			"total_steps": training.TotalSteps,
		})
	}
}

// NewTrainingLogsHandler serves the accumulated run log.
func NewTrainingLogsHandler(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := st.Snapshot().Training.Log
		if log == nil {
			log = []string{}
		}
		response.JSON(w, map[string]any{"log": log})
	}
}

func writeTrainerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, trainer.ErrTrainerTimeout):
		response.Error(w, http.StatusGatewayTimeout, "TRAINER_TIMEOUT",
			"The trainer backend took too long to respond", nil)
	case errors.Is(err, trainer.ErrTrainerUnreachable):
		response.Error(w, http.StatusBadGateway, "TRAINER_UNAVAILABLE",
			"The trainer backend is not reachable", nil)
	default:
		response.Error(w, http.StatusBadGateway, "TRAINER_ERROR", err.Error(), nil)
	}
}
