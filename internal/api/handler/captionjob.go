package handler

import (
	"context"
	"net/http"

	"github.com/ComfyAssets/kiko-trainer-sub001/internal/api/response"
	"github.com/ComfyAssets/kiko-trainer-sub001/internal/store"
)

type captionJobResponse struct {
	State           string `json:"state"` // idle or running
	CancelRequested bool   `json:"cancel_requested,omitempty"`
	Current         int    `json:"current"`
	Total           int    `json:"total"`
}

// NewStartCaptionJobHandler kicks off a background captioning job over the
// current image collection using the current caption configuration. The loop
// runs on appCtx, not the request context: it must outlive this request.
func NewStartCaptionJobHandler(appCtx context.Context, st *store.Store, runner CaptionRunner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap := st.Snapshot()
		if len(snap.Images) == 0 {
			response.Error(w, http.StatusBadRequest, "NO_IMAGES",
				"Upload images before starting a captioning job", nil)
			return
		}
		if !runner.Start(appCtx, snap.CaptionConfig) {
			response.Error(w, http.StatusConflict, "JOB_RUNNING",
				"A captioning job is already running", nil)
			return
		}
		response.Accepted(w, jobStatus(st))
	}
}

// NewCancelCaptionJobHandler requests cooperative cancellation.
func NewCancelCaptionJobHandler(st *store.Store, runner CaptionRunner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !st.Snapshot().CaptionJob.Running {
			response.Error(w, http.StatusConflict, "NO_JOB", "No captioning job is running", nil)
			return
		}
		runner.Cancel()
		response.Accepted(w, jobStatus(st))
	}
}

// NewCaptionJobStatusHandler reports the job's position and state.
func NewCaptionJobStatusHandler(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, jobStatus(st))
	}
}

func jobStatus(st *store.Store) captionJobResponse {
	job := st.Snapshot().CaptionJob
	state := "idle"
	if job.Running {
		state = "running"
	}
	return captionJobResponse{
		State:           state,
		CancelRequested: job.CancelRequested,
		Current:         job.Current,
		Total:           job.Total,
	}
}
