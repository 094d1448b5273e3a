package handler

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/ComfyAssets/kiko-trainer-sub001/internal/api/response"
	"github.com/ComfyAssets/kiko-trainer-sub001/internal/store"
	"github.com/ComfyAssets/kiko-trainer-sub001/pkg/models"
)

// NewGetTrainingConfigHandler returns the current training configuration.
func NewGetTrainingConfigHandler(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, st.Snapshot().TrainingConfig)
	}
}

// NewPatchTrainingConfigHandler overlays the JSON body field-by-field onto
// the stored training configuration. Only the fields present in the body
// change; the result is persisted.
func NewPatchTrainingConfigHandler(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, ok := readPatchBody(w, r, func(b []byte) bool {
			var probe models.TrainingConfig
			return json.Unmarshal(b, &probe) == nil
		})
		if !ok {
			return
		}
		cfg := st.UpdateTrainingConfig(func(c *models.TrainingConfig) {
			json.Unmarshal(body, c)
		})
		response.JSON(w, cfg)
	}
}

// NewGetCaptionConfigHandler returns the current caption configuration.
func NewGetCaptionConfigHandler(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, st.Snapshot().CaptionConfig)
	}
}

// NewPatchCaptionConfigHandler overlays the JSON body field-by-field onto the
// caption configuration. Session-only, never persisted.
func NewPatchCaptionConfigHandler(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, ok := readPatchBody(w, r, func(b []byte) bool {
			var probe models.CaptionConfig
			return json.Unmarshal(b, &probe) == nil
		})
		if !ok {
			return
		}
		cfg := st.UpdateCaptionConfig(func(c *models.CaptionConfig) {
			json.Unmarshal(body, c)
		})
		response.JSON(w, cfg)
	}
}

// readPatchBody reads and validates a PATCH body before it touches the store,
// so a malformed field never half-applies.
func readPatchBody(w http.ResponseWriter, r *http.Request, valid func([]byte) bool) ([]byte, bool) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil || len(body) == 0 || !valid(body) {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
		return nil, false
	}
	return body, true
}
