package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/ComfyAssets/kiko-trainer-sub001/internal/api/response"
	"github.com/ComfyAssets/kiko-trainer-sub001/internal/cache"
	"github.com/ComfyAssets/kiko-trainer-sub001/internal/catalog"
	"github.com/ComfyAssets/kiko-trainer-sub001/internal/trainer"
)

type baseModelResponse struct {
	Key  string `json:"key"`
	Name string `json:"name,omitempty"`
	Repo string `json:"repo"`
	File string `json:"file"`
}

type modelListResponse struct {
	BaseModels []baseModelResponse `json:"base_models"`
	Files      []trainer.ModelFile `json:"files"`
}

// NewListModelsHandler merges the local base-model catalog with the trainer
// backend's directory scan. The scan walks the whole models tree on the
// backend, so the merged result is cached briefly.
func NewListModelsHandler(client trainer.Client, cat catalog.Catalog, ca cache.Cache, ttl time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Query().Get("path")
		key := cache.ModelListKey(path)

		if data, ok, _ := ca.Get(r.Context(), key); ok {
			var cached modelListResponse
			if json.Unmarshal(data, &cached) == nil {
				response.JSON(w, cached)
				return
			}
		}

		files, err := client.ListModels(r.Context(), path)
		if err != nil {
			writeTrainerError(w, err)
			return
		}

		out := modelListResponse{Files: files}
		for _, k := range cat.Keys() {
			e := cat[k]
			out.BaseModels = append(out.BaseModels, baseModelResponse{
				Key: k, Name: e.Name, Repo: e.Repo, File: e.File,
			})
		}

		if data, err := json.Marshal(out); err == nil {
			ca.Set(r.Context(), key, data, ttl)
		}
		response.JSON(w, out)
	}
}

// NewListOutputsHandler lists trained output directories from the backend.
func NewListOutputsHandler(client trainer.Client, ca cache.Cache, ttl time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := cache.OutputsKey()
		if data, ok, _ := ca.Get(r.Context(), key); ok {
			var cached []trainer.OutputRun
			if json.Unmarshal(data, &cached) == nil {
				response.JSON(w, cached)
				return
			}
		}

		runs, err := client.ListOutputs(r.Context())
		if err != nil {
			writeTrainerError(w, err)
			return
		}
		if runs == nil {
			runs = []trainer.OutputRun{}
		}
		if data, err := json.Marshal(runs); err == nil {
			ca.Set(r.Context(), key, data, ttl)
		}
		response.JSON(w, runs)
	}
}
