package handler

import (
	"encoding/json"
	"net/http"

	"github.com/ComfyAssets/kiko-trainer-sub001/internal/api/response"
	"github.com/ComfyAssets/kiko-trainer-sub001/internal/store"
	"github.com/ComfyAssets/kiko-trainer-sub001/internal/trainer"
)

// NewPublishHandler uploads a trained model to the hub using the Hugging
// Face token held in the store's auth state.
func NewPublishHandler(st *store.Store, client trainer.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ModelPath string `json:"model_path"`
			RepoName  string `json:"repo_name"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		if req.ModelPath == "" || req.RepoName == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"model_path and repo_name are required", nil)
			return
		}

		auth := st.Snapshot().Auth
		if !auth.Authenticated {
			response.Error(w, http.StatusUnauthorized, "HF_TOKEN_MISSING",
				"Set a Hugging Face token before publishing", nil)
			return
		}

		url, err := client.Publish(r.Context(), trainer.PublishRequest{
			ModelPath: req.ModelPath,
			RepoName:  req.RepoName,
			Token:     auth.Token,
		})
		if err != nil {
			writeTrainerError(w, err)
			return
		}
		response.JSON(w, map[string]string{"url": url})
	}
}
