package handler

import (
	"encoding/json"
	"net/http"

	mw "github.com/ComfyAssets/kiko-trainer-sub001/internal/api/middleware"
	"github.com/ComfyAssets/kiko-trainer-sub001/internal/api/response"
	"github.com/ComfyAssets/kiko-trainer-sub001/internal/store"
)

// NewLoginHandler exchanges the panel password for a session token.
func NewLoginHandler(auth *mw.Auth) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !auth.Enabled() {
			response.Error(w, http.StatusConflict, "AUTH_DISABLED",
				"The panel runs without a password", nil)
			return
		}
		var req struct {
			Password string `json:"password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		token, err := auth.Login(req.Password)
		if err != nil {
			response.Error(w, http.StatusUnauthorized, "INVALID_PASSWORD", "Wrong password", nil)
			return
		}
		response.JSON(w, map[string]string{"token": token})
	}
}

// NewSetHFTokenHandler stores Hugging Face credentials in memory for
// publishing. Never persisted.
func NewSetHFTokenHandler(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Token    string `json:"token"`
			Username string `json:"username"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		if req.Token == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "token is required", nil)
			return
		}
		st.SetHFAuth(req.Token, req.Username)
		auth := st.Snapshot().Auth
		response.JSON(w, auth)
	}
}

// NewClearHFTokenHandler forgets the stored Hugging Face credentials.
func NewClearHFTokenHandler(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st.ClearHFAuth()
		response.NoContent(w)
	}
}
