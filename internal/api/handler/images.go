// Package handler contains the panel's HTTP handlers. Handlers validate
// input, call into the store or the trainer client, and write response
// envelopes; they hold no state of their own.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ComfyAssets/kiko-trainer-sub001/internal/api/response"
	"github.com/ComfyAssets/kiko-trainer-sub001/internal/store"
	"github.com/ComfyAssets/kiko-trainer-sub001/internal/trainer"
	"github.com/ComfyAssets/kiko-trainer-sub001/pkg/models"
)

// maxUploadBytes bounds one upload request. FLUX training sets are small
// collections of stills, not video.
const maxUploadBytes = 256 << 20

// CaptionRunner is the slice of the captioner the handlers depend on.
type CaptionRunner interface {
	Start(ctx context.Context, params models.CaptionConfig) bool
	Cancel()
	Active() bool
	CaptionImage(ctx context.Context, id string, params models.CaptionConfig) (string, error)
}

type imageResponse struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	Caption  string `json:"caption"`
}

func toImageResponse(img models.ImageEntry) imageResponse {
	return imageResponse{ID: img.ID, Filename: img.Filename, Caption: img.Caption}
}

// NewUploadImagesHandler accepts a multipart upload of one or more files
// under the "images" field and adds them to the collection.
func NewUploadImagesHandler(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"Expected multipart form upload", nil)
			return
		}
		files := r.MultipartForm.File["images"]
		if len(files) == 0 {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"At least one file is required under the images field", nil)
			return
		}

		added := make([]imageResponse, 0, len(files))
		for _, fh := range files {
			f, err := fh.Open()
			if err != nil {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
					"Unreadable upload: "+fh.Filename, nil)
				return
			}
			data, err := io.ReadAll(f)
			f.Close()
			if err != nil {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
					"Unreadable upload: "+fh.Filename, nil)
				return
			}
			entry, err := st.AddImage(fh.Filename, data)
			if err != nil {
				response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
					"Failed to store upload", nil)
				return
			}
			added = append(added, toImageResponse(entry))
		}
		response.Created(w, added)
	}
}

// NewListImagesHandler returns the image collection in upload order.
func NewListImagesHandler(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		imgs := st.Images()
		out := make([]imageResponse, len(imgs))
		for i, img := range imgs {
			out[i] = toImageResponse(img)
		}
		response.JSON(w, out)
	}
}

// NewSetCaptionHandler overwrites one image's caption from the request body.
func NewSetCaptionHandler(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "imageID")
		var req struct {
			Caption string `json:"caption"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		if !st.SetImageCaption(id, req.Caption) {
			response.Error(w, http.StatusNotFound, "IMAGE_NOT_FOUND", "No such image", nil)
			return
		}
		img, _ := st.Image(id)
		response.JSON(w, toImageResponse(img))
	}
}

// NewGenerateCaptionHandler captions a single image synchronously using the
// current caption configuration.
func NewGenerateCaptionHandler(st *store.Store, runner CaptionRunner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "imageID")
		params := st.Snapshot().CaptionConfig
		caption, err := runner.CaptionImage(r.Context(), id, params)
		if err != nil {
			switch {
			case errors.Is(err, store.ErrImageNotFound):
				response.Error(w, http.StatusNotFound, "IMAGE_NOT_FOUND", "No such image", nil)
			case errors.Is(err, trainer.ErrTrainerTimeout):
				response.Error(w, http.StatusGatewayTimeout, "TRAINER_TIMEOUT",
					"Captioning took too long and was cancelled", nil)
			case errors.Is(err, trainer.ErrTrainerUnreachable):
				response.Error(w, http.StatusBadGateway, "TRAINER_UNAVAILABLE",
					"The trainer backend is not reachable", nil)
			default:
				response.Error(w, http.StatusBadGateway, "TRAINER_ERROR",
					"Captioning failed", nil)
			}
			return
		}
		response.JSON(w, map[string]string{"id": id, "caption": caption})
	}
}

// NewRemoveImageHandler deletes one image.
func NewRemoveImageHandler(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !st.RemoveImage(chi.URLParam(r, "imageID")) {
			response.Error(w, http.StatusNotFound, "IMAGE_NOT_FOUND", "No such image", nil)
			return
		}
		response.NoContent(w)
	}
}

// NewClearImagesHandler drops the whole collection.
func NewClearImagesHandler(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st.ClearImages()
		response.NoContent(w)
	}
}
