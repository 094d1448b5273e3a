package handler_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ComfyAssets/kiko-trainer-sub001/internal/api/handler"
	"github.com/ComfyAssets/kiko-trainer-sub001/internal/store"
	"github.com/ComfyAssets/kiko-trainer-sub001/internal/trainer"
	"github.com/ComfyAssets/kiko-trainer-sub001/pkg/models"
)

type imageDTO struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	Caption  string `json:"caption"`
}

func TestUploadImages(t *testing.T) {
	st := memStore(t)
	h := handler.NewUploadImagesHandler(st)

	body, contentType := multipartUpload(t, map[string][]byte{
		"a.png": []byte("bytes-a"),
		"b.png": []byte("bytes-b"),
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/images", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)

	var added []imageDTO
	decodeData(t, rec, &added)
	require.Len(t, added, 2)
	assert.NotEmpty(t, added[0].ID)
	assert.NotEqual(t, added[0].ID, added[1].ID)

	assert.Len(t, st.Images(), 2)
}

func TestUploadImages_NoFiles(t *testing.T) {
	st := memStore(t)
	h := handler.NewUploadImagesHandler(st)

	body, contentType := multipartUpload(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/images", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_REQUEST", errorCode(t, rec))
}

func TestUploadImages_NotMultipart(t *testing.T) {
	st := memStore(t)
	h := handler.NewUploadImagesHandler(st)

	rec := doJSON(t, h, http.MethodPost, "/api/v1/images", map[string]string{"nope": "json"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListImages(t *testing.T) {
	st := memStore(t)
	st.AddImage("a.png", nil)
	st.AddImage("b.png", nil)

	rec := doJSON(t, handler.NewListImagesHandler(st), http.MethodGet, "/api/v1/images", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var imgs []imageDTO
	decodeData(t, rec, &imgs)
	require.Len(t, imgs, 2)
	assert.Equal(t, "a.png", imgs[0].Filename)
	assert.Equal(t, "b.png", imgs[1].Filename)
}

func imageRouter(st *store.Store, runner handler.CaptionRunner) http.Handler {
	r := chi.NewRouter()
	r.Put("/api/v1/images/{imageID}/caption", handler.NewSetCaptionHandler(st))
	r.Post("/api/v1/images/{imageID}/caption/generate", handler.NewGenerateCaptionHandler(st, runner))
	r.Delete("/api/v1/images/{imageID}", handler.NewRemoveImageHandler(st))
	return r
}

func TestSetCaption(t *testing.T) {
	st := memStore(t)
	a, _ := st.AddImage("a.png", nil)
	r := imageRouter(st, &fakeRunner{})

	rec := doJSON(t, r, http.MethodPut, "/api/v1/images/"+a.ID+"/caption",
		map[string]string{"caption": "a red bicycle"})
	require.Equal(t, http.StatusOK, rec.Code)

	var img imageDTO
	decodeData(t, rec, &img)
	assert.Equal(t, "a red bicycle", img.Caption)

	got, _ := st.Image(a.ID)
	assert.Equal(t, "a red bicycle", got.Caption)
}

func TestSetCaption_UnknownImage(t *testing.T) {
	st := memStore(t)
	r := imageRouter(st, &fakeRunner{})

	rec := doJSON(t, r, http.MethodPut, "/api/v1/images/nope/caption",
		map[string]string{"caption": "x"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "IMAGE_NOT_FOUND", errorCode(t, rec))
}

func TestGenerateCaption(t *testing.T) {
	st := memStore(t)
	a, _ := st.AddImage("a.png", []byte("x"))
	r := imageRouter(st, &fakeRunner{})

	rec := doJSON(t, r, http.MethodPost, "/api/v1/images/"+a.ID+"/caption/generate", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var out map[string]string
	decodeData(t, rec, &out)
	assert.Equal(t, "fake caption", out["caption"])
}

func TestGenerateCaption_ErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		status   int
		code     string
	}{
		{"not found", store.ErrImageNotFound, http.StatusNotFound, "IMAGE_NOT_FOUND"},
		{"timeout", trainer.ErrTrainerTimeout, http.StatusGatewayTimeout, "TRAINER_TIMEOUT"},
		{"unreachable", trainer.ErrTrainerUnreachable, http.StatusBadGateway, "TRAINER_UNAVAILABLE"},
		{"other", errors.New("boom"), http.StatusBadGateway, "TRAINER_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := memStore(t)
			a, _ := st.AddImage("a.png", []byte("x"))
			runner := &fakeRunner{captionFn: func(_ context.Context, _ string, _ models.CaptionConfig) (string, error) {
				return "", tt.err
			}}
			r := imageRouter(st, runner)

			rec := doJSON(t, r, http.MethodPost, "/api/v1/images/"+a.ID+"/caption/generate", nil)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.code, errorCode(t, rec))
		})
	}
}

func TestRemoveImage(t *testing.T) {
	st := memStore(t)
	a, _ := st.AddImage("a.png", nil)
	r := imageRouter(st, &fakeRunner{})

	rec := doJSON(t, r, http.MethodDelete, "/api/v1/images/"+a.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, st.Images())

	rec = doJSON(t, r, http.MethodDelete, "/api/v1/images/"+a.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestClearImages(t *testing.T) {
	st := memStore(t)
	st.AddImage("a.png", nil)
	st.AddImage("b.png", nil)

	rec := doJSON(t, handler.NewClearImagesHandler(st), http.MethodDelete, "/api/v1/images", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, st.Images())
}
