package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ComfyAssets/kiko-trainer-sub001/internal/store"
	"github.com/ComfyAssets/kiko-trainer-sub001/internal/trainer"
	"github.com/ComfyAssets/kiko-trainer-sub001/pkg/models"
)

// stubClient implements trainer.Client with overridable functions. The zero
// value answers every call successfully with empty results.
type stubClient struct {
	listModelsFn  func(ctx context.Context, path string) ([]trainer.ModelFile, error)
	captionFn     func(ctx context.Context, req trainer.CaptionRequest) ([]string, error)
	prepareFn     func(ctx context.Context, req trainer.PrepareRequest) (string, error)
	startFn       func(ctx context.Context, runID string) error
	stopFn        func(ctx context.Context, runID string) error
	logsFn        func(ctx context.Context, runID string) (trainer.LogsResult, error)
	activeRunsFn  func(ctx context.Context) ([]trainer.ActiveRun, error)
	listOutputsFn func(ctx context.Context) ([]trainer.OutputRun, error)
	publishFn     func(ctx context.Context, req trainer.PublishRequest) (string, error)
}

func (s *stubClient) ListModels(ctx context.Context, path string) ([]trainer.ModelFile, error) {
	if s.listModelsFn != nil {
		return s.listModelsFn(ctx, path)
	}
	return nil, nil
}

func (s *stubClient) Caption(ctx context.Context, req trainer.CaptionRequest) ([]string, error) {
	if s.captionFn != nil {
		return s.captionFn(ctx, req)
	}
	out := make([]string, len(req.Images))
	for i := range req.Images {
		out[i] = "stub caption"
	}
	return out, nil
}

func (s *stubClient) PrepareTraining(ctx context.Context, req trainer.PrepareRequest) (string, error) {
	if s.prepareFn != nil {
		return s.prepareFn(ctx, req)
	}
	return "stub-run", nil
}

func (s *stubClient) StartTraining(ctx context.Context, runID string) error {
	if s.startFn != nil {
		return s.startFn(ctx, runID)
	}
	return nil
}

func (s *stubClient) StopTraining(ctx context.Context, runID string) error {
	if s.stopFn != nil {
		return s.stopFn(ctx, runID)
	}
	return nil
}

func (s *stubClient) TrainingLogs(ctx context.Context, runID string) (trainer.LogsResult, error) {
	if s.logsFn != nil {
		return s.logsFn(ctx, runID)
	}
	return trainer.LogsResult{}, nil
}

func (s *stubClient) ActiveRuns(ctx context.Context) ([]trainer.ActiveRun, error) {
	if s.activeRunsFn != nil {
		return s.activeRunsFn(ctx)
	}
	return nil, nil
}

func (s *stubClient) ListOutputs(ctx context.Context) ([]trainer.OutputRun, error) {
	if s.listOutputsFn != nil {
		return s.listOutputsFn(ctx)
	}
	return nil, nil
}

func (s *stubClient) Publish(ctx context.Context, req trainer.PublishRequest) (string, error) {
	if s.publishFn != nil {
		return s.publishFn(ctx, req)
	}
	return "https://example.test/repo", nil
}

func (s *stubClient) Ping(context.Context) error { return nil }

var _ trainer.Client = (*stubClient)(nil)

// fakeRunner records handler calls without running a real loop.
type fakeRunner struct {
	startOK   bool
	active    bool
	cancelled bool
	captionFn func(ctx context.Context, id string, params models.CaptionConfig) (string, error)
}

func (f *fakeRunner) Start(_ context.Context, _ models.CaptionConfig) bool { return f.startOK }
func (f *fakeRunner) Cancel()                                              { f.cancelled = true }
func (f *fakeRunner) Active() bool                                         { return f.active }
func (f *fakeRunner) CaptionImage(ctx context.Context, id string, params models.CaptionConfig) (string, error) {
	if f.captionFn != nil {
		return f.captionFn(ctx, id, params)
	}
	return "fake caption", nil
}

func memStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

// do executes a request against a handler mounted at a chi route pattern, so
// URL parameters resolve the same way they do in the real router.
func doJSON(t *testing.T, h http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// decodeData unmarshals the "data" envelope member into dest.
func decodeData(t *testing.T, rec *httptest.ResponseRecorder, dest any) {
	t.Helper()
	var body struct {
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NoError(t, json.Unmarshal(body.Data, dest))
}

// errorCode pulls the error code out of an error envelope.
func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error.Code
}

// multipartUpload builds a multipart body with the given files under the
// "images" field.
func multipartUpload(t *testing.T, files map[string][]byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	for name, data := range files {
		fw, err := w.CreateFormFile("images", name)
		require.NoError(t, err)
		_, err = fw.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return body, w.FormDataContentType()
}
