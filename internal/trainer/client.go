// Package trainer is the HTTP client for the remote trainer backend, which
// performs the actual captioning inference and LoRA training.
package trainer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/ComfyAssets/kiko-trainer-sub001/pkg/models"
)

// Sentinel errors for trainer backend failures.
var (
	ErrTrainerUnreachable = errors.New("trainer unreachable")
	ErrTrainerRequest     = errors.New("trainer request failed")
	ErrTrainerTimeout     = errors.New("trainer request timeout")
)

// Client is the interface for talking to the trainer backend. One method per
// backend capability; no retries — a failed attempt is reported to the caller.
type Client interface {
	ListModels(ctx context.Context, path string) ([]ModelFile, error)
	Caption(ctx context.Context, req CaptionRequest) ([]string, error)
	PrepareTraining(ctx context.Context, req PrepareRequest) (string, error)
	StartTraining(ctx context.Context, runID string) error
	StopTraining(ctx context.Context, runID string) error
	TrainingLogs(ctx context.Context, runID string) (LogsResult, error)
	ActiveRuns(ctx context.Context) ([]ActiveRun, error)
	ListOutputs(ctx context.Context) ([]OutputRun, error)
	Publish(ctx context.Context, req PublishRequest) (string, error)
	Ping(ctx context.Context) error
}

// ImageFile is one image payload for a captioning request.
type ImageFile struct {
	Name string
	Data []byte
}

// CaptionRequest carries the captioning parameters and images for one call.
type CaptionRequest struct {
	Params models.CaptionConfig
	Images []ImageFile
}

// PrepareRequest carries the training parameters together with the dataset.
// The backend stores no panel state, so every prepare ships the full image
// collection; Captions[i] is the caption for Images[i].
type PrepareRequest struct {
	Config   models.TrainingConfig
	Images   []ImageFile
	Captions []string
}

// ModelFile describes one model file found by the backend's directory scan.
type ModelFile struct {
	Name      string `json:"name"`
	Path      string `json:"path"`
	Type      string `json:"type"`
	Size      string `json:"size"`
	SizeBytes int64  `json:"size_bytes"`
	Modified  string `json:"modified"`
}

// LogsResult is the status/log tail for a training run.
type LogsResult struct {
	Status string `json:"status"`
	Logs   string `json:"logs"`
}

// ActiveRun describes a prepared or running training run on the backend.
type ActiveRun struct {
	RunID      string  `json:"run_id"`
	Status     string  `json:"status"`
	OutputName string  `json:"output_name"`
	BaseModel  string  `json:"base_model"`
	StartedAt  float64 `json:"started_at"`
}

// OutputRun describes one trained output directory.
type OutputRun struct {
	Name       string   `json:"name"`
	Path       string   `json:"path"`
	Size       string   `json:"size"`
	SizeBytes  int64    `json:"size_bytes"`
	Modified   string   `json:"modified"`
	Images     []string `json:"images"`
	ImageCount int      `json:"image_count"`
}

// PublishRequest uploads a trained model to a Hugging Face style hub.
type PublishRequest struct {
	ModelPath string
	RepoName  string
	Token     string
}

// HTTPClient implements Client against the trainer backend's HTTP API.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPClient creates a trainer client. The timeout applies per request and
// must be generous: captioning holds the connection for the whole inference.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) ListModels(ctx context.Context, path string) ([]ModelFile, error) {
	u := c.baseURL + "/models"
	if path != "" {
		u += "?path=" + url.QueryEscape(path)
	}
	var out struct {
		Models []ModelFile `json:"models"`
	}
	if err := c.getJSON(ctx, u, &out); err != nil {
		return nil, err
	}
	return out.Models, nil
}

// Caption sends the images as a multipart upload together with the model,
// style, and sampling fields, and returns one caption per image in order.
func (c *HTTPClient) Caption(ctx context.Context, req CaptionRequest) ([]string, error) {
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)

	p := req.Params
	fields := map[string]string{
		"model_repo":       p.ModelRepo,
		"model_type":       p.ModelType,
		"attn_mode":        p.AttnMode,
		"concept_sentence": p.ConceptSentence,
		"caption_style":    p.CaptionStyle,
		"qwen_preset":      p.QwenPreset,
		"max_new_tokens":   strconv.Itoa(p.MaxNewTokens),
		"num_beams":        strconv.Itoa(p.NumBeams),
		"temperature":      strconv.FormatFloat(p.Temperature, 'f', -1, 64),
		"top_p":            strconv.FormatFloat(p.TopP, 'f', -1, 64),
	}
	if p.MinPixels > 0 {
		fields["min_pixels"] = strconv.Itoa(p.MinPixels)
	}
	if p.MaxPixels > 0 {
		fields["max_pixels"] = strconv.Itoa(p.MaxPixels)
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, fmt.Errorf("encoding form field %s: %w", k, err)
		}
	}
	for _, img := range req.Images {
		fw, err := w.CreateFormFile("images", img.Name)
		if err != nil {
			return nil, fmt.Errorf("encoding image %s: %w", img.Name, err)
		}
		if _, err := fw.Write(img.Data); err != nil {
			return nil, fmt.Errorf("encoding image %s: %w", img.Name, err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/caption", body)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", w.FormDataContentType())

	var out struct {
		Captions []string `json:"captions"`
	}
	if err := c.do(httpReq, &out); err != nil {
		return nil, err
	}
	if len(out.Captions) != len(req.Images) {
		return nil, fmt.Errorf("%w: got %d captions for %d images", ErrTrainerRequest, len(out.Captions), len(req.Images))
	}
	return out.Captions, nil
}

// PrepareTraining uploads the dataset and registers a run on the backend,
// returning its run id. Images go as multipart files; captions travel as a
// JSON array in field order, and the backend writes them as sidecar files
// next to the images in the dataset folder.
func (c *HTTPClient) PrepareTraining(ctx context.Context, req PrepareRequest) (string, error) {
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)

	cfg := req.Config
	fields := map[string]string{
		"base_model":           cfg.BaseModel,
		"lora_name":            cfg.LoraName,
		"resolution":           strconv.Itoa(cfg.Resolution),
		"seed":                 strconv.Itoa(cfg.Seed),
		"workers":              strconv.Itoa(cfg.Workers),
		"learning_rate":        cfg.LearningRate,
		"network_dim":          strconv.Itoa(cfg.NetworkDim),
		"max_train_epochs":     strconv.Itoa(cfg.MaxTrainEpochs),
		"save_every_n_epochs":  strconv.Itoa(cfg.SaveEveryNEpochs),
		"timestep_sampling":    cfg.TimestepSampling,
		"guidance_scale":       strconv.FormatFloat(cfg.GuidanceScale, 'f', -1, 64),
		"vram":                 cfg.VRAM,
		"sample_prompts":       cfg.SamplePrompts,
		"sample_every_n_steps": strconv.Itoa(cfg.SampleEveryNSteps),
		"class_tokens":         cfg.ClassTokens,
		"num_repeats":          strconv.Itoa(cfg.NumRepeats),
		"train_batch_size":     strconv.Itoa(cfg.TrainBatchSize),
	}
	if cfg.NetworkAlpha > 0 {
		fields["network_alpha"] = strconv.FormatFloat(cfg.NetworkAlpha, 'f', -1, 64)
	}
	captions := req.Captions
	if captions == nil {
		captions = []string{}
	}
	capsJSON, err := json.Marshal(captions)
	if err != nil {
		return "", fmt.Errorf("encoding captions: %w", err)
	}
	fields["captions"] = string(capsJSON)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return "", fmt.Errorf("encoding form field %s: %w", k, err)
		}
	}
	for _, img := range req.Images {
		fw, err := w.CreateFormFile("images", img.Name)
		if err != nil {
			return "", fmt.Errorf("encoding image %s: %w", img.Name, err)
		}
		if _, err := fw.Write(img.Data); err != nil {
			return "", fmt.Errorf("encoding image %s: %w", img.Name, err)
		}
	}
	if err := w.Close(); err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/train/prepare-upload", body)
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", w.FormDataContentType())

	var out struct {
		OK    bool   `json:"ok"`
		RunID string `json:"run_id"`
	}
	if err := c.do(httpReq, &out); err != nil {
		return "", err
	}
	if !out.OK || out.RunID == "" {
		return "", fmt.Errorf("%w: prepare returned no run id", ErrTrainerRequest)
	}
	return out.RunID, nil
}

func (c *HTTPClient) StartTraining(ctx context.Context, runID string) error {
	var out okResponse
	if err := c.postJSON(ctx, "/api/train/start", runPayload{RunID: runID}, &out); err != nil {
		return err
	}
	return out.err()
}

func (c *HTTPClient) StopTraining(ctx context.Context, runID string) error {
	var out okResponse
	if err := c.postJSON(ctx, "/api/train/stop", runPayload{RunID: runID}, &out); err != nil {
		return err
	}
	return out.err()
}

func (c *HTTPClient) TrainingLogs(ctx context.Context, runID string) (LogsResult, error) {
	u := c.baseURL + "/api/train/logs?run_id=" + url.QueryEscape(runID)
	var out struct {
		OK     bool   `json:"ok"`
		Status string `json:"status"`
		Logs   string `json:"logs"`
	}
	if err := c.getJSON(ctx, u, &out); err != nil {
		return LogsResult{}, err
	}
	return LogsResult{Status: out.Status, Logs: out.Logs}, nil
}

func (c *HTTPClient) ActiveRuns(ctx context.Context) ([]ActiveRun, error) {
	var out struct {
		OK   bool        `json:"ok"`
		Runs []ActiveRun `json:"runs"`
	}
	if err := c.getJSON(ctx, c.baseURL+"/api/train/active", &out); err != nil {
		return nil, err
	}
	return out.Runs, nil
}

func (c *HTTPClient) ListOutputs(ctx context.Context) ([]OutputRun, error) {
	var out struct {
		OK   bool        `json:"ok"`
		Runs []OutputRun `json:"runs"`
	}
	if err := c.getJSON(ctx, c.baseURL+"/api/outputs", &out); err != nil {
		return nil, err
	}
	return out.Runs, nil
}

// Publish uploads a trained model output to the hub and returns the repo URL.
func (c *HTTPClient) Publish(ctx context.Context, req PublishRequest) (string, error) {
	form := url.Values{
		"model_path": {req.ModelPath},
		"repo_name":  {req.RepoName},
		"hf_token":   {req.Token},
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/publish", bytes.NewBufferString(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var out struct {
		OK      bool   `json:"ok"`
		URL     string `json:"url"`
		Message string `json:"message"`
	}
	if err := c.do(httpReq, &out); err != nil {
		return "", err
	}
	if !out.OK {
		return "", fmt.Errorf("%w: %s", ErrTrainerRequest, out.Message)
	}
	return out.URL, nil
}

// Ping checks that the backend answers on its root endpoint.
func (c *HTTPClient) Ping(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/", nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return classifyError(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrTrainerUnreachable, resp.StatusCode)
	}
	return nil
}

// --- request plumbing ---

type runPayload struct {
	RunID string `json:"run_id"`
}

type okResponse struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

func (r okResponse) err() error {
	if r.OK {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrTrainerRequest, r.Message)
}

func (c *HTTPClient) getJSON(ctx context.Context, u string, dest any) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	return c.do(httpReq, dest)
}

func (c *HTTPClient) postJSON(ctx context.Context, path string, body, dest any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding request body: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	return c.do(httpReq, dest)
}

func (c *HTTPClient) do(req *http.Request, dest any) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: status %d: %s", ErrTrainerRequest, resp.StatusCode, errorMessage(resp.Body))
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("decoding trainer response: %w", err)
	}
	return nil
}

// errorMessage pulls a human-readable message from a backend error body,
// which uses either {"error": ...} or {"message": ...}.
func errorMessage(r io.Reader) string {
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
		Detail  string `json:"detail"`
	}
	if err := json.NewDecoder(io.LimitReader(r, 64<<10)).Decode(&body); err != nil {
		return "unreadable error body"
	}
	if body.Error != "" {
		return body.Error
	}
	if body.Message != "" {
		return body.Message
	}
	return "no error message"
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrTrainerTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return fmt.Errorf("%w: %v", ErrTrainerTimeout, err)
		}
		return fmt.Errorf("%w: %v", ErrTrainerUnreachable, err)
	}

	return fmt.Errorf("%w: %v", ErrTrainerUnreachable, err)
}

// Compile-time check that HTTPClient implements Client.
var _ Client = (*HTTPClient)(nil)
