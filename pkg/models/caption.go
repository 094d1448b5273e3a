package models

import "time"

// CaptionConfig holds the model/style/sampling parameters for the captioning
// backend. Mutated field-by-field from the UI; session-only.
type CaptionConfig struct {
	ModelRepo       string  `json:"model_repo"`
	ModelType       string  `json:"model_type"` // "qwen-vl" or "florence2"
	AttnMode        string  `json:"attn_mode"`
	ConceptSentence string  `json:"concept_sentence,omitempty"`
	CaptionStyle    string  `json:"caption_style,omitempty"` // florence2 task or brief/detailed
	QwenPreset      string  `json:"qwen_preset,omitempty"`
	MinPixels       int     `json:"min_pixels,omitempty"`
	MaxPixels       int     `json:"max_pixels,omitempty"`
	MaxNewTokens    int     `json:"max_new_tokens"`
	NumBeams        int     `json:"num_beams"`
	Temperature     float64 `json:"temperature"`
	TopP            float64 `json:"top_p"`
}

// DefaultCaptionConfig mirrors the trainer backend's form defaults.
func DefaultCaptionConfig() CaptionConfig {
	return CaptionConfig{
		ModelRepo:    "Qwen/Qwen2.5-VL-7B-Instruct",
		ModelType:    "qwen-vl",
		AttnMode:     "eager",
		CaptionStyle: "<DETAILED_CAPTION>",
		QwenPreset:   "brief",
		MaxNewTokens: 1024,
		NumBeams:     3,
		Temperature:  0.0,
		TopP:         1.0,
	}
}

// CaptionJob tracks a background captioning run over the image collection.
// Persisted so a job in flight survives a panel restart: the queue position
// is durable even though the loop itself is not.
//
// Invariants: Current <= Total and len(Queue) == Total while Running. A queue
// id whose image has since been removed is skipped, not an error.
type CaptionJob struct {
	Running         bool          `json:"running"`
	CancelRequested bool          `json:"cancel_requested"`
	Current         int           `json:"current"`
	Total           int           `json:"total"`
	Queue           []string      `json:"queue"`
	StartedAt       time.Time     `json:"started_at,omitzero"`
	Params          CaptionConfig `json:"params"`
}
