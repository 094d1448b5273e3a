package models

// TrainingConfig is the flat record of training parameters the panel sends to
// the trainer backend's prepare endpoint. Field names mirror the backend's
// payload keys. Persisted across sessions.
type TrainingConfig struct {
	BaseModel         string  `json:"base_model"`
	LoraName          string  `json:"lora_name"`
	Resolution        int     `json:"resolution"`
	Seed              int     `json:"seed"`
	Workers           int     `json:"workers"`
	LearningRate      string  `json:"learning_rate"`
	NetworkDim        int     `json:"network_dim"`
	NetworkAlpha      float64 `json:"network_alpha,omitempty"`
	MaxTrainEpochs    int     `json:"max_train_epochs"`
	SaveEveryNEpochs  int     `json:"save_every_n_epochs"`
	TimestepSampling  string  `json:"timestep_sampling"`
	GuidanceScale     float64 `json:"guidance_scale"`
	VRAM              string  `json:"vram"`
	SamplePrompts     string  `json:"sample_prompts,omitempty"`
	SampleEveryNSteps int     `json:"sample_every_n_steps"`
	ClassTokens       string  `json:"class_tokens,omitempty"`
	NumRepeats        int     `json:"num_repeats"`
	TrainBatchSize    int     `json:"train_batch_size"`
}

// DefaultTrainingConfig mirrors the trainer backend's defaults.
func DefaultTrainingConfig() TrainingConfig {
	return TrainingConfig{
		BaseModel:        "flux-dev",
		LoraName:         "MyLoRA",
		Resolution:       512,
		Seed:             42,
		Workers:          2,
		LearningRate:     "8e-4",
		NetworkDim:       4,
		MaxTrainEpochs:   16,
		SaveEveryNEpochs: 4,
		TimestepSampling: "shift",
		GuidanceScale:    1.0,
		VRAM:             "20G",
		NumRepeats:       10,
		TrainBatchSize:   1,
	}
}

// TrainingStatus reflects the most recent state of a training run as reported
// by the trainer backend. Log is append-only. Session-only, never persisted.
type TrainingStatus struct {
	Running    bool     `json:"running"`
	RunID      string   `json:"run_id,omitempty"`
	StatusText string   `json:"status_text,omitempty"`
	Step       int      `json:"step"`
	TotalSteps int      `json:"total_steps"`
	Log        []string `json:"log"`
}
