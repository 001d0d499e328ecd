package domain

import (
	"fmt"
	"strings"
	"time"
)

// Finetune modes accepted by the remote service for caption generation.
const (
	FinetuneModeCharacter = "character"
	FinetuneModeProduct   = "product"
	FinetuneModeStyle     = "style"
	FinetuneModeGeneral   = "general"
)

// FinetuneRecord maps a human readable label to a remote finetune id.
type FinetuneRecord struct {
	Label      string    `json:"label"`
	FinetuneID string    `json:"finetune_id"`
	CreatedAt  time.Time `json:"created_at,omitempty"`
	UpdatedAt  time.Time `json:"updated_at,omitempty"`
}

// JobRequest is a payload that can be submitted as a remote job.
type JobRequest interface {
	Kind() JobKind
	Validate() error
}

// FinetuneRequest carries the training archive and training options.
type FinetuneRequest struct {
	Archive      []byte   `json:"-" yaml:"-"`
	Comment      string   `json:"finetune_comment" yaml:"comment"`
	TriggerWord  string   `json:"trigger_word" yaml:"trigger_word"`
	Mode         string   `json:"mode" yaml:"mode"`
	Iterations   int      `json:"iterations" yaml:"iterations"`
	LearningRate *float64 `json:"learning_rate,omitempty" yaml:"learning_rate,omitempty"`
	Captioning   bool     `json:"captioning" yaml:"captioning"`
	Priority     string   `json:"priority" yaml:"priority"`
	FinetuneType string   `json:"finetune_type" yaml:"finetune_type"`
	LoraRank     int      `json:"lora_rank" yaml:"lora_rank"`
}

// DefaultFinetuneRequest returns a request populated with the service defaults.
func DefaultFinetuneRequest() FinetuneRequest {
	return FinetuneRequest{
		TriggerWord:  "TOK",
		Mode:         FinetuneModeCharacter,
		Iterations:   300,
		Captioning:   true,
		Priority:     "quality",
		FinetuneType: "full",
		LoraRank:     32,
	}
}

func (r FinetuneRequest) Kind() JobKind { return JobKindFinetune }

// Validate checks the options against the ranges the service accepts.
func (r FinetuneRequest) Validate() error {
	if len(r.Archive) == 0 {
		return &ValidationError{Field: "archive", Message: "training archive is empty"}
	}
	if strings.TrimSpace(r.TriggerWord) == "" {
		return &ValidationError{Field: "trigger_word", Message: "must not be empty"}
	}
	switch r.Mode {
	case FinetuneModeCharacter, FinetuneModeProduct, FinetuneModeStyle, FinetuneModeGeneral:
	default:
		return &ValidationError{Field: "mode", Message: fmt.Sprintf("%q is not one of character, product, style, general", r.Mode)}
	}
	if r.Iterations < 100 || r.Iterations > 1000 {
		return &ValidationError{Field: "iterations", Message: "must be between 100 and 1000"}
	}
	if r.LearningRate != nil && (*r.LearningRate < 1e-7 || *r.LearningRate > 0.5) {
		return &ValidationError{Field: "learning_rate", Message: "must be between 1e-7 and 0.5"}
	}
	if r.Priority != "speed" && r.Priority != "quality" {
		return &ValidationError{Field: "priority", Message: "must be speed or quality"}
	}
	if r.FinetuneType != "full" && r.FinetuneType != "lora" {
		return &ValidationError{Field: "finetune_type", Message: "must be full or lora"}
	}
	if r.LoraRank != 16 && r.LoraRank != 32 {
		return &ValidationError{Field: "lora_rank", Message: "must be 16 or 32"}
	}
	return nil
}

var allowedDimensions = []int{256, 512, 768, 1024, 1280, 1344, 1440}

// ImageRequest carries the parameters for generating an image from a finetune.
type ImageRequest struct {
	FinetuneID       string  `json:"finetune_id" yaml:"finetune_id"`
	Prompt           string  `json:"prompt" yaml:"prompt"`
	FinetuneStrength float64 `json:"finetune_strength" yaml:"finetune_strength"`
	Steps            int     `json:"steps" yaml:"steps"`
	Guidance         float64 `json:"guidance" yaml:"guidance"`
	Width            int     `json:"width" yaml:"width"`
	Height           int     `json:"height" yaml:"height"`
	Seed             *int    `json:"seed,omitempty" yaml:"seed,omitempty"`
	SafetyTolerance  int     `json:"safety_tolerance" yaml:"safety_tolerance"`
	OutputFormat     string  `json:"output_format" yaml:"output_format"`
}

// DefaultImageRequest returns a request populated with the service defaults.
func DefaultImageRequest() ImageRequest {
	return ImageRequest{
		Prompt:           "image of a TOK",
		FinetuneStrength: 1.1,
		Steps:            40,
		Guidance:         2.5,
		Width:            512,
		Height:           512,
		SafetyTolerance:  2,
		OutputFormat:     "jpeg",
	}
}

func (r ImageRequest) Kind() JobKind { return JobKindImage }

// Validate checks the parameters against the ranges the service accepts.
func (r ImageRequest) Validate() error {
	if strings.TrimSpace(r.FinetuneID) == "" {
		return &ValidationError{Field: "finetune_id", Message: "must not be empty"}
	}
	if strings.TrimSpace(r.Prompt) == "" {
		return &ValidationError{Field: "prompt", Message: "must not be empty"}
	}
	if r.FinetuneStrength < 0 || r.FinetuneStrength > 2 {
		return &ValidationError{Field: "finetune_strength", Message: "must be between 0 and 2"}
	}
	if r.Steps < 1 || r.Steps > 50 {
		return &ValidationError{Field: "steps", Message: "must be between 1 and 50"}
	}
	if r.Guidance < 1.5 || r.Guidance > 5 {
		return &ValidationError{Field: "guidance", Message: "must be between 1.5 and 5"}
	}
	if !validDimension(r.Width) {
		return &ValidationError{Field: "width", Message: fmt.Sprintf("must be one of %v", allowedDimensions)}
	}
	if !validDimension(r.Height) {
		return &ValidationError{Field: "height", Message: fmt.Sprintf("must be one of %v", allowedDimensions)}
	}
	if r.SafetyTolerance < 0 || r.SafetyTolerance > 6 {
		return &ValidationError{Field: "safety_tolerance", Message: "must be between 0 and 6"}
	}
	if r.OutputFormat != "jpeg" && r.OutputFormat != "png" {
		return &ValidationError{Field: "output_format", Message: "must be jpeg or png"}
	}
	return nil
}

func validDimension(v int) bool {
	for _, d := range allowedDimensions {
		if d == v {
			return true
		}
	}
	return false
}

// ImageResult is the outcome of a successful image generation job.
type ImageResult struct {
	JobID      string `json:"job_id"`
	URL        string `json:"url"`
	Format     string `json:"format,omitempty"`
	StorageKey string `json:"storage_key,omitempty"`
	Data       []byte `json:"-"`
}
