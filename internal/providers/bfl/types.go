package bfl

import (
	"bytes"
	"encoding/json"
	"strings"
)

type finetunePayload struct {
	FinetuneComment string   `json:"finetune_comment"`
	TriggerWord     string   `json:"trigger_word"`
	FileData        string   `json:"file_data"`
	Iterations      int      `json:"iterations"`
	Mode            string   `json:"mode"`
	Captioning      bool     `json:"captioning"`
	Priority        string   `json:"priority"`
	LoraRank        int      `json:"lora_rank"`
	FinetuneType    string   `json:"finetune_type"`
	LearningRate    *float64 `json:"learning_rate,omitempty"`
}

type imagePayload struct {
	FinetuneID       string  `json:"finetune_id"`
	FinetuneStrength float64 `json:"finetune_strength"`
	Prompt           string  `json:"prompt"`
	Steps            int     `json:"steps"`
	Guidance         float64 `json:"guidance"`
	Width            int     `json:"width"`
	Height           int     `json:"height"`
	SafetyTolerance  int     `json:"safety_tolerance"`
	OutputFormat     string  `json:"output_format"`
	Seed             *int    `json:"seed,omitempty"`
}

type submitResponse struct {
	ID         string `json:"id"`
	FinetuneID string `json:"finetune_id"`
	PollingURL string `json:"polling_url"`
}

type resultResponse struct {
	ID       string          `json:"id"`
	Status   string          `json:"status"`
	Result   json.RawMessage `json:"result"`
	Progress *float64        `json:"progress"`
	Details  json.RawMessage `json:"details"`
}

// errorResponse covers both {"detail": "..."} and the validation error shape
// {"detail": [{"msg": "...", "loc": [...]}]}.
type errorResponse struct {
	Detail  json.RawMessage `json:"detail"`
	Message string          `json:"message"`
}

func (e errorResponse) text() string {
	if msg := strings.TrimSpace(e.Message); msg != "" {
		return msg
	}
	return rawText(e.Detail)
}

// rawText renders a loosely typed JSON value as a human readable string.
func rawText(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var items []struct {
		Msg string `json:"msg"`
	}
	if err := json.Unmarshal(raw, &items); err == nil {
		msgs := make([]string, 0, len(items))
		for _, item := range items {
			if m := strings.TrimSpace(item.Msg); m != "" {
				msgs = append(msgs, m)
			}
		}
		if len(msgs) > 0 {
			return strings.Join(msgs, "; ")
		}
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err == nil {
		return buf.String()
	}
	return string(raw)
}
