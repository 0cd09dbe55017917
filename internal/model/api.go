package model

import (
	"fmt"
	"strings"
)

// Field length limits for caller-supplied text. These keep a single
// oversized field from filling TEXT columns with caller-controlled
// garbage or bloating every snapshot sent to stream subscribers.
const (
	MaxPromptLen         = 16 * 1024
	MaxLogMessageLen     = 32 * 1024
	MaxStepIdentifierLen = 200
	MaxStepLabelLen      = 500
)

// CreateRunRequest is the body of POST /v1/runs.
type CreateRunRequest struct {
	Prompt string     `json:"prompt"`
	Steps  []StepSpec `json:"steps,omitempty"`
}

// Validate checks the request before any write.
func (r CreateRunRequest) Validate() error {
	if strings.TrimSpace(r.Prompt) == "" {
		return fmt.Errorf("prompt is required")
	}
	if len(r.Prompt) > MaxPromptLen {
		return fmt.Errorf("prompt exceeds maximum length of %d bytes", MaxPromptLen)
	}
	seen := make(map[string]struct{}, len(r.Steps))
	for i, s := range r.Steps {
		if err := s.Validate(); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
		if _, dup := seen[s.Identifier]; dup {
			return fmt.Errorf("steps[%d]: duplicate identifier %q", i, s.Identifier)
		}
		seen[s.Identifier] = struct{}{}
	}
	return nil
}

// Validate checks a step spec.
func (s StepSpec) Validate() error {
	if strings.TrimSpace(s.Identifier) == "" {
		return fmt.Errorf("identifier is required")
	}
	if len(s.Identifier) > MaxStepIdentifierLen {
		return fmt.Errorf("identifier exceeds maximum length of %d characters", MaxStepIdentifierLen)
	}
	if len(s.Label) > MaxStepLabelLen {
		return fmt.Errorf("label exceeds maximum length of %d characters", MaxStepLabelLen)
	}
	return nil
}

// AppendLogRequest is the body of POST /v1/runs/{run_id}/logs.
type AppendLogRequest struct {
	Message  string         `json:"message"`
	Severity Severity       `json:"severity,omitempty"`
	StepID   *string        `json:"step_id,omitempty"`
	Payload  map[string]any `json:"payload,omitempty"`
}

// Validate checks the request before any write.
func (r AppendLogRequest) Validate() error {
	if r.Message == "" {
		return fmt.Errorf("message is required")
	}
	if len(r.Message) > MaxLogMessageLen {
		return fmt.Errorf("message exceeds maximum length of %d bytes", MaxLogMessageLen)
	}
	if r.Severity != "" && !r.Severity.Valid() {
		return fmt.Errorf("unknown severity %q", r.Severity)
	}
	return nil
}

// ErrorResponse is the standard error envelope for all endpoints.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries the machine-readable code and human-readable message.
type ErrorDetail struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// Error codes used in API responses.
const (
	ErrCodeInvalidInput      = "INVALID_INPUT"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeInvalidTransition = "INVALID_TRANSITION"
	ErrCodeConflict          = "CONFLICT"
	ErrCodeInternalError     = "INTERNAL_ERROR"
)
