package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/eternnoir/chunkscribe/pkg/scribeerr"
)

// Request is one segment's worth of audio sent to a transcription service
type Request struct {
	Audio        []byte
	Filename     string
	MimeType     string
	Prompt       string
	SegmentIndex int
}

// Result is a successful transcription
type Result struct {
	Text     string        `json:"text"`
	Language string        `json:"language,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
	Attempts int           `json:"attempts,omitempty"`
}

// Provider transcribes a single audio payload
type Provider interface {
	// Name returns the provider name (e.g., "openai", "gemini")
	Name() string

	// Transcribe sends the payload and returns its transcript. Failures are
	// *ServiceError values matching scribeerr.ErrService.
	Transcribe(ctx context.Context, req *Request) (*Result, error)

	// MaxBytes returns the largest payload the service accepts
	MaxBytes() int64

	// ValidateConfig validates the provider configuration
	ValidateConfig() error
}

// ProviderConfig represents common configuration for providers
type ProviderConfig struct {
	APIKey         string
	BaseURL        string
	Model          string
	Timeout        time.Duration
	Retries        int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	MaxBytes       int64
}

// ServiceError describes a failed transcription call
type ServiceError struct {
	Provider   string
	StatusCode int // zero when no HTTP response was received
	Transient  bool
	Err        error
}

func (e *ServiceError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

// Unwrap exposes the error kinds alongside the cause
func (e *ServiceError) Unwrap() []error {
	errs := []error{scribeerr.ErrService}
	if e.Transient {
		errs = append(errs, scribeerr.ErrTransient)
	}
	return append(errs, e.Err)
}

// IsTransientStatus reports whether an HTTP status is worth retrying
func IsTransientStatus(code int) bool {
	return code == 408 || code == 429 || code >= 500
}

// apiErrorEnvelope is the {"error": {...}} body both supported services return
type apiErrorEnvelope struct {
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Status  string `json:"status"`
	} `json:"error"`
}

// StatusError builds the error for a non-success HTTP response
func StatusError(provider string, code int, body []byte) *ServiceError {
	var envelope apiErrorEnvelope
	var err error
	if json.Unmarshal(body, &envelope) == nil && envelope.Error != nil && envelope.Error.Message != "" {
		kind := envelope.Error.Type
		if kind == "" {
			kind = envelope.Error.Status
		}
		err = fmt.Errorf("API error (%s): %s", kind, envelope.Error.Message)
	} else {
		msg := string(body)
		if len(msg) > 512 {
			msg = msg[:512] + "..."
		}
		err = fmt.Errorf("API request failed: %s", msg)
	}
	return &ServiceError{
		Provider:   provider,
		StatusCode: code,
		Transient:  IsTransientStatus(code),
		Err:        err,
	}
}

// CheckPayload rejects requests the service would refuse outright
func CheckPayload(provider string, req *Request, maxBytes int64) error {
	if req == nil || len(req.Audio) == 0 {
		return &ServiceError{Provider: provider, Err: fmt.Errorf("empty audio data")}
	}
	if maxBytes > 0 && int64(len(req.Audio)) > maxBytes {
		return &ServiceError{
			Provider: provider,
			Err:      fmt.Errorf("payload of %d bytes exceeds limit of %d", len(req.Audio), maxBytes),
		}
	}
	return nil
}
