package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/eternnoir/chunkscribe/pkg/providers"
	"github.com/eternnoir/chunkscribe/pkg/scribeerr"
)

const (
	providerName   = "openai"
	defaultBaseURL = "https://api.openai.com/v1"
	defaultModel   = "whisper-1"

	// DefaultMaxBytes is the Whisper upload limit (25 MB)
	DefaultMaxBytes int64 = 25 * 1024 * 1024
)

// Provider implements the transcription provider for the OpenAI audio API
type Provider struct {
	apiKey        string
	baseURL       string
	model         string
	chatModel     string
	minutesPrompt string
	timeout       time.Duration
	maxBytes      int64
	policy        providers.RetryPolicy
	httpClient    *http.Client
	client        openai.Client
}

// transcriptionResponse is the response_format=json body
type transcriptionResponse struct {
	Text     *string  `json:"text"`
	Language string   `json:"language,omitempty"`
	Duration *float64 `json:"duration,omitempty"`
}

// NewProvider creates a new OpenAI provider instance
func NewProvider(apiKey string, options ...ProviderOption) *Provider {
	p := &Provider{
		apiKey:        apiKey,
		baseURL:       defaultBaseURL,
		model:         defaultModel,
		chatModel:     defaultChatModel,
		minutesPrompt: DefaultMinutesPrompt,
		timeout:       5 * time.Minute,
		maxBytes:      DefaultMaxBytes,
		policy: providers.RetryPolicy{
			Retries:        3,
			InitialBackoff: time.Second,
			MaxBackoff:     30 * time.Second,
		},
		httpClient: &http.Client{},
	}

	for _, opt := range options {
		opt(p)
	}

	// Retries are driven by the shared policy, not by the SDK
	p.client = openai.NewClient(
		option.WithAPIKey(p.apiKey),
		option.WithBaseURL(p.baseURL+"/"),
		option.WithHTTPClient(p.httpClient),
		option.WithMaxRetries(0),
	)

	return p
}

// ProviderOption allows customizing the provider
type ProviderOption func(*Provider)

// WithModel sets the transcription model
func WithModel(model string) ProviderOption {
	return func(p *Provider) {
		if model != "" {
			p.model = model
		}
	}
}

// WithChatModel sets the model used to write meeting minutes
func WithChatModel(model string) ProviderOption {
	return func(p *Provider) {
		if model != "" {
			p.chatModel = model
		}
	}
}

// WithBaseURL sets a custom base URL
func WithBaseURL(baseURL string) ProviderOption {
	return func(p *Provider) {
		if baseURL != "" {
			p.baseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

// WithTimeout sets the per-attempt timeout
func WithTimeout(timeout time.Duration) ProviderOption {
	return func(p *Provider) {
		p.timeout = timeout
	}
}

// WithRetryPolicy sets how transient failures are retried
func WithRetryPolicy(policy providers.RetryPolicy) ProviderOption {
	return func(p *Provider) {
		p.policy = policy
	}
}

// WithMaxBytes sets the payload ceiling
func WithMaxBytes(maxBytes int64) ProviderOption {
	return func(p *Provider) {
		if maxBytes > 0 {
			p.maxBytes = maxBytes
		}
	}
}

// WithHTTPClient replaces the HTTP client
func WithHTTPClient(client *http.Client) ProviderOption {
	return func(p *Provider) {
		if client != nil {
			p.httpClient = client
		}
	}
}

// FromConfig converts common provider settings into options
func FromConfig(cfg providers.ProviderConfig) []ProviderOption {
	return []ProviderOption{
		WithBaseURL(cfg.BaseURL),
		WithModel(cfg.Model),
		WithTimeout(cfg.Timeout),
		WithMaxBytes(cfg.MaxBytes),
		WithRetryPolicy(providers.PolicyFrom(cfg)),
	}
}

// MaxBytes returns the payload ceiling
func (p *Provider) MaxBytes() int64 {
	return p.maxBytes
}

// Name returns the provider name
func (p *Provider) Name() string {
	return providerName
}

// Transcribe uploads the segment and returns its transcript
func (p *Provider) Transcribe(ctx context.Context, req *providers.Request) (*providers.Result, error) {
	if err := providers.CheckPayload(providerName, req, p.maxBytes); err != nil {
		return nil, err
	}

	filename := req.Filename
	if filename == "" {
		filename = fmt.Sprintf("segment_%04d.wav", req.SegmentIndex)
	}
	mimeType := req.MimeType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	var result *providers.Result
	attempts, err := providers.Retry(ctx, providerName, p.policy, func(ctx context.Context) error {
		ctx, cancel := p.attemptContext(ctx)
		defer cancel()

		// The reader is consumed by the upload, so every attempt gets its own
		params := openai.AudioTranscriptionNewParams{
			File:           openai.File(bytes.NewReader(req.Audio), filename, mimeType),
			Model:          openai.AudioModel(p.model),
			ResponseFormat: openai.AudioResponseFormatJSON,
		}
		if req.Prompt != "" {
			params.Prompt = openai.String(req.Prompt)
		}

		resp, err := p.client.Audio.Transcriptions.New(ctx, params)
		if err != nil {
			return classify(ctx, err)
		}

		result, err = parseResponse(resp.RawJSON())
		return err
	})
	if err != nil {
		return nil, err
	}

	result.Attempts = attempts
	return result, nil
}

func (p *Provider) attemptContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.timeout > 0 {
		return context.WithTimeout(ctx, p.timeout)
	}
	return context.WithCancel(ctx)
}

// classify maps an SDK error onto a ServiceError. Status codes decide
// retryability; transport failures and attempt timeouts are transient.
func classify(ctx context.Context, err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		cause := error(apiErr)
		if apiErr.Message != "" {
			kind := apiErr.Type
			if kind == "" {
				kind = apiErr.Code
			}
			cause = fmt.Errorf("API error (%s): %s", kind, apiErr.Message)
		}
		return &providers.ServiceError{
			Provider:   providerName,
			StatusCode: apiErr.StatusCode,
			Transient:  providers.IsTransientStatus(apiErr.StatusCode),
			Err:        cause,
		}
	}

	var netErr net.Error
	var urlErr *url.Error
	if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil ||
		errors.As(err, &netErr) || errors.As(err, &urlErr) {
		return &providers.ServiceError{Provider: providerName, Transient: true, Err: fmt.Errorf("HTTP request failed: %w", err)}
	}

	// Anything else is a response the SDK could not decode
	return &providers.ServiceError{Provider: providerName, Err: fmt.Errorf("malformed response: %w", err)}
}

// parseResponse decodes the transcript, treating surprises as permanent failures
func parseResponse(raw string) (*providers.Result, error) {
	var resp transcriptionResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return nil, &providers.ServiceError{Provider: providerName, Err: fmt.Errorf("malformed response: %w", err)}
	}
	if resp.Text == nil {
		return nil, &providers.ServiceError{Provider: providerName, Err: fmt.Errorf("malformed response: missing text")}
	}

	result := &providers.Result{
		Text:     strings.TrimSpace(*resp.Text),
		Language: resp.Language,
	}
	if resp.Duration != nil {
		result.Duration = time.Duration(*resp.Duration * float64(time.Second))
	}
	return result, nil
}

// ValidateConfig validates the provider configuration
func (p *Provider) ValidateConfig() error {
	if p.apiKey == "" {
		return scribeerr.Configf("openai: API key is required")
	}
	if p.timeout <= 0 {
		return scribeerr.Configf("openai: timeout must be positive")
	}
	return nil
}
