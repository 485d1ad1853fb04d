package gemini

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/eternnoir/chunkscribe/pkg/providers"
	"github.com/eternnoir/chunkscribe/pkg/scribeerr"
)

const (
	providerName   = "gemini"
	defaultBaseURL = "https://generativelanguage.googleapis.com"
	apiVersion     = "v1beta"
	defaultModel   = "gemini-2.5-flash"

	// DefaultMaxBytes is the inline request limit (20 MB before base64 growth)
	DefaultMaxBytes int64 = 14 * 1024 * 1024

	defaultPrompt = "Transcribe the following audio verbatim. Return only the spoken words as plain text, " +
		"without timestamps, speaker labels or commentary. Return an empty response if nothing is spoken."
)

// Provider implements the transcription provider for Google Gemini
type Provider struct {
	apiKey     string
	baseURL    string
	model      string
	timeout    time.Duration
	maxBytes   int64
	policy     providers.RetryPolicy
	httpClient *http.Client
}

// GeminiRequest represents the request structure for Gemini API
type GeminiRequest struct {
	Contents         []Content         `json:"contents"`
	GenerationConfig *GenerationConfig `json:"generationConfig,omitempty"`
}

// Content represents a content part in the request
type Content struct {
	Parts []Part `json:"parts"`
	Role  string `json:"role,omitempty"`
}

// Part represents a part of the content (text or inline data)
type Part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *InlineData `json:"inlineData,omitempty"`
}

// InlineData represents inline binary data
type InlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"` // base64 encoded
}

// GenerationConfig contains generation parameters
type GenerationConfig struct {
	Temperature      float32 `json:"temperature"`
	ResponseMimeType string  `json:"responseMimeType,omitempty"`
}

// GeminiResponse represents the response from Gemini API
type GeminiResponse struct {
	Candidates []Candidate `json:"candidates"`
}

// Candidate represents a response candidate
type Candidate struct {
	Content      Content `json:"content"`
	FinishReason string  `json:"finishReason"`
}

// NewProvider creates a new Gemini provider instance
func NewProvider(apiKey string, options ...ProviderOption) *Provider {
	p := &Provider{
		apiKey:   apiKey,
		baseURL:  defaultBaseURL,
		model:    defaultModel,
		timeout:  5 * time.Minute,
		maxBytes: DefaultMaxBytes,
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

	return p
}

// ProviderOption allows customizing the provider
type ProviderOption func(*Provider)

// WithBaseURL sets a custom base URL
func WithBaseURL(baseURL string) ProviderOption {
	return func(p *Provider) {
		if baseURL != "" {
			p.baseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

// WithModel sets the model name
func WithModel(model string) ProviderOption {
	return func(p *Provider) {
		if model != "" {
			p.model = model
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

// WithMaxBytes lowers the payload ceiling; the inline limit cannot be raised
func WithMaxBytes(maxBytes int64) ProviderOption {
	return func(p *Provider) {
		if maxBytes > 0 && maxBytes < DefaultMaxBytes {
			p.maxBytes = maxBytes
		}
	}
}

// WithHTTPClient replaces the HTTP client
func WithHTTPClient(client *http.Client) ProviderOption {
	return func(p *Provider) {
		p.httpClient = client
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

// Transcribe sends the segment inline and returns its transcript
func (p *Provider) Transcribe(ctx context.Context, req *providers.Request) (*providers.Result, error) {
	if err := providers.CheckPayload(providerName, req, p.maxBytes); err != nil {
		return nil, err
	}

	prompt := req.Prompt
	if prompt == "" {
		prompt = defaultPrompt
	}

	mimeType := req.MimeType
	if mimeType == "" {
		mimeType = "audio/wav"
	}

	geminiReq := &GeminiRequest{
		Contents: []Content{
			{
				Parts: []Part{
					{
						Text: prompt,
					},
					{
						InlineData: &InlineData{
							MimeType: mimeType,
							Data:     base64.StdEncoding.EncodeToString(req.Audio),
						},
					},
				},
				Role: "user",
			},
		},
		GenerationConfig: &GenerationConfig{
			Temperature:      0,
			ResponseMimeType: "text/plain",
		},
	}

	jsonData, err := json.Marshal(geminiReq)
	if err != nil {
		return nil, &providers.ServiceError{Provider: providerName, Err: fmt.Errorf("failed to marshal request: %w", err)}
	}

	var result *providers.Result
	attempts, err := providers.Retry(ctx, providerName, p.policy, func(ctx context.Context) error {
		data, err := providers.Do(ctx, p.httpClient, providerName, p.timeout, func(ctx context.Context) (*http.Request, error) {
			return p.makeRequest(ctx, jsonData)
		})
		if err != nil {
			return err
		}
		result, err = p.parseResponse(data)
		return err
	})
	if err != nil {
		return nil, err
	}

	result.Attempts = attempts
	return result, nil
}

// makeRequest builds an HTTP request to the Gemini API
func (p *Provider) makeRequest(ctx context.Context, jsonData []byte) (*http.Request, error) {
	endpoint := fmt.Sprintf("%s/%s/models/%s:generateContent?key=%s",
		p.baseURL, apiVersion, url.PathEscape(p.model), url.QueryEscape(p.apiKey))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	return httpReq, nil
}

// parseResponse parses the Gemini API response into a Result
func (p *Provider) parseResponse(data []byte) (*providers.Result, error) {
	var resp GeminiResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, &providers.ServiceError{Provider: providerName, Err: fmt.Errorf("malformed response: %w", err)}
	}

	if len(resp.Candidates) == 0 {
		return nil, &providers.ServiceError{Provider: providerName, Err: fmt.Errorf("malformed response: no candidates")}
	}

	// Silence yields a candidate without parts, which is a valid empty transcript
	var parts []string
	for _, part := range resp.Candidates[0].Content.Parts {
		parts = append(parts, part.Text)
	}

	return &providers.Result{
		Text: strings.TrimSpace(strings.Join(parts, "")),
	}, nil
}

// ValidateConfig validates the provider configuration
func (p *Provider) ValidateConfig() error {
	if p.apiKey == "" {
		return scribeerr.Configf("gemini: API key is required")
	}
	if p.timeout <= 0 {
		return scribeerr.Configf("gemini: timeout must be positive")
	}
	return nil
}
