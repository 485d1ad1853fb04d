package gemini

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/eternnoir/chunkscribe/pkg/providers"
	"github.com/eternnoir/chunkscribe/pkg/scribeerr"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc) *Provider {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewProvider("key-123",
		WithBaseURL(server.URL),
		WithHTTPClient(server.Client()),
		WithTimeout(2*time.Second),
		WithRetryPolicy(providers.RetryPolicy{Retries: 1, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond}),
	)
}

func TestTranscribe(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/v1beta/models/gemini-2.5-flash:generateContent") {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.URL.Query().Get("key"); got != "key-123" {
			t.Errorf("key = %q", got)
		}
		var req GeminiRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Contents) == 0 || len(req.Contents[0].Parts) < 2 {
			t.Errorf("decode request: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		inline := req.Contents[0].Parts[1].InlineData
		data, _ := base64.StdEncoding.DecodeString(inline.Data)
		if string(data) != "RIFF" || inline.MimeType != "audio/wav" {
			t.Errorf("inline data = %q (%s)", data, inline.MimeType)
		}
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"hello "},{"text":"there\n"}]}}]}`))
	})

	result, err := p.Transcribe(context.Background(), &providers.Request{Audio: []byte("RIFF"), MimeType: "audio/wav"})
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if result.Text != "hello there" {
		t.Errorf("Text = %q, want hello there", result.Text)
	}
}

func TestParseResponse(t *testing.T) {
	p := NewProvider("key")

	tests := []struct {
		name    string
		body    string
		want    string
		wantErr bool
	}{
		{name: "text", body: `{"candidates":[{"content":{"parts":[{"text":"a b"}]}}]}`, want: "a b"},
		{name: "silence", body: `{"candidates":[{"content":{},"finishReason":"STOP"}]}`, want: ""},
		{name: "no candidates", body: `{"candidates":[]}`, wantErr: true},
		{name: "not json", body: `oops`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := p.parseResponse([]byte(tt.body))
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseResponse() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				if scribeerr.IsTransient(err) {
					t.Errorf("malformed response should be permanent: %v", err)
				}
				return
			}
			if got.Text != tt.want {
				t.Errorf("Text = %q, want %q", got.Text, tt.want)
			}
		})
	}
}

func TestTranscribeErrorEnvelope(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"code":429,"message":"Resource exhausted","status":"RESOURCE_EXHAUSTED"}}`))
	})

	_, err := p.Transcribe(context.Background(), &providers.Request{Audio: []byte("x")})
	if !scribeerr.IsTransient(err) {
		t.Fatalf("Transcribe() error = %v, want transient", err)
	}
	if !strings.Contains(err.Error(), "Resource exhausted") {
		t.Errorf("error = %q, want API message", err.Error())
	}
}

func TestMaxBytesClamp(t *testing.T) {
	if got := NewProvider("k", WithMaxBytes(25*1024*1024)).MaxBytes(); got != DefaultMaxBytes {
		t.Errorf("MaxBytes() = %d, want inline limit %d", got, DefaultMaxBytes)
	}
	if got := NewProvider("k", WithMaxBytes(1024)).MaxBytes(); got != 1024 {
		t.Errorf("MaxBytes() = %d, want 1024", got)
	}
}

func TestValidateConfig(t *testing.T) {
	if err := NewProvider("").ValidateConfig(); !errors.Is(err, scribeerr.ErrConfiguration) {
		t.Errorf("ValidateConfig() = %v, want ErrConfiguration", err)
	}
}
