package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/eternnoir/chunkscribe/pkg/logger"
)

// DefaultMaxBytes is the transcription service's per-request payload ceiling (25 MB).
const DefaultMaxBytes int64 = 25 * 1024 * 1024

// Config represents the application configuration
type Config struct {
	// Transcription service configuration
	Service ServiceConfig `yaml:"service" mapstructure:"service"`

	// Audio decoding and splitting configuration
	Audio AudioConfig `yaml:"audio" mapstructure:"audio"`

	// Transcript cache configuration
	Cache CacheConfig `yaml:"cache" mapstructure:"cache"`

	// Output configuration
	Output OutputConfig `yaml:"output" mapstructure:"output"`

	// Pipeline behaviour
	Transcribe TranscribeConfig `yaml:"transcribe" mapstructure:"transcribe"`

	// Meeting minutes written from transcripts
	Minutes MinutesConfig `yaml:"minutes" mapstructure:"minutes"`

	// Watch configuration
	Watch WatchConfig `yaml:"watch" mapstructure:"watch"`

	// Metrics configuration
	Metrics MetricsConfig `yaml:"metrics" mapstructure:"metrics"`

	// Logging configuration
	Logging logger.Config `yaml:"logging" mapstructure:"logging"`
}

// ServiceConfig contains transcription service settings
type ServiceConfig struct {
	// Provider name (openai, gemini)
	Provider string `yaml:"provider" mapstructure:"provider"`

	// API configuration
	APIKey  string `yaml:"api_key" mapstructure:"api_key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Model   string `yaml:"model" mapstructure:"model"`

	// Per-call timeout; exceeding it is a transient failure
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`

	// Retry policy for transient failures
	Retries        int           `yaml:"retries" mapstructure:"retries"`
	InitialBackoff time.Duration `yaml:"initial_backoff" mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff" mapstructure:"max_backoff"`

	// Payload ceiling in bytes; the splitter bound uses the same value
	MaxBytes int64 `yaml:"max_bytes" mapstructure:"max_bytes"`
}

// AudioConfig contains media processing settings
type AudioConfig struct {
	// Directory for decoded audio and materialized segments
	TempDir string `yaml:"temp_dir" mapstructure:"temp_dir"`

	// Keep decoded audio after processing (segments are always released)
	KeepTemp bool `yaml:"keep_temp" mapstructure:"keep_temp"`

	// Bound for every ffmpeg invocation, stream inspection included
	FFmpegTimeout time.Duration `yaml:"ffmpeg_timeout" mapstructure:"ffmpeg_timeout"`
}

// CacheConfig contains transcript cache settings
type CacheConfig struct {
	// Path to the bbolt snapshot, shared across runs
	Path string `yaml:"path" mapstructure:"path"`

	// Disable lookups and stores entirely
	Disabled bool `yaml:"disabled" mapstructure:"disabled"`
}

// OutputConfig contains transcript output settings
type OutputConfig struct {
	// Output directory; relative paths resolve against the input directory
	Directory string `yaml:"directory" mapstructure:"directory"`
}

// TranscribeConfig contains orchestration settings
type TranscribeConfig struct {
	// Retry segments that failed transiently once more after the first pass
	RetryFailedSegments bool `yaml:"retry_failed_segments" mapstructure:"retry_failed_segments"`

	// Optional prompt forwarded to the service
	Prompt string `yaml:"prompt" mapstructure:"prompt"`
}

// MinutesConfig contains meeting minutes settings. Minutes always use the
// OpenAI chat API, whichever service transcribes.
type MinutesConfig struct {
	// Write minutes after every transcribe or watch run
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	// OpenAI credential; falls back to service.api_key for the openai provider
	APIKey string `yaml:"api_key" mapstructure:"api_key"`

	// Chat model and optional system prompt override
	Model  string `yaml:"model" mapstructure:"model"`
	Prompt string `yaml:"prompt" mapstructure:"prompt"`

	// Regenerate minutes that already exist
	Overwrite bool `yaml:"overwrite" mapstructure:"overwrite"`
}

// WatchConfig contains watch mode settings
type WatchConfig struct {
	// Time to wait for file stability before processing
	StabilityWait time.Duration `yaml:"stability_wait" mapstructure:"stability_wait"`

	// Whether to process existing files on startup
	ProcessExisting bool `yaml:"process_existing" mapstructure:"process_existing"`
}

// MetricsConfig contains metrics export settings
type MetricsConfig struct {
	// Prometheus textfile written at the end of each run; empty disables export
	Textfile string `yaml:"textfile" mapstructure:"textfile"`
}

// DefaultCachePath returns the well-known snapshot location in the temp dir.
func DefaultCachePath() string {
	return filepath.Join(os.TempDir(), "chunkscribe", "transcript-cache.db")
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			Provider:       "openai",
			Timeout:        5 * time.Minute,
			Retries:        3,
			InitialBackoff: 1 * time.Second,
			MaxBackoff:     30 * time.Second,
			MaxBytes:       DefaultMaxBytes,
		},
		Audio: AudioConfig{
			TempDir:       filepath.Join(os.TempDir(), "chunkscribe"),
			FFmpegTimeout: 10 * time.Minute,
		},
		Cache: CacheConfig{
			Path: DefaultCachePath(),
		},
		Output: OutputConfig{
			Directory: "transcripts",
		},
		Transcribe: TranscribeConfig{
			RetryFailedSegments: true,
		},
		Minutes: MinutesConfig{
			Model: "gpt-4o-mini",
		},
		Watch: WatchConfig{
			StabilityWait:   2 * time.Second,
			ProcessExisting: true,
		},
		Logging: *logger.DefaultConfig(),
	}
}
