package config

import (
	"errors"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/eternnoir/chunkscribe/pkg/scribeerr"
)

// EnvPrefix is the prefix for environment overrides (CHUNKSCRIBE_SERVICE_API_KEY, ...)
const EnvPrefix = "CHUNKSCRIBE"

// Loader handles configuration loading and management
type Loader struct {
	configPath string
	viper      *viper.Viper
}

// NewLoader creates a new configuration loader
func NewLoader(configPath string) *Loader {
	v := viper.New()

	// Set up environment variable handling
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// The service credential is also accepted under its conventional names
	_ = v.BindEnv("service.api_key", EnvPrefix+"_API_KEY", EnvPrefix+"_SERVICE_API_KEY", "OPENAI_API_KEY")
	_ = v.BindEnv("minutes.api_key", EnvPrefix+"_MINUTES_API_KEY", "OPENAI_API_KEY")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		home, _ := os.UserHomeDir()
		if home != "" {
			v.AddConfigPath(home)
		}
		v.AddConfigPath(".")
		v.SetConfigName(".chunkscribe")
		v.SetConfigType("yaml")
	}

	return &Loader{
		configPath: configPath,
		viper:      v,
	}
}

// Viper exposes the underlying instance so commands can bind flags to it
func (l *Loader) Viper() *viper.Viper {
	return l.viper
}

// Load reads and returns the configuration
func (l *Loader) Load() (*Config, error) {
	l.setDefaults()

	// Config file not found is not an error - defaults and env vars apply
	if err := l.viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, scribeerr.Configf("failed to read config file: %v", err)
		}
	}

	var cfg Config
	if err := l.viper.Unmarshal(&cfg); err != nil {
		return nil, scribeerr.Configf("failed to unmarshal config: %v", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// GetConfigFile returns the path to the config file being used
func (l *Loader) GetConfigFile() string {
	return l.viper.ConfigFileUsed()
}

// setDefaults sets default configuration values
func (l *Loader) setDefaults() {
	d := DefaultConfig()

	l.viper.SetDefault("service.provider", d.Service.Provider)
	l.viper.SetDefault("service.api_key", "")
	l.viper.SetDefault("service.base_url", "")
	l.viper.SetDefault("service.model", "")
	l.viper.SetDefault("service.timeout", d.Service.Timeout)
	l.viper.SetDefault("service.retries", d.Service.Retries)
	l.viper.SetDefault("service.initial_backoff", d.Service.InitialBackoff)
	l.viper.SetDefault("service.max_backoff", d.Service.MaxBackoff)
	l.viper.SetDefault("service.max_bytes", d.Service.MaxBytes)

	l.viper.SetDefault("audio.temp_dir", d.Audio.TempDir)
	l.viper.SetDefault("audio.keep_temp", d.Audio.KeepTemp)
	l.viper.SetDefault("audio.ffmpeg_timeout", d.Audio.FFmpegTimeout)

	l.viper.SetDefault("cache.path", d.Cache.Path)
	l.viper.SetDefault("cache.disabled", d.Cache.Disabled)

	l.viper.SetDefault("output.directory", d.Output.Directory)

	l.viper.SetDefault("transcribe.retry_failed_segments", d.Transcribe.RetryFailedSegments)
	l.viper.SetDefault("transcribe.prompt", "")

	l.viper.SetDefault("minutes.enabled", d.Minutes.Enabled)
	l.viper.SetDefault("minutes.api_key", "")
	l.viper.SetDefault("minutes.model", d.Minutes.Model)
	l.viper.SetDefault("minutes.prompt", "")
	l.viper.SetDefault("minutes.overwrite", d.Minutes.Overwrite)

	l.viper.SetDefault("watch.stability_wait", d.Watch.StabilityWait)
	l.viper.SetDefault("watch.process_existing", d.Watch.ProcessExisting)

	l.viper.SetDefault("metrics.textfile", "")

	l.viper.SetDefault("logging.level", d.Logging.Level)
	l.viper.SetDefault("logging.format", d.Logging.Format)
	l.viper.SetDefault("logging.output", d.Logging.Output)
	l.viper.SetDefault("logging.timestamp", d.Logging.Timestamp)
	l.viper.SetDefault("logging.caller", d.Logging.Caller)
	l.viper.SetDefault("logging.pretty_mode", d.Logging.PrettyMode)
}

// Validate checks values every command depends on
func (c *Config) Validate() error {
	switch c.Service.Provider {
	case "openai", "gemini":
	default:
		return scribeerr.Configf("unsupported provider: %q", c.Service.Provider)
	}

	if c.Service.MaxBytes <= 0 {
		return scribeerr.Configf("service.max_bytes must be positive, got %d", c.Service.MaxBytes)
	}

	if c.Service.Timeout <= 0 {
		return scribeerr.Configf("service.timeout must be positive")
	}

	if c.Service.Retries < 0 {
		return scribeerr.Configf("service.retries cannot be negative")
	}

	if c.Audio.FFmpegTimeout <= 0 {
		return scribeerr.Configf("audio.ffmpeg_timeout must be positive")
	}

	if c.Cache.Path == "" && !c.Cache.Disabled {
		return scribeerr.Configf("cache.path is required unless the cache is disabled")
	}

	if c.Output.Directory == "" {
		return scribeerr.Configf("output.directory is required")
	}

	return nil
}

// MinutesCredential returns the OpenAI key used for minutes
func (c *Config) MinutesCredential() (string, error) {
	if c.Minutes.APIKey != "" {
		return c.Minutes.APIKey, nil
	}
	if c.Service.Provider == "openai" && c.Service.APIKey != "" {
		return c.Service.APIKey, nil
	}
	return "", scribeerr.Configf("minutes need an OpenAI API key (set minutes.api_key, %s_MINUTES_API_KEY or OPENAI_API_KEY)", EnvPrefix)
}

// RequireCredential fails when no service credential was configured
func (c *Config) RequireCredential() error {
	if c.Service.APIKey == "" {
		return scribeerr.Configf("API key is required (set --api-key, %s_API_KEY or OPENAI_API_KEY)", EnvPrefix)
	}
	return nil
}
