package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/eternnoir/chunkscribe/pkg/audio"
	"github.com/eternnoir/chunkscribe/pkg/cache"
	"github.com/eternnoir/chunkscribe/pkg/config"
	"github.com/eternnoir/chunkscribe/pkg/logger"
	"github.com/eternnoir/chunkscribe/pkg/metrics"
	"github.com/eternnoir/chunkscribe/pkg/providers"
	"github.com/eternnoir/chunkscribe/pkg/providers/gemini"
	"github.com/eternnoir/chunkscribe/pkg/providers/openai"
	"github.com/eternnoir/chunkscribe/pkg/scribeerr"
	"github.com/eternnoir/chunkscribe/pkg/transcriber"
)

// addPipelineFlags registers the flags shared by transcribe and watch
func addPipelineFlags(cmd *cobra.Command) {
	flags := cmd.Flags()

	// Output options
	flags.StringP("output-dir", "o", "", "transcript directory (relative paths resolve against the input directory)")

	// Transcription options
	flags.StringP("prompt", "p", "", "prompt forwarded to the service with every segment")
	flags.String("prompt-file", "", "file containing the prompt")
	flags.Bool("retry-failed-segments", true, "retry transiently failed segments once after the first pass")

	// Service options
	flags.Duration("timeout", 0, "per-call service timeout")
	flags.Int("retries", 0, "retries for transient service failures")
	flags.Int64("max-bytes", 0, "per-request payload ceiling in bytes")

	// Advanced options
	flags.Bool("keep-temp", false, "keep decoded audio of video files")
	flags.String("metrics-textfile", "", "write Prometheus metrics to this file after each run")

	// Minutes options
	flags.Bool("minutes", false, "write meeting minutes for every transcript of the run")
	addMinutesFlags(cmd)
}

// resolvePrompt applies --prompt-file on top of the configured prompt
func resolvePrompt(cmd *cobra.Command, cfg *config.Config) error {
	promptFile, _ := cmd.Flags().GetString("prompt-file")
	if promptFile == "" {
		return nil
	}
	data, err := os.ReadFile(promptFile)
	if err != nil {
		return scribeerr.Configf("failed to read prompt file: %v", err)
	}
	cfg.Transcribe.Prompt = strings.TrimSpace(string(data))
	return nil
}

// createProvider builds the configured transcription service client
func createProvider(cfg *config.Config, log *logger.Logger) (providers.Provider, error) {
	pc := providers.ProviderConfig{
		APIKey:         cfg.Service.APIKey,
		BaseURL:        cfg.Service.BaseURL,
		Model:          cfg.Service.Model,
		Timeout:        cfg.Service.Timeout,
		Retries:        cfg.Service.Retries,
		InitialBackoff: cfg.Service.InitialBackoff,
		MaxBackoff:     cfg.Service.MaxBackoff,
		MaxBytes:       cfg.Service.MaxBytes,
	}

	var provider providers.Provider
	switch cfg.Service.Provider {
	case "openai":
		provider = openai.NewProvider(pc.APIKey, openai.FromConfig(pc)...)
	case "gemini":
		provider = gemini.NewProvider(pc.APIKey, gemini.FromConfig(pc)...)
	default:
		return nil, scribeerr.Configf("unsupported provider: %s", cfg.Service.Provider)
	}

	if err := provider.ValidateConfig(); err != nil {
		return nil, fmt.Errorf("provider validation failed: %w", err)
	}

	log.Debug().
		Str("provider", provider.Name()).
		Int64("max_bytes", provider.MaxBytes()).
		Dur("timeout", pc.Timeout).
		Int("retries", pc.Retries).
		Msg("Transcription service configured")

	return provider, nil
}

// buildTranscriber wires the pipeline from configuration
func buildTranscriber(cfg *config.Config, log *logger.Logger, progress transcriber.ProgressCallback) (*transcriber.Transcriber, error) {
	if err := cfg.RequireCredential(); err != nil {
		return nil, err
	}

	provider, err := createProvider(cfg, log)
	if err != nil {
		return nil, err
	}

	processor := audio.NewProcessor(cfg.Audio.TempDir, cfg.Audio.FFmpegTimeout, log)
	splitter := audio.NewSplitter(cfg.Audio.TempDir, audio.NewFFmpegExtractor(cfg.Audio.FFmpegTimeout), log)

	var segmentCache *cache.Cache
	if !cfg.Cache.Disabled {
		segmentCache = cache.Open(cfg.Cache.Path)
	}

	var m *metrics.Metrics
	if cfg.Metrics.Textfile != "" {
		m = metrics.NewMetrics()
	}

	return transcriber.NewTranscriber(processor, splitter, provider, segmentCache, m, log, transcriber.Options{
		OutputDir:           cfg.Output.Directory,
		TempDir:             cfg.Audio.TempDir,
		KeepTemp:            cfg.Audio.KeepTemp,
		RetryFailedSegments: cfg.Transcribe.RetryFailedSegments,
		Prompt:              cfg.Transcribe.Prompt,
		MetricsTextfile:     cfg.Metrics.Textfile,
		Progress:            progress,
	}), nil
}
