package cmd

import (
	"context"
	"errors"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/eternnoir/chunkscribe/pkg/config"
	"github.com/eternnoir/chunkscribe/pkg/logger"
	"github.com/eternnoir/chunkscribe/pkg/scribeerr"
)

var (
	cfgFile   string
	appConfig *config.Config
)

// flagBindings maps configuration keys to the flags that override them
var flagBindings = map[string]string{
	"service.api_key":                  "api-key",
	"service.provider":                 "provider",
	"service.model":                    "model",
	"service.base_url":                 "base-url",
	"service.timeout":                  "timeout",
	"service.retries":                  "retries",
	"service.max_bytes":                "max-bytes",
	"audio.temp_dir":                   "temp-dir",
	"audio.keep_temp":                  "keep-temp",
	"cache.path":                       "cache-path",
	"cache.disabled":                   "no-cache",
	"output.directory":                 "output-dir",
	"transcribe.prompt":                "prompt",
	"transcribe.retry_failed_segments": "retry-failed-segments",
	"minutes.enabled":                  "minutes",
	"minutes.model":                    "minutes-model",
	"minutes.api_key":                  "minutes-api-key",
	"watch.stability_wait":             "stability-wait",
	"metrics.textfile":                 "metrics-textfile",
	"logging.level":                    "log-level",
	"logging.format":                   "log-format",
	"logging.output":                   "log-output",
	"logging.caller":                   "log-caller",
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "chunkscribe",
	Short: "Batch transcription of audio and video folders",
	Long: `chunkscribe transcribes every audio and video file in a directory tree
using a remote speech-recognition service.

Features:
- Audio (MP3, WAV, M4A, MPGA) and video (MP4) input
- Automatic video to audio conversion
- Size-bounded splitting that respects the service payload limit
- Persistent segment cache so reruns never pay twice
- One ordered plain-text transcript per source file`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: initConfig,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

// ExitCode maps a command error to the process exit status
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, scribeerr.ErrConfiguration):
		return 2
	case errors.Is(err, context.Canceled):
		return 130
	default:
		return 1
	}
}

func init() {
	flags := rootCmd.PersistentFlags()

	// Global flags
	flags.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.chunkscribe.yaml)")
	flags.String("api-key", "", "transcription service API key")
	flags.String("provider", "openai", "transcription service (openai, gemini)")
	flags.String("model", "", "model name (default depends on provider)")
	flags.String("base-url", "", "override the service base URL")
	flags.String("temp-dir", "", "directory for decoded audio and segments")
	flags.String("cache-path", "", "transcript cache file")
	flags.Bool("no-cache", false, "disable the transcript cache")
	flags.Bool("verbose", false, "verbose output (deprecated, use --log-level debug)")

	// Logging flags
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("log-format", "console", "log format (console, json)")
	flags.String("log-output", "stderr", "log output (stdout, stderr, file path)")
	flags.Bool("log-no-color", false, "disable colored log output")
	flags.Bool("log-caller", false, "include caller information in logs")
}

// initConfig loads configuration for the running command and initializes the
// process-wide logger
func initConfig(cmd *cobra.Command, args []string) error {
	loader := config.NewLoader(cfgFile)
	bindFlags(loader, cmd.Flags())

	cfg, err := loader.Load()
	if err != nil {
		return err
	}

	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose && cfg.Logging.Level == "info" {
		cfg.Logging.Level = "debug"
	}
	if noColor, _ := cmd.Flags().GetBool("log-no-color"); noColor {
		cfg.Logging.PrettyMode = false
	}

	if err := logger.Initialize(&cfg.Logging); err != nil {
		return scribeerr.Configf("failed to initialize logger: %v", err)
	}

	if file := loader.GetConfigFile(); file != "" {
		logger.Get().Info().Str("config_file", file).Msg("Loaded configuration file")
	}

	appConfig = cfg
	return nil
}

func bindFlags(loader *config.Loader, flags *pflag.FlagSet) {
	v := loader.Viper()
	for key, name := range flagBindings {
		if flag := flags.Lookup(name); flag != nil {
			_ = v.BindPFlag(key, flag)
		}
	}
}
