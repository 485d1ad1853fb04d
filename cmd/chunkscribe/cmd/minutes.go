package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/eternnoir/chunkscribe/pkg/config"
	"github.com/eternnoir/chunkscribe/pkg/logger"
	"github.com/eternnoir/chunkscribe/pkg/minutes"
	"github.com/eternnoir/chunkscribe/pkg/providers"
	"github.com/eternnoir/chunkscribe/pkg/providers/openai"
	"github.com/eternnoir/chunkscribe/pkg/scribeerr"
	"github.com/eternnoir/chunkscribe/pkg/transcriber"
)

// minutesCmd represents the minutes command
var minutesCmd = &cobra.Command{
	Use:   "minutes <transcript|directory>",
	Short: "Write meeting minutes for existing transcripts",
	Long: `Write detailed Markdown meeting minutes for a transcript, or for every .txt
transcript under a directory, using an OpenAI chat model.

Minutes for <name>.txt are written to <name>.minutes.md next to it. Existing
minutes are kept unless --overwrite is given.

Examples:
  # Minutes for one meeting
  chunkscribe minutes ./recordings/transcripts/standup.txt

  # Minutes for a whole transcript folder with a stronger model
  chunkscribe minutes ./recordings/transcripts --minutes-model gpt-4o`,
	Args: cobra.ExactArgs(1),
	RunE: runMinutes,
}

func init() {
	rootCmd.AddCommand(minutesCmd)
	addMinutesFlags(minutesCmd)
	minutesCmd.Flags().Bool("overwrite", false, "regenerate minutes that already exist")
	minutesCmd.Flags().String("minutes-prompt-file", "", "file containing the minutes system prompt")
}

// addMinutesFlags registers the flags shared by every command that writes minutes
func addMinutesFlags(cmd *cobra.Command) {
	cmd.Flags().String("minutes-model", "", "chat model used for minutes")
	cmd.Flags().String("minutes-api-key", "", "OpenAI API key for minutes (defaults to the service key)")
}

func runMinutes(cmd *cobra.Command, args []string) error {
	log := logger.Get().WithComponent("minutes")
	cfg := appConfig

	if overwrite, _ := cmd.Flags().GetBool("overwrite"); overwrite {
		cfg.Minutes.Overwrite = true
	}
	if promptFile, _ := cmd.Flags().GetString("minutes-prompt-file"); promptFile != "" {
		data, err := os.ReadFile(promptFile)
		if err != nil {
			return scribeerr.Configf("failed to read minutes prompt file: %v", err)
		}
		cfg.Minutes.Prompt = string(data)
	}

	gen, err := buildMinutesGenerator(cfg, log)
	if err != nil {
		return err
	}

	target, err := filepath.Abs(args[0])
	if err != nil {
		return fmt.Errorf("invalid path: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	results, err := gen.Dir(ctx, target)
	printMinutes(cmd.OutOrStdout(), results)
	if err != nil {
		return err
	}
	if n := countMinutesFailures(results); n > 0 {
		return fmt.Errorf("minutes failed for %d transcript(s)", n)
	}
	return nil
}

// buildMinutesGenerator wires the OpenAI chat client into a minutes generator
func buildMinutesGenerator(cfg *config.Config, log *logger.Logger) (*minutes.Generator, error) {
	apiKey, err := cfg.MinutesCredential()
	if err != nil {
		return nil, err
	}

	opts := []openai.ProviderOption{
		openai.WithChatModel(cfg.Minutes.Model),
		openai.WithMinutesPrompt(cfg.Minutes.Prompt),
		openai.WithTimeout(cfg.Service.Timeout),
		openai.WithRetryPolicy(providers.RetryPolicy{
			Retries:        cfg.Service.Retries,
			InitialBackoff: cfg.Service.InitialBackoff,
			MaxBackoff:     cfg.Service.MaxBackoff,
		}),
	}
	if cfg.Service.Provider == "openai" {
		opts = append(opts, openai.WithBaseURL(cfg.Service.BaseURL))
	}

	writer := openai.NewProvider(apiKey, opts...)
	if err := writer.ValidateConfig(); err != nil {
		return nil, fmt.Errorf("minutes client validation failed: %w", err)
	}

	log.Debug().Str("model", cfg.Minutes.Model).Bool("overwrite", cfg.Minutes.Overwrite).Msg("Minutes writer configured")

	return minutes.NewGenerator(writer, log, minutes.Options{
		Overwrite: cfg.Minutes.Overwrite,
		Model:     cfg.Minutes.Model,
	}), nil
}

// minutesRunner writes minutes after every watcher run and batch
type minutesRunner struct {
	*transcriber.Transcriber
	gen *minutes.Generator
	out io.Writer
}

func (r *minutesRunner) Run(ctx context.Context, inputDir string) (*transcriber.RunReport, error) {
	report, err := r.Transcriber.Run(ctx, inputDir)
	r.after(ctx, report, err)
	return report, err
}

func (r *minutesRunner) RunFiles(ctx context.Context, inputDir string, paths []string) (*transcriber.RunReport, error) {
	report, err := r.Transcriber.RunFiles(ctx, inputDir, paths)
	r.after(ctx, report, err)
	return report, err
}

func (r *minutesRunner) after(ctx context.Context, report *transcriber.RunReport, err error) {
	if report == nil || err != nil {
		return
	}
	results, _ := r.gen.Report(ctx, report)
	printMinutes(r.out, results)
}

func printMinutes(w io.Writer, results []minutes.Result) {
	for _, res := range results {
		switch {
		case res.Err != nil:
			fmt.Fprintf(w, "✗ %s: %v\n", res.Transcript, res.Err)
		case res.Skipped:
			fmt.Fprintf(w, "- %s: skipped\n", res.Transcript)
		default:
			fmt.Fprintf(w, "✓ minutes %s\n", res.Path)
		}
	}
}

func countMinutesFailures(results []minutes.Result) int {
	n := 0
	for _, res := range results {
		if res.Err != nil {
			n++
		}
	}
	return n
}
