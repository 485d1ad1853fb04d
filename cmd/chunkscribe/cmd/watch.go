package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/eternnoir/chunkscribe/pkg/logger"
	"github.com/eternnoir/chunkscribe/pkg/transcriber"
	"github.com/eternnoir/chunkscribe/pkg/watcher"
)

// watchCmd represents the watch command
var watchCmd = &cobra.Command{
	Use:   "watch <directory>",
	Short: "Watch a directory tree and transcribe new audio/video files",
	Long: `Watch a directory tree for new or modified audio/video files and
transcribe them as soon as they stop changing.

Runs are serialized, so the transcript cache is shared safely with the
transcribe command. Existing files are processed on startup unless
--no-existing is given; thanks to the cache, already transcribed segments do
not cost another service call.

Examples:
  # Watch a recordings inbox
  chunkscribe watch ./inbox

  # Only pick up files that appear from now on
  chunkscribe watch ./inbox --no-existing --stability-wait 10s`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
	addPipelineFlags(watchCmd)

	watchCmd.Flags().Duration("stability-wait", 0, "time a file must stay unchanged before processing")
	watchCmd.Flags().Bool("no-existing", false, "skip processing existing files on startup")
}

func runWatch(cmd *cobra.Command, args []string) error {
	log := logger.Get().WithComponent("watch")
	cfg := appConfig

	if err := resolvePrompt(cmd, cfg); err != nil {
		return err
	}

	root, err := filepath.Abs(args[0])
	if err != nil {
		return fmt.Errorf("invalid watch directory: %w", err)
	}

	tr, err := buildTranscriber(cfg, log, nil)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()

	var runner watcher.Runner = tr
	if cfg.Minutes.Enabled {
		gen, err := buildMinutesGenerator(cfg, log)
		if err != nil {
			return err
		}
		runner = &minutesRunner{Transcriber: tr, gen: gen, out: out}
	}

	processExisting := cfg.Watch.ProcessExisting
	if noExisting, _ := cmd.Flags().GetBool("no-existing"); noExisting {
		processExisting = false
	}

	w, err := watcher.New(watcher.Config{
		WatchDir:        root,
		ExcludeDirs:     []string{transcriber.ResolveOutputDir(root, cfg.Output.Directory), cfg.Audio.TempDir},
		StabilityWait:   cfg.Watch.StabilityWait,
		ProcessExisting: processExisting,
	}, runner, log)
	if err != nil {
		return err
	}

	w.SetProgressCallback(func(e *watcher.ProgressEvent) {
		rel, relErr := filepath.Rel(root, e.FilePath)
		if relErr != nil {
			rel = e.FilePath
		}
		switch e.Type {
		case watcher.EventCompleted:
			fmt.Fprintf(out, "✓ %s (%s): %s\n", rel, e.Status, e.Message)
		case watcher.EventIncomplete:
			fmt.Fprintf(out, "! %s: %s\n", rel, e.Message)
		case watcher.EventFailed:
			fmt.Fprintf(out, "✗ %s: %v\n", rel, e.Error)
		case watcher.EventFound:
			fmt.Fprintf(out, "+ %s\n", rel)
		}
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Fprintf(out, "Watching %s (Ctrl+C to stop)\n", root)
	if err := w.Run(ctx); err != nil {
		return err
	}

	stats := w.Stats()
	fmt.Fprintf(out, "Stopped: %d runs, %d processed, %d incomplete, %d failed, %d skipped\n",
		stats.Runs, stats.ProcessedCount, stats.IncompleteCount, stats.FailedCount, stats.SkippedCount)
	return nil
}
