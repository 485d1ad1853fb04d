package cmd

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/eternnoir/chunkscribe/pkg/logger"
	"github.com/eternnoir/chunkscribe/pkg/minutes"
	"github.com/eternnoir/chunkscribe/pkg/transcriber"
)

// transcribeCmd represents the transcribe command
var transcribeCmd = &cobra.Command{
	Use:   "transcribe <directory>",
	Short: "Transcribe every audio/video file in a directory tree",
	Long: `Transcribe every audio or video file under a directory to plain text.

Supported formats:
- Audio: MP3, WAV, M4A, MPGA
- Video: MP4 (audio track is extracted first)

Each source gets <output-dir>/<relative dir>/<name>.txt. Files above the
service payload limit are split into segments; segment transcripts are cached
so an interrupted or repeated run only transcribes what is missing.

Examples:
  # Transcribe a folder into ./recordings/transcripts
  chunkscribe transcribe ./recordings

  # Write transcripts elsewhere with a vocabulary hint
  chunkscribe transcribe ./meetings -o /srv/transcripts -p "Participants: Ada, Grace"

  # Use Gemini instead of Whisper
  chunkscribe transcribe ./talks --provider gemini

  # Also write meeting minutes next to each transcript
  chunkscribe transcribe ./meetings --minutes`,
	Args: cobra.ExactArgs(1),
	RunE: runTranscribe,
}

func init() {
	rootCmd.AddCommand(transcribeCmd)
	addPipelineFlags(transcribeCmd)
	transcribeCmd.Flags().Bool("progress", true, "show per-segment progress")
}

func runTranscribe(cmd *cobra.Command, args []string) error {
	log := logger.Get().WithComponent("transcribe")
	cfg := appConfig

	if err := resolvePrompt(cmd, cfg); err != nil {
		return err
	}

	var progress transcriber.ProgressCallback
	if show, _ := cmd.Flags().GetBool("progress"); show {
		progress = progressPrinter(cmd.OutOrStdout())
	}

	tr, err := buildTranscriber(cfg, log, progress)
	if err != nil {
		return err
	}

	var gen *minutes.Generator
	if cfg.Minutes.Enabled {
		if gen, err = buildMinutesGenerator(cfg, log); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, err := tr.Run(ctx, args[0])
	if report != nil {
		printSummary(cmd.OutOrStdout(), report)
	}
	if err != nil || gen == nil {
		return err
	}

	// Minutes failures are reported but never change the run's exit status
	results, err := gen.Report(ctx, report)
	printMinutes(cmd.OutOrStdout(), results)
	return err
}

// progressPrinter renders one status line per file, rewritten per segment
func progressPrinter(w io.Writer) transcriber.ProgressCallback {
	return func(p transcriber.Progress) {
		if p.Segment < 0 {
			return
		}
		fmt.Fprintf(w, "\r[%s] segment %d/%d (%s), %d pending cleanup",
			p.File, p.Segment+1, p.Segments, p.Source, p.Pending)
		if p.Segment+1 == p.Segments {
			fmt.Fprintln(w)
		}
	}
}

func printSummary(w io.Writer, report *transcriber.RunReport) {
	elapsed := report.FinishedAt.Sub(report.StartedAt).Round(time.Second)
	segments, hits, calls := report.Totals()

	fmt.Fprintf(w, "Run %s finished in %v\n", report.RunID, elapsed)
	fmt.Fprintf(w, "  Files: %s complete, %s incomplete, %s empty, %s failed, %s skipped\n",
		humanize.Comma(int64(report.Count(transcriber.StatusComplete))),
		humanize.Comma(int64(report.Count(transcriber.StatusIncomplete))),
		humanize.Comma(int64(report.Count(transcriber.StatusEmpty))),
		humanize.Comma(int64(report.Count(transcriber.StatusFailed))),
		humanize.Comma(int64(report.Count(transcriber.StatusSkipped))))
	fmt.Fprintf(w, "  Segments: %s (%s from cache, %s service calls)\n",
		humanize.Comma(int64(segments)), humanize.Comma(int64(hits)), humanize.Comma(int64(calls)))
	fmt.Fprintf(w, "  Output: %s\n", report.OutputDir)

	for _, f := range report.Files {
		switch f.Status {
		case transcriber.StatusFailed:
			fmt.Fprintf(w, "  ✗ %s: %v\n", f.Source.RelPath, f.Err)
		case transcriber.StatusIncomplete:
			fmt.Fprintf(w, "  ! %s: segments %v missing\n", f.Source.RelPath, f.FailedSegments)
		}
	}
}
