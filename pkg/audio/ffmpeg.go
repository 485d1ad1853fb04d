package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	ffmpeg "github.com/u2takey/ffmpeg-go"
)

// ffmpegBinary is the executable receiving the arguments ffmpeg-go builds
var ffmpegBinary = "ffmpeg"

// wavOutputArgs returns output options for reproducible 16-bit PCM WAV
func wavOutputArgs(extra ffmpeg.KwArgs) ffmpeg.KwArgs {
	args := ffmpeg.KwArgs{
		"acodec":       "pcm_s16le",
		"f":            "wav",
		"fflags":       "+bitexact",
		"flags:a":      "+bitexact",
		"map_metadata": "-1",
	}
	for k, v := range extra {
		args[k] = v
	}
	return args
}

// runFFmpeg executes the stream under ctx and timeout, keeping stderr for the error
func runFFmpeg(ctx context.Context, timeout time.Duration, stream *ffmpeg.Stream) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, ffmpegBinary, stream.GetArgs()...)
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("ffmpeg timed out after %s", timeout)
		}
		return fmt.Errorf("ffmpeg failed: %w: %s", err, lastLines(stderr.String(), 5))
	}
	return nil
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, " | ")
}

// formatDuration formats a time.Duration for ffmpeg
func formatDuration(d time.Duration) string {
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60
	milliseconds := int(d.Milliseconds()) % 1000

	return fmt.Sprintf("%02d:%02d:%02d.%03d", hours, minutes, seconds, milliseconds)
}

// FFmpegExtractor cuts windows out of audio files with ffmpeg
type FFmpegExtractor struct {
	timeout time.Duration
}

// NewFFmpegExtractor creates an extractor bounding each invocation by timeout
func NewFFmpegExtractor(timeout time.Duration) *FFmpegExtractor {
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &FFmpegExtractor{timeout: timeout}
}

// Extract writes [start, start+duration) of inputPath to outputPath
func (e *FFmpegExtractor) Extract(ctx context.Context, inputPath string, start, duration time.Duration, outputPath string) error {
	stream := ffmpeg.Input(inputPath, ffmpeg.KwArgs{
		"ss": formatDuration(start),
		"t":  formatDuration(duration),
	}).Output(outputPath, wavOutputArgs(nil)).OverWriteOutput()

	if err := runFFmpeg(ctx, e.timeout, stream); err != nil {
		return fmt.Errorf("ffmpeg segment extraction failed: %w", err)
	}
	return nil
}
