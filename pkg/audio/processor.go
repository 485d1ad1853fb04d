package audio

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	ffmpeg "github.com/u2takey/ffmpeg-go"

	"github.com/eternnoir/chunkscribe/pkg/logger"
	"github.com/eternnoir/chunkscribe/pkg/scribeerr"
)

// ProcessorImpl implements the Processor interface on top of ffmpeg
type ProcessorImpl struct {
	tempDir string
	timeout time.Duration
	log     *logger.Logger
}

// NewProcessor creates a new audio processor
func NewProcessor(tempDir string, timeout time.Duration, log *logger.Logger) *ProcessorImpl {
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	if log == nil {
		log = logger.Nop()
	}
	return &ProcessorImpl{
		tempDir: tempDir,
		timeout: timeout,
		log:     log.WithComponent("audio-processor"),
	}
}

// Inspect reads sample rate, channel count, duration and size of an audio file
func (p *ProcessorImpl) Inspect(ctx context.Context, filePath string) (*AudioStream, error) {
	log := p.log.WithField("file", filepath.Base(filePath))

	stat, err := os.Stat(filePath)
	if err != nil {
		return nil, scribeerr.Wrap(scribeerr.ErrIO, "failed to stat input", err)
	}

	log.Debug().Str("full_path", filePath).Msg("Reading stream info")
	data, err := ffmpeg.ProbeWithTimeout(filePath, p.inspectTimeout(ctx), ffmpeg.KwArgs{})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, scribeerr.Wrap(scribeerr.ErrDecode, "failed to read stream info", err)
	}

	stream, err := parseStreamInfo(data)
	if err != nil {
		return nil, scribeerr.Wrap(scribeerr.ErrDecode, "failed to parse stream info", err)
	}
	stream.Path = filePath
	stream.SourcePath = filePath
	stream.Size = stat.Size()

	log.Debug().
		Dur("duration", stream.Duration).
		Int("sample_rate", stream.SampleRate).
		Int("channels", stream.Channels).
		Int64("size_bytes", stream.Size).
		Msg("Audio information extracted")

	return stream, nil
}

// Decode extracts the audio track of a video into a lossless PCM WAV owned by the caller
func (p *ProcessorImpl) Decode(ctx context.Context, videoPath string) (*AudioStream, error) {
	log := p.log.WithField("file", filepath.Base(videoPath))

	if _, err := os.Stat(videoPath); err != nil {
		return nil, scribeerr.Wrap(scribeerr.ErrIO, "failed to stat input", err)
	}

	if err := os.MkdirAll(p.tempDir, 0o755); err != nil {
		return nil, scribeerr.Wrap(scribeerr.ErrIO, "failed to create temp directory", err)
	}

	base := strings.TrimSuffix(filepath.Base(videoPath), filepath.Ext(videoPath))
	out, err := os.CreateTemp(p.tempDir, "decoded_"+base+"_*.wav")
	if err != nil {
		return nil, scribeerr.Wrap(scribeerr.ErrIO, "failed to create decode target", err)
	}
	outputPath := out.Name()
	_ = out.Close()

	log.Info().Str("output_path", outputPath).Msg("Extracting audio track")
	startTime := time.Now()

	stream := ffmpeg.Input(videoPath).
		Output(outputPath, wavOutputArgs(ffmpeg.KwArgs{"vn": ""})).
		OverWriteOutput()

	if err := runFFmpeg(ctx, p.timeout, stream); err != nil {
		_ = os.Remove(outputPath)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, scribeerr.Wrap(scribeerr.ErrDecode, "failed to decode audio track", err)
	}

	decoded, err := p.Inspect(ctx, outputPath)
	if err != nil {
		_ = os.Remove(outputPath)
		return nil, err
	}
	decoded.SourcePath = videoPath
	decoded.Owned = true

	log.Info().
		Dur("took", time.Since(startTime)).
		Dur("duration", decoded.Duration).
		Int64("output_size_bytes", decoded.Size).
		Msg("Audio track extracted")

	return decoded, nil
}

// inspectTimeout bounds stream inspection by the configured timeout and the context deadline
func (p *ProcessorImpl) inspectTimeout(ctx context.Context) time.Duration {
	timeout := p.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	if timeout <= 0 {
		timeout = time.Millisecond
	}
	return timeout
}

// parseStreamInfo parses the JSON stream and format report
func parseStreamInfo(data string) (*AudioStream, error) {
	var report struct {
		Format struct {
			Duration string `json:"duration"`
		} `json:"format"`
		Streams []struct {
			CodecType  string `json:"codec_type"`
			SampleRate string `json:"sample_rate"`
			Channels   int    `json:"channels"`
			Duration   string `json:"duration"`
		} `json:"streams"`
	}

	if err := json.Unmarshal([]byte(data), &report); err != nil {
		return nil, fmt.Errorf("failed to parse stream JSON: %w", err)
	}

	info := &AudioStream{}
	found := false
	streamDuration := ""
	for _, stream := range report.Streams {
		if stream.CodecType != "audio" {
			continue
		}
		if stream.SampleRate != "" {
			sampleRate, err := strconv.Atoi(stream.SampleRate)
			if err != nil {
				return nil, fmt.Errorf("invalid sample rate %q: %w", stream.SampleRate, err)
			}
			info.SampleRate = sampleRate
		}
		info.Channels = stream.Channels
		streamDuration = stream.Duration
		found = true
		break
	}
	if !found {
		return nil, fmt.Errorf("no audio stream")
	}

	raw := report.Format.Duration
	if raw == "" || raw == "N/A" {
		raw = streamDuration
	}
	if raw != "" && raw != "N/A" {
		seconds, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid duration %q: %w", raw, err)
		}
		info.Duration = time.Duration(seconds * float64(time.Second))
	}

	return info, nil
}
