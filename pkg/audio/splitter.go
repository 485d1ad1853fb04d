package audio

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/eternnoir/chunkscribe/pkg/logger"
	"github.com/eternnoir/chunkscribe/pkg/scribeerr"
)

const (
	// SegmentBytesPerSample is the sample width of materialized segments (pcm_s16le)
	SegmentBytesPerSample = 2

	// wavHeaderAllowance covers the RIFF header including WAVE_FORMAT_EXTENSIBLE
	wavHeaderAllowance = 128
)

// Window is a planned segment before materialization
type Window struct {
	Index        int
	Start        time.Duration
	Duration     time.Duration
	SizeEstimate int64
}

// FrameSizePerMs returns the encoded bytes per millisecond of segment audio
func FrameSizePerMs(sampleRate, channels int) float64 {
	return float64(sampleRate*channels*SegmentBytesPerSample) / 1000
}

// EstimateSize returns the worst-case encoded size of a segment of the given duration
func EstimateSize(d time.Duration, sampleRate, channels int) int64 {
	ms := float64(d) / float64(time.Millisecond)
	blockAlign := int64(channels * SegmentBytesPerSample)
	return wavHeaderAllowance + blockAlign + int64(math.Ceil(ms*FrameSizePerMs(sampleRate, channels)))
}

// MaxSegmentDuration returns the longest whole-millisecond duration whose
// estimate stays within maxBytes. A non-positive result means no segment fits.
func MaxSegmentDuration(maxBytes int64, sampleRate, channels int) time.Duration {
	perMs := FrameSizePerMs(sampleRate, channels)
	if perMs <= 0 {
		return 0
	}
	budget := maxBytes - wavHeaderAllowance - int64(channels*SegmentBytesPerSample)
	if budget <= 0 {
		return 0
	}
	ms := int64(math.Floor(float64(budget) / perMs))
	for ms > 0 && EstimateSize(time.Duration(ms)*time.Millisecond, sampleRate, channels) > maxBytes {
		ms--
	}
	for EstimateSize(time.Duration(ms+1)*time.Millisecond, sampleRate, channels) <= maxBytes {
		ms++
	}
	return time.Duration(ms) * time.Millisecond
}

// PlanSegments determines contiguous, non-overlapping windows covering duration,
// each estimated at or below maxBytes
func PlanSegments(duration time.Duration, sampleRate, channels int, maxBytes int64) ([]Window, error) {
	if duration <= 0 {
		return nil, nil
	}
	if sampleRate <= 0 || channels <= 0 {
		return nil, scribeerr.Wrap(scribeerr.ErrDecode, "cannot plan segments",
			fmt.Errorf("invalid stream parameters: %d Hz, %d channels", sampleRate, channels))
	}

	window := MaxSegmentDuration(maxBytes, sampleRate, channels)
	if window < time.Millisecond {
		return nil, scribeerr.Configf("size bound %d bytes cannot hold one millisecond of %d Hz %d-channel audio",
			maxBytes, sampleRate, channels)
	}

	var windows []Window
	index := 0
	for start := time.Duration(0); start < duration; start += window {
		length := window
		if start+length > duration {
			length = duration - start
		}
		windows = append(windows, Window{
			Index:        index,
			Start:        start,
			Duration:     length,
			SizeEstimate: EstimateSize(length, sampleRate, channels),
		})
		index++
	}

	return windows, nil
}

// SplitterImpl plans and materializes size-bounded segments
type SplitterImpl struct {
	tempDir   string
	extractor Extractor
	log       *logger.Logger
}

// NewSplitter creates a new audio splitter
func NewSplitter(tempDir string, extractor Extractor, log *logger.Logger) *SplitterImpl {
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	if log == nil {
		log = logger.Nop()
	}
	return &SplitterImpl{
		tempDir:   tempDir,
		extractor: extractor,
		log:       log.WithComponent("splitter"),
	}
}

// Split returns the ordered segments of stream, each within maxBytes.
// A stream already within the bound yields one segment referencing its file.
func (s *SplitterImpl) Split(ctx context.Context, stream *AudioStream, maxBytes int64) ([]*Segment, error) {
	log := s.log.WithField("file", filepath.Base(stream.SourcePath))

	if stream.Duration <= 0 {
		log.Debug().Msg("Stream has zero duration, no segments")
		return nil, nil
	}

	if stream.Size > 0 && stream.Size <= maxBytes {
		log.Debug().Int64("size_bytes", stream.Size).Msg("Stream fits within bound, using it whole")
		return []*Segment{{
			SourcePath:   stream.SourcePath,
			Index:        0,
			Start:        0,
			Duration:     stream.Duration,
			SizeEstimate: stream.Size,
			Path:         stream.Path,
			Temporary:    false,
		}}, nil
	}

	windows, err := PlanSegments(stream.Duration, stream.SampleRate, stream.Channels, maxBytes)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(s.tempDir, 0o755); err != nil {
		return nil, scribeerr.Wrap(scribeerr.ErrIO, "failed to create temp directory", err)
	}
	segmentDir, err := os.MkdirTemp(s.tempDir, "segments_*")
	if err != nil {
		return nil, scribeerr.Wrap(scribeerr.ErrIO, "failed to create segment directory", err)
	}

	segments := make([]*Segment, 0, len(windows))
	for _, w := range windows {
		segment := &Segment{
			SourcePath:   stream.SourcePath,
			Index:        w.Index,
			Start:        w.Start,
			Duration:     w.Duration,
			SizeEstimate: w.SizeEstimate,
			Path:         filepath.Join(segmentDir, fmt.Sprintf("chunk_%03d.wav", w.Index)),
			Temporary:    true,
		}

		if err := s.extractor.Extract(ctx, stream.Path, w.Start, w.Duration, segment.Path); err != nil {
			_ = os.Remove(segment.Path)
			_ = CleanupSegments(segments)
			_ = os.Remove(segmentDir)
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, scribeerr.Wrap(scribeerr.ErrDecode, fmt.Sprintf("failed to materialize segment %d", w.Index), err)
		}
		segments = append(segments, segment)
	}

	log.Info().
		Int("segments", len(segments)).
		Dur("duration", stream.Duration).
		Int64("max_bytes", maxBytes).
		Msg("Audio split into segments")

	return segments, nil
}

// CleanupSegments releases every segment and removes the segment directory once empty
func CleanupSegments(segments []*Segment) error {
	var lastErr error
	dirs := map[string]struct{}{}

	for _, segment := range segments {
		if segment == nil {
			continue
		}
		if segment.Temporary && segment.Path != "" {
			dirs[filepath.Dir(segment.Path)] = struct{}{}
		}
		if err := segment.Release(); err != nil {
			lastErr = err
		}
	}

	for dir := range dirs {
		_ = os.Remove(dir) // Ignore error if directory is not empty
	}

	return lastErr
}

// PendingSegments counts segments whose temporary files have not been released
func PendingSegments(segments []*Segment) int {
	n := 0
	for _, segment := range segments {
		if segment != nil && segment.Temporary && !segment.Released() {
			n++
		}
	}
	return n
}
