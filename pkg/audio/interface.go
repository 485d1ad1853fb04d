package audio

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// MediaKind classifies a discovered file
type MediaKind string

const (
	KindVideo       MediaKind = "video"
	KindAudio       MediaKind = "audio"
	KindUnsupported MediaKind = "unsupported"
)

var (
	audioExts = []string{".mp3", ".wav", ".m4a", ".mpga"}
	videoExts = []string{".mp4"}
)

// Classify determines the media kind from the file extension (case-insensitive)
func Classify(filePath string) MediaKind {
	ext := strings.ToLower(filepath.Ext(filePath))
	for _, e := range videoExts {
		if ext == e {
			return KindVideo
		}
	}
	for _, e := range audioExts {
		if ext == e {
			return KindAudio
		}
	}
	return KindUnsupported
}

// GetMimeType returns the upload MIME type for a file extension
func GetMimeType(filePath string) string {
	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".wav":
		return "audio/wav"
	case ".mp3", ".mpga":
		return "audio/mpeg"
	case ".m4a":
		return "audio/mp4"
	case ".mp4":
		return "video/mp4"
	default:
		return "application/octet-stream"
	}
}

// AudioStream is a decoded, addressable audio resource
type AudioStream struct {
	Path       string        // File holding the audio
	SourcePath string        // File the audio came from (same as Path for audio inputs)
	SampleRate int           // Hz
	Channels   int           // Channel count
	Duration   time.Duration // Total duration
	Size       int64         // Size of Path on disk
	Owned      bool          // Path is a decode result the pipeline must delete
}

// Release removes the stream's file when the pipeline owns it
func (a *AudioStream) Release() error {
	if a == nil || !a.Owned || a.Path == "" {
		return nil
	}
	if err := os.Remove(a.Path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove decoded audio: %w", err)
	}
	a.Owned = false
	return nil
}

// Segment is a contiguous, size-bounded slice of an AudioStream
type Segment struct {
	SourcePath   string        // Source file identity
	Index        int           // Zero-based ordinal, defines reassembly order
	Start        time.Duration // Offset in the stream
	Duration     time.Duration // Length of the slice
	SizeEstimate int64         // Estimated encoded size, never above the bound
	Path         string        // Where the segment audio lives
	Temporary    bool          // Path is a materialized file owned by the pipeline

	released bool
}

// End returns the offset just past the segment
func (s *Segment) End() time.Duration {
	return s.Start + s.Duration
}

// Release deletes the segment's temporary file. Safe to call more than once;
// segments referencing the original source are never deleted.
func (s *Segment) Release() error {
	if s == nil || s.released {
		return nil
	}
	s.released = true
	if !s.Temporary || s.Path == "" {
		return nil
	}
	if err := os.Remove(s.Path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove segment %d: %w", s.Index, err)
	}
	return nil
}

// Released reports whether Release has run
func (s *Segment) Released() bool {
	return s.released
}

// Processor inspects audio and extracts audio tracks from video containers
type Processor interface {
	// Inspect reads stream parameters of an audio file without decoding it
	Inspect(ctx context.Context, filePath string) (*AudioStream, error)

	// Decode extracts the audio track of a video into an owned lossless file
	Decode(ctx context.Context, videoPath string) (*AudioStream, error)
}

// Extractor materializes one window of an audio file
type Extractor interface {
	// Extract writes [start, start+duration) of inputPath to outputPath as PCM WAV
	Extract(ctx context.Context, inputPath string, start, duration time.Duration, outputPath string) error
}
