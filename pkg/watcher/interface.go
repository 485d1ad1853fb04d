package watcher

import (
	"context"
	"time"

	"github.com/eternnoir/chunkscribe/pkg/transcriber"
)

// Runner runs the transcription pipeline. *transcriber.Transcriber satisfies it.
type Runner interface {
	// Run processes the whole input tree
	Run(ctx context.Context, inputDir string) (*transcriber.RunReport, error)

	// RunFiles processes only the given files under inputDir
	RunFiles(ctx context.Context, inputDir string, paths []string) (*transcriber.RunReport, error)
}

// Event types reported to ProgressCallback
const (
	EventFound      = "found"
	EventRunning    = "processing"
	EventCompleted  = "completed"
	EventIncomplete = "incomplete" // transcript written with failed segments left empty
	EventFailed     = "failed"
	EventSkipped    = "skipped"
)

// ProgressCallback is called to report progress
type ProgressCallback func(event *ProgressEvent)

// ProgressEvent represents a progress update
type ProgressEvent struct {
	Type      string
	FilePath  string
	Status    transcriber.Status
	Message   string
	Error     error
	Timestamp time.Time
}

// WatchStats contains statistics about the watcher
type WatchStats struct {
	StartTime       time.Time
	Runs            int
	ProcessedCount  int
	IncompleteCount int
	FailedCount     int
	SkippedCount    int
	Pending         int
}

// Config contains configuration for the file watcher
type Config struct {
	// Directory to watch, recursively
	WatchDir string

	// Directories never watched nor processed (transcript output, temp)
	ExcludeDirs []string

	// Time a file must stay unchanged before it is processed
	StabilityWait time.Duration

	// Whether to run the pipeline over existing files on startup
	ProcessExisting bool

	// Maximum number of batches waiting for the worker
	QueueSize int
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		StabilityWait:   2 * time.Second,
		ProcessExisting: true,
		QueueSize:       16,
	}
}
