package transcriber

import (
	"context"
	"time"

	"github.com/eternnoir/chunkscribe/pkg/audio"
)

// Status is the outcome of processing one source file
type Status string

const (
	// StatusComplete means every segment was transcribed and the transcript written
	StatusComplete Status = "complete"
	// StatusIncomplete means the transcript was written with one or more empty segments
	StatusIncomplete Status = "incomplete"
	// StatusEmpty means the source had no audio to transcribe; nothing was written
	StatusEmpty Status = "empty"
	// StatusSkipped means the file is not a supported media type
	StatusSkipped Status = "skipped"
	// StatusFailed means the file could not be decoded, split or written
	StatusFailed Status = "failed"
)

// SourceFile is one file found under the input root
type SourceFile struct {
	Path    string // absolute path
	Root    string // absolute input root
	RelPath string // slash-separated path relative to Root
	Kind    audio.MediaKind
}

// FileResult records what happened to one source file
type FileResult struct {
	Source         SourceFile    `json:"source"`
	Status         Status        `json:"status"`
	Segments       int           `json:"segments"`
	CacheHits      int           `json:"cache_hits"`
	ServiceCalls   int           `json:"service_calls"`
	FailedSegments []int         `json:"failed_segments,omitempty"`
	OutputPath     string        `json:"output_path,omitempty"`
	Duration       time.Duration `json:"duration"`
	Err            error         `json:"-"`
}

// RunReport summarizes a pipeline run
type RunReport struct {
	RunID      string        `json:"run_id"`
	InputDir   string        `json:"input_dir"`
	OutputDir  string        `json:"output_dir"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Files      []*FileResult `json:"files"`
}

// Count returns how many files ended with status
func (r *RunReport) Count(status Status) int {
	n := 0
	for _, f := range r.Files {
		if f.Status == status {
			n++
		}
	}
	return n
}

// Totals sums segment counters across all files
func (r *RunReport) Totals() (segments, cacheHits, serviceCalls int) {
	for _, f := range r.Files {
		segments += f.Segments
		cacheHits += f.CacheHits
		serviceCalls += f.ServiceCalls
	}
	return segments, cacheHits, serviceCalls
}

// Progress is reported after every segment of a file is settled
type Progress struct {
	File     string // path relative to the input root
	Segment  int    // index of the segment just settled, -1 at teardown
	Segments int    // total segments of the file
	Source   string // cache, service or failed
	Pending  int    // temporary segments still awaiting cleanup
}

// ProgressCallback receives progress updates. Pending never increases
// within a file.
type ProgressCallback func(p Progress)

// Splitter cuts an audio stream into size-bounded segments
type Splitter interface {
	Split(ctx context.Context, stream *audio.AudioStream, maxBytes int64) ([]*audio.Segment, error)
}

// Options configures a Transcriber
type Options struct {
	// Output directory; relative paths resolve against the input root
	OutputDir string

	// Temp directory used for decoded audio and segments; skipped by discovery
	TempDir string

	// Keep decoded audio of video sources after processing
	KeepTemp bool

	// Retry transiently failed segments once after the first pass
	RetryFailedSegments bool

	// Prompt forwarded with every service call
	Prompt string

	// Prometheus textfile written after each run; empty disables export
	MetricsTextfile string

	// Optional progress reporting
	Progress ProgressCallback
}
