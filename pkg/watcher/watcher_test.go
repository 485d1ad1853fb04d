package watcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/eternnoir/chunkscribe/pkg/audio"
	"github.com/eternnoir/chunkscribe/pkg/logger"
	"github.com/eternnoir/chunkscribe/pkg/scribeerr"
	"github.com/eternnoir/chunkscribe/pkg/transcriber"
)

type fakeRunner struct {
	mu       sync.Mutex
	fullRuns int
	batches  [][]string
	status   transcriber.Status // result status for every file, complete when empty
	err      error
}

func (r *fakeRunner) Run(ctx context.Context, inputDir string) (*transcriber.RunReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fullRuns++
	return &transcriber.RunReport{InputDir: inputDir}, r.err
}

func (r *fakeRunner) RunFiles(ctx context.Context, inputDir string, paths []string) (*transcriber.RunReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, append([]string(nil), paths...))

	status := r.status
	if status == "" {
		status = transcriber.StatusComplete
	}
	report := &transcriber.RunReport{InputDir: inputDir}
	for _, path := range paths {
		report.Files = append(report.Files, &transcriber.FileResult{
			Source:         transcriber.SourceFile{Path: path, Kind: audio.Classify(path)},
			Status:         status,
			Segments:       3,
			FailedSegments: []int{1},
		})
	}
	return report, r.err
}

func (r *fakeRunner) seen() (int, []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var all []string
	for _, b := range r.batches {
		all = append(all, b...)
	}
	return r.fullRuns, all
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func startWatcher(t *testing.T, cfg Config, runner Runner, progress ...ProgressCallback) (*Watcher, context.CancelFunc, <-chan error) {
	t.Helper()
	w, err := New(cfg, runner, logger.Nop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	for _, cb := range progress {
		w.SetProgressCallback(cb)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	return w, cancel, done
}

func stopWatcher(t *testing.T, cancel context.CancelFunc, done <-chan error) {
	t.Helper()
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestWatcherProcessesNewFiles(t *testing.T) {
	dir := t.TempDir()
	runner := &fakeRunner{}
	var mu sync.Mutex
	var events []string
	w, cancel, done := startWatcher(t, Config{
		WatchDir:      dir,
		ExcludeDirs:   []string{filepath.Join(dir, "transcripts")},
		StabilityWait: 50 * time.Millisecond,
	}, runner, func(e *ProgressEvent) {
		mu.Lock()
		events = append(events, e.Type)
		mu.Unlock()
	})

	// Give the watch a moment to register
	time.Sleep(50 * time.Millisecond)

	media := filepath.Join(dir, "talk.mp3")
	if err := os.WriteFile(media, []byte("audio"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("text"), 0o644); err != nil {
		t.Fatal(err)
	}

	waitFor(t, func() bool {
		_, files := runner.seen()
		return len(files) > 0
	})
	stopWatcher(t, cancel, done)

	fullRuns, files := runner.seen()
	if fullRuns != 0 {
		t.Errorf("full runs = %d, want 0", fullRuns)
	}
	if len(files) != 1 || files[0] != media {
		t.Errorf("processed = %v, want [%s]", files, media)
	}
	if stats := w.Stats(); stats.ProcessedCount != 1 || stats.Runs != 1 {
		t.Errorf("stats = %+v", stats)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{EventFound, EventRunning, EventCompleted}
	if len(events) != len(want) {
		t.Fatalf("events = %v, want %v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Errorf("events[%d] = %s, want %s", i, events[i], want[i])
		}
	}
}

func TestWatcherProcessExisting(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "old.wav"), []byte("audio"), 0o644); err != nil {
		t.Fatal(err)
	}
	runner := &fakeRunner{}
	_, cancel, done := startWatcher(t, Config{
		WatchDir:        dir,
		StabilityWait:   20 * time.Millisecond,
		ProcessExisting: true,
	}, runner)

	waitFor(t, func() bool {
		n, _ := runner.seen()
		return n == 1
	})
	stopWatcher(t, cancel, done)

	if _, files := runner.seen(); len(files) != 0 {
		t.Errorf("existing file was also handled as new: %v", files)
	}
}

func TestWatcherNewSubdirectory(t *testing.T) {
	dir := t.TempDir()
	runner := &fakeRunner{}
	_, cancel, done := startWatcher(t, Config{WatchDir: dir, StabilityWait: 30 * time.Millisecond}, runner)
	time.Sleep(50 * time.Millisecond)

	sub := filepath.Join(dir, "2024")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)
	media := filepath.Join(sub, "clip.mp4")
	if err := os.WriteFile(media, []byte("video"), 0o644); err != nil {
		t.Fatal(err)
	}

	waitFor(t, func() bool {
		_, files := runner.seen()
		return len(files) > 0
	})
	stopWatcher(t, cancel, done)

	if _, files := runner.seen(); files[0] != media {
		t.Errorf("processed = %v, want %s", files, media)
	}
}

func TestWatcherStopsOnConfigurationError(t *testing.T) {
	dir := t.TempDir()
	runner := &fakeRunner{err: scribeerr.Configf("no credential")}
	_, cancel, done := startWatcher(t, Config{WatchDir: dir, StabilityWait: 20 * time.Millisecond, ProcessExisting: true}, runner)
	defer cancel()

	select {
	case err := <-done:
		if !errors.Is(err, scribeerr.ErrConfiguration) {
			t.Errorf("Run() error = %v, want ErrConfiguration", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("watcher kept running after configuration error")
	}
}

func TestNewValidation(t *testing.T) {
	if _, err := New(Config{}, &fakeRunner{}, nil); err == nil {
		t.Error("New() without directory should fail")
	}
	if _, err := New(Config{WatchDir: filepath.Join(t.TempDir(), "missing")}, &fakeRunner{}, nil); err == nil {
		t.Error("New() with missing directory should fail")
	}
}

func TestStabilityTracker(t *testing.T) {
	st := newStabilityTracker()
	base := time.Now()

	st.Touch("/w/b.mp3", base)
	st.Touch("/w/a.mp3", base)
	st.Touch("/w/c.mp3", base.Add(80*time.Millisecond))

	if due := st.Due(base.Add(50*time.Millisecond), 100*time.Millisecond); len(due) != 0 {
		t.Errorf("Due() early = %v, want none", due)
	}

	due := st.Due(base.Add(100*time.Millisecond), 100*time.Millisecond)
	if len(due) != 2 || due[0] != "/w/a.mp3" || due[1] != "/w/b.mp3" {
		t.Errorf("Due() = %v, want sorted a, b", due)
	}
	if st.Len() != 1 {
		t.Errorf("Len() = %d, want 1", st.Len())
	}

	st.Forget("/w/c.mp3")
	if due := st.Due(base.Add(time.Hour), 100*time.Millisecond); len(due) != 0 {
		t.Errorf("Due() after Forget = %v", due)
	}
}

func TestEventFor(t *testing.T) {
	tests := []struct {
		status transcriber.Status
		want   string
	}{
		{status: transcriber.StatusComplete, want: EventCompleted},
		{status: transcriber.StatusIncomplete, want: EventIncomplete},
		{status: transcriber.StatusEmpty, want: EventCompleted},
		{status: transcriber.StatusSkipped, want: EventSkipped},
		{status: transcriber.StatusFailed, want: EventFailed},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := eventFor(&transcriber.FileResult{Status: tt.status}).Type; got != tt.want {
				t.Errorf("eventFor(%s) = %s, want %s", tt.status, got, tt.want)
			}
		})
	}
}

func TestBatchProcessorCountsIncomplete(t *testing.T) {
	dir := t.TempDir()
	runner := &fakeRunner{status: transcriber.StatusIncomplete}
	w, err := New(Config{WatchDir: dir}, runner, logger.Nop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	var events []*ProgressEvent
	w.SetProgressCallback(func(e *ProgressEvent) { events = append(events, e) })

	processor := newBatchProcessor(dir, runner, logger.Nop(), w.handleProgressEvent)
	if err := processor.Process(context.Background(), batch{paths: []string{filepath.Join(dir, "talk.mp3")}}); err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	stats := w.Stats()
	if stats.IncompleteCount != 1 || stats.ProcessedCount != 0 {
		t.Errorf("stats = %+v, want 1 incomplete and 0 processed", stats)
	}
	last := events[len(events)-1]
	if last.Type != EventIncomplete || last.Message != "1 of 3 segments failed" {
		t.Errorf("last event = %+v", last)
	}
}
