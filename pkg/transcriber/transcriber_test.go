package transcriber

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/eternnoir/chunkscribe/pkg/audio"
	"github.com/eternnoir/chunkscribe/pkg/cache"
	"github.com/eternnoir/chunkscribe/pkg/logger"
	"github.com/eternnoir/chunkscribe/pkg/metrics"
	"github.com/eternnoir/chunkscribe/pkg/providers"
	"github.com/eternnoir/chunkscribe/pkg/scribeerr"
)

// Fake media files hold comma-separated segment payloads, e.g. "a,b,c".
// A payload without commas fits the bound as a whole.

type fakeProcessor struct {
	tempDir string
	decoded []string
}

func readFake(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", scribeerr.Wrap(scribeerr.ErrIO, "read", err)
	}
	content := string(data)
	if strings.HasPrefix(content, "corrupt") {
		return "", scribeerr.Wrap(scribeerr.ErrDecode, "inspect", errors.New("invalid data found"))
	}
	return content, nil
}

func fakeStream(path, source, content string, owned bool) *audio.AudioStream {
	return &audio.AudioStream{
		Path:       path,
		SourcePath: source,
		SampleRate: 16000,
		Channels:   1,
		Duration:   time.Duration(len(content)) * time.Second,
		Size:       int64(len(content)),
		Owned:      owned,
	}
}

func (p *fakeProcessor) Inspect(ctx context.Context, path string) (*audio.AudioStream, error) {
	content, err := readFake(path)
	if err != nil {
		return nil, err
	}
	return fakeStream(path, path, content, false), nil
}

func (p *fakeProcessor) Decode(ctx context.Context, videoPath string) (*audio.AudioStream, error) {
	content, err := readFake(videoPath)
	if err != nil {
		return nil, err
	}
	out := filepath.Join(p.tempDir, "decoded_"+filepath.Base(videoPath)+".wav")
	if err := os.WriteFile(out, []byte(content), 0o644); err != nil {
		return nil, err
	}
	p.decoded = append(p.decoded, out)
	return fakeStream(out, videoPath, content, true), nil
}

type fakeSplitter struct {
	tempDir string
}

func (s *fakeSplitter) Split(ctx context.Context, stream *audio.AudioStream, maxBytes int64) ([]*audio.Segment, error) {
	data, err := os.ReadFile(stream.Path)
	if err != nil {
		return nil, scribeerr.Wrap(scribeerr.ErrDecode, "split", err)
	}
	content := string(data)
	if content == "" {
		return nil, nil
	}
	if content == "tiny-bound" {
		return nil, scribeerr.Configf("max bytes %d below one frame", maxBytes)
	}

	parts := strings.Split(content, ",")
	if len(parts) == 1 {
		return []*audio.Segment{{SourcePath: stream.SourcePath, Path: stream.Path, Duration: stream.Duration}}, nil
	}

	dir, err := os.MkdirTemp(s.tempDir, "segments_*")
	if err != nil {
		return nil, err
	}
	segments := make([]*audio.Segment, 0, len(parts))
	for i, part := range parts {
		path := filepath.Join(dir, fmt.Sprintf("chunk_%03d.wav", i))
		if err := os.WriteFile(path, []byte(part), 0o644); err != nil {
			return nil, err
		}
		segments = append(segments, &audio.Segment{
			SourcePath: stream.SourcePath,
			Index:      i,
			Start:      time.Duration(i) * time.Second,
			Duration:   time.Second,
			Path:       path,
			Temporary:  true,
		})
	}
	return segments, nil
}

// fakeProvider upper-cases the payload. Queued errors for a payload are
// returned first, one per call.
type fakeProvider struct {
	mu       sync.Mutex
	calls    int
	payloads []string
	errs     map[string][]error
	onCall   func(n int)
}

func (p *fakeProvider) Name() string          { return "fake" }
func (p *fakeProvider) MaxBytes() int64       { return 1 << 20 }
func (p *fakeProvider) ValidateConfig() error { return nil }

func (p *fakeProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func (p *fakeProvider) fail(payload string, errs ...error) {
	if p.errs == nil {
		p.errs = make(map[string][]error)
	}
	p.errs[payload] = append(p.errs[payload], errs...)
}

func (p *fakeProvider) Transcribe(ctx context.Context, req *providers.Request) (*providers.Result, error) {
	p.mu.Lock()
	p.calls++
	n := p.calls
	payload := string(req.Audio)
	p.payloads = append(p.payloads, payload)
	var err error
	if queued := p.errs[payload]; len(queued) > 0 {
		err = queued[0]
		p.errs[payload] = queued[1:]
	}
	onCall := p.onCall
	p.mu.Unlock()

	if onCall != nil {
		onCall(n)
	}
	if ctx.Err() != nil {
		return nil, &providers.ServiceError{Provider: "fake", Transient: true, Err: ctx.Err()}
	}
	if err != nil {
		return nil, err
	}
	return &providers.Result{Text: strings.ToUpper(payload), Attempts: 1}, nil
}

var (
	errPermanent = &providers.ServiceError{Provider: "fake", StatusCode: 400, Err: errors.New("bad request")}
	errTransient = &providers.ServiceError{Provider: "fake", StatusCode: 503, Transient: true, Err: errors.New("unavailable")}
)

type harness struct {
	input     string
	tempDir   string
	cachePath string
	processor *fakeProcessor
	provider  *fakeProvider
	progress  []Progress
}

func newHarness(t *testing.T, files map[string]string) *harness {
	t.Helper()
	h := &harness{
		input:     t.TempDir(),
		tempDir:   t.TempDir(),
		cachePath: filepath.Join(t.TempDir(), "cache", "transcript-cache.db"),
		provider:  &fakeProvider{},
	}
	h.processor = &fakeProcessor{tempDir: h.tempDir}
	for name, content := range files {
		path := filepath.Join(h.input, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return h
}

func (h *harness) transcriber(opts Options) *Transcriber {
	if opts.TempDir == "" {
		opts.TempDir = h.tempDir
	}
	opts.Progress = func(p Progress) { h.progress = append(h.progress, p) }
	return NewTranscriber(h.processor, &fakeSplitter{tempDir: opts.TempDir}, h.provider,
		cache.Open(h.cachePath), metrics.NewMetrics(), logger.Nop(), opts)
}

func (h *harness) transcript(t *testing.T, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(h.input, "transcripts", filepath.FromSlash(rel)))
	if err != nil {
		t.Fatalf("read transcript %s: %v", rel, err)
	}
	return string(data)
}

func resultFor(t *testing.T, report *RunReport, rel string) *FileResult {
	t.Helper()
	for _, f := range report.Files {
		if f.Source.RelPath == rel {
			return f
		}
	}
	t.Fatalf("no result for %s", rel)
	return nil
}

func assertEmptyDir(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir(%s): %v", dir, err)
	}
	if len(entries) != 0 {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("%s not cleaned up: %v", dir, names)
	}
}

func TestRunOrdering(t *testing.T) {
	h := newHarness(t, map[string]string{"talk.mp3": "a,b,c"})

	report, err := h.transcriber(Options{}).Run(context.Background(), h.input)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if got := h.transcript(t, "talk.txt"); got != "A B C\n" {
		t.Errorf("transcript = %q, want %q", got, "A B C\n")
	}
	res := resultFor(t, report, "talk.mp3")
	if res.Status != StatusComplete || res.Segments != 3 || res.ServiceCalls != 3 {
		t.Errorf("result = %+v", res)
	}
	if got := strings.Join(h.provider.payloads, ","); got != "a,b,c" {
		t.Errorf("service order = %s, want a,b,c", got)
	}
	if report.RunID == "" {
		t.Error("RunID not set")
	}
	assertEmptyDir(t, h.tempDir)
}

func TestRunPartialFailure(t *testing.T) {
	h := newHarness(t, map[string]string{
		"a.mp3": "t0,t1,t2",
		"b.wav": "next",
	})
	h.provider.fail("t1", errPermanent)

	report, err := h.transcriber(Options{RetryFailedSegments: true}).Run(context.Background(), h.input)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if got := h.transcript(t, "a.txt"); got != "T0  T2\n" {
		t.Errorf("transcript = %q, want %q", got, "T0  T2\n")
	}
	res := resultFor(t, report, "a.mp3")
	if res.Status != StatusIncomplete {
		t.Errorf("status = %s, want incomplete", res.Status)
	}
	if len(res.FailedSegments) != 1 || res.FailedSegments[0] != 1 {
		t.Errorf("FailedSegments = %v, want [1]", res.FailedSegments)
	}
	if !errors.Is(res.Err, scribeerr.ErrService) {
		t.Errorf("Err = %v, want ErrService", res.Err)
	}
	if h.provider.callCount() != 4 {
		t.Errorf("calls = %d, want 4 (permanent failures are not retried)", h.provider.callCount())
	}

	if got := h.transcript(t, "b.txt"); got != "NEXT\n" {
		t.Errorf("next file transcript = %q", got)
	}
	assertEmptyDir(t, h.tempDir)
}

func TestRunRetriesTransientFailures(t *testing.T) {
	tests := []struct {
		name       string
		retry      bool
		want       string
		wantStatus Status
		wantCalls  int
	}{
		{name: "second pass recovers", retry: true, want: "A B C\n", wantStatus: StatusComplete, wantCalls: 4},
		{name: "second pass disabled", retry: false, want: "A  C\n", wantStatus: StatusIncomplete, wantCalls: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, map[string]string{"x.m4a": "a,b,c"})
			h.provider.fail("b", errTransient)

			report, err := h.transcriber(Options{RetryFailedSegments: tt.retry}).Run(context.Background(), h.input)
			if err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			if got := h.transcript(t, "x.txt"); got != tt.want {
				t.Errorf("transcript = %q, want %q", got, tt.want)
			}
			if got := resultFor(t, report, "x.m4a").Status; got != tt.wantStatus {
				t.Errorf("status = %s, want %s", got, tt.wantStatus)
			}
			if got := h.provider.callCount(); got != tt.wantCalls {
				t.Errorf("calls = %d, want %d", got, tt.wantCalls)
			}
			if got := strings.Join(h.provider.payloads, ","); tt.retry && got != "a,b,c,b" {
				t.Errorf("service order = %s, want a,b,c,b", got)
			}
			assertEmptyDir(t, h.tempDir)
		})
	}
}

func TestRunIdempotent(t *testing.T) {
	h := newHarness(t, map[string]string{
		"one.mp3":     "a,b,c",
		"sub/two.wav": "whole",
	})

	first, err := h.transcriber(Options{}).Run(context.Background(), h.input)
	if err != nil {
		t.Fatalf("first Run() error = %v", err)
	}
	if got := h.provider.callCount(); got != 4 {
		t.Fatalf("first run calls = %d, want 4", got)
	}
	firstText := h.transcript(t, "one.txt")

	h.provider.calls = 0
	second, err := h.transcriber(Options{}).Run(context.Background(), h.input)
	if err != nil {
		t.Fatalf("second Run() error = %v", err)
	}
	if got := h.provider.callCount(); got != 0 {
		t.Errorf("second run calls = %d, want 0", got)
	}
	if got := h.transcript(t, "one.txt"); got != firstText {
		t.Errorf("second transcript = %q, want %q", got, firstText)
	}
	if got := h.transcript(t, "sub/two.txt"); got != "WHOLE\n" {
		t.Errorf("nested transcript = %q", got)
	}

	_, hits, _ := second.Totals()
	if hits != 4 {
		t.Errorf("cache hits = %d, want 4", hits)
	}
	if first.RunID == second.RunID {
		t.Errorf("run IDs should differ")
	}
}

func TestRunOnlyTextFiles(t *testing.T) {
	h := newHarness(t, map[string]string{
		"notes.txt":       "hello",
		"more/readme.TXT": "world",
	})

	report, err := h.transcriber(Options{}).Run(context.Background(), h.input)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := report.Count(StatusSkipped); got != 2 {
		t.Errorf("skipped = %d, want 2", got)
	}
	for _, f := range report.Files {
		if f.Err != nil {
			t.Errorf("%s: unexpected error %v", f.Source.RelPath, f.Err)
		}
	}
	if _, err := os.Stat(filepath.Join(h.input, "transcripts")); !os.IsNotExist(err) {
		t.Errorf("transcripts directory should not exist: %v", err)
	}
	if h.provider.callCount() != 0 {
		t.Errorf("service called %d times", h.provider.callCount())
	}
}

func TestRunDecodeFailureContinues(t *testing.T) {
	h := newHarness(t, map[string]string{
		"a-bad.mp3":  "corrupt",
		"b-good.mp3": "fine",
	})

	report, err := h.transcriber(Options{}).Run(context.Background(), h.input)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	bad := resultFor(t, report, "a-bad.mp3")
	if bad.Status != StatusFailed || !errors.Is(bad.Err, scribeerr.ErrDecode) {
		t.Errorf("bad file = %s / %v, want failed decode error", bad.Status, bad.Err)
	}
	if _, err := os.Stat(filepath.Join(h.input, "transcripts", "a-bad.txt")); !os.IsNotExist(err) {
		t.Errorf("failed file should have no transcript")
	}
	if got := h.transcript(t, "b-good.txt"); got != "FINE\n" {
		t.Errorf("good transcript = %q", got)
	}
}

func TestRunEmptySource(t *testing.T) {
	h := newHarness(t, map[string]string{"silence.wav": ""})

	report, err := h.transcriber(Options{}).Run(context.Background(), h.input)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	res := resultFor(t, report, "silence.wav")
	if res.Status != StatusEmpty || res.OutputPath != "" {
		t.Errorf("result = %+v, want empty without output", res)
	}
}

func TestRunVideoDecodedAudio(t *testing.T) {
	tests := []struct {
		name     string
		keepTemp bool
	}{
		{name: "released", keepTemp: false},
		{name: "kept", keepTemp: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, map[string]string{"clip.MP4": "v1,v2"})

			if _, err := h.transcriber(Options{KeepTemp: tt.keepTemp}).Run(context.Background(), h.input); err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			if got := h.transcript(t, "clip.txt"); got != "V1 V2\n" {
				t.Errorf("transcript = %q", got)
			}
			if len(h.processor.decoded) != 1 {
				t.Fatalf("decoded = %v, want one decode", h.processor.decoded)
			}
			_, err := os.Stat(h.processor.decoded[0])
			if exists := err == nil; exists != tt.keepTemp {
				t.Errorf("decoded audio exists = %v, want %v", exists, tt.keepTemp)
			}
			if _, err := os.Stat(filepath.Join(h.input, "clip.MP4")); err != nil {
				t.Errorf("source video must never be removed: %v", err)
			}
		})
	}
}

func TestRunProgressPendingDecreases(t *testing.T) {
	h := newHarness(t, map[string]string{"long.wav": "a,b,c,d"})
	h.provider.fail("c", errPermanent)

	if _, err := h.transcriber(Options{}).Run(context.Background(), h.input); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(h.progress) < 4 {
		t.Fatalf("progress updates = %d, want at least 4", len(h.progress))
	}
	prev := 4
	for i, p := range h.progress {
		if p.Pending > prev {
			t.Errorf("update %d: pending rose from %d to %d", i, prev, p.Pending)
		}
		prev = p.Pending
	}
	last := h.progress[len(h.progress)-1]
	if last.Pending != 0 || last.Segment != -1 {
		t.Errorf("last update = %+v, want teardown with nothing pending", last)
	}
	if failed := h.progress[2]; failed.Source != metrics.SourceFailed || failed.Pending != 2 {
		t.Errorf("failed segment update = %+v, want retained file", failed)
	}
	assertEmptyDir(t, h.tempDir)
}

func TestRunConfigurationAbortPersistsCache(t *testing.T) {
	h := newHarness(t, map[string]string{
		"a.mp3": "first",
		"b.mp3": "tiny-bound",
		"c.mp3": "never",
	})

	report, err := h.transcriber(Options{}).Run(context.Background(), h.input)
	if !errors.Is(err, scribeerr.ErrConfiguration) {
		t.Fatalf("Run() error = %v, want ErrConfiguration", err)
	}
	if len(report.Files) != 2 {
		t.Errorf("files processed = %d, want 2", len(report.Files))
	}
	for _, p := range h.provider.payloads {
		if p == "never" {
			t.Errorf("file after abort was transcribed")
		}
	}

	reloaded := cache.Open(h.cachePath)
	if err := reloaded.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if reloaded.Len() != 1 {
		t.Errorf("persisted entries = %d, want 1", reloaded.Len())
	}
}

func TestRunInterruptedPersistsCache(t *testing.T) {
	h := newHarness(t, map[string]string{
		"a.wav": "a,b,c",
		"b.wav": "later",
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.provider.onCall = func(n int) {
		if n == 2 {
			cancel()
		}
	}

	report, err := h.transcriber(Options{}).Run(ctx, h.input)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
	if res := resultFor(t, report, "a.wav"); res.Status != StatusFailed {
		t.Errorf("interrupted file status = %s, want failed", res.Status)
	}
	if len(report.Files) != 1 {
		t.Errorf("files = %d, want 1", len(report.Files))
	}

	reloaded := cache.Open(h.cachePath)
	if err := reloaded.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if reloaded.Len() != 1 {
		t.Errorf("persisted entries = %d, want 1", reloaded.Len())
	}
	assertEmptyDir(t, h.tempDir)
}

func TestRunOutputCollision(t *testing.T) {
	h := newHarness(t, map[string]string{
		"talk.mp3": "mp3",
		"talk.wav": "wav",
	})

	if _, err := h.transcriber(Options{}).Run(context.Background(), h.input); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := h.transcript(t, "talk.txt"); got != "MP3\n" {
		t.Errorf("talk.txt = %q, want first source", got)
	}
	if got := h.transcript(t, "talk.wav.txt"); got != "WAV\n" {
		t.Errorf("talk.wav.txt = %q, want second source", got)
	}
}

func TestRunSkipsOutputAndTempDirs(t *testing.T) {
	h := newHarness(t, map[string]string{
		"keep.mp3":             "keep",
		"transcripts/old.mp3":  "old",
		"scratch/leftover.wav": "left",
	})

	report, err := h.transcriber(Options{TempDir: filepath.Join(h.input, "scratch")}).Run(context.Background(), h.input)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(report.Files) != 1 || report.Files[0].Source.RelPath != "keep.mp3" {
		t.Errorf("files = %+v, want only keep.mp3", report.Files)
	}
}

func TestRunAbsoluteOutputDir(t *testing.T) {
	h := newHarness(t, map[string]string{"a/b.mp3": "x"})
	out := t.TempDir()

	report, err := h.transcriber(Options{OutputDir: out}).Run(context.Background(), h.input)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	want := filepath.Join(out, "a", "b.txt")
	if got := resultFor(t, report, "a/b.mp3").OutputPath; got != want {
		t.Errorf("OutputPath = %s, want %s", got, want)
	}
}

func TestRunMissingInput(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.transcriber(Options{}).Run(context.Background(), filepath.Join(h.input, "missing"))
	if !errors.Is(err, scribeerr.ErrIO) {
		t.Errorf("Run() error = %v, want ErrIO", err)
	}
}

func TestRunFiles(t *testing.T) {
	h := newHarness(t, map[string]string{
		"a.mp3": "a",
		"b.mp3": "b",
	})

	report, err := h.transcriber(Options{}).RunFiles(context.Background(), h.input, []string{
		filepath.Join(h.input, "b.mp3"),
		filepath.Join(t.TempDir(), "elsewhere.mp3"),
	})
	if err != nil {
		t.Fatalf("RunFiles() error = %v", err)
	}
	if len(report.Files) != 1 || report.Files[0].Status != StatusComplete {
		t.Errorf("files = %+v, want b.mp3 complete", report.Files)
	}
	if _, err := os.Stat(filepath.Join(h.input, "transcripts", "a.txt")); !os.IsNotExist(err) {
		t.Errorf("a.mp3 should not have been processed")
	}
}

func TestProcessFileSkipsUnsupported(t *testing.T) {
	h := newHarness(t, map[string]string{"doc.pdf": "x"})
	file, err := NewSourceFile(h.input, filepath.Join(h.input, "doc.pdf"))
	if err != nil {
		t.Fatal(err)
	}
	if res := h.transcriber(Options{}).ProcessFile(context.Background(), file); res.Status != StatusSkipped {
		t.Errorf("status = %s, want skipped", res.Status)
	}
}

func TestRunFilesKeepsNamesAcrossBatches(t *testing.T) {
	tests := []struct {
		name    string
		first   string
		second  string
		restart bool
		want    map[string]string
	}{
		{
			name:   "plain name owner arrives first",
			first:  "talk.mp3",
			second: "talk.wav",
			want:   map[string]string{"talk.txt": "MP3\n", "talk.wav.txt": "WAV\n"},
		},
		{
			name:   "lexicographically later source arrives first",
			first:  "talk.wav",
			second: "talk.mp3",
			want:   map[string]string{"talk.txt": "WAV\n", "talk.mp3.txt": "MP3\n"},
		},
		{
			name:    "existing source after restart",
			first:   "talk.wav",
			second:  "talk.mp3",
			restart: true,
			want:    map[string]string{"talk.txt": "WAV\n", "talk.mp3.txt": "MP3\n"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			tr := h.transcriber(Options{})

			// Each source's payload is its extension, so talk.wav transcribes to "WAV"
			add := func(name string) string {
				path := filepath.Join(h.input, name)
				if err := os.WriteFile(path, []byte(strings.TrimPrefix(filepath.Ext(name), ".")), 0o644); err != nil {
					t.Fatal(err)
				}
				return path
			}

			if _, err := tr.RunFiles(context.Background(), h.input, []string{add(tt.first)}); err != nil {
				t.Fatalf("first RunFiles() error = %v", err)
			}
			if tt.restart {
				tr = h.transcriber(Options{})
			}
			if _, err := tr.RunFiles(context.Background(), h.input, []string{add(tt.second)}); err != nil {
				t.Fatalf("second RunFiles() error = %v", err)
			}

			for rel, want := range tt.want {
				if got := h.transcript(t, rel); got != want {
					t.Errorf("%s = %q, want %q", rel, got, want)
				}
			}
		})
	}
}
