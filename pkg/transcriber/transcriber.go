package transcriber

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/eternnoir/chunkscribe/pkg/audio"
	"github.com/eternnoir/chunkscribe/pkg/cache"
	"github.com/eternnoir/chunkscribe/pkg/logger"
	"github.com/eternnoir/chunkscribe/pkg/metrics"
	"github.com/eternnoir/chunkscribe/pkg/providers"
	"github.com/eternnoir/chunkscribe/pkg/scribeerr"
)

// Transcriber drives the pipeline: discovery, decoding, splitting, cached
// transcription, joining and output. It processes one file and one segment
// at a time and is not safe for concurrent runs.
type Transcriber struct {
	processor audio.Processor
	splitter  Splitter
	provider  providers.Provider
	cache     *cache.Cache
	metrics   *metrics.Metrics
	log       *logger.Logger
	opts      Options

	// namers remembers transcript names per output directory between runs
	namers map[string]*outputNamer
}

// NewTranscriber creates a new transcriber. A nil cache disables caching;
// nil metrics records nothing.
func NewTranscriber(processor audio.Processor, splitter Splitter, provider providers.Provider,
	segmentCache *cache.Cache, m *metrics.Metrics, log *logger.Logger, opts Options) *Transcriber {
	if log == nil {
		log = logger.Nop()
	}
	return &Transcriber{
		processor: processor,
		splitter:  splitter,
		provider:  provider,
		cache:     segmentCache,
		metrics:   m,
		log:       log.WithComponent("transcriber"),
		opts:      opts,
		namers:    make(map[string]*outputNamer),
	}
}

// Run transcribes every supported file under inputDir. Per-file failures are
// recorded in the report; the returned error is non-nil only for a
// configuration error, an unreadable input root or cancellation.
func (t *Transcriber) Run(ctx context.Context, inputDir string) (*RunReport, error) {
	root, err := filepath.Abs(inputDir)
	if err != nil {
		return nil, scribeerr.Wrap(scribeerr.ErrIO, "failed to resolve input directory", err)
	}
	outputDir := ResolveOutputDir(root, t.opts.OutputDir)

	files, err := Discover(root, []string{outputDir, t.opts.TempDir}, t.log)
	if err != nil {
		return nil, err
	}

	// A full run assigns every name afresh in lexicographic order
	namer := newOutputNamer(outputDir)
	t.namers[outputDir] = namer

	return t.run(ctx, root, outputDir, files, namer)
}

// RunFiles transcribes the given files under inputDir with the same cache
// and reporting lifecycle as Run
func (t *Transcriber) RunFiles(ctx context.Context, inputDir string, paths []string) (*RunReport, error) {
	root, err := filepath.Abs(inputDir)
	if err != nil {
		return nil, scribeerr.Wrap(scribeerr.ErrIO, "failed to resolve input directory", err)
	}
	outputDir := ResolveOutputDir(root, t.opts.OutputDir)

	files := make([]SourceFile, 0, len(paths))
	for _, path := range paths {
		file, err := NewSourceFile(root, path)
		if err != nil {
			t.log.Warn().Err(err).Str("path", path).Msg("Ignoring file outside input directory")
			continue
		}
		files = append(files, file)
	}
	sort.Slice(files, func(i, j int) bool {
		return files[i].RelPath < files[j].RelPath
	})

	namer, ok := t.namers[outputDir]
	if !ok {
		namer = newOutputNamer(outputDir)
		t.namers[outputDir] = namer
	}
	t.claimSiblings(namer, root, files)

	return t.run(ctx, root, outputDir, files, namer)
}

// claimSiblings assigns names to media files already sitting next to the
// given files before any of those are named, so a newly arrived source never
// takes the transcript name of one that was there first
func (t *Transcriber) claimSiblings(namer *outputNamer, root string, files []SourceFile) {
	batch := make(map[string]struct{}, len(files))
	dirs := make(map[string]struct{})
	for _, f := range files {
		batch[f.RelPath] = struct{}{}
		dirs[filepath.Dir(f.Path)] = struct{}{}
	}

	var siblings []SourceFile
	for dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			t.log.Warn().Err(err).Str("directory", dir).Msg("Failed to list sibling sources")
			continue
		}
		for _, e := range entries {
			path := filepath.Join(dir, e.Name())
			if !e.Type().IsRegular() || audio.Classify(path) == audio.KindUnsupported {
				continue
			}
			file, err := NewSourceFile(root, path)
			if err != nil {
				continue
			}
			if _, inBatch := batch[file.RelPath]; !inBatch {
				siblings = append(siblings, file)
			}
		}
	}

	sort.Slice(siblings, func(i, j int) bool {
		return siblings[i].RelPath < siblings[j].RelPath
	})
	for _, f := range siblings {
		namer.assign(f)
	}
}

func (t *Transcriber) run(ctx context.Context, root, outputDir string, files []SourceFile, namer *outputNamer) (report *RunReport, err error) {
	report = &RunReport{
		RunID:     uuid.New().String(),
		InputDir:  root,
		OutputDir: outputDir,
		StartedAt: time.Now(),
	}
	log := t.log.WithField("run_id", report.RunID)

	log.Info().
		Str("input_dir", root).
		Str("output_dir", outputDir).
		Int("files", len(files)).
		Str("provider", t.provider.Name()).
		Int64("max_bytes", t.provider.MaxBytes()).
		Msg("Starting run")

	if t.cache != nil {
		if loadErr := t.cache.Load(); loadErr != nil {
			log.Warn().Err(loadErr).Str("cache", t.cache.Path()).Msg("Failed to load transcript cache, starting cold")
		} else {
			log.Debug().Int("entries", t.cache.Len()).Str("cache", t.cache.Path()).Msg("Transcript cache loaded")
		}
	}

	defer func() {
		report.FinishedAt = time.Now()
		t.finish(log, report)
	}()

	for _, file := range files {
		if ctxErr := ctx.Err(); ctxErr != nil {
			log.Warn().Err(ctxErr).Msg("Run interrupted")
			return report, ctxErr
		}

		var result *FileResult
		if file.Kind == audio.KindUnsupported {
			result = &FileResult{Source: file, Status: StatusSkipped}
			log.Debug().Str("file", file.RelPath).Msg("Skipping unsupported file")
		} else {
			outPath, owner := namer.assign(file)
			if owner != "" {
				log.Warn().
					Str("file", file.RelPath).
					Str("conflicts_with", owner).
					Str("output_path", outPath).
					Msg("Transcript name already taken, keeping source extension")
			}
			result = t.processFile(ctx, file, outPath)
		}

		report.Files = append(report.Files, result)
		t.metrics.ObserveFile(string(result.Status))

		if errors.Is(result.Err, scribeerr.ErrConfiguration) {
			log.Error().Err(result.Err).Str("file", file.RelPath).Msg("Configuration error, aborting run")
			return report, result.Err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			log.Warn().Err(ctxErr).Str("file", file.RelPath).Msg("Run interrupted")
			return report, ctxErr
		}
	}

	return report, nil
}

// finish persists the cache and exports metrics. It runs on every exit path.
func (t *Transcriber) finish(log *logger.Logger, report *RunReport) {
	if t.cache != nil {
		if err := t.cache.Persist(); err != nil {
			log.Error().Err(err).Str("cache", t.cache.Path()).Msg("Failed to persist transcript cache")
		}
		t.metrics.SetCacheEntries(t.cache.Len())
	}

	elapsed := report.FinishedAt.Sub(report.StartedAt)
	t.metrics.ObserveRun(elapsed)
	if err := t.metrics.WriteTextfile(t.opts.MetricsTextfile); err != nil {
		log.Warn().Err(err).Str("path", t.opts.MetricsTextfile).Msg("Failed to export metrics")
	}

	segments, hits, calls := report.Totals()
	log.Info().
		Int("complete", report.Count(StatusComplete)).
		Int("incomplete", report.Count(StatusIncomplete)).
		Int("empty", report.Count(StatusEmpty)).
		Int("failed", report.Count(StatusFailed)).
		Int("skipped", report.Count(StatusSkipped)).
		Int("segments", segments).
		Int("cache_hits", hits).
		Int("service_calls", calls).
		Dur("elapsed", elapsed).
		Msg("Run finished")
}

// ProcessFile transcribes a single source file into its default output path.
// It does not load or persist the cache.
func (t *Transcriber) ProcessFile(ctx context.Context, file SourceFile) *FileResult {
	if file.Kind == audio.KindUnsupported {
		return &FileResult{Source: file, Status: StatusSkipped}
	}
	outputDir := ResolveOutputDir(file.Root, t.opts.OutputDir)
	return t.processFile(ctx, file, OutputPath(outputDir, file))
}

func (t *Transcriber) processFile(ctx context.Context, file SourceFile, outPath string) *FileResult {
	start := time.Now()
	result := &FileResult{Source: file}
	log := t.log.WithField("file", file.RelPath)

	fail := func(stage string, err error) *FileResult {
		result.Status = StatusFailed
		result.Err = fmt.Errorf("%s %s: %w", stage, file.RelPath, err)
		result.Duration = time.Since(start)
		log.Error().Err(err).Str("stage", stage).Msg("File processing failed")
		return result
	}

	log.Info().Str("kind", string(file.Kind)).Msg("Processing file")

	stream, err := t.openStream(ctx, file)
	if err != nil {
		return fail("decode", err)
	}
	if stream.Owned {
		defer func() {
			if t.opts.KeepTemp {
				log.Info().Str("audio_path", stream.Path).Msg("Keeping decoded audio")
				return
			}
			if err := stream.Release(); err != nil {
				log.Warn().Err(err).Str("audio_path", stream.Path).Msg("Failed to remove decoded audio")
			}
		}()
	}

	maxBytes := t.provider.MaxBytes()
	segments, err := t.splitter.Split(ctx, stream, maxBytes)
	if err != nil {
		return fail("split", err)
	}
	defer t.teardown(log, file, segments)

	result.Segments = len(segments)
	if len(segments) == 0 {
		log.Info().Msg("No audio to transcribe")
		result.Status = StatusEmpty
		result.Duration = time.Since(start)
		return result
	}

	log.Info().
		Int("segments", len(segments)).
		Dur("duration", stream.Duration).
		Msg("Transcribing segments")

	texts := make([]string, len(segments))
	failures := make(map[int]error)
	pending := audio.PendingSegments(segments)

	settle := func(segment *audio.Segment, source string) {
		if source != metrics.SourceFailed {
			if err := segment.Release(); err != nil {
				log.Warn().Err(err).Int("segment", segment.Index).Msg("Failed to remove segment")
			}
		}
		pending = audio.PendingSegments(segments)
		t.report(Progress{
			File:     file.RelPath,
			Segment:  segment.Index,
			Segments: len(segments),
			Source:   source,
			Pending:  pending,
		})
	}

	for _, segment := range segments {
		text, source, err := t.transcribeSegment(ctx, file, segment, maxBytes, result)
		if err != nil {
			if stop := t.stopError(ctx, err); stop != nil {
				return fail("transcribe", stop)
			}
			log.Error().Err(err).Int("segment", segment.Index).Msg("Segment transcription failed")
			failures[segment.Index] = err
			t.metrics.ObserveSegment(metrics.SourceFailed, 0)
			settle(segment, metrics.SourceFailed)
			continue
		}
		texts[segment.Index] = text
		settle(segment, source)
	}

	if t.opts.RetryFailedSegments && len(failures) > 0 {
		for _, index := range sortedKeys(failures) {
			if !scribeerr.IsTransient(failures[index]) {
				continue
			}
			segment := segments[index]
			log.Info().Int("segment", index).Msg("Retrying failed segment")

			text, source, err := t.transcribeSegment(ctx, file, segment, maxBytes, result)
			if err != nil {
				if stop := t.stopError(ctx, err); stop != nil {
					return fail("transcribe", stop)
				}
				log.Error().Err(err).Int("segment", index).Msg("Segment retry failed")
				failures[index] = err
				continue
			}
			delete(failures, index)
			texts[index] = text
			settle(segment, source)
		}
	}

	result.FailedSegments = sortedKeys(failures)

	if err := writeTranscript(outPath, MergeSegments(texts)); err != nil {
		return fail("write", err)
	}
	result.OutputPath = outPath
	result.Duration = time.Since(start)

	if len(result.FailedSegments) > 0 {
		result.Status = StatusIncomplete
		result.Err = fmt.Errorf("%d of %d segments failed: %w", len(result.FailedSegments), len(segments), failures[result.FailedSegments[0]])
		log.Warn().
			Ints("failed_segments", result.FailedSegments).
			Str("output_path", outPath).
			Msg("Transcript written with missing segments")
		return result
	}

	result.Status = StatusComplete
	log.Info().
		Str("output_path", outPath).
		Int("cache_hits", result.CacheHits).
		Int("service_calls", result.ServiceCalls).
		Dur("elapsed", result.Duration).
		Msg("Transcript written")
	return result
}

// openStream inspects audio sources and decodes video sources
func (t *Transcriber) openStream(ctx context.Context, file SourceFile) (*audio.AudioStream, error) {
	if file.Kind == audio.KindVideo {
		return t.processor.Decode(ctx, file.Path)
	}
	return t.processor.Inspect(ctx, file.Path)
}

// transcribeSegment returns the text of one segment and where it came from
func (t *Transcriber) transcribeSegment(ctx context.Context, file SourceFile, segment *audio.Segment,
	maxBytes int64, result *FileResult) (string, string, error) {
	data, err := audio.ReadSegment(segment, maxBytes)
	if err != nil {
		return "", "", err
	}

	key := cache.KeyFor(data, file.Path, segment.Index)
	if t.cache != nil {
		if text, ok := t.cache.Lookup(key); ok {
			result.CacheHits++
			t.metrics.ObserveSegment(metrics.SourceCache, len(data))
			return text, metrics.SourceCache, nil
		}
	}

	segmentLog := t.log.WithFields(map[string]interface{}{
		"file":    file.RelPath,
		"segment": segment.Index,
	})
	callCtx := logger.WithLogger(ctx, segmentLog)

	started := time.Now()
	result.ServiceCalls++
	res, err := t.provider.Transcribe(callCtx, &providers.Request{
		Audio:        data,
		Filename:     filepath.Base(segment.Path),
		MimeType:     audio.GetMimeType(segment.Path),
		Prompt:       t.opts.Prompt,
		SegmentIndex: segment.Index,
	})
	if err != nil {
		t.metrics.ObserveServiceCall(time.Since(started), 1)
		return "", "", err
	}
	t.metrics.ObserveServiceCall(time.Since(started), res.Attempts)
	t.metrics.ObserveSegment(metrics.SourceService, len(data))

	if t.cache != nil {
		t.cache.Store(key, res.Text)
	}

	segmentLog.Debug().
		Int("text_length", len(res.Text)).
		Int("attempts", res.Attempts).
		Msg("Segment transcribed")

	return res.Text, metrics.SourceService, nil
}

// stopError returns the error that must end the file: cancellation or a
// configuration problem. Other errors are per-segment.
func (t *Transcriber) stopError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(err, scribeerr.ErrConfiguration) {
		return err
	}
	return nil
}

// teardown releases whatever segments remain, on every path
func (t *Transcriber) teardown(log *logger.Logger, file SourceFile, segments []*audio.Segment) {
	before := audio.PendingSegments(segments)
	if err := audio.CleanupSegments(segments); err != nil {
		log.Warn().Err(err).Msg("Failed to remove some segments")
	}
	if before > 0 {
		log.Debug().Int("released", before).Msg("Released remaining segments")
		t.report(Progress{
			File:     file.RelPath,
			Segment:  -1,
			Segments: len(segments),
			Pending:  audio.PendingSegments(segments),
		})
	}
}

func (t *Transcriber) report(p Progress) {
	if t.opts.Progress != nil {
		t.opts.Progress(p)
	}
}

func sortedKeys(m map[int]error) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}
