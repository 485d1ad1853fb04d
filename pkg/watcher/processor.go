package watcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/eternnoir/chunkscribe/pkg/logger"
	"github.com/eternnoir/chunkscribe/pkg/scribeerr"
	"github.com/eternnoir/chunkscribe/pkg/transcriber"
)

// batch is one unit of work for the worker. all means the whole tree.
type batch struct {
	all   bool
	paths []string
}

// batchProcessor hands batches to the pipeline and turns the run report into
// progress events
type batchProcessor struct {
	root     string
	runner   Runner
	log      *logger.Logger
	progress ProgressCallback
}

func newBatchProcessor(root string, runner Runner, log *logger.Logger, progress ProgressCallback) *batchProcessor {
	return &batchProcessor{
		root:     root,
		runner:   runner,
		log:      log.WithComponent("watch-worker"),
		progress: progress,
	}
}

// Process runs one batch. Only a configuration error is returned; it means
// no later batch can succeed either.
func (bp *batchProcessor) Process(ctx context.Context, b batch) error {
	var (
		report *transcriber.RunReport
		err    error
	)

	if b.all {
		bp.log.Info().Str("directory", bp.root).Msg("Processing existing files")
		report, err = bp.runner.Run(ctx, bp.root)
	} else {
		for _, path := range b.paths {
			bp.report(&ProgressEvent{Type: EventRunning, FilePath: path, Message: "Starting processing"})
		}
		bp.log.Info().Int("files", len(b.paths)).Msg("Processing changed files")
		report, err = bp.runner.RunFiles(ctx, bp.root, b.paths)
	}

	if report != nil {
		for _, res := range report.Files {
			bp.report(eventFor(res))
		}
	}

	switch {
	case err == nil:
		return nil
	case errors.Is(err, scribeerr.ErrConfiguration):
		return err
	case ctx.Err() != nil:
		return nil
	default:
		bp.log.Error().Err(err).Msg("Pipeline run failed")
		return nil
	}
}

func eventFor(res *transcriber.FileResult) *ProgressEvent {
	event := &ProgressEvent{
		FilePath: res.Source.Path,
		Status:   res.Status,
		Error:    res.Err,
	}
	switch res.Status {
	case transcriber.StatusComplete, transcriber.StatusEmpty:
		event.Type = EventCompleted
		event.Message = fmt.Sprintf("%d segments, %d from cache", res.Segments, res.CacheHits)
	case transcriber.StatusIncomplete:
		event.Type = EventIncomplete
		event.Message = fmt.Sprintf("%d of %d segments failed", len(res.FailedSegments), res.Segments)
	case transcriber.StatusSkipped:
		event.Type = EventSkipped
		event.Message = "Unsupported file type"
	default:
		event.Type = EventFailed
		event.Message = "Processing failed"
	}
	return event
}

func (bp *batchProcessor) report(event *ProgressEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if bp.progress != nil {
		bp.progress(event)
	}
}
