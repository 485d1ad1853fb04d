// Package minutes turns written transcripts into Markdown meeting minutes.
//
// Minutes for <name>.txt are written next to it as <name>.minutes.md. A
// transcript whose minutes already exist is left alone unless Overwrite is
// set, so repeated runs only pay for new transcripts.
package minutes

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/eternnoir/chunkscribe/pkg/logger"
	"github.com/eternnoir/chunkscribe/pkg/scribeerr"
	"github.com/eternnoir/chunkscribe/pkg/transcriber"
)

// Suffix replaces the transcript extension in the minutes file name
const Suffix = ".minutes.md"

// Writer produces minutes text from a transcript
type Writer interface {
	WriteMinutes(ctx context.Context, transcript string) (string, error)
}

// Options configures a Generator
type Options struct {
	// Regenerate minutes that already exist
	Overwrite bool

	// Model name recorded in the minutes header
	Model string

	// Clock for the header timestamp; defaults to time.Now
	Now func() time.Time
}

// Result records what happened to one transcript
type Result struct {
	Transcript string
	Path       string
	Skipped    bool
	Err        error
}

// Generator writes minutes for transcripts
type Generator struct {
	writer Writer
	log    *logger.Logger
	opts   Options
}

// NewGenerator creates a Generator backed by writer
func NewGenerator(writer Writer, log *logger.Logger, opts Options) *Generator {
	if log == nil {
		log = logger.Nop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Generator{writer: writer, log: log.WithComponent("minutes"), opts: opts}
}

// Path returns the minutes file for a transcript
func Path(transcriptPath string) string {
	return strings.TrimSuffix(transcriptPath, filepath.Ext(transcriptPath)) + Suffix
}

// File writes minutes for one transcript
func (g *Generator) File(ctx context.Context, transcriptPath string) Result {
	res := Result{Transcript: transcriptPath, Path: Path(transcriptPath)}

	if !g.opts.Overwrite {
		if _, err := os.Stat(res.Path); err == nil {
			res.Skipped = true
			g.log.Debug().Str("minutes", res.Path).Msg("Minutes already exist")
			return res
		}
	}

	data, err := os.ReadFile(transcriptPath)
	if err != nil {
		res.Err = scribeerr.Wrap(scribeerr.ErrIO, "failed to read transcript", err)
		return res
	}
	transcript := strings.TrimSpace(string(data))
	if transcript == "" {
		res.Skipped = true
		g.log.Debug().Str("transcript", transcriptPath).Msg("Transcript is empty, no minutes written")
		return res
	}

	start := time.Now()
	body, err := g.writer.WriteMinutes(ctx, transcript)
	if err != nil {
		res.Err = err
		g.log.Error().Err(err).Str("transcript", transcriptPath).Msg("Failed to write minutes")
		return res
	}

	if err := os.WriteFile(res.Path, []byte(g.render(transcriptPath, body)), 0o644); err != nil {
		res.Err = scribeerr.Wrap(scribeerr.ErrIO, "failed to write minutes", err)
		return res
	}

	g.log.Info().
		Str("minutes", res.Path).
		Dur("duration", time.Since(start)).
		Msg("Minutes written")
	return res
}

// Dir writes minutes for every .txt transcript under dir in lexical order
func (g *Generator) Dir(ctx context.Context, dir string) ([]Result, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, scribeerr.Wrap(scribeerr.ErrIO, "failed to read transcript directory", err)
	}
	if !info.IsDir() {
		return []Result{g.File(ctx, dir)}, nil
	}

	var paths []string
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			g.log.Warn().Err(err).Str("path", path).Msg("Skipping unreadable path")
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() && strings.EqualFold(filepath.Ext(path), ".txt") {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, scribeerr.Wrap(scribeerr.ErrIO, "failed to list transcripts", err)
	}

	return g.each(ctx, paths)
}

// Report writes minutes for every transcript a run produced
func (g *Generator) Report(ctx context.Context, report *transcriber.RunReport) ([]Result, error) {
	var paths []string
	for _, f := range report.Files {
		switch f.Status {
		case transcriber.StatusComplete, transcriber.StatusIncomplete:
			if f.OutputPath != "" {
				paths = append(paths, f.OutputPath)
			}
		}
	}
	return g.each(ctx, paths)
}

func (g *Generator) each(ctx context.Context, paths []string) ([]Result, error) {
	results := make([]Result, 0, len(paths))
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		results = append(results, g.File(ctx, path))
	}
	return results, nil
}

func (g *Generator) render(transcriptPath, body string) string {
	var b strings.Builder
	name := strings.TrimSuffix(filepath.Base(transcriptPath), filepath.Ext(transcriptPath))
	fmt.Fprintf(&b, "# Minutes: %s\n\n", name)
	fmt.Fprintf(&b, "- Transcript: `%s`\n", filepath.Base(transcriptPath))
	if g.opts.Model != "" {
		fmt.Fprintf(&b, "- Model: `%s`\n", g.opts.Model)
	}
	fmt.Fprintf(&b, "- Generated: %s\n", g.opts.Now().UTC().Format(time.RFC3339))
	b.WriteString("\n---\n\n")
	b.WriteString(strings.TrimSpace(body))
	b.WriteString("\n")
	return b.String()
}
