package transcriber

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/eternnoir/chunkscribe/pkg/audio"
	"github.com/eternnoir/chunkscribe/pkg/logger"
	"github.com/eternnoir/chunkscribe/pkg/scribeerr"
)

// Discover walks root and returns every regular file in lexicographic order
// of its relative path. Directories listed in skip are not descended into.
// Unreadable subdirectories are logged and skipped.
func Discover(root string, skip []string, log *logger.Logger) ([]SourceFile, error) {
	if log == nil {
		log = logger.Nop()
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, scribeerr.Wrap(scribeerr.ErrIO, "failed to resolve input directory", err)
	}

	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, scribeerr.Wrap(scribeerr.ErrIO, "failed to read input directory", err)
	}
	if !info.IsDir() {
		return nil, scribeerr.Wrap(scribeerr.ErrIO, "invalid input directory", fmt.Errorf("%s is not a directory", absRoot))
	}

	skipped := make(map[string]struct{}, len(skip))
	for _, dir := range skip {
		if dir == "" {
			continue
		}
		if abs, err := filepath.Abs(dir); err == nil && abs != absRoot {
			skipped[abs] = struct{}{}
		}
	}

	var files []SourceFile
	err = filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == absRoot {
				return err
			}
			log.Warn().Err(err).Str("path", path).Msg("Skipping unreadable path")
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if d.IsDir() {
			if _, ok := skipped[path]; ok {
				log.Debug().Str("path", path).Msg("Skipping excluded directory")
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(absRoot, path)
		if err != nil {
			return nil
		}
		files = append(files, SourceFile{
			Path:    path,
			Root:    absRoot,
			RelPath: filepath.ToSlash(rel),
			Kind:    audio.Classify(path),
		})
		return nil
	})
	if err != nil {
		return nil, scribeerr.Wrap(scribeerr.ErrIO, "failed to walk input directory", err)
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].RelPath < files[j].RelPath
	})

	return files, nil
}

// NewSourceFile describes a single file under root
func NewSourceFile(root, path string) (SourceFile, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return SourceFile{}, scribeerr.Wrap(scribeerr.ErrIO, "failed to resolve input directory", err)
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return SourceFile{}, scribeerr.Wrap(scribeerr.ErrIO, "failed to resolve file", err)
	}
	rel, err := filepath.Rel(absRoot, absPath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return SourceFile{}, scribeerr.Wrap(scribeerr.ErrIO, "invalid file",
			fmt.Errorf("%s is outside %s", absPath, absRoot))
	}
	return SourceFile{
		Path:    absPath,
		Root:    absRoot,
		RelPath: filepath.ToSlash(rel),
		Kind:    audio.Classify(absPath),
	}, nil
}
