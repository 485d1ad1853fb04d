package transcriber

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/eternnoir/chunkscribe/pkg/scribeerr"
)

// ResolveOutputDir returns dir as an absolute path, resolving relative
// paths against the input root.
func ResolveOutputDir(root, dir string) string {
	if dir == "" {
		dir = "transcripts"
	}
	if filepath.IsAbs(dir) {
		return filepath.Clean(dir)
	}
	return filepath.Join(root, dir)
}

// OutputPath returns <outputDir>/<relative dir>/<base>.txt for file
func OutputPath(outputDir string, file SourceFile) string {
	rel := filepath.FromSlash(file.RelPath)
	base := strings.TrimSuffix(filepath.Base(rel), filepath.Ext(rel))
	return filepath.Join(outputDir, filepath.Dir(rel), base+".txt")
}

// collisionPath keeps the source extension so same-named sources stay apart
func collisionPath(outputDir string, file SourceFile) string {
	rel := filepath.FromSlash(file.RelPath)
	return filepath.Join(outputDir, filepath.Dir(rel), filepath.Base(rel)+".txt")
}

// outputNamer hands out transcript paths. The first source claiming a name
// keeps it; later ones get the extension-qualified form. A source keeps its
// path for the namer's lifetime.
type outputNamer struct {
	outputDir string
	taken     map[string]string // output path -> source rel path
	assigned  map[string]string // source rel path -> output path
}

func newOutputNamer(outputDir string) *outputNamer {
	return &outputNamer{
		outputDir: outputDir,
		taken:     make(map[string]string),
		assigned:  make(map[string]string),
	}
}

// assign returns the output path for file and, when the plain name belongs
// to another source, that source
func (n *outputNamer) assign(file SourceFile) (path, collidedWith string) {
	plain := OutputPath(n.outputDir, file)
	path, ok := n.assigned[file.RelPath]
	if !ok {
		path = plain
		if _, taken := n.taken[plain]; taken {
			path = collisionPath(n.outputDir, file)
		}
		n.taken[path] = file.RelPath
		n.assigned[file.RelPath] = path
	}
	if path != plain {
		collidedWith = n.taken[plain]
	}
	return path, collidedWith
}

// writeTranscript writes text followed by a newline, creating parent directories
func writeTranscript(path, text string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return scribeerr.Wrap(scribeerr.ErrIO, "failed to create output directory", err)
	}
	if err := os.WriteFile(path, []byte(text+"\n"), 0o644); err != nil {
		return scribeerr.Wrap(scribeerr.ErrIO, "failed to write transcript", err)
	}
	return nil
}
