package audio

import (
	"fmt"
	"io"
	"os"

	"github.com/eternnoir/chunkscribe/pkg/scribeerr"
)

// ReadSegment loads a segment's encoded audio, refusing payloads above maxBytes
func ReadSegment(segment *Segment, maxBytes int64) ([]byte, error) {
	file, err := os.Open(segment.Path)
	if err != nil {
		return nil, scribeerr.Wrap(scribeerr.ErrIO, "failed to open segment", err)
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxBytes+1))
	if err != nil {
		return nil, scribeerr.Wrap(scribeerr.ErrIO, "failed to read segment", err)
	}
	if int64(len(data)) > maxBytes {
		return nil, scribeerr.Wrap(scribeerr.ErrIO, fmt.Sprintf("segment %d", segment.Index),
			fmt.Errorf("payload exceeds %d bytes", maxBytes))
	}
	return data, nil
}
