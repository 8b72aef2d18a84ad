package voting

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/klauspost/compress/gzip"
	"github.com/lestrrat-go/strftime"
)

// Recorder is the per-frame recording sink an instance writes its voted
// audio (and winner metadata) through when recording is toggled on via the
// control surface's record(node, path) operation.
type Recorder interface {
	WriteFrame(winner string, ulaw []byte) error
	Close() error
}

// GzipRecorder streams (winner-name-prefixed) frames into a gzip-compressed
// file whose path is rendered once, at open, from a strftime template (e.g.
// "node1-%Y%m%d-%H%M%S.gz"); the file is not rotated afterwards.
type GzipRecorder struct {
	mu   sync.Mutex
	f    *os.File
	gw   *gzip.Writer
	path string
}

// NewGzipRecorder opens (creating if needed) a gzip-compressed recording
// file at a path rendered from pathTemplate via strftime.
func NewGzipRecorder(pathTemplate string) (*GzipRecorder, error) {
	pattern, err := strftime.New(pathTemplate)
	if err != nil {
		return nil, fmt.Errorf("voting: parsing recording path template %q: %w", pathTemplate, err)
	}
	path := pattern.FormatString(nowFunc())

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("voting: opening recording file %s: %w", path, err)
	}
	return &GzipRecorder{f: f, gw: gzip.NewWriter(f), path: path}, nil
}

// WriteFrame appends one (winner, audio) record: a NUL-terminated winner
// name followed by the raw mu-law frame.
func (r *GzipRecorder) WriteFrame(winner string, ulaw []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := io.WriteString(r.gw, winner+"\x00"); err != nil {
		return fmt.Errorf("voting: writing recording header: %w", err)
	}
	if _, err := r.gw.Write(ulaw); err != nil {
		return fmt.Errorf("voting: writing recording frame: %w", err)
	}
	return nil
}

// Close flushes and closes the gzip stream and underlying file.
func (r *GzipRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.gw.Close(); err != nil {
		r.f.Close()
		return fmt.Errorf("voting: closing gzip writer for %s: %w", r.path, err)
	}
	if err := r.f.Close(); err != nil {
		return fmt.Errorf("voting: closing recording file %s: %w", r.path, err)
	}
	return nil
}
