// Package file implements Transports that deliver formatted SiteBoss records
// to local files or any io.Writer.
//
// Pipeline position:
//
//	format/json → transport/file
//
// WriterTransport backs the one-shot converter (a single record to a file or
// stdout). ArchiveTransport backs the exporter's optional history archive,
// where records and raw device documents go to separate rotating files.
package file

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
)

// ─────────────────────────────────────────────────────────────────────────────
// Transport interface
// ─────────────────────────────────────────────────────────────────────────────

// Transport delivers one pre-formatted message. Close flushes and releases
// any writer the transport owns.
type Transport interface {
	Send(data []byte) error
	Close() error
}

// ─────────────────────────────────────────────────────────────────────────────
// Config
// ─────────────────────────────────────────────────────────────────────────────

// Config controls WriterTransport behaviour.
type Config struct {
	// Writer is the destination. nil defaults to os.Stdout.
	Writer io.Writer

	// Newline is appended after each message. Default "\n".
	Newline string
}

// ─────────────────────────────────────────────────────────────────────────────
// WriterTransport
// ─────────────────────────────────────────────────────────────────────────────

// WriterTransport writes each message followed by a newline. It is safe for
// concurrent use.
type WriterTransport struct {
	mu     sync.Mutex
	w      io.Writer
	nl     []byte
	closer io.Closer
	logger *slog.Logger
}

// New constructs a WriterTransport. When cfg.Writer is an io.Closer other
// than os.Stdout or os.Stderr, Close closes it.
func New(cfg Config, logger *slog.Logger) *WriterTransport {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}
	w := cfg.Writer
	if w == nil {
		w = os.Stdout
	}
	nl := cfg.Newline
	if nl == "" {
		nl = "\n"
	}
	return &WriterTransport{
		w:      w,
		nl:     []byte(nl),
		closer: ownedCloser(w),
		logger: logger,
	}
}

// Create opens path for writing, truncating any previous content, and
// returns a WriterTransport that owns the file.
func Create(path string, logger *slog.Logger) (*WriterTransport, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("transport/file: create %s: %w", path, err)
	}
	return New(Config{Writer: f}, logger), nil
}

// Send writes data and the newline under one lock so concurrent callers
// never interleave.
func (t *WriterTransport) Send(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := writeLine(t.w, data, t.nl); err != nil {
		t.logger.Error("transport/file: write failed", "error", err.Error(), "bytes", len(data))
		return err
	}
	t.logger.Debug("transport/file: sent message", "bytes", len(data))
	return nil
}

// Close closes the destination when the transport owns it.
func (t *WriterTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closer == nil {
		return nil
	}
	err := t.closer.Close()
	t.closer = nil
	return err
}

// ─────────────────────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────────────────────

func writeLine(w io.Writer, data, nl []byte) error {
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("transport/file: write: %w", err)
	}
	if _, err := w.Write(nl); err != nil {
		return fmt.Errorf("transport/file: write newline: %w", err)
	}
	return nil
}

// ownedCloser returns w as an io.Closer unless it is a process stream.
func ownedCloser(w io.Writer) io.Closer {
	if w == os.Stdout || w == os.Stderr {
		return nil
	}
	if c, ok := w.(io.Closer); ok {
		return c
	}
	return nil
}

type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }
