package file

import (
	"bytes"
	"io"
	"log/slog"
	"sync"
)

// ─────────────────────────────────────────────────────────────────────────────
// ArchiveConfig
// ─────────────────────────────────────────────────────────────────────────────

// ArchiveConfig controls ArchiveTransport behaviour.
type ArchiveConfig struct {
	// RecordWriter receives formatted JSON records. Required.
	RecordWriter io.Writer

	// RawWriter receives raw SiteStatus.xml documents. nil discards them.
	RawWriter io.Writer

	// Newline appended after each message. Default "\n".
	Newline string
}

// ─────────────────────────────────────────────────────────────────────────────
// ArchiveTransport
// ─────────────────────────────────────────────────────────────────────────────

// ArchiveTransport routes each message by content: payloads that start with
// an XML declaration go to the raw writer, everything else to the record
// writer. It is safe for concurrent use.
type ArchiveTransport struct {
	recordMu sync.Mutex
	rawMu    sync.Mutex
	recordW  io.Writer
	rawW     io.Writer
	nl       []byte
	closers  []io.Closer
	logger   *slog.Logger
}

// xmlMarker is the prefix every raw SiteStatus.xml document carries.
var xmlMarker = []byte("<?xml")

// NewArchive constructs an ArchiveTransport. Writers that implement
// io.Closer (RotatingFile) are closed by Close.
func NewArchive(cfg ArchiveConfig, logger *slog.Logger) *ArchiveTransport {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}
	rw := cfg.RecordWriter
	if rw == nil {
		rw = io.Discard
	}
	xw := cfg.RawWriter
	if xw == nil {
		xw = io.Discard
	}
	nl := cfg.Newline
	if nl == "" {
		nl = "\n"
	}

	at := &ArchiveTransport{
		recordW: rw,
		rawW:    xw,
		nl:      []byte(nl),
		logger:  logger,
	}
	for _, w := range []io.Writer{rw, xw} {
		if c := ownedCloser(w); c != nil {
			at.closers = append(at.closers, c)
		}
	}
	return at
}

// IsRaw reports whether data is a raw device document rather than a record.
func IsRaw(data []byte) bool {
	return bytes.HasPrefix(bytes.TrimLeft(data, " \t\r\n\ufeff"), xmlMarker)
}

// Send routes data to the raw or record writer.
func (at *ArchiveTransport) Send(data []byte) error {
	if IsRaw(data) {
		return at.write(&at.rawMu, at.rawW, "raw", data)
	}
	return at.write(&at.recordMu, at.recordW, "record", data)
}

// Close closes every owned writer and returns the first error.
func (at *ArchiveTransport) Close() error {
	var firstErr error
	for _, c := range at.closers {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	at.closers = nil
	return firstErr
}

func (at *ArchiveTransport) write(mu *sync.Mutex, w io.Writer, kind string, data []byte) error {
	mu.Lock()
	defer mu.Unlock()

	if err := writeLine(w, data, at.nl); err != nil {
		at.logger.Error("transport/file: archive write failed",
			"kind", kind, "error", err.Error(), "bytes", len(data),
		)
		return err
	}
	at.logger.Debug("transport/file: archived message", "kind", kind, "bytes", len(data))
	return nil
}
