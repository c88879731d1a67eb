package file

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// ─────────────────────────────────────────────────────────────────────────────
// RotateConfig
// ─────────────────────────────────────────────────────────────────────────────

// RotateConfig controls size-based rotation of an archive file.
type RotateConfig struct {
	// FilePath is the active file name (required).
	FilePath string

	// MaxBytes rotates the active file before a write would push it past
	// this size. Zero disables rotation.
	MaxBytes int64

	// MaxBackups is the number of rotated files to keep (path.1 … path.N).
	// Zero keeps every backup.
	MaxBackups int
}

// ─────────────────────────────────────────────────────────────────────────────
// RotatingFile
// ─────────────────────────────────────────────────────────────────────────────

// RotatingFile is an io.WriteCloser over an append-only file that shifts
// path → path.1 → path.2 … whenever MaxBytes would be exceeded. It is safe
// for concurrent use.
type RotatingFile struct {
	mu     sync.Mutex
	cfg    RotateConfig
	file   *os.File
	size   int64
	logger *slog.Logger
}

// NewRotatingFile opens (or creates) cfg.FilePath, creating parent
// directories as needed. The caller must call Close.
func NewRotatingFile(cfg RotateConfig, logger *slog.Logger) (*RotatingFile, error) {
	if cfg.FilePath == "" {
		return nil, fmt.Errorf("transport/file: rotate: FilePath is required")
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}
	if dir := filepath.Dir(cfg.FilePath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("transport/file: rotate: mkdir %s: %w", dir, err)
		}
	}

	rf := &RotatingFile{cfg: cfg, logger: logger}
	if err := rf.open(); err != nil {
		return nil, err
	}
	return rf, nil
}

// Write implements io.Writer. A failed rotation is logged and the write
// goes to the current file so no record is lost.
func (rf *RotatingFile) Write(p []byte) (int, error) {
	rf.mu.Lock()
	defer rf.mu.Unlock()

	if rf.file == nil {
		return 0, fmt.Errorf("transport/file: rotate: %s is closed", rf.cfg.FilePath)
	}
	if rf.cfg.MaxBytes > 0 && rf.size > 0 && rf.size+int64(len(p)) > rf.cfg.MaxBytes {
		if err := rf.rotate(); err != nil {
			rf.logger.Error("transport/file: rotate failed",
				"file", rf.cfg.FilePath, "error", err.Error(),
			)
		}
	}

	n, err := rf.file.Write(p)
	rf.size += int64(n)
	return n, err
}

// Close closes the active file. Further writes fail.
func (rf *RotatingFile) Close() error {
	rf.mu.Lock()
	defer rf.mu.Unlock()

	if rf.file == nil {
		return nil
	}
	err := rf.file.Close()
	rf.file = nil
	return err
}

// ─────────────────────────────────────────────────────────────────────────────
// Internal helpers
// ─────────────────────────────────────────────────────────────────────────────

func (rf *RotatingFile) backup(i int) string {
	return fmt.Sprintf("%s.%d", rf.cfg.FilePath, i)
}

func (rf *RotatingFile) open() error {
	f, err := os.OpenFile(rf.cfg.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("transport/file: rotate: open %s: %w", rf.cfg.FilePath, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("transport/file: rotate: stat %s: %w", rf.cfg.FilePath, err)
	}
	rf.file = f
	rf.size = info.Size()
	return nil
}

// rotate closes the active file, shifts the backups up by one, drops the
// ones beyond MaxBackups and reopens an empty active file. If the active
// file cannot be renamed it is reopened for append.
func (rf *RotatingFile) rotate() error {
	if err := rf.file.Close(); err != nil {
		rf.logger.Warn("transport/file: rotate: close error", "error", err.Error())
	}
	rf.file = nil

	highest := rf.cfg.MaxBackups
	if highest == 0 {
		highest = rf.highestBackup()
	} else {
		_ = os.Remove(rf.backup(highest))
	}
	for i := highest; i >= 1; i-- {
		_ = os.Rename(rf.backup(i), rf.backup(i+1))
	}

	renameErr := os.Rename(rf.cfg.FilePath, rf.backup(1))
	if rf.cfg.MaxBackups > 0 {
		rf.prune()
	}
	if err := rf.open(); err != nil {
		return err
	}
	if renameErr != nil && !os.IsNotExist(renameErr) {
		return fmt.Errorf("transport/file: rotate: rename: %w", renameErr)
	}

	rf.logger.Info("transport/file: rotated", "file", rf.cfg.FilePath)
	return nil
}

func (rf *RotatingFile) highestBackup() int {
	n := 0
	for {
		if _, err := os.Stat(rf.backup(n + 1)); err != nil {
			return n
		}
		n++
	}
}

func (rf *RotatingFile) prune() {
	for i := rf.cfg.MaxBackups + 1; ; i++ {
		if err := os.Remove(rf.backup(i)); err != nil {
			return
		}
		rf.logger.Debug("transport/file: pruned old backup", "file", rf.backup(i))
	}
}
