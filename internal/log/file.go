// Package log provides configurable logging for pulse.
package log

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// FileHandler writes logs to a file with size-based rotation.
type FileHandler struct {
	mu         sync.Mutex
	file       *os.File
	path       string
	maxSize    int64 // bytes
	maxAge     int   // days
	maxBackups int
	size       int64
	level      slog.Level
	inner      slog.Handler
}

// NewFileHandler creates a file handler with rotation.
func NewFileHandler(cfg *Config, level slog.Level) (*FileHandler, error) {
	dir := filepath.Dir(cfg.FilePath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
	}

	file, err := os.OpenFile(cfg.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("stat log file: %w", err)
	}

	maxSize := int64(cfg.MaxSizeMB) * 1024 * 1024
	if maxSize < 1024 {
		maxSize = 1024
	}

	h := &FileHandler{
		file:       file,
		path:       cfg.FilePath,
		maxSize:    maxSize,
		maxAge:     cfg.MaxAgeDays,
		maxBackups: cfg.MaxBackups,
		size:       info.Size(),
		level:      level,
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		h.inner = slog.NewJSONHandler(h, opts)
	} else {
		h.inner = slog.NewTextHandler(h, opts)
	}

	return h, nil
}

// Write implements io.Writer, rotating when the file exceeds maxSize.
// Callers hold no lock; Write takes it.
func (h *FileHandler) Write(p []byte) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.size+int64(len(p)) > h.maxSize {
		if err := h.rotate(); err != nil {
			return 0, err
		}
	}

	n, err := h.file.Write(p)
	h.size += int64(n)
	return n, err
}

// rotate renames the current file with a timestamp suffix and opens a fresh one.
// Caller holds h.mu.
func (h *FileHandler) rotate() error {
	if err := h.file.Close(); err != nil {
		return fmt.Errorf("close log file for rotation: %w", err)
	}

	backup := fmt.Sprintf("%s.%s", h.path, time.Now().Format("20060102-150405"))
	if err := os.Rename(h.path, backup); err != nil {
		return fmt.Errorf("rename log file: %w", err)
	}

	file, err := os.OpenFile(h.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("reopen log file: %w", err)
	}
	h.file = file
	h.size = 0

	h.pruneBackups()
	return nil
}

// pruneBackups removes backups beyond maxBackups or older than maxAge days.
// Caller holds h.mu.
func (h *FileHandler) pruneBackups() {
	matches, err := filepath.Glob(h.path + ".*")
	if err != nil {
		return
	}
	sort.Strings(matches) // timestamp suffix sorts oldest first

	cutoff := time.Now().AddDate(0, 0, -h.maxAge)
	var kept []string
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil {
			continue
		}
		if h.maxAge > 0 && info.ModTime().Before(cutoff) {
			os.Remove(m)
			continue
		}
		kept = append(kept, m)
	}

	if h.maxBackups > 0 && len(kept) > h.maxBackups {
		for _, m := range kept[:len(kept)-h.maxBackups] {
			os.Remove(m)
		}
	}
}

// Close closes the underlying file.
func (h *FileHandler) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.file.Close()
}

// Enabled reports whether the handler handles records at the given level.
func (h *FileHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.level
}

// Handle formats the record through the inner handler.
func (h *FileHandler) Handle(ctx context.Context, r slog.Record) error {
	return h.inner.Handle(ctx, r)
}

// WithAttrs returns a new handler with the given attributes.
func (h *FileHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return h.inner.WithAttrs(attrs)
}

// WithGroup returns a new handler with the given group.
func (h *FileHandler) WithGroup(name string) slog.Handler {
	return h.inner.WithGroup(name)
}
