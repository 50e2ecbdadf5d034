package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const backupStamp = "20060102T150405"

// RotationConfig controls when the log file is rotated and how many old
// files survive.
type RotationConfig struct {
	// MaxSize in bytes. Zero uses the default.
	MaxSize int64

	// MaxAge in days. Zero keeps backups regardless of age.
	MaxAge int

	// MaxBackups caps the number of rotated files. Zero keeps all.
	MaxBackups int

	// Daily also rotates when the calendar day changes.
	Daily bool
}

// DefaultRotationConfig returns the rotation used when none is configured.
func DefaultRotationConfig() RotationConfig {
	return RotationConfig{
		MaxSize:    5 << 20,
		MaxAge:     14,
		MaxBackups: 3,
		Daily:      false,
	}
}

// RotatingWriter is an io.WriteCloser that rotates its file by size or day.
// Writes hold an advisory lock on the file so the CLI and the daemon can
// share one log.
type RotatingWriter struct {
	mu     sync.Mutex
	path   string
	cfg    RotationConfig
	file   *os.File
	size   int64
	opened time.Time
	now    func() time.Time
}

// NewRotatingWriter opens path for appending, creating parent directories.
func NewRotatingWriter(path string, cfg RotationConfig) (*RotatingWriter, error) {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultRotationConfig().MaxSize
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}

	w := &RotatingWriter{path: path, cfg: cfg, now: time.Now}
	if err := w.open(); err != nil {
		return nil, err
	}
	w.prune()
	return w, nil
}

// Path returns the active log file path.
func (w *RotatingWriter) Path() string { return w.path }

func (w *RotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return 0, os.ErrClosed
	}

	if w.due(int64(len(p))) {
		if err := w.rotate(); err != nil {
			return 0, fmt.Errorf("rotating log file: %w", err)
		}
	}

	if err := lockFile(w.file); err != nil {
		return 0, fmt.Errorf("locking log file: %w", err)
	}
	defer unlockFile(w.file)

	n, err := w.file.Write(p)
	w.size += int64(n)
	if err != nil {
		return n, fmt.Errorf("writing log file: %w", err)
	}
	return n, nil
}

// Close syncs and closes the file. Closing twice is a no-op.
func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return nil
	}
	syncErr := w.file.Sync()
	closeErr := w.file.Close()
	w.file = nil
	if syncErr != nil {
		return fmt.Errorf("syncing log file: %w", syncErr)
	}
	return closeErr
}

func (w *RotatingWriter) open() error {
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("stat log file: %w", err)
	}
	w.file = f
	w.size = info.Size()
	w.opened = info.ModTime()
	if w.size == 0 {
		w.opened = w.now()
	}
	return nil
}

func (w *RotatingWriter) due(incoming int64) bool {
	if w.size > 0 && w.size+incoming > w.cfg.MaxSize {
		return true
	}
	if !w.cfg.Daily {
		return false
	}
	y1, m1, d1 := w.opened.Date()
	y2, m2, d2 := w.now().Date()
	return y1 != y2 || m1 != m2 || d1 != d2
}

func (w *RotatingWriter) rotate() error {
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("closing log file: %w", err)
	}
	w.file = nil

	if err := os.Rename(w.path, w.backupName(w.now())); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("renaming log file: %w", err)
	}
	if err := w.open(); err != nil {
		return err
	}
	w.opened = w.now()
	w.prune()
	return nil
}

// backupName returns demote-20260101T120000.log for demote.log, adding a
// counter when a backup with that second already exists.
func (w *RotatingWriter) backupName(t time.Time) string {
	ext := filepath.Ext(w.path)
	stem := strings.TrimSuffix(w.path, ext)
	name := fmt.Sprintf("%s-%s%s", stem, t.Format(backupStamp), ext)
	for i := 1; ; i++ {
		if _, err := os.Lstat(name); os.IsNotExist(err) {
			return name
		}
		name = fmt.Sprintf("%s-%s.%d%s", stem, t.Format(backupStamp), i, ext)
	}
}

type backup struct {
	path string
	mod  time.Time
}

func (w *RotatingWriter) backups() []backup {
	dir := filepath.Dir(w.path)
	base := filepath.Base(w.path)
	ext := filepath.Ext(base)
	prefix := strings.TrimSuffix(base, ext) + "-"

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var out []backup
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || name == base || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ext) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, backup{path: filepath.Join(dir, name), mod: info.ModTime()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].mod.After(out[j].mod) })
	return out
}

// prune deletes backups beyond MaxBackups or older than MaxAge. Failures
// are ignored; the next rotation retries.
func (w *RotatingWriter) prune() {
	cutoff := time.Time{}
	if w.cfg.MaxAge > 0 {
		cutoff = w.now().AddDate(0, 0, -w.cfg.MaxAge)
	}
	for i, b := range w.backups() {
		tooMany := w.cfg.MaxBackups > 0 && i >= w.cfg.MaxBackups
		tooOld := !cutoff.IsZero() && b.mod.Before(cutoff)
		if tooMany || tooOld {
			_ = os.Remove(b.path)
		}
	}
}
