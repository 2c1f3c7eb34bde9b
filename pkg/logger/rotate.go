package logger

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// auditStampLayout is the suffix given to rotated audit files. It sorts
// lexically in time order, so pruning works off the file name alone.
const auditStampLayout = "20060102T150405.000000000"

// auditWriter appends to the audit log and rotates it by size. A rotated file
// keeps its timestamp as a suffix (audit.log.20240101T120000.000000000);
// backups beyond the keep count or retention window are removed after each
// rotation.
type auditWriter struct {
	mu        sync.Mutex
	out       *os.File
	written   int64
	path      string
	limit     int64
	keep      int
	retention time.Duration
}

func newAuditWriter(path string, maxSizeMB, maxBackups, maxAgeDays int) (*auditWriter, error) {
	if path == "" {
		return nil, errors.New("path is required")
	}
	if maxSizeMB <= 0 {
		maxSizeMB = 100
	}
	if maxBackups <= 0 {
		maxBackups = 7
	}
	if maxAgeDays <= 0 {
		maxAgeDays = 30
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create audit log directory: %w", err)
	}
	return &auditWriter{
		path:      path,
		limit:     int64(maxSizeMB) * 1024 * 1024,
		keep:      maxBackups,
		retention: time.Duration(maxAgeDays) * 24 * time.Hour,
	}, nil
}

func (w *auditWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.openCurrent(); err != nil {
		return 0, err
	}
	if w.written+int64(len(p)) > w.limit {
		if err := w.rotate(); err != nil {
			return 0, err
		}
		if err := w.openCurrent(); err != nil {
			return 0, err
		}
	}
	n, err := w.out.Write(p)
	w.written += int64(n)
	return n, err
}

func (w *auditWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.out == nil {
		return nil
	}
	err := w.out.Close()
	w.out = nil
	w.written = 0
	return err
}

func (w *auditWriter) openCurrent() error {
	if w.out != nil {
		return nil
	}
	file, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("stat audit log: %w", err)
	}
	w.out = file
	w.written = info.Size()
	return nil
}

// rotate stamps the current file out of the way and prunes old backups. A
// failed rename keeps appending to the oversized file rather than losing
// audit records.
func (w *auditWriter) rotate() error {
	if w.out != nil {
		_ = w.out.Close()
		w.out = nil
	}
	w.written = 0

	stamped := fmt.Sprintf("%s.%s", w.path, time.Now().UTC().Format(auditStampLayout))
	if err := os.Rename(w.path, stamped); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("rotate audit log: %w", err)
	}
	w.prune()
	return nil
}

// prune removes backups beyond the keep count and past retention. Files whose
// suffix does not parse as a rotation stamp are left alone.
func (w *auditWriter) prune() {
	dir := filepath.Dir(w.path)
	prefix := filepath.Base(w.path) + "."
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}

	type backup struct {
		name    string
		rotated time.Time
	}
	backups := make([]backup, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), prefix) {
			continue
		}
		stamp, err := time.Parse(auditStampLayout, strings.TrimPrefix(entry.Name(), prefix))
		if err != nil {
			continue
		}
		backups = append(backups, backup{name: entry.Name(), rotated: stamp})
	}
	sort.Slice(backups, func(i, j int) bool { return backups[i].rotated.After(backups[j].rotated) })

	cutoff := time.Now().UTC().Add(-w.retention)
	for i, b := range backups {
		if i >= w.keep || b.rotated.Before(cutoff) {
			_ = os.Remove(filepath.Join(dir, b.name))
		}
	}
}
