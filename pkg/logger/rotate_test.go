package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func auditBackups(t *testing.T, dir, base string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	var names []string
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), base+".") {
			names = append(names, entry.Name())
		}
	}
	return names
}

func TestAuditWriterRotatesBySize(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.log")
	w, err := newAuditWriter(path, 1, 2, 1)
	if err != nil {
		t.Fatalf("new audit writer: %v", err)
	}
	defer w.Close()
	w.limit = 64

	line := strings.Repeat("x", 40) + "\n"
	for i := 0; i < 10; i++ {
		if _, err := w.Write([]byte(line)); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}

	backups := auditBackups(t, dir, "audit.log")
	if len(backups) == 0 {
		t.Fatal("no rotated files after exceeding the size limit")
	}
	if len(backups) > 2 {
		t.Fatalf("backups = %v, want at most 2 kept", backups)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat current file: %v", err)
	}
	if info.Size() > 64 {
		t.Fatalf("current file size = %d, want under the limit", info.Size())
	}
}

func TestAuditWriterPrunesByAge(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.log")
	w, err := newAuditWriter(path, 1, 5, 1)
	if err != nil {
		t.Fatalf("new audit writer: %v", err)
	}
	defer w.Close()

	old := time.Now().UTC().Add(-48 * time.Hour).Format(auditStampLayout)
	stale := filepath.Join(dir, "audit.log."+old)
	if err := os.WriteFile(stale, []byte("old"), 0o644); err != nil {
		t.Fatalf("seed stale backup: %v", err)
	}
	// Unparsable suffixes are not rotation products and must survive.
	keeper := filepath.Join(dir, "audit.log.notes")
	if err := os.WriteFile(keeper, []byte("keep"), 0o644); err != nil {
		t.Fatalf("seed keeper: %v", err)
	}

	w.prune()

	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Fatalf("stale backup still present: %v", err)
	}
	if _, err := os.Stat(keeper); err != nil {
		t.Fatalf("non-rotation file was removed: %v", err)
	}
}
