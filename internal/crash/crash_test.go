package crash

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"organote/internal/codec"
	"organote/internal/domain"
)

func TestWriteReportCreatesFileInTemp(t *testing.T) {
	path, err := writeReport("", "boom", []byte("stacktrace"))
	if err != nil {
		t.Fatalf("writeReport error: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("report file missing: %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	s := string(b)
	if !strings.Contains(s, "Organote Crash Report") {
		t.Fatalf("report header missing")
	}
	if !strings.Contains(s, "Panic: boom") {
		t.Fatalf("panic content missing: %s", s)
	}
}

func TestWriteReportCreatesFileInDataDir(t *testing.T) {
	dataDir := t.TempDir()
	path, err := writeReport(dataDir, "kaboom", []byte("stack"))
	if err != nil {
		t.Fatalf("writeReport error: %v", err)
	}
	if !strings.Contains(path, filepath.Join(dataDir, "crashes")) {
		t.Fatalf("expected crash report under crashes dir, got %s", path)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("report file missing: %v", err)
	}
}

func TestRecoverySnapshotRoundTrips(t *testing.T) {
	dataDir := t.TempDir()
	p := domain.Project{
		ID:    "rcv0001",
		Title: "about to crash",
		Items: []domain.Item{{ID: "i1", Type: "text-sticky", Content: "save me"}},
	}

	path, err := writeRecoverySnapshot(dataDir, func() (domain.Project, codec.Files) {
		return p, nil
	})
	if err != nil {
		t.Fatalf("writeRecoverySnapshot: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	dec, err := codec.Decode(data)
	if err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if dec.Project.Title != "about to crash" || len(dec.Project.Items) != 1 {
		t.Fatalf("recovered = %+v", dec.Project)
	}
}

func TestRecoverExitsNonZero(t *testing.T) {
	exitCode := -1
	old := exitFn
	exitFn = func(code int) { exitCode = code }
	defer func() { exitFn = old }()

	func() {
		defer Recover(t.TempDir(), nil)
		panic("synthetic")
	}()

	if exitCode != 2 {
		t.Fatalf("exit code = %d, want 2", exitCode)
	}
}
