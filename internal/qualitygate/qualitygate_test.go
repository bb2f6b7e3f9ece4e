package qualitygate

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseTestCounts_Pytest(t *testing.T) {
	out := "===== 5 passed, 2 failed in 1.23s ====="
	total, passed, failed := parseTestCounts(out, "pytest")
	if total != 7 || passed != 5 || failed != 2 {
		t.Fatalf("got total=%d passed=%d failed=%d", total, passed, failed)
	}
}

func TestParseTestCounts_Go(t *testing.T) {
	out := "--- PASS: TestA (0.00s)\n--- PASS: TestB (0.00s)\n--- FAIL: TestC (0.00s)\n"
	total, passed, failed := parseTestCounts(out, "go")
	if total != 3 || passed != 2 || failed != 1 {
		t.Fatalf("got total=%d passed=%d failed=%d", total, passed, failed)
	}
}

func TestParseTestCounts_NPM(t *testing.T) {
	out := "Tests:       3 failed, 10 passed, 13 total"
	total, passed, failed := parseTestCounts(out, "npm")
	if total != 13 || passed != 10 || failed != 3 {
		t.Fatalf("got total=%d passed=%d failed=%d", total, passed, failed)
	}
}

func TestDetectTestCommand_Go(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "go.mod"), []byte("module x\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	r := New(dir)
	cmd := r.detectTestCommand()
	if len(cmd) == 0 || cmd[0] != "go" {
		t.Fatalf("expected go test command, got %v", cmd)
	}
}

func TestSecurityScan_FindsDangerousPatterns(t *testing.T) {
	dir := t.TempDir()
	content := []byte("import os\nos.system('rm -rf /')\n")
	if err := os.WriteFile(filepath.Join(dir, "bad.py"), content, 0o644); err != nil {
		t.Fatal(err)
	}

	findings, err := SecurityScan(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(findings) != 1 {
		t.Fatalf("expected 1 finding, got %d: %v", len(findings), findings)
	}
}

func TestSecurityScan_CleanProjectHasNoFindings(t *testing.T) {
	dir := t.TempDir()
	content := []byte("def add(a, b):\n    return a + b\n")
	if err := os.WriteFile(filepath.Join(dir, "clean.py"), content, 0o644); err != nil {
		t.Fatal(err)
	}

	findings, err := SecurityScan(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(findings) != 0 {
		t.Fatalf("expected no findings, got %v", findings)
	}
}

func TestSecurityScan_SkipsVendorDirs(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "node_modules"), 0o755); err != nil {
		t.Fatal(err)
	}
	content := []byte("os.system('echo hi')\n")
	if err := os.WriteFile(filepath.Join(dir, "node_modules", "bad.py"), content, 0o644); err != nil {
		t.Fatal(err)
	}

	findings, err := SecurityScan(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(findings) != 0 {
		t.Fatalf("expected vendored file to be skipped, got %v", findings)
	}
}
