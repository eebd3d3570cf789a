package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRunConfigErrorExitsOne(t *testing.T) {
	devnull, err := os.Open(os.DevNull)
	if err != nil {
		t.Fatal(err)
	}
	defer devnull.Close()
	code := run([]string{"-source-schema", ""}, devnull, devnull)
	if code != exitConfigError {
		t.Fatalf("run() = %d, want %d (missing -source-schema)", code, exitConfigError)
	}
}

func TestRunUnknownFlagExitsOne(t *testing.T) {
	devnull, err := os.Open(os.DevNull)
	if err != nil {
		t.Fatal(err)
	}
	defer devnull.Close()
	code := run([]string{"-not-a-real-flag"}, devnull, devnull)
	if code != exitConfigError {
		t.Fatalf("run() = %d, want %d (unparseable flags)", code, exitConfigError)
	}
}

func TestRunScansFilterAndSinksToFile(t *testing.T) {
	dir := t.TempDir()
	srcPath := filepath.Join(dir, "in.csv")
	sinkPath := filepath.Join(dir, "out.csv")
	if err := os.WriteFile(srcPath, []byte("3\n9\n1\n20\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	devnull, err := os.Open(os.DevNull)
	if err != nil {
		t.Fatal(err)
	}
	defer devnull.Close()

	code := run([]string{
		"-source", srcPath,
		"-source-schema", "amount:i64",
		"-filter-field", "amount",
		"-filter-gt", "5",
		"-sink", sinkPath,
	}, devnull, devnull)
	if code != exitOK {
		t.Fatalf("run() = %d, want %d (clean shutdown)", code, exitOK)
	}

	out, err := os.ReadFile(sinkPath)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(out), "9") || !strings.Contains(string(out), "20") {
		t.Fatalf("sink file = %q, want it to contain 9 and 20", string(out))
	}
	if strings.Contains(string(out), "\n1\n") {
		t.Fatalf("sink file = %q, should not contain amount=1, which fails amount>5", string(out))
	}
}
