package staging

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"conveyor/internal/config"
	"conveyor/internal/logging"
)

func newTestStager(t *testing.T) (*Stager, *config.Config) {
	t.Helper()
	root := t.TempDir()
	cfgVal := config.Default()
	cfg := &cfgVal
	cfg.Paths.DataDir = root
	cfg.Paths.LogDir = filepath.Join(root, "logs")
	return NewStager(cfg, logging.NewNop()), cfg
}

func writeArtifact(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write artifact: %v", err)
	}
	return path
}

func TestPrepareIsIdempotent(t *testing.T) {
	stager, _ := newTestStager(t)

	set, err := stager.Prepare(42)
	if err != nil {
		t.Fatalf("Prepare returned error: %v", err)
	}
	marker := filepath.Join(set.InputDir, "keep.txt")
	if err := os.WriteFile(marker, []byte("x"), 0o644); err != nil {
		t.Fatalf("write marker: %v", err)
	}

	if _, err := stager.Prepare(42); err != nil {
		t.Fatalf("second Prepare returned error: %v", err)
	}
	if _, err := os.Stat(marker); err != nil {
		t.Fatal("Prepare must not delete existing content")
	}
}

func TestImportSourceArchivesUpload(t *testing.T) {
	stager, _ := newTestStager(t)
	src := writeArtifact(t, t.TempDir(), "report.csv", "a,b,c")

	archived, err := stager.ImportSource(context.Background(), 1, src)
	if err != nil {
		t.Fatalf("ImportSource returned error: %v", err)
	}
	if filepath.Dir(archived) != stager.JobInputDir(1) {
		t.Fatalf("archived outside job input dir: %s", archived)
	}
	data, err := os.ReadFile(archived)
	if err != nil || string(data) != "a,b,c" {
		t.Fatalf("archived content mismatch: %q err=%v", data, err)
	}
}

func TestStageInputMissingArtifact(t *testing.T) {
	stager, _ := newTestStager(t)

	_, err := stager.StageInput(context.Background(), 1, "normalize", "/nope/missing.bin")
	if !errors.Is(err, ErrArtifactNotFound) {
		t.Fatalf("expected ErrArtifactNotFound, got %v", err)
	}
}

func TestScratchDirResetBetweenRuns(t *testing.T) {
	stager, _ := newTestStager(t)

	scratch, err := stager.ScratchDir(3, "normalize")
	if err != nil {
		t.Fatalf("ScratchDir returned error: %v", err)
	}
	leftover := filepath.Join(scratch, "stale.tmp")
	if err := os.WriteFile(leftover, []byte("x"), 0o644); err != nil {
		t.Fatalf("write leftover: %v", err)
	}

	scratch2, err := stager.ScratchDir(3, "normalize")
	if err != nil {
		t.Fatalf("second ScratchDir returned error: %v", err)
	}
	if scratch2 != scratch {
		t.Fatalf("scratch path changed between runs: %s vs %s", scratch, scratch2)
	}
	if _, err := os.Stat(leftover); !os.IsNotExist(err) {
		t.Fatal("scratch dir must be recreated empty")
	}
}

func TestPromoteOutputReplacesPreviousStage(t *testing.T) {
	stager, _ := newTestStager(t)
	ctx := context.Background()
	work := t.TempDir()

	first := writeArtifact(t, work, "stage1.bin", "first")
	promoted, err := stager.PromoteOutput(ctx, 5, "normalize", first)
	if err != nil {
		t.Fatalf("PromoteOutput returned error: %v", err)
	}
	if filepath.Dir(promoted) != stager.JobOutputDir(5) {
		t.Fatalf("promoted outside job output dir: %s", promoted)
	}

	second := writeArtifact(t, work, "stage2.bin", "second")
	promoted2, err := stager.PromoteOutput(ctx, 5, "publish", second)
	if err != nil {
		t.Fatalf("second PromoteOutput returned error: %v", err)
	}

	entries, err := os.ReadDir(stager.JobOutputDir(5))
	if err != nil {
		t.Fatalf("read output dir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "stage2.bin" {
		t.Fatalf("output dir should hold only the latest artifact, got %v", entries)
	}
	data, _ := os.ReadFile(promoted2)
	if string(data) != "second" {
		t.Fatalf("promoted content mismatch: %q", data)
	}
}

func TestCleanupRemovesTempOnly(t *testing.T) {
	stager, _ := newTestStager(t)
	ctx := context.Background()

	set, _ := stager.Prepare(9)
	if _, err := stager.StageInput(ctx, 9, "normalize", writeArtifact(t, set.InputDir, "a.bin", "x")); err != nil {
		t.Fatalf("StageInput returned error: %v", err)
	}

	if err := stager.Cleanup(9); err != nil {
		t.Fatalf("Cleanup returned error: %v", err)
	}
	if _, err := os.Stat(set.TempDir); !os.IsNotExist(err) {
		t.Fatal("temp tree should be removed")
	}
	if _, err := os.Stat(set.InputDir); err != nil {
		t.Fatal("input dir must survive cleanup")
	}
}
