package preflight

import (
	"path/filepath"
	"testing"

	"conveyor/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	root := t.TempDir()
	cfgVal := config.Default()
	cfg := &cfgVal
	cfg.Paths.DataDir = filepath.Join(root, "data")
	cfg.Paths.LogDir = filepath.Join(root, "logs")
	return cfg
}

func TestRunAllPassesOnPreparedTree(t *testing.T) {
	cfg := testConfig(t)
	cfg.Stages = map[string]config.Stage{
		"normalize": {Command: []string{"sh", "-c", "true"}},
	}
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}

	results := RunAll(cfg)
	if len(results) == 0 {
		t.Fatal("expected results")
	}
	if fatal := FatalFailures(results); len(fatal) != 0 {
		t.Fatalf("unexpected fatal failures: %+v", fatal)
	}
}

func TestRunAllFlagsMissingDataDir(t *testing.T) {
	cfg := testConfig(t)
	// Directories intentionally not created.
	results := RunAll(cfg)
	fatal := FatalFailures(results)
	if len(fatal) == 0 {
		t.Fatal("missing data tree should be fatal")
	}
}

func TestRunAllFlagsUnresolvableStageCommand(t *testing.T) {
	cfg := testConfig(t)
	cfg.Stages = map[string]config.Stage{
		"broken": {Command: []string{"no-such-binary-zz"}},
	}
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}

	var found *Result
	for _, result := range RunAll(cfg) {
		if result.Name == "Stage broken" {
			r := result
			found = &r
		}
	}
	if found == nil {
		t.Fatal("expected a check for the configured stage")
	}
	if found.Passed {
		t.Fatal("unresolvable command should fail its check")
	}
	if found.Fatal {
		t.Fatal("stage command checks are advisory")
	}
}
