package stage

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"conveyor/internal/logging"
)

func skipWithoutShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("tests drive stages through /bin/sh")
	}
}

func TestCommandProcessorRunsAndReportsOutput(t *testing.T) {
	skipWithoutShell(t)
	scratch := t.TempDir()
	input := filepath.Join(t.TempDir(), "in.txt")
	if err := os.WriteFile(input, []byte("payload"), 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}

	processor, err := NewCommandProcessor("normalize",
		[]string{"/bin/sh", "-c", `cp "$CONVEYOR_INPUT" "$CONVEYOR_OUTPUT_DIR/out.txt" && echo done`},
		logging.NewNop())
	if err != nil {
		t.Fatalf("NewCommandProcessor returned error: %v", err)
	}

	result, err := processor.Run(context.Background(), Request{
		JobID:      1,
		StageID:    "normalize",
		InputPath:  input,
		ScratchDir: scratch,
	})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if result.OutputPath != filepath.Join(scratch, "out.txt") {
		t.Fatalf("unexpected output path %s", result.OutputPath)
	}
	data, _ := os.ReadFile(result.OutputPath)
	if string(data) != "payload" {
		t.Fatalf("output content mismatch: %q", data)
	}

	var detail commandDetail
	if err := json.Unmarshal(result.Detail, &detail); err != nil {
		t.Fatalf("detail is not valid JSON: %v", err)
	}
	if detail.ExitCode != 0 || detail.StdoutTail != "done" {
		t.Fatalf("unexpected detail %+v", detail)
	}
}

func TestCommandProcessorFailureIsExecutionError(t *testing.T) {
	skipWithoutShell(t)
	processor, _ := NewCommandProcessor("normalize",
		[]string{"/bin/sh", "-c", `echo "bad input" >&2; exit 3`},
		logging.NewNop())

	_, err := processor.Run(context.Background(), Request{
		JobID:      1,
		StageID:    "normalize",
		InputPath:  "/dev/null",
		ScratchDir: t.TempDir(),
	})
	if !errors.Is(err, ErrExecution) {
		t.Fatalf("expected ErrExecution, got %v", err)
	}
}

func TestCommandProcessorRequiresExactlyOneOutput(t *testing.T) {
	skipWithoutShell(t)
	for name, script := range map[string]string{
		"none": `true`,
		"many": `touch "$CONVEYOR_OUTPUT_DIR/a" "$CONVEYOR_OUTPUT_DIR/b"`,
	} {
		t.Run(name, func(t *testing.T) {
			processor, _ := NewCommandProcessor("normalize",
				[]string{"/bin/sh", "-c", script}, logging.NewNop())
			_, err := processor.Run(context.Background(), Request{
				JobID:      1,
				StageID:    "normalize",
				InputPath:  "/dev/null",
				ScratchDir: t.TempDir(),
			})
			if !errors.Is(err, ErrExecution) {
				t.Fatalf("expected ErrExecution, got %v", err)
			}
		})
	}
}

func TestCommandProcessorHealthCheck(t *testing.T) {
	skipWithoutShell(t)
	healthy, _ := NewCommandProcessor("normalize", []string{"/bin/sh", "-c", "true"}, logging.NewNop())
	if h := healthy.HealthCheck(context.Background()); !h.Ready {
		t.Fatalf("expected healthy, got %+v", h)
	}

	broken, _ := NewCommandProcessor("normalize", []string{"definitely-not-a-binary-xyz"}, logging.NewNop())
	if h := broken.HealthCheck(context.Background()); h.Ready {
		t.Fatal("missing binary should report unhealthy")
	}
}
