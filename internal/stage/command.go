package stage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"conveyor/internal/logging"
)

const (
	envInput     = "CONVEYOR_INPUT"
	envOutputDir = "CONVEYOR_OUTPUT_DIR"
	envStageID   = "CONVEYOR_STAGE"
	envJobID     = "CONVEYOR_JOB_ID"

	stdoutTailLimit = 4096
)

// CommandProcessor runs a configured external command as a stage. The
// command reads CONVEYOR_INPUT and must write exactly one file into
// CONVEYOR_OUTPUT_DIR; that file becomes the stage output.
type CommandProcessor struct {
	id      string
	command []string
	logger  *slog.Logger
}

// NewCommandProcessor builds a processor for stage id running command.
func NewCommandProcessor(id string, command []string, logger *slog.Logger) (*CommandProcessor, error) {
	if len(command) == 0 {
		return nil, fmt.Errorf("stage %s: command is required", id)
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &CommandProcessor{
		id:      strings.ToLower(strings.TrimSpace(id)),
		command: append([]string(nil), command...),
		logger:  logger.With(logging.String(logging.FieldComponent, "stage."+id)),
	}, nil
}

// Label renders the stage id for human-facing output, e.g. "ocr-cleanup"
// becomes "Ocr Cleanup".
func Label(stageID string) string {
	words := strings.NewReplacer("-", " ", "_", " ").Replace(stageID)
	return cases.Title(language.English).String(words)
}

func (p *CommandProcessor) Run(ctx context.Context, req Request) (Result, error) {
	cmd := exec.CommandContext(ctx, p.command[0], p.command[1:]...)
	cmd.Env = append(os.Environ(),
		envInput+"="+req.InputPath,
		envOutputDir+"="+req.ScratchDir,
		envStageID+"="+req.StageID,
		fmt.Sprintf("%s=%d", envJobID, req.JobID),
	)
	cmd.Dir = req.ScratchDir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	p.logger.InfoContext(ctx, "stage command starting",
		logging.Int64(logging.FieldJobID, req.JobID),
		logging.String(logging.FieldStage, req.StageID),
		logging.String("command", strings.Join(p.command, " ")))

	runErr := cmd.Run()
	exitCode := -1
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}
	if runErr != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = runErr.Error()
		}
		return Result{}, ExecError(p.id, fmt.Errorf("exit code %d: %s", exitCode, tail(detail)))
	}

	output, err := singleProducedFile(req.ScratchDir)
	if err != nil {
		return Result{}, ExecError(p.id, err)
	}

	detail, _ := json.Marshal(commandDetail{
		ExitCode:   exitCode,
		StdoutTail: tail(stdout.String()),
	})
	return Result{OutputPath: output, Detail: detail}, nil
}

// HealthCheck resolves the command binary on PATH.
func (p *CommandProcessor) HealthCheck(ctx context.Context) Health {
	if _, err := exec.LookPath(p.command[0]); err != nil {
		return Unhealthy(p.id, fmt.Sprintf("command %s not found on PATH", p.command[0]))
	}
	return Healthy(p.id)
}

type commandDetail struct {
	ExitCode   int    `json:"exit_code"`
	StdoutTail string `json:"stdout_tail,omitempty"`
}

func tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > stdoutTailLimit {
		s = s[len(s)-stdoutTailLimit:]
	}
	return s
}

// singleProducedFile expects the command to have left exactly one
// regular file at the top of the output directory.
func singleProducedFile(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("read output dir: %w", err)
	}
	var files []fs.DirEntry
	for _, entry := range entries {
		if entry.Type().IsRegular() {
			files = append(files, entry)
		}
	}
	switch len(files) {
	case 0:
		return "", fmt.Errorf("command produced no output file in %s", dir)
	case 1:
		return filepath.Join(dir, files[0].Name()), nil
	default:
		names := make([]string, len(files))
		for i, f := range files {
			names[i] = f.Name()
		}
		return "", fmt.Errorf("command produced %d output files (%s), expected one", len(files), strings.Join(names, ", "))
	}
}
