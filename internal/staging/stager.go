// Package staging owns the on-disk layout jobs move through:
// inputs/job_<id> holds the archived upload, temp/job_<id>/stage_<sid>
// holds per-stage working state, and outputs/job_<id> holds the
// artifact as of the last completed stage.
package staging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"conveyor/internal/config"
	"conveyor/internal/logging"
)

// FolderSet names the three per-job directories.
type FolderSet struct {
	InputDir  string
	TempDir   string
	OutputDir string
}

// Stager lays out and mutates per-job directories.
type Stager struct {
	inputsRoot  string
	tempRoot    string
	outputsRoot string
	logger      *slog.Logger
}

// NewStager builds a stager rooted at the configured data directory.
func NewStager(cfg *config.Config, logger *slog.Logger) *Stager {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Stager{
		inputsRoot:  cfg.InputsDir(),
		tempRoot:    cfg.TempDir(),
		outputsRoot: cfg.OutputsDir(),
		logger:      logger.With(logging.String(logging.FieldComponent, "staging")),
	}
}

func (s *Stager) JobInputDir(jobID int64) string {
	return filepath.Join(s.inputsRoot, fmt.Sprintf("job_%d", jobID))
}

func (s *Stager) JobTempDir(jobID int64) string {
	return filepath.Join(s.tempRoot, fmt.Sprintf("job_%d", jobID))
}

func (s *Stager) JobOutputDir(jobID int64) string {
	return filepath.Join(s.outputsRoot, fmt.Sprintf("job_%d", jobID))
}

func (s *Stager) stageDir(jobID int64, stageID string) string {
	return filepath.Join(s.JobTempDir(jobID), "stage_"+stageID)
}

// Prepare creates the per-job directories. It is idempotent and never
// deletes existing content.
func (s *Stager) Prepare(jobID int64) (FolderSet, error) {
	set := FolderSet{
		InputDir:  s.JobInputDir(jobID),
		TempDir:   s.JobTempDir(jobID),
		OutputDir: s.JobOutputDir(jobID),
	}
	for _, dir := range []string{set.InputDir, set.TempDir, set.OutputDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return FolderSet{}, ioError("create "+dir, err)
		}
	}
	return set, nil
}

// ImportSource archives the uploaded artifact into the job's input
// directory and returns the archived path.
func (s *Stager) ImportSource(ctx context.Context, jobID int64, srcPath string) (string, error) {
	if _, err := s.Prepare(jobID); err != nil {
		return "", err
	}
	dst := filepath.Join(s.JobInputDir(jobID), filepath.Base(srcPath))
	if err := copyFileVerified(srcPath, dst); err != nil {
		return "", classifyCopyError(srcPath, err)
	}
	s.logger.DebugContext(ctx, "archived source artifact",
		logging.Int64(logging.FieldJobID, jobID),
		logging.String("path", dst))
	return dst, nil
}

// StageInput copies the job's current artifact into the stage's temp
// directory, where the processor reads it.
func (s *Stager) StageInput(ctx context.Context, jobID int64, stageID, artifactPath string) (string, error) {
	dir := s.stageDir(jobID, stageID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", ioError("create "+dir, err)
	}
	dst := filepath.Join(dir, "input_"+filepath.Base(artifactPath))
	if err := copyFileVerified(artifactPath, dst); err != nil {
		return "", classifyCopyError(artifactPath, err)
	}
	s.logger.DebugContext(ctx, "staged stage input",
		logging.Int64(logging.FieldJobID, jobID),
		logging.String(logging.FieldStage, stageID),
		logging.String("path", dst))
	return dst, nil
}

// ScratchDir returns the stage's scratch directory, recreated empty so a
// stage never observes leftovers from a previous run.
func (s *Stager) ScratchDir(jobID int64, stageID string) (string, error) {
	dir := filepath.Join(s.stageDir(jobID, stageID), "scratch")
	if err := os.RemoveAll(dir); err != nil {
		return "", ioError("reset "+dir, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", ioError("create "+dir, err)
	}
	return dir, nil
}

// PromoteOutput replaces the job's output directory with the stage's
// produced artifact. The new content is staged beside the live directory
// and swapped in with a rename, so readers never see a partial state.
func (s *Stager) PromoteOutput(ctx context.Context, jobID int64, stageID, producedPath string) (string, error) {
	if err := os.MkdirAll(s.outputsRoot, 0o755); err != nil {
		return "", ioError("create "+s.outputsRoot, err)
	}

	pending := filepath.Join(s.outputsRoot, fmt.Sprintf(".job_%d.tmp", jobID))
	if err := os.RemoveAll(pending); err != nil {
		return "", ioError("reset "+pending, err)
	}
	if err := os.MkdirAll(pending, 0o755); err != nil {
		return "", ioError("create "+pending, err)
	}

	promoted := filepath.Join(pending, filepath.Base(producedPath))
	if err := copyFileVerified(producedPath, promoted); err != nil {
		os.RemoveAll(pending)
		return "", classifyCopyError(producedPath, err)
	}

	live := s.JobOutputDir(jobID)
	if err := os.RemoveAll(live); err != nil {
		os.RemoveAll(pending)
		return "", ioError("clear "+live, err)
	}
	if err := os.Rename(pending, live); err != nil {
		os.RemoveAll(pending)
		return "", ioError("promote "+live, err)
	}

	final := filepath.Join(live, filepath.Base(producedPath))
	s.logger.InfoContext(ctx, "promoted stage output",
		logging.Int64(logging.FieldJobID, jobID),
		logging.String(logging.FieldStage, stageID),
		logging.String("path", final))
	return final, nil
}

// Cleanup removes the job's temp tree. Inputs and outputs are kept.
func (s *Stager) Cleanup(jobID int64) error {
	if err := os.RemoveAll(s.JobTempDir(jobID)); err != nil {
		return ioError("remove temp for job", err)
	}
	return nil
}
