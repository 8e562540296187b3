package preflight

import (
	"fmt"
	"os"
	"os/exec"

	"golang.org/x/sys/unix"

	"conveyor/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Fatal  bool
	Detail string
}

// RunAll executes the startup checks for the given config. Results with
// Fatal set must stop the daemon; the rest are advisory.
func RunAll(cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		checkDirectoryAccess("Data directory", cfg.Paths.DataDir, true),
		checkDirectoryAccess("Inputs directory", cfg.InputsDir(), true),
		checkDirectoryAccess("Temp directory", cfg.TempDir(), true),
		checkDirectoryAccess("Outputs directory", cfg.OutputsDir(), true),
		checkDirectoryAccess("Log directory", cfg.Paths.LogDir, false),
		checkFreeDisk(cfg.Paths.DataDir, int64(cfg.Workflow.MinFreeDiskMB)),
	}
	for _, id := range cfg.StageIDs() {
		results = append(results, checkStageCommand(id, cfg.Stages[id].Command))
	}
	return results
}

// FatalFailures filters the results down to the ones that must abort startup.
func FatalFailures(results []Result) []Result {
	var fatal []Result
	for _, result := range results {
		if !result.Passed && result.Fatal {
			fatal = append(fatal, result)
		}
	}
	return fatal
}

// checkDirectoryAccess verifies the path is a directory this process can
// read, write and traverse.
func checkDirectoryAccess(name, path string, fatal bool) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Fatal: fatal, Detail: fmt.Sprintf("%s does not exist", path)}
		}
		return Result{Name: name, Fatal: fatal, Detail: fmt.Sprintf("%s: stat: %v", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Fatal: fatal, Detail: fmt.Sprintf("%s is not a directory", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Fatal: fatal, Detail: fmt.Sprintf("%s: insufficient permissions: %v", path, err)}
	}
	return Result{Name: name, Passed: true, Fatal: fatal, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// checkFreeDisk reports whether the filesystem holding path has at least
// minFreeMB megabytes available. Advisory: jobs may still succeed on a
// nearly full disk, but the operator should know.
func checkFreeDisk(path string, minFreeMB int64) Result {
	const name = "Free disk space"
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("statfs %s: %v", path, err)}
	}
	freeMB := int64(stat.Bavail) * stat.Bsize / (1 << 20)
	if freeMB < minFreeMB {
		return Result{Name: name, Detail: fmt.Sprintf("%d MB free, want at least %d MB", freeMB, minFreeMB)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%d MB free", freeMB)}
}

// checkStageCommand resolves the stage's binary on PATH.
func checkStageCommand(stageID string, command []string) Result {
	name := "Stage " + stageID
	if len(command) == 0 {
		return Result{Name: name, Detail: "no command configured"}
	}
	if _, err := exec.LookPath(command[0]); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("command %s not found on PATH", command[0])}
	}
	return Result{Name: name, Passed: true, Detail: command[0]}
}
