package staging

import (
	"errors"
	"fmt"
	"io/fs"
)

// ErrArtifactNotFound indicates a referenced artifact does not exist on disk.
var ErrArtifactNotFound = errors.New("staging: artifact not found")

// ErrStagingIO indicates a filesystem operation failed while moving an
// artifact between pipeline directories. Both errors are permanent: the
// orchestrator fails the job rather than retry.
var ErrStagingIO = errors.New("staging: io failure")

func classifyCopyError(path string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrArtifactNotFound, path)
	}
	return fmt.Errorf("%w: %s: %v", ErrStagingIO, path, err)
}

func ioError(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStagingIO, op, err)
}
