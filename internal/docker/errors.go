package docker

import (
	"errors"
	"fmt"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/client"
)

var (
	// ErrNotFound indicates the requested Docker resource was not found.
	ErrNotFound = errors.New("docker: resource not found")
	// ErrConflict indicates a name or state collision on the daemon.
	ErrConflict = errors.New("docker: resource conflict")
	// ErrUnavailable indicates the daemon could not be reached.
	ErrUnavailable = errors.New("docker: daemon unavailable")
)

// classify folds SDK errors into the package sentinels so callers can branch
// with errors.Is instead of matching daemon message strings.
func classify(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errdefs.IsNotFound(err):
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	case errdefs.IsConflict(err):
		return fmt.Errorf("%s: %w", op, ErrConflict)
	case client.IsErrConnectionFailed(err):
		return fmt.Errorf("%s: %w", op, ErrUnavailable)
	}
	return fmt.Errorf("%s: %w", op, err)
}
