package bf

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/containerd/errdefs"
)

// OpenSource opens the program file at path. Errors match ErrSourceOpen, the
// underlying fs error and the errdefs class derived from it.
func OpenSource(path string) (*os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w: %w", ErrSourceOpen, openClass(err), err)
	}
	return f, nil
}

func openClass(err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return errdefs.ErrNotFound
	case errors.Is(err, fs.ErrPermission):
		return errdefs.ErrPermissionDenied
	default:
		return errdefs.ErrUnknown
	}
}
