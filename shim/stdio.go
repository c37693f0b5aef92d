package shim

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"syscall"

	"github.com/containerd/errdefs"
	"github.com/containerd/fifo"
)

// openFifo opens one of the stdio fifos containerd created for a task.
func openFifo(ctx context.Context, path string, flag int) (io.ReadWriteCloser, error) {
	ok, err := fifo.IsFifo(path)
	if err != nil {
		return nil, fmt.Errorf("checking whether file %s is a fifo: %w", path, err)
	}
	if !ok {
		return nil, fmt.Errorf("file %s is not a fifo: %w", path, errdefs.ErrInvalidArgument)
	}

	f, err := fifo.OpenFifo(ctx, path, flag, 0)
	if err != nil {
		return nil, fmt.Errorf("opening fifo %s: %w", path, err)
	}
	return f, nil
}

// attachStdio wires the interpreter's standard streams to the task fifos. An
// empty path leaves the stream detached. Stderr falls back to stdout. The
// returned closers must be closed once the interpreter has exited.
func attachStdio(ctx context.Context, cmd *exec.Cmd, stdin, stdout, stderr string) (closers []io.Closer, retErr error) {
	defer func() {
		if retErr != nil {
			for _, c := range closers {
				c.Close()
			}
			closers = nil
		}
	}()

	if stdout != "" {
		fw, err := openFifo(ctx, stdout, syscall.O_WRONLY)
		if err != nil {
			return closers, err
		}
		closers = append(closers, fw)
		cmd.Stdout = fw
	}

	if stdin != "" {
		fr, err := openFifo(ctx, stdin, syscall.O_RDONLY)
		if err != nil {
			return closers, err
		}
		closers = append(closers, fr)
		cmd.Stdin = fr
	}

	if stderr == "" {
		stderr = stdout
	}
	if stderr != "" {
		if stderr == stdout {
			cmd.Stderr = cmd.Stdout
		} else {
			fe, err := openFifo(ctx, stderr, syscall.O_WRONLY)
			if err != nil {
				return closers, err
			}
			closers = append(closers, fe)
			cmd.Stderr = fe
		}
	}

	return closers, nil
}
