package shim

import (
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/containerd/errdefs"
	"github.com/containerd/fifo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenFifo_NotAFifo(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	regular := filepath.Join(dir, "regular")
	require.NoError(t, os.WriteFile(regular, nil, 0o644))

	_, err := openFifo(ctx, regular, syscall.O_WRONLY)
	assert.True(t, errdefs.IsInvalidArgument(err))

	_, err = openFifo(ctx, filepath.Join(dir, "missing"), syscall.O_WRONLY)
	assert.True(t, errdefs.IsInvalidArgument(err))
}

func TestAttachStdio_Detached(t *testing.T) {
	cmd := exec.Command("/bin/true")
	closers, err := attachStdio(context.Background(), cmd, "", "", "")
	require.NoError(t, err)
	assert.Empty(t, closers)
	assert.Nil(t, cmd.Stdin)
	assert.Nil(t, cmd.Stdout)
	assert.Nil(t, cmd.Stderr)
}

func TestAttachStdio_Stdout(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "stdout")

	r, err := fifo.OpenFifo(ctx, path, syscall.O_RDONLY|syscall.O_CREAT|syscall.O_NONBLOCK, 0o600)
	require.NoError(t, err)
	defer r.Close()

	cmd := exec.Command("/bin/sh", "-c", "printf hi; printf ' there' >&2")
	closers, err := attachStdio(ctx, cmd, "", path, "")
	require.NoError(t, err)
	require.Len(t, closers, 1)
	assert.Equal(t, cmd.Stdout, cmd.Stderr)

	require.NoError(t, cmd.Run())
	for _, c := range closers {
		c.Close()
	}

	out, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "hi there", string(out))
}

func TestAttachStdio_ClosesOnError(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "stdout")

	r, err := fifo.OpenFifo(ctx, path, syscall.O_RDONLY|syscall.O_CREAT|syscall.O_NONBLOCK, 0o600)
	require.NoError(t, err)
	defer r.Close()

	cmd := exec.Command("/bin/true")
	closers, err := attachStdio(ctx, cmd, filepath.Join(dir, "not-a-fifo"), path, "")
	assert.Error(t, err)
	assert.Empty(t, closers)
}
