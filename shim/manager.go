package shim

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"syscall"
	"time"

	apitypes "github.com/containerd/containerd/api/types"
	"github.com/containerd/containerd/v2/pkg/shim"
	"github.com/containerd/errdefs"
	"github.com/containerd/log"
)

const (
	// Runtime name under which containerd knows this shim
	RuntimeName = "io.containerd.bf.v1"

	// Sub-command which makes the shim binary act as the interpreter
	InterpreterCommand = "brainfuck"
)

// https://pubs.opengroup.org/onlinepubs/9699919799/utilities/V3_chap02.html#tag_18_21_18
const exitCodeSignal = 128
const initPidFile = "bf.pid"

// comptime override for debug flag
// set with `-ldflags="-X 'github.com/MarcinKonowalczyk/brainfuck/shim.debug=true'"`
var debug string

// comptime override for the reported runtime version
var version = "v0.1.0"

type manager struct {
	name string
}

func NewManager(name string) shim.Manager {
	return manager{name: name}
}

func (m manager) Name() string {
	return m.name
}

// commandConfig describes how containerd's shim helpers re-execute self as
// the shim daemon for task id.
func (m manager) commandConfig(self, cwd, id string, opts shim.StartOpts) *shim.CommandConfig {
	args := []string{"-id", id}
	if opts.Debug || debug != "" {
		args = append(args, "-debug")
	}
	return &shim.CommandConfig{
		Runtime:      self,
		Address:      opts.Address,
		TTRPCAddress: opts.TTRPCAddress,
		Path:         cwd,
		Args:         args,
	}
}

func bootstrapParams(address string) shim.BootstrapParams {
	return shim.BootstrapParams{
		Version:  2,
		Address:  address,
		Protocol: "ttrpc",
	}
}

// listen creates the daemon socket at address. A socket which is still
// served by a live shim is reported with errdefs.ErrAlreadyExists, a stale
// one is replaced.
func listen(address string, debug bool) (*net.UnixListener, error) {
	socket, err := shim.NewSocket(address)
	if err == nil {
		return socket, nil
	}
	if !shim.SocketEaddrinuse(err) {
		return nil, fmt.Errorf("creating socket: %w", err)
	}
	if !debug && shim.CanConnect(address) {
		return nil, fmt.Errorf("socket %s: %w", address, errdefs.ErrAlreadyExists)
	}
	if err := shim.RemoveSocket(address); err != nil {
		return nil, fmt.Errorf("removing stale socket: %w", err)
	}
	return shim.NewSocket(address)
}

// Start launches the long running shim daemon and hands its socket address
// back to containerd.
func (m manager) Start(ctx context.Context, id string, opts shim.StartOpts) (_ shim.BootstrapParams, retErr error) {
	logger := log.G(ctx).WithFields(log.Fields{"id": id, "runtime": m.name})
	logger.Debug("start (manager)")

	self, err := os.Executable()
	if err != nil {
		return shim.BootstrapParams{}, fmt.Errorf("getting executable of current process: %w", err)
	}
	cwd, err := os.Getwd()
	if err != nil {
		return shim.BootstrapParams{}, fmt.Errorf("getting current working directory: %w", err)
	}

	cmd, err := shim.Command(ctx, m.commandConfig(self, cwd, id, opts))
	if err != nil {
		return shim.BootstrapParams{}, fmt.Errorf("creating shim command: %w", err)
	}
	address, err := shim.SocketAddress(ctx, opts.Address, id, opts.Debug)
	if err != nil {
		return shim.BootstrapParams{}, fmt.Errorf("getting a socket address: %w", err)
	}

	socket, err := listen(address, opts.Debug)
	if errdefs.IsAlreadyExists(err) {
		logger.WithField("address", address).Info("reusing running shim")
		return bootstrapParams(address), nil
	}
	if err != nil {
		return shim.BootstrapParams{}, err
	}
	// The daemon inherits the listener, its path must outlive this process
	defer func() {
		if retErr != nil {
			socket.Close()
			shim.RemoveSocket(address)
		}
	}()

	f, err := socket.File()
	if err != nil {
		return shim.BootstrapParams{}, fmt.Errorf("getting shim socket file descriptor: %w", err)
	}
	defer f.Close()
	cmd.ExtraFiles = append(cmd.ExtraFiles, f)

	// Pdeathsig of the daemon is tied to the thread which starts it
	runtime.LockOSThread()
	err = cmd.Start()
	runtime.UnlockOSThread()
	if err != nil {
		return shim.BootstrapParams{}, fmt.Errorf("starting shim command: %w", err)
	}
	go cmd.Wait()

	if err := shim.AdjustOOMScore(cmd.Process.Pid); err != nil {
		cmd.Process.Kill()
		return shim.BootstrapParams{}, fmt.Errorf("adjusting shim process OOM score: %w", err)
	}

	logger.WithField("pid", cmd.Process.Pid).Debug("shim daemon started")
	return bootstrapParams(address), nil
}

// Stop kills the interpreter of task id when containerd has lost track of
// the shim daemon.
func (m manager) Stop(ctx context.Context, id string) (shim.StopStatus, error) {
	log.G(ctx).WithField("id", id).Debug("stop (manager)")

	cwd, err := os.Getwd()
	if err != nil {
		return shim.StopStatus{}, fmt.Errorf("getting current working directory: %w", err)
	}

	pid, err := readPidFile(pidFilePath(cwd, id))
	if err != nil {
		return shim.StopStatus{}, fmt.Errorf("reading pid file: %w", err)
	}

	if pid > 0 {
		p, _ := os.FindProcess(pid)
		// The POSIX standard specifies that a null-signal can be sent to check
		// whether a PID is valid.
		if err := p.Signal(syscall.Signal(0)); err == nil {
			if err := syscall.Kill(pid, syscall.SIGKILL); err != nil {
				log.G(ctx).WithError(err).Warnf("failed to send kill syscall to interpreter %d", pid)
			}
		}
	}

	return shim.StopStatus{
		Pid:        pid,
		ExitedAt:   time.Now(),
		ExitStatus: int(exitCodeSignal + syscall.SIGKILL),
	}, nil
}

func (m manager) Info(ctx context.Context, optionsR io.Reader) (*apitypes.RuntimeInfo, error) {
	log.G(ctx).Debug("info (manager)")
	return &apitypes.RuntimeInfo{
		Name: m.name,
		Version: &apitypes.RuntimeVersion{
			Version: version,
		},
	}, nil
}

var (
	_ = shim.Manager(&manager{})
)

// The pid file of a task lives in the task's bundle, which is a sibling of
// the shim's working directory.
func pidFilePath(cwd string, id string) string {
	return filepath.Join(filepath.Dir(cwd), id, initPidFile)
}

func readPidFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return -1, err
	}
	return strconv.Atoi(string(data))
}

// If containerd needs to resort to calling the shim's "stop" command to
// clean things up, having the interpreter's pid readable from a file is the
// only way for it to know what process is associated with the task.
func writePidFile(path string, pid int) error {
	if err := shim.WritePidFile(path, pid); err != nil {
		return fmt.Errorf("writing pid file of interpreter: %w", err)
	}

	// 644 == rw-r--r--
	if err := os.Chmod(path, 0644); err != nil {
		return fmt.Errorf("changing pid file permissions: %w", err)
	}
	return nil
}
