package shim

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	taskAPI "github.com/containerd/containerd/api/runtime/task/v2"
	tasktypes "github.com/containerd/containerd/api/types/task"
	"github.com/containerd/containerd/protobuf"
	ptypes "github.com/containerd/containerd/v2/pkg/protobuf/types"
	"github.com/containerd/containerd/v2/pkg/shim"
	"github.com/containerd/containerd/v2/pkg/shutdown"
	"github.com/containerd/containerd/v2/plugins"
	"github.com/containerd/errdefs"
	"github.com/containerd/log"
	"github.com/containerd/plugin"
	"github.com/containerd/plugin/registry"
	"github.com/containerd/ttrpc"
	"google.golang.org/protobuf/types/known/anypb"
)

func init() {
	registry.Register(&plugin.Registration{
		Type: plugins.TTRPCPlugin,
		ID:   "task",
		Requires: []plugin.Type{
			plugins.InternalPlugin,
		},
		InitFn: func(ic *plugin.InitContext) (interface{}, error) {
			ss, err := ic.GetByID(plugins.InternalPlugin, "shutdown")
			if err != nil {
				return nil, err
			}
			return newTaskService(ic.Context, ss.(shutdown.Service))
		},
	})
}

// The interpreter is started stopped so that containerd can finish wiring
// the task before the program produces any output. Start resumes it.
const startStoppedScript = `#!/bin/sh
kill -STOP $$
exec "$@"
`

const startStoppedScriptName = "start-stopped.sh"

// How long Wait may keep copying stdio after the interpreter exited
const commandWaitDelay = 100 * time.Millisecond

// A running (or finished) interpreter process
type proc struct {
	pid int

	done       context.Context
	exitTime   time.Time
	exitStatus int

	stdout string
	stdin  string
}

func (p *proc) String() string {
	if p.done.Err() != nil {
		return fmt.Sprintf("pid:%d, exitTime:%s, exitStatus:%d", p.pid, p.exitTime.Format(time.RFC3339), p.exitStatus)
	}
	return fmt.Sprintf("pid:%d running", p.pid)
}

type taskService struct {
	mu       sync.RWMutex
	procs    map[string]*proc
	shutdown shutdown.Service
}

func newTaskService(ctx context.Context, sd shutdown.Service) (taskAPI.TaskService, error) {
	return &taskService{
		procs:    make(map[string]*proc, 1),
		shutdown: sd,
	}, nil
}

// RegisterTTRPC allows TTRPC services to be registered with the underlying server
func (s *taskService) RegisterTTRPC(server *ttrpc.Server) error {
	taskAPI.RegisterTaskService(server, s)
	return nil
}

var (
	_ = shim.TTRPCService(&taskService{})
)

func (s *taskService) lookup(id string) (*proc, error) {
	p, ok := s.procs[id]
	if !ok {
		return nil, fmt.Errorf("task %s not created: %w", id, errdefs.ErrNotFound)
	}
	return p, nil
}

// doneContext returns a context which is done once the interpreter of task
// id has exited.
func (s *taskService) doneContext(id string) (context.Context, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	return p.done, nil
}

// exitStatus translates the state of an exited process into a shell style
// exit status.
func exitStatus(state *os.ProcessState) int {
	if state == nil {
		return 255
	}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return exitCodeSignal + int(ws.Signal())
	}
	if state.Exited() {
		return state.ExitCode()
	}
	return 255
}

// finalize waits for the interpreter of task id, records how it exited and
// shuts the shim down once no task is left running.
func (s *taskService) finalize(ctx context.Context, id string, cmd *exec.Cmd, closers []io.Closer, markDone func()) {
	logger := log.G(ctx).WithField("id", id)

	if err := cmd.Wait(); err != nil {
		if _, ok := err.(*exec.ExitError); !ok {
			logger.WithError(err).Errorf("failed to wait for interpreter %d", cmd.Process.Pid)
		}
	}
	for _, c := range closers {
		c.Close()
	}

	status := exitStatus(cmd.ProcessState)
	logger.Debugf("interpreter %d exited with status %d", cmd.Process.Pid, status)

	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.procs[id]; ok {
		p.exitStatus = status
		p.exitTime = time.Now()
	} else {
		logger.Error("failed to record exit status: task was removed")
	}
	markDone()

	for _, p := range s.procs {
		if p.done.Err() == nil {
			return
		}
	}

	logger.Debug("all interpreters exited. shutting down the shim")
	if s.shutdown != nil {
		s.shutdown.Shutdown()
	}
}

// Create a new container
func (s *taskService) Create(ctx context.Context, r *taskAPI.CreateTaskRequest) (_ *taskAPI.CreateTaskResponse, retErr error) {
	logger := log.G(ctx).WithField("id", r.ID)
	logger.Debug("create (service)")

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.procs[r.ID]; ok {
		return nil, fmt.Errorf("task %s: %w", r.ID, errdefs.ErrAlreadyExists)
	}

	config, err := ReadConfig(r.Bundle)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	logger.WithField("length", config.Length).Debugf("loaded %s", config.Entrypoint)

	script := filepath.Join(r.Bundle, startStoppedScriptName)
	if err := os.WriteFile(script, []byte(startStoppedScript), 0755); err != nil {
		return nil, fmt.Errorf("writing %s: %w", startStoppedScriptName, err)
	}

	self, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("getting executable of current process: %w", err)
	}

	cmd := exec.Command("/bin/sh", script, self, InterpreterCommand, config.FullPath())
	cmd.WaitDelay = commandWaitDelay

	closers, err := attachStdio(ctx, cmd, r.Stdin, r.Stdout, r.Stderr)
	if err != nil {
		return nil, err
	}

	if err := cmd.Start(); err != nil {
		for _, c := range closers {
			c.Close()
		}
		return nil, fmt.Errorf("starting interpreter: %w", err)
	}

	pid := cmd.Process.Pid
	doneCtx, markDone := context.WithCancel(context.Background())

	s.procs[r.ID] = &proc{
		pid:    pid,
		done:   doneCtx,
		stdout: r.Stdout,
		stdin:  r.Stdin,
	}

	go s.finalize(context.WithoutCancel(ctx), r.ID, cmd, closers, markDone)

	if err := writePidFile(filepath.Join(r.Bundle, initPidFile), pid); err != nil {
		logger.WithError(err).Warn("failed to write pid file")
	}

	return &taskAPI.CreateTaskResponse{
		Pid: uint32(pid),
	}, nil
}

// Start the interpreter, which Create left stopped
func (s *taskService) Start(ctx context.Context, r *taskAPI.StartRequest) (*taskAPI.StartResponse, error) {
	log.G(ctx).WithField("id", r.ID).Debug("start (service)")

	s.mu.RLock()
	defer s.mu.RUnlock()
	p, err := s.lookup(r.ID)
	if err != nil {
		return nil, err
	}

	if err := syscall.Kill(p.pid, syscall.SIGCONT); err != nil {
		return nil, fmt.Errorf("resuming interpreter %d: %w", p.pid, err)
	}

	return &taskAPI.StartResponse{
		Pid: uint32(p.pid),
	}, nil
}

// Delete a finished task
func (s *taskService) Delete(ctx context.Context, r *taskAPI.DeleteRequest) (*taskAPI.DeleteResponse, error) {
	log.G(ctx).WithField("id", r.ID).Debug("delete (service)")

	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.lookup(r.ID)
	if err != nil {
		return nil, err
	}

	if p.done.Err() == nil {
		return nil, errdefs.ErrFailedPrecondition.WithMessage(fmt.Sprintf("interpreter %d is not done yet", p.pid))
	}
	delete(s.procs, r.ID)

	return &taskAPI.DeleteResponse{
		Pid:        uint32(p.pid),
		ExitStatus: uint32(p.exitStatus),
		ExitedAt:   protobuf.ToTimestamp(p.exitTime),
	}, nil
}

// Exec an additional process inside the container
func (s *taskService) Exec(ctx context.Context, r *taskAPI.ExecProcessRequest) (*ptypes.Empty, error) {
	log.G(ctx).Debug("exec (service)")
	return nil, errdefs.ErrNotImplemented.WithMessage("Exec (task)")
}

// ResizePty of a process
func (s *taskService) ResizePty(ctx context.Context, r *taskAPI.ResizePtyRequest) (*ptypes.Empty, error) {
	log.G(ctx).Debug("resizepty (service)")
	return &ptypes.Empty{}, nil
}

// State returns runtime state of a task
func (s *taskService) State(ctx context.Context, r *taskAPI.StateRequest) (*taskAPI.StateResponse, error) {
	log.G(ctx).WithField("id", r.ID).Debug("state (service)")

	s.mu.RLock()
	defer s.mu.RUnlock()
	p, err := s.lookup(r.ID)
	if err != nil {
		return nil, err
	}

	status := tasktypes.Status_RUNNING
	if p.done.Err() != nil {
		status = tasktypes.Status_STOPPED
	}

	return &taskAPI.StateResponse{
		ID:         r.ID,
		Pid:        uint32(p.pid),
		Status:     status,
		Stdout:     p.stdout,
		Stdin:      p.stdin,
		ExitStatus: uint32(p.exitStatus),
		ExitedAt:   protobuf.ToTimestamp(p.exitTime),
	}, nil
}

// Pause the container
func (s *taskService) Pause(ctx context.Context, r *taskAPI.PauseRequest) (*ptypes.Empty, error) {
	log.G(ctx).Debug("pause (service)")
	return nil, errdefs.ErrNotImplemented.WithMessage("Pause (task)")
}

// Resume the container
func (s *taskService) Resume(ctx context.Context, r *taskAPI.ResumeRequest) (*ptypes.Empty, error) {
	log.G(ctx).Debug("resume (service)")
	return nil, errdefs.ErrNotImplemented.WithMessage("Resume (task)")
}

// Kill signals the interpreter and waits for it to exit
// signalProcess sends sig to pid. A task that was created but not started is
// still stopped, and only SIGKILL acts on a stopped process, so any other
// signal is followed by SIGCONT to have it delivered.
func signalProcess(pid int, sig syscall.Signal) error {
	if err := syscall.Kill(pid, sig); err != nil {
		if errors.Is(err, syscall.ESRCH) {
			return nil
		}
		return err
	}
	if sig == syscall.SIGKILL || sig == syscall.SIGCONT {
		return nil
	}
	if err := syscall.Kill(pid, syscall.SIGCONT); err != nil && !errors.Is(err, syscall.ESRCH) {
		return err
	}
	return nil
}

func (s *taskService) Kill(ctx context.Context, r *taskAPI.KillRequest) (*ptypes.Empty, error) {
	logger := log.G(ctx).WithField("id", r.ID)
	logger.Debug("kill (service)")

	sig := syscall.SIGKILL
	if r.Signal != 0 {
		sig = syscall.Signal(r.Signal)
	}

	done, err := func() (context.Context, error) {
		s.mu.RLock()
		defer s.mu.RUnlock()

		p, err := s.lookup(r.ID)
		if err != nil {
			return nil, err
		}
		if p.done.Err() != nil {
			logger.Warn("task already exited")
			return p.done, nil
		}

		logger.Debugf("sending %s to interpreter %d", sig, p.pid)
		if err := signalProcess(p.pid, sig); err != nil {
			return nil, fmt.Errorf("sending %s to interpreter %d: %w", sig, p.pid, err)
		}
		return p.done, nil
	}()
	if err != nil {
		logger.WithError(err).Error("failed to kill interpreter")
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-done.Done():
	}

	return &ptypes.Empty{}, nil
}

// Pids returns all pids inside the container
func (s *taskService) Pids(ctx context.Context, r *taskAPI.PidsRequest) (*taskAPI.PidsResponse, error) {
	log.G(ctx).Debug("pids (service)")
	return nil, errdefs.ErrNotImplemented.WithMessage("Pids (task)")
}

// CloseIO of a process
func (s *taskService) CloseIO(ctx context.Context, r *taskAPI.CloseIORequest) (*ptypes.Empty, error) {
	log.G(ctx).Debug("closeio (service)")
	return nil, errdefs.ErrNotImplemented.WithMessage("CloseIO (task)")
}

// Checkpoint the container
func (s *taskService) Checkpoint(ctx context.Context, r *taskAPI.CheckpointTaskRequest) (*ptypes.Empty, error) {
	log.G(ctx).Debug("checkpoint (service)")
	return nil, errdefs.ErrNotImplemented.WithMessage("Checkpoint (task)")
}

// Connect returns shim information of the underlying service
func (s *taskService) Connect(ctx context.Context, r *taskAPI.ConnectRequest) (*taskAPI.ConnectResponse, error) {
	log.G(ctx).Debug("connect (service)")

	s.mu.RLock()
	defer s.mu.RUnlock()
	p, err := s.lookup(r.ID)
	if err != nil {
		return nil, err
	}

	return &taskAPI.ConnectResponse{
		ShimPid: uint32(os.Getpid()),
		TaskPid: uint32(p.pid),
	}, nil
}

// Shutdown is called after the underlying resources of the shim are cleaned up and the service can be stopped
func (s *taskService) Shutdown(ctx context.Context, r *taskAPI.ShutdownRequest) (*ptypes.Empty, error) {
	log.G(ctx).Debug("shutdown (service)")
	if s.shutdown != nil {
		s.shutdown.Shutdown()
	}
	return &ptypes.Empty{}, nil
}

// Stats returns empty stats; the interpreter has no cgroup of its own
func (s *taskService) Stats(ctx context.Context, r *taskAPI.StatsRequest) (*taskAPI.StatsResponse, error) {
	log.G(ctx).Debug("stats (service)")
	return &taskAPI.StatsResponse{
		Stats: &anypb.Any{},
	}, nil
}

// Update the live container
func (s *taskService) Update(ctx context.Context, r *taskAPI.UpdateTaskRequest) (*ptypes.Empty, error) {
	log.G(ctx).Debug("update (service)")
	return nil, errdefs.ErrNotImplemented.WithMessage("Update (task)")
}

// Wait for the interpreter to exit
func (s *taskService) Wait(ctx context.Context, r *taskAPI.WaitRequest) (*taskAPI.WaitResponse, error) {
	log.G(ctx).WithField("id", r.ID).Debug("wait (service)")

	done, err := s.doneContext(r.ID)
	if err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-done.Done():
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.procs[r.ID]
	if !ok {
		return nil, fmt.Errorf("task %s was removed: %w", r.ID, errdefs.ErrNotFound)
	}

	return &taskAPI.WaitResponse{
		ExitStatus: uint32(p.exitStatus),
		ExitedAt:   protobuf.ToTimestamp(p.exitTime),
	}, nil
}
