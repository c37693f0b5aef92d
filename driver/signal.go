package driver

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/containerd/log"
)

// How long a running program gets to wind down and flush its output after a
// signal before the process is terminated by it anyway
const signalGrace = 100 * time.Millisecond

// NotifyContext returns a context that is cancelled by the first of sigs to
// arrive. Unlike signal.NotifyContext the signal still terminates the process:
// it is raised again once signalGrace has passed, which interrupts a program
// blocked reading stdin, or as soon as stop is called. stop must be called
// before the process exits.
func NotifyContext(parent context.Context, sigs ...os.Signal) (ctx context.Context, stop func()) {
	ctx, cancel := context.WithCancel(parent)

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, sigs...)

	var (
		mu       sync.Mutex
		received os.Signal
	)
	stopped := make(chan struct{})

	go func() {
		select {
		case sig := <-ch:
			log.G(ctx).WithField("signal", sig).Debug("received signal")
			mu.Lock()
			received = sig
			mu.Unlock()
			cancel()

			timer := time.NewTimer(signalGrace)
			defer timer.Stop()
			select {
			case <-timer.C:
				raise(sig)
			case <-stopped:
			}
		case <-stopped:
		}
	}()

	var once sync.Once
	stop = func() {
		once.Do(func() {
			close(stopped)
			signal.Stop(ch)
			cancel()

			mu.Lock()
			sig := received
			mu.Unlock()
			if sig != nil {
				raise(sig)
			}
		})
	}
	return ctx, stop
}

// raise restores the default disposition of sig and sends it to this process.
func raise(sig os.Signal) {
	s, ok := sig.(syscall.Signal)
	if !ok {
		return
	}
	signal.Reset(s)
	_ = syscall.Kill(os.Getpid(), s)
	// Delivery is asynchronous
	time.Sleep(signalGrace)
}
