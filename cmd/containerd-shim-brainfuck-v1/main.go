package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/MarcinKonowalczyk/brainfuck/driver"
	bf_shim "github.com/MarcinKonowalczyk/brainfuck/shim"

	"github.com/containerd/containerd/v2/pkg/shim"
)

func main() {
	// The task service re-executes this binary with the interpreter sub-command
	if args, ok := interpreterArgs(os.Args[1:]); ok {
		ctx, stop := driver.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		code := driver.Main(ctx, args, os.Stdin, os.Stdout, os.Stderr)
		stop()
		os.Exit(code)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	shim.Run(ctx, bf_shim.NewManager(bf_shim.RuntimeName))
}

func interpreterArgs(args []string) ([]string, bool) {
	if len(args) > 0 && args[0] == bf_shim.InterpreterCommand {
		return args[1:], true
	}
	return nil, false
}
