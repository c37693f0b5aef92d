package main

import (
	"context"
	"os"
	"syscall"

	"github.com/MarcinKonowalczyk/brainfuck/driver"
)

func main() {
	ctx, stop := driver.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := driver.Main(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
