package driver

import (
	"bufio"
	"context"
	"fmt"
	"io"

	"github.com/MarcinKonowalczyk/brainfuck/bf"
	"github.com/containerd/log"
)

const usage = "Usage: brainfuck <input>"

// comptime override for debug flag
// set with `-ldflags="-X 'github.com/MarcinKonowalczyk/brainfuck/driver.debug=true'"`
var debug string

// Main runs the brainfuck program named by the single element of args and
// returns the process exit status.
func Main(ctx context.Context, args []string, stdin io.Reader, stdout io.Writer, stderr io.Writer) int {
	if len(args) != 1 {
		fmt.Fprintln(stderr, usage)
		return 1
	}

	log.L.Logger.SetOutput(stderr)
	if debug != "" {
		if err := log.SetLevel("debug"); err != nil {
			fmt.Fprintf(stderr, "brainfuck: %v\n", err)
		}
	}

	if err := run(ctx, args[0], stdin, stdout); err != nil {
		fmt.Fprintf(stderr, "brainfuck: %v\n", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, filename string, stdin io.Reader, stdout io.Writer) (retErr error) {
	f, err := bf.OpenSource(filename)
	if err != nil {
		return err
	}
	defer f.Close()

	log.G(ctx).WithField("file", filename).Debug("running")

	w := bufio.NewWriter(stdout)
	defer func() {
		// Flush whatever was produced before a fault, too
		if err := w.Flush(); err != nil && retErr == nil {
			retErr = fmt.Errorf("%w: %w", bf.ErrStdoutWrite, err)
		}
	}()

	var input io.Reader
	if stdin != nil {
		input = &flushingReader{r: bufio.NewReader(stdin), w: w}
	}
	return bf.RunContext(ctx, bufio.NewReader(f), input, w)
}

// flushingReader flushes pending output before blocking on input so that
// prompts are visible.
type flushingReader struct {
	r io.Reader
	w *bufio.Writer
}

func (fr *flushingReader) Read(p []byte) (int, error) {
	if err := fr.w.Flush(); err != nil {
		return 0, err
	}
	return fr.r.Read(p)
}
