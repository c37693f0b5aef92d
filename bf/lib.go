package bf

import (
	"context"
	"io"

	"github.com/containerd/log"
)

// RunContext parses source and executes it against input and output. Nothing
// is executed unless the whole source parses.
func RunContext(ctx context.Context, source io.Reader, input io.Reader, output io.Writer) error {
	program, err := Parse(source)
	if err != nil {
		return err
	}
	log.G(ctx).WithField("length", len(program)).Debug("parsed program")

	return NewInterpreter(program, input, output).RunContext(ctx)
}

func Run(source io.Reader, input io.Reader, output io.Writer) error {
	return RunContext(context.Background(), source, input, output)
}
