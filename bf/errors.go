package bf

import (
	"errors"
	"fmt"

	"github.com/containerd/errdefs"
)

var (
	// Source errors
	ErrSourceOpen = errors.New("cannot open source")
	ErrSourceRead = fmt.Errorf("cannot read source: %w", errdefs.ErrDataLoss)

	// Parse errors
	ErrUnmatchedCloseBracket = fmt.Errorf("unmatched ']': %w", errdefs.ErrInvalidArgument)
	ErrUnmatchedOpenBracket  = fmt.Errorf("unmatched '[': %w", errdefs.ErrInvalidArgument)

	// Runtime faults
	ErrTapeOutOfBounds = fmt.Errorf("data pointer out of tape: %w", errdefs.ErrOutOfRange)
	ErrStdinRead       = fmt.Errorf("cannot read stdin: %w", errdefs.ErrDataLoss)
	ErrStdoutWrite     = fmt.Errorf("cannot write stdout: %w", errdefs.ErrUnavailable)
	ErrStepLimit       = fmt.Errorf("step limit exceeded: %w", errdefs.ErrResourceExhausted)
)

// ParseError locates a bracket error in the source.
type ParseError struct {
	Offset int64 // byte offset of the offending bracket
	Err    error
}

func (err *ParseError) Error() string {
	return fmt.Sprintf("offset %d: %v", err.Offset, err.Err)
}

func (err *ParseError) Unwrap() error {
	return err.Err
}

// RuntimeError is a fault raised while executing a program.
type RuntimeError struct {
	IP  int
	DP  int
	Err error
}

func (err *RuntimeError) Error() string {
	return fmt.Sprintf("ip %d dp %d: %v", err.IP, err.DP, err.Err)
}

func (err *RuntimeError) Unwrap() error {
	return err.Err
}
