package bf

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/containerd/log"
)

// Number of cells on the tape
const TapeSize = 30_000

// How many instructions run between two checks of the context
const cancelCheckInterval = 1 << 12

// EOFPolicy selects what ',' does when the input is exhausted.
type EOFPolicy uint8

const (
	EOFFatal     EOFPolicy = iota // abort with ErrStdinRead
	EOFZero                       // store 0 in the current cell
	EOFUnchanged                  // leave the current cell alone
)

type Interpreter struct {
	Program  []Opcode
	Input    io.Reader
	Output   io.Writer
	MaxSteps uint64 // 0 means no limit
	EOF      EOFPolicy

	ip    int
	dp    int
	steps uint64
	tape  [TapeSize]uint8
	buf   [1]byte
}

// NewInterpreter prepares program for execution on a zeroed tape. A nil
// input reads as an empty stream and a nil output discards everything.
func NewInterpreter(program []Opcode, input io.Reader, output io.Writer) *Interpreter {
	return &Interpreter{
		Program: program,
		Input:   input,
		Output:  output,
	}
}

func (i *Interpreter) Reset() {
	i.ip = 0
	i.dp = 0
	i.steps = 0
	clear(i.tape[:])
}

// At returns the value of tape cell j.
func (i *Interpreter) At(j int) uint8 {
	return i.tape[j]
}

// Pointer returns the data pointer.
func (i *Interpreter) Pointer() int {
	return i.dp
}

// Counter returns the instruction pointer.
func (i *Interpreter) Counter() int {
	return i.ip
}

func (i *Interpreter) Steps() uint64 {
	return i.steps
}

func (i *Interpreter) Halted() bool {
	return i.ip >= len(i.Program)
}

func (i *Interpreter) fault(err error) error {
	return &RuntimeError{IP: i.ip, DP: i.dp, Err: err}
}

// Step executes a single instruction. It reports whether the program has
// halted.
func (i *Interpreter) Step() (bool, error) {
	if i.Halted() {
		return true, nil
	}

	op := i.Program[i.ip]
	switch op.Kind {
	case IncPtr:
		if i.dp+1 >= TapeSize {
			return false, i.fault(ErrTapeOutOfBounds)
		}
		i.dp++
	case DecPtr:
		if i.dp == 0 {
			return false, i.fault(ErrTapeOutOfBounds)
		}
		i.dp--
	case IncVal:
		i.tape[i.dp]++
	case DecVal:
		i.tape[i.dp]--
	case Output:
		if i.Output != nil {
			i.buf[0] = i.tape[i.dp]
			if _, err := i.Output.Write(i.buf[:]); err != nil {
				return false, i.fault(fmt.Errorf("%w: %w", ErrStdoutWrite, err))
			}
		}
	case Input:
		if err := i.read(); err != nil {
			return false, i.fault(err)
		}
	case LoopStart:
		if i.tape[i.dp] == 0 {
			if op.Target < 0 || op.Target >= len(i.Program) {
				return false, i.fault(ErrUnmatchedOpenBracket)
			}
			i.ip = op.Target
		}
	case LoopEnd:
		if i.tape[i.dp] != 0 {
			if op.Target < 0 || op.Target >= len(i.Program) {
				return false, i.fault(ErrUnmatchedCloseBracket)
			}
			i.ip = op.Target
		}
	default:
		return false, i.fault(fmt.Errorf("unknown opcode %d", op.Kind))
	}

	i.ip++
	i.steps++
	return i.Halted(), nil
}

func (i *Interpreter) read() error {
	var err error
	if i.Input == nil {
		err = io.EOF
	} else {
		_, err = io.ReadFull(i.Input, i.buf[:])
	}

	switch {
	case err == nil:
		i.tape[i.dp] = i.buf[0]
	case errors.Is(err, io.EOF) && i.EOF == EOFZero:
		i.tape[i.dp] = 0
	case errors.Is(err, io.EOF) && i.EOF == EOFUnchanged:
	default:
		return fmt.Errorf("%w: %w", ErrStdinRead, err)
	}
	return nil
}

// RunContext runs the program until it halts, faults, exceeds MaxSteps or
// ctx is done. A program whose brackets are not linked to each other is
// rejected before anything runs.
func (i *Interpreter) RunContext(ctx context.Context) error {
	if err := Validate(i.Program); err != nil {
		return err
	}

	logger := log.G(ctx).WithField("length", len(i.Program))
	logger.Debug("interpreter started")

	for !i.Halted() {
		if i.steps%cancelCheckInterval == 0 {
			select {
			case <-ctx.Done():
				logger.WithField("steps", i.steps).Debug("interpreter cancelled")
				return ctx.Err()
			default:
			}
		}
		if i.MaxSteps != 0 && i.steps >= i.MaxSteps {
			return i.fault(ErrStepLimit)
		}
		if _, err := i.Step(); err != nil {
			logger.WithError(err).WithField("steps", i.steps).Debug("interpreter faulted")
			return err
		}
	}

	logger.WithField("steps", i.steps).Debug("interpreter halted")
	return nil
}

func (i *Interpreter) Run() error {
	return i.RunContext(context.Background())
}
