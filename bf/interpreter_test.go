package bf_test

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/MarcinKonowalczyk/brainfuck/bf"
	"github.com/MarcinKonowalczyk/brainfuck/utils"
	"github.com/containerd/errdefs"
)

func mustParse(t *testing.T, source string) []bf.Opcode {
	t.Helper()
	program, err := bf.ParseString(source)
	if err != nil {
		t.Fatalf("parsing %q: %v", source, err)
	}
	return program
}

func TestInterpreter_OutputEmptyInterpreter(t *testing.T) {
	program := []bf.Opcode{{Kind: bf.Output}}
	interpreter := bf.NewInterpreter(program, nil, nil)
	utils.AssertNoError(t, interpreter.Run())
}

func TestInterpreter_InputEmptyInterpreter(t *testing.T) {
	program := []bf.Opcode{{Kind: bf.Input}}
	interpreter := bf.NewInterpreter(program, nil, nil)
	err := interpreter.Run()
	utils.AssertErrorIs(t, err, bf.ErrStdinRead)
}

func TestInterpreter_Increment(t *testing.T) {
	program := []bf.Opcode{{Kind: bf.IncVal}}
	interpreter := bf.NewInterpreter(program, nil, nil)
	utils.AssertEqual(t, interpreter.At(0), 0)
	utils.AssertNoError(t, interpreter.Run())
	utils.AssertEqual(t, interpreter.At(0), 1)
}

func TestInterpreter_Decrement(t *testing.T) {
	program := []bf.Opcode{{Kind: bf.DecVal}}
	interpreter := bf.NewInterpreter(program, nil, nil)
	utils.AssertEqual(t, interpreter.At(0), 0)
	utils.AssertNoError(t, interpreter.Run())
	utils.AssertEqual(t, interpreter.At(0), 255)
}

func TestInterpreter_Overflow(t *testing.T) {
	interpreter := bf.NewInterpreter(mustParse(t, strings.Repeat("+", 256)), nil, nil)
	utils.AssertNoError(t, interpreter.Run())
	utils.AssertEqual(t, interpreter.At(0), 0)
}

func TestInterpreter_Wraparound(t *testing.T) {
	for _, c := range []struct{ n, m int }{{0, 0}, {3, 1}, {1, 3}, {300, 2}, {5, 600}, {256, 256}} {
		source := strings.Repeat("+", c.n) + strings.Repeat("-", c.m)
		interpreter := bf.NewInterpreter(mustParse(t, source), nil, nil)
		utils.AssertNoError(t, interpreter.Run())
		expected := uint8(((c.n-c.m)%256 + 256) % 256)
		utils.AssertEqual(t, interpreter.At(0), expected)
	}
}

func TestInterpreter_MoveRight(t *testing.T) {
	program := []bf.Opcode{{Kind: bf.IncPtr}, {Kind: bf.IncVal}}
	interpreter := bf.NewInterpreter(program, nil, nil)
	utils.AssertNoError(t, interpreter.Run())
	utils.AssertEqual(t, interpreter.At(0), 0)
	utils.AssertEqual(t, interpreter.At(1), 1)
	utils.AssertEqual(t, interpreter.Pointer(), 1)
}

func TestInterpreter_MoveLeftFaults(t *testing.T) {
	program := []bf.Opcode{{Kind: bf.DecPtr}, {Kind: bf.IncVal}}
	interpreter := bf.NewInterpreter(program, nil, nil)
	err := interpreter.Run()
	utils.AssertErrorIs(t, err, bf.ErrTapeOutOfBounds)
	utils.Assert(t, errdefs.IsOutOfRange(err), "expected out of range")

	var rerr *bf.RuntimeError
	utils.Assert(t, errors.As(err, &rerr), "expected a RuntimeError")
	utils.AssertEqual(t, rerr.IP, 0)
	utils.AssertEqual(t, rerr.DP, 0)
	utils.AssertEqual(t, interpreter.At(0), 0)
}

func TestInterpreter_MoveRightFaults(t *testing.T) {
	program := mustParse(t, strings.Repeat(">", bf.TapeSize-1))
	interpreter := bf.NewInterpreter(program, nil, nil)
	utils.AssertNoError(t, interpreter.Run())
	utils.AssertEqual(t, interpreter.Pointer(), bf.TapeSize-1)

	program = mustParse(t, strings.Repeat(">", bf.TapeSize))
	interpreter = bf.NewInterpreter(program, nil, nil)
	err := interpreter.Run()
	utils.AssertErrorIs(t, err, bf.ErrTapeOutOfBounds)
}

func TestInterpreter_Loop(t *testing.T) {
	interpreter := bf.NewInterpreter(mustParse(t, "+++[->+<]"), nil, nil)
	utils.AssertNoError(t, interpreter.Run())
	utils.AssertEqual(t, interpreter.At(0), 0)
	utils.AssertEqual(t, interpreter.At(1), 3)
}

func TestInterpreter_SkippedLoop(t *testing.T) {
	interpreter := bf.NewInterpreter(mustParse(t, "[]"), nil, nil)
	halted, err := interpreter.Step()
	utils.AssertNoError(t, err)
	utils.Assert(t, halted, "expected [] on a zero cell to halt after one step")
	utils.AssertEqual(t, interpreter.Counter(), 2)
	utils.AssertEqual(t, interpreter.Steps(), uint64(1))
}

func TestInterpreter_EmptyProgram(t *testing.T) {
	var out bytes.Buffer
	interpreter := bf.NewInterpreter([]bf.Opcode{}, nil, &out)
	utils.Assert(t, interpreter.Halted(), "expected empty program to be halted")
	utils.AssertNoError(t, interpreter.Run())
	utils.AssertEqual(t, out.Len(), 0)
}

func TestInterpreter_StepLimit(t *testing.T) {
	interpreter := bf.NewInterpreter(mustParse(t, "+[]"), nil, nil)
	interpreter.MaxSteps = 1000
	err := interpreter.Run()
	utils.AssertErrorIs(t, err, bf.ErrStepLimit)
	utils.AssertEqual(t, interpreter.Steps(), uint64(1000))
	utils.AssertEqual(t, interpreter.At(0), 1)
}

func TestInterpreter_Cancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	interpreter := bf.NewInterpreter(mustParse(t, "+[]"), nil, nil)
	err := interpreter.RunContext(ctx)
	utils.AssertErrorIs(t, err, context.Canceled)
}

func TestInterpreter_UnlinkedProgram(t *testing.T) {
	program := []bf.Opcode{
		{Kind: bf.Output},
		{Kind: bf.IncVal},
		{Kind: bf.LoopEnd, Target: -5},
	}
	var out bytes.Buffer
	interpreter := bf.NewInterpreter(program, nil, &out)
	err := interpreter.Run()
	utils.AssertErrorIs(t, err, bf.ErrUnmatchedCloseBracket)
	utils.AssertEqual(t, interpreter.Steps(), uint64(0))
	utils.AssertEqual(t, out.Len(), 0)

	interpreter = bf.NewInterpreter([]bf.Opcode{{Kind: bf.LoopStart, Target: 9}}, nil, nil)
	utils.AssertErrorIs(t, interpreter.Run(), bf.ErrUnmatchedOpenBracket)
}

func TestInterpreter_StepUnlinkedJump(t *testing.T) {
	program := []bf.Opcode{
		{Kind: bf.IncVal},
		{Kind: bf.LoopEnd, Target: -5},
	}
	interpreter := bf.NewInterpreter(program, nil, nil)
	_, err := interpreter.Step()
	utils.AssertNoError(t, err)

	_, err = interpreter.Step()
	utils.AssertErrorIs(t, err, bf.ErrUnmatchedCloseBracket)
	var rerr *bf.RuntimeError
	utils.Assert(t, errors.As(err, &rerr), "expected a RuntimeError")
	utils.AssertEqual(t, rerr.IP, 1)

	interpreter = bf.NewInterpreter([]bf.Opcode{{Kind: bf.LoopStart, Target: 3}}, nil, nil)
	_, err = interpreter.Step()
	utils.AssertErrorIs(t, err, bf.ErrUnmatchedOpenBracket)
}

func TestInterpreter_EOFPolicy(t *testing.T) {
	interpreter := bf.NewInterpreter(mustParse(t, "+++,"), nil, nil)
	interpreter.EOF = bf.EOFZero
	utils.AssertNoError(t, interpreter.Run())
	utils.AssertEqual(t, interpreter.At(0), 0)

	interpreter = bf.NewInterpreter(mustParse(t, "+++,"), strings.NewReader(""), nil)
	interpreter.EOF = bf.EOFUnchanged
	utils.AssertNoError(t, interpreter.Run())
	utils.AssertEqual(t, interpreter.At(0), 3)

	interpreter = bf.NewInterpreter(mustParse(t, "+++,"), strings.NewReader(""), nil)
	err := interpreter.Run()
	utils.AssertErrorIs(t, err, bf.ErrStdinRead)
	utils.AssertEqual(t, interpreter.At(0), 3)
}

func TestInterpreter_InputError(t *testing.T) {
	cause := errors.New("tty gone")
	interpreter := bf.NewInterpreter(mustParse(t, ","), iotest.ErrReader(cause), nil)
	interpreter.EOF = bf.EOFZero
	err := interpreter.Run()
	utils.AssertErrorIs(t, err, bf.ErrStdinRead)
	utils.AssertErrorIs(t, err, cause)
}

type brokenWriter struct{}

func (brokenWriter) Write([]byte) (int, error) {
	return 0, errors.New("pipe closed")
}

func TestInterpreter_OutputError(t *testing.T) {
	interpreter := bf.NewInterpreter(mustParse(t, "+."), nil, brokenWriter{})
	err := interpreter.Run()
	utils.AssertErrorIs(t, err, bf.ErrStdoutWrite)
}

func TestInterpreter_Reset(t *testing.T) {
	var out bytes.Buffer
	interpreter := bf.NewInterpreter(mustParse(t, ">++."), nil, &out)
	utils.AssertNoError(t, interpreter.Run())
	interpreter.Reset()
	utils.AssertEqual(t, interpreter.At(1), 0)
	utils.AssertEqual(t, interpreter.Counter(), 0)
	utils.AssertNoError(t, interpreter.Run())
	utils.AssertEqualArrays(t, out.Bytes(), []byte{2, 2})
}

func TestInterpreter_NoIONoOutput(t *testing.T) {
	for _, source := range []string{"", "+", "+++[->++<]>[-]", "++[>+[>+<-]<-]", "+[]"} {
		var out bytes.Buffer
		interpreter := bf.NewInterpreter(mustParse(t, source), nil, &out)
		interpreter.MaxSteps = 10_000
		err := interpreter.Run()
		if err != nil {
			utils.AssertErrorIs(t, err, bf.ErrStepLimit)
		}
		utils.AssertEqual(t, out.Len(), 0)
	}
}

func TestRun_Scenarios(t *testing.T) {
	table := []struct {
		name   string
		source string
		input  string
		output string
	}{
		{
			"hello_world",
			"++++++++[>++++[>++>+++>+++>+<<<<-]>+>+>->>+[<]<-]>>.>---.+++++++..+++.>>.<-.<.+++.------.--------.>>+.>++.",
			"",
			"Hello World!\n",
		},
		{"echo", ",.", "A", "A"},
		{"wraparound", "-.", "", "\xff"},
		{"skipped_loop", "[+++++].", "", "\x00"},
		{"counted", "+++++[>++++++++++<-]>+++.", "", "5"},
		{"comments", "++ this is a comment +.", "", "\x03"},
		{"empty", "", "", ""},
		{"echo_two", ",.,.", "hi", "hi"},
	}

	for _, entry := range table {
		t.Run(entry.name, func(t *testing.T) {
			var out bytes.Buffer
			err := bf.Run(strings.NewReader(entry.source), strings.NewReader(entry.input), &out)
			utils.AssertNoError(t, err)
			utils.AssertEqual(t, out.String(), entry.output)
		})
	}
}

func TestRun_ParseErrorRunsNothing(t *testing.T) {
	var out bytes.Buffer
	err := bf.Run(strings.NewReader("+.]"), nil, &out)
	utils.AssertErrorIs(t, err, bf.ErrUnmatchedCloseBracket)
	utils.AssertEqual(t, out.Len(), 0)
}
