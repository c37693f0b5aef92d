package bf

import "strings"

type Kind uint8

const (
	IncPtr Kind = iota
	DecPtr
	IncVal
	DecVal
	Output
	Input
	LoopStart
	LoopEnd
)

// Opcode is a single resolved instruction. Target is only meaningful for
// LoopStart (index of the matching LoopEnd) and LoopEnd (index of the
// matching LoopStart).
type Opcode struct {
	Kind   Kind
	Target int
}

func kindOf(c byte) (Kind, bool) {
	switch c {
	case '>':
		return IncPtr, true
	case '<':
		return DecPtr, true
	case '+':
		return IncVal, true
	case '-':
		return DecVal, true
	case '.':
		return Output, true
	case ',':
		return Input, true
	case '[':
		return LoopStart, true
	case ']':
		return LoopEnd, true
	default:
		return 0, false
	}
}

func (k Kind) String() string {
	switch k {
	case IncPtr:
		return ">"
	case DecPtr:
		return "<"
	case IncVal:
		return "+"
	case DecVal:
		return "-"
	case Output:
		return "."
	case Input:
		return ","
	case LoopStart:
		return "["
	case LoopEnd:
		return "]"
	default:
		return "?"
	}
}

func (o Opcode) String() string {
	return o.Kind.String()
}

// Format renders a sequence back to canonical source, one character per
// opcode.
func Format(program []Opcode) string {
	var sb strings.Builder
	sb.Grow(len(program))
	for _, op := range program {
		sb.WriteString(op.Kind.String())
	}
	return sb.String()
}
