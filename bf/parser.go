package bf

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

type openBracket struct {
	index  int   // position of the LoopStart in the program
	offset int64 // position of the '[' in the source
}

// Parser turns source bytes into a resolved program. Brackets are linked by
// back-patching: a '[' is emitted with a placeholder target which is filled
// in when its matching ']' is read.
type Parser struct {
	program []Opcode
	stack   []openBracket
	offset  int64
}

func NewParser() *Parser {
	return &Parser{}
}

// Feed consumes a single source byte. Bytes which are not instructions are
// ignored.
func (p *Parser) Feed(c byte) error {
	defer func() { p.offset++ }()

	kind, ok := kindOf(c)
	if !ok {
		return nil
	}

	switch kind {
	case LoopStart:
		p.stack = append(p.stack, openBracket{index: len(p.program), offset: p.offset})
		p.program = append(p.program, Opcode{Kind: LoopStart})
	case LoopEnd:
		if len(p.stack) == 0 {
			return &ParseError{Offset: p.offset, Err: ErrUnmatchedCloseBracket}
		}
		start := p.stack[len(p.stack)-1].index
		p.stack = p.stack[:len(p.stack)-1]
		end := len(p.program)
		p.program[start].Target = end
		p.program = append(p.program, Opcode{Kind: LoopEnd, Target: start})
	default:
		p.program = append(p.program, Opcode{Kind: kind})
	}
	return nil
}

// Finish checks that every '[' was closed and returns the program.
func (p *Parser) Finish() ([]Opcode, error) {
	if len(p.stack) != 0 {
		return nil, &ParseError{Offset: p.stack[len(p.stack)-1].offset, Err: ErrUnmatchedOpenBracket}
	}
	if p.program == nil {
		return []Opcode{}, nil
	}
	return p.program, nil
}

// Parse reads r to the end and returns the resolved program.
func Parse(r io.Reader) ([]Opcode, error) {
	br, ok := r.(io.ByteReader)
	if !ok {
		br = bufio.NewReader(r)
	}

	p := NewParser()
	for {
		c, err := br.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("%w: %w", ErrSourceRead, err)
		}
		if err := p.Feed(c); err != nil {
			return nil, err
		}
	}
	return p.Finish()
}

func ParseString(source string) ([]Opcode, error) {
	return Parse(strings.NewReader(source))
}

// Validate checks that every LoopStart and LoopEnd in program point at each
// other. The Offset of a returned ParseError is an opcode index rather than
// a source offset.
func Validate(program []Opcode) error {
	for i, op := range program {
		switch op.Kind {
		case LoopStart:
			end := op.Target
			if end <= i || end >= len(program) || program[end].Kind != LoopEnd || program[end].Target != i {
				return &ParseError{Offset: int64(i), Err: ErrUnmatchedOpenBracket}
			}
		case LoopEnd:
			start := op.Target
			if start >= i || start < 0 || program[start].Kind != LoopStart || program[start].Target != i {
				return &ParseError{Offset: int64(i), Err: ErrUnmatchedCloseBracket}
			}
		}
	}
	return nil
}
