package bytecode

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/cthuloops/clox/pkg/value"
)

// AssembleError describes a malformed program and where it was found.
type AssembleError struct {
	Line   int    // 1-based source line
	Column int    // 1-based column of the token
	Token  string // Offending token, empty at end of input
	Msg    string
}

func (e *AssembleError) Error() string {
	if e.Token == "" {
		return fmt.Sprintf("[line %d] Error at end: %s", e.Line, e.Msg)
	}
	return fmt.Sprintf("[line %d:%d] Error at '%s': %s", e.Line, e.Column, e.Token, e.Msg)
}

// words maps the operator tokens of the postfix language to opcodes.
var words = map[string]Opcode{
	"+":    OpAdd,
	"-":    OpSubtract,
	"*":    OpMultiply,
	"/":    OpDivide,
	"neg":  OpNegate,
	"dup":  OpDup,
	"swap": OpSwap,
	"pop":  OpPop,
	"nop":  OpNop,
}

// opWords is the reverse of words.
var opWords = func() map[Opcode]string {
	m := make(map[Opcode]string, len(words))
	for w, op := range words {
		m[op] = w
	}
	return m
}()

// Word returns the operator word that assembles to op, if there is one.
func Word(op Opcode) (string, bool) {
	w, ok := opWords[op]
	return w, ok
}

// LookupWord returns the opcode an operator word assembles to. Words are
// case-insensitive.
func LookupWord(word string) (Opcode, bool) {
	op, ok := words[strings.ToLower(word)]
	return op, ok
}

// Words returns the operator words, sorted.
func Words() []string {
	out := make([]string, 0, len(words))
	for _, op := range AllOpcodes() {
		if w, ok := Word(op); ok {
			out = append(out, w)
		}
	}
	sort.Strings(out)
	return out
}

// AssembleOptions configures Assemble.
type AssembleOptions struct {
	// MinConstants is the constant pool's growth base; zero selects
	// value.MinCapacity.
	MinConstants int
}

// Assemble compiles a postfix arithmetic program into a chunk ending in
// OpReturn. Tokens are separated by whitespace; ';' starts a comment that
// runs to the end of the line. Numbers are pushed as constants, operator
// words are emitted as their opcodes. The program must leave exactly one
// value on the stack.
func Assemble(src string, opts AssembleOptions) (*Chunk, error) {
	c := NewChunk(opts.MinConstants)
	depth := 0
	lastLine := 1

	for i, text := range strings.Split(src, "\n") {
		line := i + 1
		if j := strings.IndexByte(text, ';'); j >= 0 {
			text = text[:j]
		}

		col := 0
		for _, tok := range strings.Fields(text) {
			col = strings.Index(text[col:], tok) + col
			lastLine = line
			fail := func(format string, args ...any) error {
				c.Free()
				return &AssembleError{Line: line, Column: col + 1, Token: tok, Msg: fmt.Sprintf(format, args...)}
			}

			if op, ok := LookupWord(tok); ok {
				info := GetOpcodeInfo(op)
				if depth < info.StackPop {
					return nil, fail("needs %d operand(s), stack has %d", info.StackPop, depth)
				}
				depth += info.StackPush - info.StackPop
				c.WriteOp(op, line)
				col += len(tok)
				continue
			}

			// Out-of-range literals saturate to ±Inf.
			f, err := strconv.ParseFloat(tok, 64)
			if err != nil && !errors.Is(err, strconv.ErrRange) {
				return nil, fail("expect number or operator")
			}
			if _, err := c.WriteConstant(value.Value(f), line); err != nil {
				return nil, fail("%v", err)
			}
			depth++
			col += len(tok)
		}
	}

	switch {
	case depth == 0:
		c.Free()
		return nil, &AssembleError{Line: lastLine, Msg: "expect expression"}
	case depth > 1:
		c.Free()
		return nil, &AssembleError{Line: lastLine, Msg: fmt.Sprintf("%d values left on the stack, expect 1", depth)}
	}
	c.WriteOp(OpReturn, lastLine)
	return c, nil
}
