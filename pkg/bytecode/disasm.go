package bytecode

import (
	"fmt"
	"strings"

	"github.com/cthuloops/clox/pkg/value"
)

// Disassemble returns a human-readable bytecode listing for the chunk.
func (c *Chunk) Disassemble(name string) string {
	var sb strings.Builder

	// Header
	fmt.Fprintf(&sb, "== %s ==\n", name)

	offset := 0
	for offset < len(c.Code) {
		line, n := c.DisassembleInstruction(offset)
		sb.WriteString(line)
		sb.WriteByte('\n')
		offset += n
	}

	return sb.String()
}

// DisassembleInstruction formats the instruction at offset and returns it
// with the instruction length. The line column shows "|" when the
// instruction sits on the same source line as the previous byte.
func (c *Chunk) DisassembleInstruction(offset int) (string, int) {
	if offset >= len(c.Code) {
		return "<end of code>", 0
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%04d ", offset)
	if line := c.GetLine(offset); offset > 0 && line == c.GetLine(offset-1) {
		sb.WriteString("   | ")
	} else {
		fmt.Fprintf(&sb, "%4d ", line)
	}

	op := Opcode(c.Code[offset])
	switch op {
	case OpConstant, OpConstantLong:
		idx, ok := c.readConstantIndex(offset)
		if !ok {
			fmt.Fprintf(&sb, "%-16s <truncated>", op)
			return sb.String(), len(c.Code) - offset
		}
		fmt.Fprintf(&sb, "%-16s %4d '", op, idx)
		if idx < c.Constants.Count() {
			value.Print(&sb, c.Constants.At(idx))
		} else {
			sb.WriteString("<missing>")
		}
		sb.WriteByte('\'')
		return sb.String(), op.InstructionLen()
	}

	if !op.IsValid() {
		fmt.Fprintf(&sb, "Unknown opcode %d", byte(op))
		return sb.String(), 1
	}
	sb.WriteString(op.String())
	return sb.String(), op.InstructionLen()
}
