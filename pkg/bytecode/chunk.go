package bytecode

import (
	"errors"
	"fmt"
	"sort"

	"github.com/cthuloops/clox/pkg/value"
)

// BytecodeVersion is the current bytecode format version.
// Increment when making incompatible changes to the format.
const BytecodeVersion uint16 = 1

// MaxConstants is the number of constants a single chunk can address
// through OpConstantLong's 24-bit operand.
const MaxConstants = 1 << 24

// ErrTooManyConstants is returned when a chunk's constant pool is full.
var ErrTooManyConstants = errors.New("too many constants in one chunk")

// LineStart marks the first code offset belonging to a source line.
// The line table stores one entry per run of bytes on the same line.
type LineStart struct {
	Offset int `cbor:"1,keyasint"`
	Line   int `cbor:"2,keyasint"`
}

// Chunk represents compiled bytecode.
// A Chunk owns its constant pool and must not be copied; use NewChunk and
// pass *Chunk around.
type Chunk struct {
	Version uint16 // Bytecode format version

	Code  []byte      // Bytecode instructions
	Lines []LineStart // Run-length line table, sorted by offset

	// Constant pool, addressed by OpConstant and OpConstantLong.
	Constants value.ValueArray
}

// NewChunk creates a new empty chunk with the current version. The
// constant pool's first growth allocates minConstants slots; zero selects
// value.MinCapacity.
func NewChunk(minConstants int) *Chunk {
	c := &Chunk{
		Version: BytecodeVersion,
		Code:    make([]byte, 0, 64),
	}
	c.Constants = *value.NewValueArray(minConstants)
	return c
}

// Write appends a byte to the code section, recording its source line.
func (c *Chunk) Write(b byte, line int) int {
	offset := len(c.Code)
	c.Code = append(c.Code, b)
	if n := len(c.Lines); n == 0 || c.Lines[n-1].Line != line {
		c.Lines = append(c.Lines, LineStart{Offset: offset, Line: line})
	}
	return offset
}

// WriteOp appends a single-byte opcode and returns its offset.
func (c *Chunk) WriteOp(op Opcode, line int) int {
	return c.Write(byte(op), line)
}

// AddConstant appends v to the constant pool and returns its index.
// Equal values are stored again rather than shared.
func (c *Chunk) AddConstant(v value.Value) int {
	c.Constants.Write(v)
	return c.Constants.Count() - 1
}

// WriteConstant adds v to the pool and emits the instruction that loads
// it, picking the short form while the index fits in a byte.
func (c *Chunk) WriteConstant(v value.Value, line int) (int, error) {
	if c.Constants.Count() >= MaxConstants {
		return 0, fmt.Errorf("%w: limit is %d", ErrTooManyConstants, MaxConstants)
	}
	idx := c.AddConstant(v)
	if idx <= 0xFF {
		offset := c.WriteOp(OpConstant, line)
		c.Write(byte(idx), line)
		return offset, nil
	}
	offset := c.WriteOp(OpConstantLong, line)
	c.Write(byte(idx>>16), line)
	c.Write(byte(idx>>8), line)
	c.Write(byte(idx), line)
	return offset, nil
}

// GetConstant returns the constant at the given index.
// Panics if the index is out of bounds.
func (c *Chunk) GetConstant(index int) value.Value {
	return c.Constants.At(index)
}

// ConstantCount returns the number of constants in the pool.
func (c *Chunk) ConstantCount() int {
	return c.Constants.Count()
}

// CodeLen returns the length of the code section.
func (c *Chunk) CodeLen() int {
	return len(c.Code)
}

// GetLine returns the source line of the byte at offset, or 0 if the
// offset is outside the code section.
func (c *Chunk) GetLine(offset int) int {
	if offset < 0 || offset >= len(c.Code) || len(c.Lines) == 0 {
		return 0
	}
	// First run starting after offset; the one before it holds offset.
	i := sort.Search(len(c.Lines), func(i int) bool {
		return c.Lines[i].Offset > offset
	})
	if i == 0 {
		return 0
	}
	return c.Lines[i-1].Line
}

// readConstantIndex decodes the operand of a constant instruction at
// offset. ok is false if the operand runs past the end of the code.
func (c *Chunk) readConstantIndex(offset int) (idx int, ok bool) {
	switch Opcode(c.Code[offset]) {
	case OpConstant:
		if offset+1 >= len(c.Code) {
			return 0, false
		}
		return int(c.Code[offset+1]), true
	case OpConstantLong:
		if offset+3 >= len(c.Code) {
			return 0, false
		}
		return int(c.Code[offset+1])<<16 | int(c.Code[offset+2])<<8 | int(c.Code[offset+3]), true
	}
	return 0, false
}

// Free releases the code, line table and constant pool. The chunk can be
// written again afterwards.
func (c *Chunk) Free() {
	c.Code = nil
	c.Lines = nil
	c.Constants.Free()
}
