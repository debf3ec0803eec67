package bytecode

import (
	"testing"

	"github.com/cthuloops/clox/pkg/value"
)

func TestNewChunk(t *testing.T) {
	c := NewChunk(0)

	if c.Version != BytecodeVersion {
		t.Errorf("Version = %d, want %d", c.Version, BytecodeVersion)
	}
	if c.Code == nil {
		t.Error("Code is nil")
	}
	if c.ConstantCount() != 0 || c.Constants.Capacity() != 0 {
		t.Errorf("constant pool = %d/%d, want empty", c.ConstantCount(), c.Constants.Capacity())
	}
	if c.Constants.MinCapacity() != value.MinCapacity {
		t.Errorf("Constants.MinCapacity() = %d, want %d", c.Constants.MinCapacity(), value.MinCapacity)
	}
}

func TestChunkAddConstant(t *testing.T) {
	c := NewChunk(0)

	idx0 := c.AddConstant(1.2)
	if idx0 != 0 {
		t.Errorf("First constant index = %d, want 0", idx0)
	}
	idx1 := c.AddConstant(3.4)
	if idx1 != 1 {
		t.Errorf("Second constant index = %d, want 1", idx1)
	}
	// Equal values get their own slot.
	idx2 := c.AddConstant(1.2)
	if idx2 != 2 {
		t.Errorf("Duplicate constant index = %d, want 2", idx2)
	}

	if c.ConstantCount() != 3 {
		t.Errorf("ConstantCount() = %d, want 3", c.ConstantCount())
	}
	if c.GetConstant(1) != 3.4 {
		t.Errorf("GetConstant(1) = %v, want 3.4", c.GetConstant(1))
	}
}

func TestChunkConstantPoolGrowth(t *testing.T) {
	c := NewChunk(4)
	wantCaps := []int{4, 4, 4, 4, 8, 8, 8, 8, 16}
	for i, want := range wantCaps {
		c.AddConstant(value.Value(i))
		if got := c.Constants.Capacity(); got != want {
			t.Errorf("capacity after constant %d = %d, want %d", i, got, want)
		}
	}
}

func TestChunkWriteConstantShortAndLong(t *testing.T) {
	c := NewChunk(0)
	for i := 0; i < 256; i++ {
		c.AddConstant(value.Value(i))
	}

	off, err := c.WriteConstant(9.5, 7)
	if err != nil {
		t.Fatalf("WriteConstant: %v", err)
	}
	if Opcode(c.Code[off]) != OpConstantLong {
		t.Fatalf("Code[%d] = %s, want CONSTANT_LONG", off, Opcode(c.Code[off]))
	}
	idx, ok := c.readConstantIndex(off)
	if !ok || idx != 256 {
		t.Errorf("readConstantIndex = %d, %v; want 256, true", idx, ok)
	}
	if c.GetConstant(idx) != 9.5 {
		t.Errorf("GetConstant(%d) = %v, want 9.5", idx, c.GetConstant(idx))
	}

	c2 := NewChunk(0)
	off, err = c2.WriteConstant(1.5, 1)
	if err != nil {
		t.Fatalf("WriteConstant: %v", err)
	}
	if Opcode(c2.Code[off]) != OpConstant || c2.CodeLen() != 2 {
		t.Errorf("short form = % X, want CONSTANT 00", c2.Code)
	}
}

func TestChunkLines(t *testing.T) {
	c := NewChunk(0)
	c.WriteOp(OpNop, 1)
	c.WriteOp(OpNop, 1)
	c.WriteOp(OpNop, 2)
	c.WriteOp(OpNop, 4)
	c.WriteOp(OpNop, 4)

	if len(c.Lines) != 3 {
		t.Errorf("len(Lines) = %d, want 3 runs", len(c.Lines))
	}

	tests := []struct {
		offset, line int
	}{
		{0, 1}, {1, 1}, {2, 2}, {3, 4}, {4, 4}, {5, 0}, {-1, 0},
	}
	for _, tt := range tests {
		if got := c.GetLine(tt.offset); got != tt.line {
			t.Errorf("GetLine(%d) = %d, want %d", tt.offset, got, tt.line)
		}
	}
}

func TestChunkFree(t *testing.T) {
	c := NewChunk(0)
	c.WriteConstant(1, 1)
	c.WriteOp(OpReturn, 1)

	c.Free()
	if c.CodeLen() != 0 || len(c.Lines) != 0 {
		t.Errorf("after Free code=%d lines=%d, want 0", c.CodeLen(), len(c.Lines))
	}
	if c.ConstantCount() != 0 || c.Constants.Capacity() != 0 {
		t.Errorf("after Free constants = %d/%d, want 0/0", c.ConstantCount(), c.Constants.Capacity())
	}

	// Reusable after Free.
	c.Free()
	c.WriteConstant(2, 3)
	if c.ConstantCount() != 1 || c.GetLine(0) != 3 {
		t.Errorf("reuse after Free: constants=%d line=%d", c.ConstantCount(), c.GetLine(0))
	}
}
