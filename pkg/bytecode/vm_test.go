package bytecode

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/cthuloops/clox/pkg/value"
)

func run(t *testing.T, src string) (value.Value, error) {
	t.Helper()
	c, err := Assemble(src, AssembleOptions{})
	if err != nil {
		t.Fatalf("Assemble(%q): %v", src, err)
	}
	defer c.Free()
	return NewVM(Options{}).Interpret(context.Background(), c)
}

func TestVMArithmetic(t *testing.T) {
	tests := []struct {
		src  string
		want value.Value
	}{
		{"42", 42},
		{"1.2 3.4 +", 1.2 + 3.4},
		{"1.2 3.4 + 5.6 /", (1.2 + 3.4) / 5.6},
		{"10 4 -", 6},
		{"3 4 *", 12},
		{"7 neg", -7},
		{"1 2 swap -", 1},
		{"5 dup *", 25},
		{"1 2 pop", 1},
		{"1 nop", 1},
	}

	for _, tt := range tests {
		got, err := run(t, tt.src)
		if err != nil {
			t.Errorf("%q: %v", tt.src, err)
			continue
		}
		if got != tt.want {
			t.Errorf("%q = %v, want %v", tt.src, got, tt.want)
		}
	}
}

func TestVMDivideByZero(t *testing.T) {
	got, err := run(t, "1 0 /")
	if err != nil {
		t.Fatalf("Interpret: %v", err)
	}
	if !math.IsInf(float64(got), 1) {
		t.Errorf("1 / 0 = %v, want +Inf", got)
	}
}

func TestVMLongConstants(t *testing.T) {
	c := NewChunk(0)
	for i := 0; i < 1000; i++ {
		c.WriteConstant(value.Value(i), 1)
		if i > 0 {
			c.WriteOp(OpAdd, 1)
		}
	}
	c.WriteOp(OpReturn, 1)

	got, err := NewVM(Options{}).Interpret(context.Background(), c)
	if err != nil {
		t.Fatalf("Interpret: %v", err)
	}
	if got != 999*1000/2 {
		t.Errorf("sum = %v, want %v", got, 999*1000/2)
	}
}

func TestVMRuntimeErrors(t *testing.T) {
	build := func(line int, ops ...byte) *Chunk {
		c := NewChunk(0)
		for _, b := range ops {
			c.Write(b, line)
		}
		return c
	}
	withConst := func() *Chunk {
		c := NewChunk(0)
		c.WriteConstant(1, 9)
		return c
	}
	// Two pushes into a one-slot stack.
	over := withConst()
	over.WriteOp(OpDup, 9)
	over.WriteOp(OpReturn, 9)

	tests := []struct {
		name   string
		chunk  *Chunk
		opts   Options
		want   error
		offset int
	}{
		{"underflow", build(1, byte(OpAdd)), Options{}, ErrStackUnderflow, 0},
		{"unknown opcode", build(1, 0x54), Options{}, ErrUnknownOpcode, 0},
		{"truncated", build(1, byte(OpConstantLong), 0), Options{}, ErrTruncated, 0},
		{"bad constant", build(1, byte(OpConstant), 3, byte(OpReturn)), Options{}, ErrBadConstant, 0},
		{"no return", withConst(), Options{}, ErrNoReturn, 2},
		{"overflow", over, Options{StackSize: 1}, ErrStackOverflow, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewVM(tt.opts).Interpret(context.Background(), tt.chunk)
			if !errors.Is(err, tt.want) {
				t.Fatalf("error = %v, want %v", err, tt.want)
			}
			var rerr *RuntimeError
			if !errors.As(err, &rerr) {
				t.Fatalf("error %T is not *RuntimeError", err)
			}
			if rerr.Offset != tt.offset {
				t.Errorf("Offset = %d, want %d", rerr.Offset, tt.offset)
			}
		})
	}
}

func TestVMRuntimeErrorLine(t *testing.T) {
	c := NewChunk(0)
	c.WriteConstant(1, 1)
	c.WriteOp(OpAdd, 7)

	_, err := NewVM(Options{}).Interpret(context.Background(), c)
	var rerr *RuntimeError
	if !errors.As(err, &rerr) {
		t.Fatalf("error = %v, want *RuntimeError", err)
	}
	if rerr.Line != 7 || rerr.Op != OpAdd {
		t.Errorf("RuntimeError = %+v, want line 7 op ADD", rerr)
	}
	if got := rerr.Error(); got != "[line 7] in ADD at 0002: stack underflow" {
		t.Errorf("Error() = %q", got)
	}
}

func TestVMContextCanceled(t *testing.T) {
	c, err := Assemble("1 2 +", AssembleOptions{})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = NewVM(Options{}).Interpret(ctx, c)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

func TestVMReuse(t *testing.T) {
	vm := NewVM(Options{Trace: true})
	for _, src := range []string{"1 2 +", "10 neg", "2 3 *"} {
		c, err := Assemble(src, AssembleOptions{})
		if err != nil {
			t.Fatal(err)
		}
		if _, err := vm.Interpret(context.Background(), c); err != nil {
			t.Errorf("%q: %v", src, err)
		}
	}
	got, err := run(t, "2 3 *")
	if err != nil || got != 6 {
		t.Errorf("2 3 * = %v, %v", got, err)
	}
}

func TestVMStackString(t *testing.T) {
	vm := NewVM(Options{})
	vm.push(1)
	vm.push(2.5)
	if got := vm.stackString(); got != "[ 1 ][ 2.5 ]" {
		t.Errorf("stackString() = %q", got)
	}
}
