package bytecode

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cthuloops/clox/pkg/value"
	"github.com/tliron/commonlog"
)

// DefaultStackSize is the number of value slots a VM gets when Options
// leaves StackSize at zero.
const DefaultStackSize = 256

// MaxStackSize bounds the value stack a configuration may ask for.
const MaxStackSize = 1 << 20

var (
	ErrStackOverflow  = errors.New("stack overflow")
	ErrStackUnderflow = errors.New("stack underflow")
	ErrUnknownOpcode  = errors.New("unknown opcode")
	ErrTruncated      = errors.New("truncated instruction")
	ErrBadConstant    = errors.New("constant index out of range")
	ErrNoReturn       = errors.New("ran off the end of the chunk")
)

// RuntimeError wraps a failure with the instruction that caused it.
type RuntimeError struct {
	Offset int    // Offset of the failing instruction
	Line   int    // Source line, 0 if unknown
	Op     Opcode // Failing opcode
	Err    error
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("[line %d] in %s at %04d: %v", e.Line, e.Op, e.Offset, e.Err)
}

func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// Options configures a VM.
type Options struct {
	StackSize int  // Value stack slots; zero selects DefaultStackSize
	Trace     bool // Log every instruction and the stack at debug level
}

// VM executes bytecode chunks. A VM runs one chunk at a time and is not
// safe for concurrent use.
type VM struct {
	chunk *Chunk        // Current bytecode chunk
	ip    int           // Instruction pointer
	stack []value.Value // Value stack
	sp    int           // Stack pointer

	trace bool
	log   commonlog.Logger
}

// NewVM creates a new VM instance.
func NewVM(opts Options) *VM {
	size := opts.StackSize
	if size <= 0 {
		size = DefaultStackSize
	}
	return &VM{
		stack: make([]value.Value, size),
		trace: opts.Trace,
		log:   commonlog.GetLogger("clox.vm"),
	}
}

// Interpret runs chunk until OpReturn and returns the returned value.
func (vm *VM) Interpret(ctx context.Context, chunk *Chunk) (value.Value, error) {
	vm.chunk = chunk
	vm.ip = 0
	vm.sp = 0
	defer func() { vm.chunk = nil }()

	return vm.run(ctx)
}

// run is the main execution loop.
func (vm *VM) run(ctx context.Context) (value.Value, error) {
	code := vm.chunk.Code
	for vm.ip < len(code) {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		start := vm.ip
		op := Opcode(code[vm.ip])
		if vm.trace && vm.log.AllowLevel(commonlog.Debug) {
			line, _ := vm.chunk.DisassembleInstruction(start)
			vm.log.Debugf("%-40s %s", line, vm.stackString())
		}
		fail := func(err error) (value.Value, error) {
			return 0, &RuntimeError{Offset: start, Line: vm.chunk.GetLine(start), Op: op, Err: err}
		}

		if !op.IsValid() {
			return fail(fmt.Errorf("%w 0x%02X", ErrUnknownOpcode, byte(op)))
		}
		if start+op.InstructionLen() > len(code) {
			return fail(ErrTruncated)
		}
		info := GetOpcodeInfo(op)
		if vm.sp < info.StackPop {
			return fail(ErrStackUnderflow)
		}
		if vm.sp-info.StackPop+info.StackPush > len(vm.stack) {
			return fail(ErrStackOverflow)
		}
		vm.ip += op.InstructionLen()

		switch op {
		case OpNop:

		case OpPop:
			vm.sp--

		case OpDup:
			vm.push(vm.peek(0))

		case OpSwap:
			vm.stack[vm.sp-1], vm.stack[vm.sp-2] = vm.stack[vm.sp-2], vm.stack[vm.sp-1]

		case OpConstant, OpConstantLong:
			idx, _ := vm.chunk.readConstantIndex(start)
			if idx >= vm.chunk.Constants.Count() {
				return fail(fmt.Errorf("%w: %d", ErrBadConstant, idx))
			}
			vm.push(vm.chunk.Constants.At(idx))

		case OpAdd:
			b, a := vm.pop(), vm.pop()
			vm.push(a + b)

		case OpSubtract:
			b, a := vm.pop(), vm.pop()
			vm.push(a - b)

		case OpMultiply:
			b, a := vm.pop(), vm.pop()
			vm.push(a * b)

		case OpDivide:
			b, a := vm.pop(), vm.pop()
			vm.push(a / b)

		case OpNegate:
			vm.push(-vm.pop())

		case OpReturn:
			return vm.pop(), nil
		}
	}

	return 0, &RuntimeError{Offset: len(code), Line: vm.chunk.GetLine(len(code) - 1), Op: OpReturn, Err: ErrNoReturn}
}

func (vm *VM) push(v value.Value) {
	vm.stack[vm.sp] = v
	vm.sp++
}

func (vm *VM) pop() value.Value {
	vm.sp--
	return vm.stack[vm.sp]
}

func (vm *VM) peek(distance int) value.Value {
	return vm.stack[vm.sp-1-distance]
}

// stackString renders the live stack slots for tracing.
func (vm *VM) stackString() string {
	var sb strings.Builder
	for i := 0; i < vm.sp; i++ {
		sb.WriteString("[ ")
		value.Print(&sb, vm.stack[i])
		sb.WriteString(" ]")
	}
	return sb.String()
}
