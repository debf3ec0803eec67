package bytecode

import "fmt"

// Opcode represents a bytecode instruction.
// Opcodes are organized into ranges by category for easy identification.
type Opcode byte

const (
	// ========================================================================
	// Stack manipulation (0x00-0x0F)
	// ========================================================================

	OpNop  Opcode = 0x00 // No operation
	OpPop  Opcode = 0x01 // Pop top of stack
	OpDup  Opcode = 0x02 // Duplicate top of stack
	OpSwap Opcode = 0x03 // Swap top two stack elements

	// ========================================================================
	// Constants (0x10-0x1F)
	// ========================================================================

	OpConstant     Opcode = 0x10 // Push constant from pool: OpConstant <index:u8>
	OpConstantLong Opcode = 0x11 // Push constant from pool: OpConstantLong <index:u24>

	// ========================================================================
	// Arithmetic (0x50-0x5F)
	// ========================================================================

	OpAdd      Opcode = 0x50 // Pop two, push sum
	OpSubtract Opcode = 0x51 // Pop two, push difference (a - b where b is TOS)
	OpMultiply Opcode = 0x52 // Pop two, push product
	OpDivide   Opcode = 0x53 // Pop two, push quotient (a / b where b is TOS)
	OpNegate   Opcode = 0x55 // Pop one, push its negation

	// ========================================================================
	// Return (0xF0-0xFF)
	// ========================================================================

	OpReturn Opcode = 0xF0 // Return top of stack
)

// OpcodeInfo provides metadata about each opcode for debugging and validation.
type OpcodeInfo struct {
	Name       string // Human-readable name
	StackPop   int    // How many values popped from stack
	StackPush  int    // How many values pushed to stack
	OperandLen int    // Number of operand bytes following the opcode
}

// opcodeInfoTable maps opcodes to their metadata.
var opcodeInfoTable = map[Opcode]OpcodeInfo{
	// Stack manipulation
	OpNop:  {"NOP", 0, 0, 0},
	OpPop:  {"POP", 1, 0, 0},
	OpDup:  {"DUP", 1, 2, 0},
	OpSwap: {"SWAP", 2, 2, 0},

	// Constants
	OpConstant:     {"CONSTANT", 0, 1, 1},
	OpConstantLong: {"CONSTANT_LONG", 0, 1, 3},

	// Arithmetic
	OpAdd:      {"ADD", 2, 1, 0},
	OpSubtract: {"SUBTRACT", 2, 1, 0},
	OpMultiply: {"MULTIPLY", 2, 1, 0},
	OpDivide:   {"DIVIDE", 2, 1, 0},
	OpNegate:   {"NEGATE", 1, 1, 0},

	// Return
	OpReturn: {"RETURN", 1, 0, 0},
}

// GetOpcodeInfo returns metadata for an opcode.
// Returns a zero OpcodeInfo with name "UNKNOWN" if the opcode is not recognized.
func GetOpcodeInfo(op Opcode) OpcodeInfo {
	if info, ok := opcodeInfoTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN(0x%02X)", byte(op))}
}

// IsValid reports whether op is a defined opcode.
func (op Opcode) IsValid() bool {
	_, ok := opcodeInfoTable[op]
	return ok
}

// String returns the human-readable name of an opcode.
func (op Opcode) String() string {
	return GetOpcodeInfo(op).Name
}

// OperandLen returns the number of operand bytes for this opcode.
func (op Opcode) OperandLen() int {
	return GetOpcodeInfo(op).OperandLen
}

// InstructionLen returns the total length of an instruction (1 + operand bytes).
func (op Opcode) InstructionLen() int {
	return 1 + op.OperandLen()
}

// IsArithmetic returns true for the binary and unary number operations.
func (op Opcode) IsArithmetic() bool {
	return op >= OpAdd && op <= OpNegate && op.IsValid()
}

// AllOpcodes returns a slice of all defined opcodes.
func AllOpcodes() []Opcode {
	opcodes := make([]Opcode, 0, len(opcodeInfoTable))
	for op := range opcodeInfoTable {
		opcodes = append(opcodes, op)
	}
	return opcodes
}
