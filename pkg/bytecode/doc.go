// Package bytecode provides the chunk format, disassembler, assembler and
// stack-based virtual machine built on top of the value package.
//
// # Chunks
//
// A Chunk is a compiled unit: a code section, a run-length encoded line
// table and a constant pool. The constant pool is a value.ValueArray owned
// by the chunk; constants are addressed by their position in the pool and
// are re-read by index on every use, never through cached references.
//
// Constants are loaded with one of two instructions:
//
//   - OpConstant <index:u8> for the first 256 constants
//   - OpConstantLong <index:u24> for everything after that
//
// # Encoding
//
// Chunks serialize to canonical CBOR with integer keys (see MarshalChunk),
// which makes the encoding deterministic and suitable as a cache key. The
// constant pool is encoded as a plain list of numbers and rebuilt on decode
// by appending each number in order.
//
// # Execution
//
// The VM interprets arithmetic over numbers only. Every instruction checks
// its stack requirements, and the context passed to Interpret is consulted
// between instructions.
package bytecode
