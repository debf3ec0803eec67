package bytecode

import (
	"fmt"

	"github.com/cthuloops/clox/pkg/value"
	"github.com/fxamacker/cbor/v2"
)

// cborEncMode uses canonical mode so that equal chunks encode to equal
// bytes.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("bytecode: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// wireChunk is the encoded form of a Chunk.
type wireChunk struct {
	Version   uint16      `cbor:"1,keyasint"`
	Code      []byte      `cbor:"2,keyasint"`
	Lines     []LineStart `cbor:"3,keyasint,omitempty"`
	Constants []float64   `cbor:"4,keyasint,omitempty"`
}

// MarshalChunk serializes a Chunk to CBOR bytes.
func MarshalChunk(c *Chunk) ([]byte, error) {
	w := wireChunk{
		Version: c.Version,
		Code:    c.Code,
		Lines:   c.Lines,
	}
	if n := c.Constants.Count(); n > 0 {
		w.Constants = make([]float64, n)
		for i := range w.Constants {
			w.Constants[i] = float64(c.Constants.At(i))
		}
	}
	return cborEncMode.Marshal(&w)
}

// UnmarshalChunk deserializes a Chunk from CBOR bytes. The constant pool
// is rebuilt with the given growth base, as NewChunk does.
func UnmarshalChunk(data []byte, minConstants int) (*Chunk, error) {
	var w wireChunk
	if err := cbor.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("bytecode: unmarshal chunk: %w", err)
	}
	if w.Version > BytecodeVersion {
		return nil, fmt.Errorf("bytecode: version %d is newer than supported version %d", w.Version, BytecodeVersion)
	}
	if len(w.Constants) > MaxConstants {
		return nil, fmt.Errorf("bytecode: %w: %d", ErrTooManyConstants, len(w.Constants))
	}
	for i := 1; i < len(w.Lines); i++ {
		if w.Lines[i].Offset <= w.Lines[i-1].Offset {
			return nil, fmt.Errorf("bytecode: line table not sorted at entry %d", i)
		}
	}

	c := NewChunk(minConstants)
	c.Version = w.Version
	c.Code = append(c.Code, w.Code...)
	c.Lines = w.Lines
	for _, f := range w.Constants {
		c.Constants.Write(value.Value(f))
	}
	return c, nil
}
