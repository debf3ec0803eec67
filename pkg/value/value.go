// Package value holds the runtime representation of numbers and the growable
// array the compiler uses as a constant pool.
//
// A ValueArray owns its backing storage outright. Storage grows
// geometrically: the first write allocates room for MinCapacity values and
// every later growth doubles the capacity. Callers must not hold on to
// element storage across a Write, since growth moves the elements; re-read
// by index instead.
package value

import (
	"io"
	"math"
	"strconv"
)

// Value is a double-precision number, the VM's only runtime type.
type Value float64

// Format returns the textual form of v. The output matches C's "%g":
// six significant digits, trailing zeros dropped, exponent form outside
// [1e-4, 1e6).
func Format(v Value) string {
	f := float64(v)
	switch {
	case math.IsNaN(f):
		return "nan"
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	}
	return strconv.FormatFloat(f, 'g', 6, 64)
}

// Print writes the textual form of v to w.
func Print(w io.Writer, v Value) {
	io.WriteString(w, Format(v))
}

// String implements fmt.Stringer.
func (v Value) String() string {
	return Format(v)
}
