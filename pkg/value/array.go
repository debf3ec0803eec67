package value

import (
	"fmt"
	"math"
	"runtime"
	"unsafe"
)

const (
	// MinCapacity is the capacity allocated by the first write into an
	// empty array.
	MinCapacity = 8

	// GrowthFactor multiplies the capacity each time a full array grows.
	GrowthFactor = 2
)

// maxCapacity is the largest element count whose storage size in bytes
// still fits in an int.
const maxCapacity = math.MaxInt / int(unsafe.Sizeof(Value(0)))

// AllocationError reports that the growth step could not obtain storage.
// It is only ever raised as a panic from Write; there is no recovery
// strategy at this layer.
type AllocationError struct {
	Count     int   // elements held when growth was attempted
	Capacity  int   // capacity before growth
	Requested int   // capacity the growth step asked for; zero when none could be computed
	Err       error // underlying failure, if any
}

func (e *AllocationError) Error() string {
	var msg string
	if e.Requested > 0 {
		msg = fmt.Sprintf("value array: cannot grow capacity %d to %d (count %d)",
			e.Capacity, e.Requested, e.Count)
	} else {
		msg = fmt.Sprintf("value array: cannot grow capacity %d (count %d)", e.Capacity, e.Count)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AllocationError) Unwrap() error {
	return e.Err
}

// ValueArray is a growable sequence of Values that exclusively owns its
// backing storage. The zero value is an empty array ready for use.
//
// A ValueArray must not be copied after its first Write: two copies would
// share storage. It is not safe for concurrent use.
type ValueArray struct {
	values []Value // len(values) is the capacity
	count  int
	minCap int // 0 selects MinCapacity
}

// NewValueArray returns an empty array whose first growth allocates
// minCapacity elements. A minCapacity of zero or less selects MinCapacity.
func NewValueArray(minCapacity int) *ValueArray {
	a := &ValueArray{}
	a.Init()
	if minCapacity > 0 {
		a.minCap = minCapacity
	}
	return a
}

// Init puts the array into the empty state with the default growth base.
// No storage is allocated.
func (a *ValueArray) Init() {
	a.values = nil
	a.count = 0
	a.minCap = 0
}

// Write appends v as the new last element, growing storage first when the
// array is full. Growth panics with *AllocationError if storage cannot be
// obtained; the array is left exactly as it was.
func (a *ValueArray) Write(v Value) {
	if a.count == len(a.values) {
		a.grow()
	}
	a.values[a.count] = v
	a.count++
}

// Free releases the storage and returns the array to the empty state.
// The growth base chosen by NewValueArray is kept. Freeing an empty array
// does nothing.
func (a *ValueArray) Free() {
	if a.values == nil && a.count == 0 {
		return
	}
	a.values = nil
	a.count = 0
}

// Count returns the number of stored elements.
func (a *ValueArray) Count() int {
	return a.count
}

// Capacity returns the number of elements the current storage can hold.
func (a *ValueArray) Capacity() int {
	return len(a.values)
}

// MinCapacity returns the capacity the first growth allocates.
func (a *ValueArray) MinCapacity() int {
	if a.minCap > 0 {
		return a.minCap
	}
	return MinCapacity
}

// At returns the element at index i. The caller guarantees
// 0 <= i < Count(); indexes past Count but inside the capacity are not
// detected.
func (a *ValueArray) At(i int) Value {
	return a.values[i]
}

// Values returns a copy of the stored elements.
func (a *ValueArray) Values() []Value {
	if a.count == 0 {
		return nil
	}
	out := make([]Value, a.count)
	copy(out, a.values[:a.count])
	return out
}

// grow replaces the storage with a larger one. The old storage is only
// dropped after the new one has been obtained and filled.
func (a *ValueArray) grow() {
	old := len(a.values)
	newCap, err := growCapacity(a.MinCapacity(), old)
	if err != nil {
		panic(&AllocationError{Count: a.count, Capacity: old, Requested: newCap, Err: err})
	}
	values, err := allocate(newCap)
	if err != nil {
		panic(&AllocationError{Count: a.count, Capacity: old, Requested: newCap, Err: err})
	}
	copy(values, a.values[:a.count])
	a.values = values
}

// growCapacity applies max(minCap, GrowthFactor*old), refusing results
// that overflow the addressable element count.
func growCapacity(minCap, old int) (int, error) {
	if old > maxCapacity/GrowthFactor {
		return 0, fmt.Errorf("growing capacity %d would exceed limit %d", old, maxCapacity)
	}
	newCap := old * GrowthFactor
	if newCap < minCap {
		newCap = minCap
	}
	return newCap, nil
}

// allocate turns the runtime's makeslice panic into an error. An
// exhausted heap is fatal to the process and never reaches this point.
func allocate(n int) (values []Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			rerr, ok := r.(runtime.Error)
			if !ok {
				panic(r)
			}
			err = rerr
		}
	}()
	return make([]Value, n), nil
}

// WithValueArray runs fn with a fresh array and frees the array on every
// exit path, including a panic in fn.
func WithValueArray(fn func(a *ValueArray) error) error {
	var a ValueArray
	defer a.Free()
	return fn(&a)
}
