// Package bitfield provides support for manipulating bits in a []byte.
//
// Bit 0 is the most significant bit of the first byte, which is the layout
// peers exchange in bitfield messages (BEP 3). Trailing bits of the last byte
// are always kept clear.
package bitfield

import (
	"encoding/hex"
	"errors"
	"math/bits"
)

var errNotEnoughBytes = errors.New("not enough bytes in slice for specified length")

// NumBytes returns the number of bytes needed to hold length bits.
func NumBytes(length uint32) int {
	return int((uint64(length) + 7) / 8)
}

// Bitfield is a fixed length set of bits.
type Bitfield struct {
	bytes  []byte
	length uint32
}

// New creates a new Bitfield of length bits.
func New(length uint32) *Bitfield {
	return &Bitfield{
		bytes:  make([]byte, NumBytes(length)),
		length: length,
	}
}

// NewBytes returns a new Bitfield from bytes.
// Bytes in b are not copied. Unused bits in last byte are cleared.
func NewBytes(b []byte, length uint32) (*Bitfield, error) {
	required := NumBytes(length)
	if len(b) < required {
		return nil, errNotEnoughBytes
	}
	b = b[:required]
	if mod := length % 8; mod != 0 {
		b[required-1] &= ^byte(0xff >> mod)
	}
	return &Bitfield{
		bytes:  b,
		length: length,
	}, nil
}

// Copy returns a deep copy of b.
func (b *Bitfield) Copy() *Bitfield {
	b2 := &Bitfield{
		bytes:  make([]byte, len(b.bytes)),
		length: b.length,
	}
	copy(b2.bytes, b.bytes)
	return b2
}

// Bytes returns bytes in b. If you modify the returned slice the bits in b are modified too.
func (b *Bitfield) Bytes() []byte { return b.bytes }

// Len returns the number of bits as given to New.
func (b *Bitfield) Len() uint32 { return b.length }

// Hex returns bytes as string.
func (b *Bitfield) Hex() string { return hex.EncodeToString(b.bytes) }

// Set bit i. Panics if i >= b.Len().
func (b *Bitfield) Set(i uint32) {
	b.checkIndex(i)
	b.bytes[i/8] |= 1 << (7 - i%8)
}

// Clear bit i. Panics if i >= b.Len().
func (b *Bitfield) Clear(i uint32) {
	b.checkIndex(i)
	b.bytes[i/8] &= ^(1 << (7 - i%8))
}

// ClearAll clears all bits.
func (b *Bitfield) ClearAll() {
	for i := range b.bytes {
		b.bytes[i] = 0
	}
}

// Test bit i. Panics if i >= b.Len().
func (b *Bitfield) Test(i uint32) bool {
	b.checkIndex(i)
	return b.bytes[i/8]&(1<<(7-i%8)) != 0
}

// Count returns the count of set bits.
func (b *Bitfield) Count() uint32 {
	var total uint32
	for _, v := range b.bytes {
		total += uint32(bits.OnesCount8(v))
	}
	return total
}

// All returns true if all bits are set, false otherwise.
func (b *Bitfield) All() bool {
	return b.Count() == b.length
}

// Or sets every bit that is set in b2. Panics if lengths differ.
func (b *Bitfield) Or(b2 *Bitfield) {
	if b.length != b2.length {
		panic("length mismatch")
	}
	for i := range b.bytes {
		b.bytes[i] |= b2.bytes[i]
	}
}

func (b *Bitfield) checkIndex(i uint32) {
	if i >= b.length {
		panic("index out of bound")
	}
}
