// Package memory provides read-only views of address spaces for the matcher.
//
// A Region is a contiguous range [Start, End) of addresses. Reads outside the
// range, or of pages the backing store cannot supply, fail with ErrUnreadable
// instead of faulting.
package memory

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"

	"github.com/praetorian-inc/sigscan/pkg/types"
)

var (
	// ErrUnreadable is wrapped by every failed read.
	ErrUnreadable = errors.New("memory unreadable")

	// ErrUnsupported is returned by providers not available on this platform.
	ErrUnsupported = errors.New("not supported on this platform")
)

// Region is a readable address range.
type Region interface {
	// Start is the first address of the region.
	Start() types.Address
	// End is one past the last address of the region.
	End() types.Address
	// Contains reports whether Start() <= addr < End().
	Contains(addr types.Address) bool
	// ReadBytes returns n bytes at addr. The returned slice may alias the
	// region's storage and must not be modified.
	ReadBytes(addr types.Address, n int) ([]byte, error)
}

// ByteRegion is a Region backed by a single in-process byte slice.
type ByteRegion interface {
	Region
	// Bytes returns the full contents, with Bytes()[0] at Start().
	Bytes() []byte
}

// InBounds reports whether [addr, addr+n) lies entirely within r. It never
// overflows, whatever the values of addr and n.
func InBounds(r Region, addr types.Address, n int) bool {
	if n < 0 {
		return false
	}
	start, end := r.Start(), r.End()
	if addr < start || addr > end {
		return false
	}
	return uint64(n) <= uint64(end-addr)
}

func unreadable(addr types.Address, n int) error {
	return errors.Wrapf(ErrUnreadable, "read of %d bytes at %s", n, addr)
}

// ReadUint8 reads one byte at addr.
func ReadUint8(r Region, addr types.Address) (uint8, error) {
	b, err := r.ReadBytes(addr, 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// ReadInt8 reads a signed byte at addr.
func ReadInt8(r Region, addr types.Address) (int8, error) {
	v, err := ReadUint8(r, addr)
	return int8(v), err
}

// ReadInt16 reads a little-endian int16 at addr.
func ReadInt16(r Region, addr types.Address) (int16, error) {
	b, err := r.ReadBytes(addr, 2)
	if err != nil {
		return 0, err
	}
	return int16(binary.LittleEndian.Uint16(b)), nil
}

// ReadInt32 reads a little-endian int32 at addr.
func ReadInt32(r Region, addr types.Address) (int32, error) {
	b, err := r.ReadBytes(addr, 4)
	if err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(b)), nil
}

// ReadUint64 reads a little-endian uint64 at addr.
func ReadUint64(r Region, addr types.Address) (uint64, error) {
	b, err := r.ReadBytes(addr, 8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// ReadPointer reads an 8-byte absolute address at addr.
func ReadPointer(r Region, addr types.Address) (types.Address, error) {
	v, err := ReadUint64(r, addr)
	return types.Address(v), err
}

// ReadSigned reads a signed little-endian integer of width 1, 2 or 4.
func ReadSigned(r Region, addr types.Address, width int) (int64, error) {
	switch width {
	case 1:
		v, err := ReadInt8(r, addr)
		return int64(v), err
	case 2:
		v, err := ReadInt16(r, addr)
		return int64(v), err
	case 4:
		v, err := ReadInt32(r, addr)
		return int64(v), err
	default:
		return 0, errors.Newf("unsupported integer width %d", width)
	}
}
