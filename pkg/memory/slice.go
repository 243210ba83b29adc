package memory

import (
	"github.com/praetorian-inc/sigscan/pkg/types"
)

// SliceRegion exposes a byte slice as if it were mapped at Base.
type SliceRegion struct {
	base types.Address
	data []byte
}

// NewSliceRegion maps data at base. If base+len(data) would pass the top of
// the address space the slice is truncated to fit.
func NewSliceRegion(base types.Address, data []byte) *SliceRegion {
	if room := ^uint64(0) - uint64(base); uint64(len(data)) > room {
		data = data[:room]
	}
	return &SliceRegion{base: base, data: data}
}

// Start returns the base address.
func (r *SliceRegion) Start() types.Address { return r.base }

// End returns base plus the slice length.
func (r *SliceRegion) End() types.Address { return r.base + types.Address(len(r.data)) }

// Contains reports whether addr is inside the slice.
func (r *SliceRegion) Contains(addr types.Address) bool {
	return addr >= r.base && addr < r.End()
}

// ReadBytes returns a subslice of the backing data.
func (r *SliceRegion) ReadBytes(addr types.Address, n int) ([]byte, error) {
	if !InBounds(r, addr, n) {
		return nil, unreadable(addr, n)
	}
	off := uint64(addr - r.base)
	return r.data[off : off+uint64(n)], nil
}

// Bytes returns the backing slice.
func (r *SliceRegion) Bytes() []byte { return r.data }
