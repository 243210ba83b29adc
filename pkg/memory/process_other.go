//go:build !linux

package memory

import (
	"github.com/praetorian-inc/sigscan/pkg/types"
)

// ProcessRegion is only implemented on Linux.
type ProcessRegion struct {
	pid   int32
	start types.Address
	end   types.Address
}

// OpenProcess returns ErrUnsupported on this platform.
func OpenProcess(pid int32, base types.Address, size uint64) (*ProcessRegion, error) {
	return nil, ErrUnsupported
}

func (r *ProcessRegion) PID() int32                       { return r.pid }
func (r *ProcessRegion) Start() types.Address             { return r.start }
func (r *ProcessRegion) End() types.Address               { return r.end }
func (r *ProcessRegion) Contains(addr types.Address) bool { return false }

func (r *ProcessRegion) ReadBytes(addr types.Address, n int) ([]byte, error) {
	return nil, unreadable(addr, n)
}

// Maps returns ErrUnsupported on this platform.
func Maps(pid int32) ([]Mapping, error) {
	return nil, ErrUnsupported
}

// ModuleRange returns ErrUnsupported on this platform.
func ModuleRange(pid int32, name string) (Module, error) {
	return Module{}, ErrUnsupported
}
