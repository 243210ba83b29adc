//go:build linux

package memory

import (
	"fmt"
	"os"
	"sync"

	"github.com/cockroachdb/errors"
	"golang.org/x/sys/unix"

	"github.com/praetorian-inc/sigscan/pkg/types"
)

const pageSize = 4096

// ProcessRegion reads a range of another process's memory with
// process_vm_readv. Pages are fetched on first access and cached, so a
// region is a snapshot of whatever the target held when each page was read.
type ProcessRegion struct {
	pid   int32
	start types.Address
	end   types.Address

	mu    sync.Mutex
	pages map[types.Address][]byte // nil value: page unreadable
}

// OpenProcess returns a region covering [base, base+size) in process pid.
func OpenProcess(pid int32, base types.Address, size uint64) (*ProcessRegion, error) {
	if pid <= 0 {
		return nil, errors.Newf("invalid pid %d", pid)
	}
	if err := unix.Kill(int(pid), 0); err != nil && !errors.Is(err, unix.EPERM) {
		return nil, errors.Wrapf(err, "process %d", pid)
	}
	end := base + types.Address(size)
	if end < base {
		end = types.Address(^uint64(0))
	}
	return &ProcessRegion{
		pid:   pid,
		start: base,
		end:   end,
		pages: make(map[types.Address][]byte),
	}, nil
}

// PID returns the target process ID.
func (r *ProcessRegion) PID() int32 { return r.pid }

// Start returns the first address of the region.
func (r *ProcessRegion) Start() types.Address { return r.start }

// End returns one past the last address of the region.
func (r *ProcessRegion) End() types.Address { return r.end }

// Contains reports whether addr is inside the region.
func (r *ProcessRegion) Contains(addr types.Address) bool {
	return addr >= r.start && addr < r.end
}

// ReadBytes copies n bytes at addr out of the target process.
func (r *ProcessRegion) ReadBytes(addr types.Address, n int) ([]byte, error) {
	if !InBounds(r, addr, n) {
		return nil, unreadable(addr, n)
	}
	out := make([]byte, 0, n)

	r.mu.Lock()
	defer r.mu.Unlock()

	cur := addr
	for len(out) < n {
		pageAddr := cur &^ (pageSize - 1)
		page, err := r.page(pageAddr)
		if err != nil {
			return nil, unreadable(addr, n)
		}
		off := int(cur - pageAddr)
		take := len(page) - off
		if rest := n - len(out); take > rest {
			take = rest
		}
		out = append(out, page[off:off+take]...)
		cur += types.Address(take)
	}
	return out, nil
}

func (r *ProcessRegion) page(pageAddr types.Address) ([]byte, error) {
	if page, ok := r.pages[pageAddr]; ok {
		if page == nil {
			return nil, ErrUnreadable
		}
		return page, nil
	}

	buf := make([]byte, pageSize)
	local := []unix.Iovec{{Base: &buf[0]}}
	local[0].SetLen(pageSize)
	remote := []unix.RemoteIovec{{Base: uintptr(pageAddr), Len: pageSize}}

	read, err := unix.ProcessVMReadv(int(r.pid), local, remote, 0)
	if err != nil || read != pageSize {
		r.pages[pageAddr] = nil
		return nil, ErrUnreadable
	}
	r.pages[pageAddr] = buf
	return buf, nil
}

// Maps returns the parsed memory map of process pid.
func Maps(pid int32) ([]Mapping, error) {
	f, err := os.Open(fmt.Sprintf("/proc/%d/maps", pid))
	if err != nil {
		return nil, errors.Wrapf(err, "open maps for process %d", pid)
	}
	defer f.Close()
	return ParseMaps(f)
}

// ModuleRange locates a module in process pid. An empty name selects the
// main executable.
func ModuleRange(pid int32, name string) (Module, error) {
	if name == "" {
		exe, err := os.Readlink(fmt.Sprintf("/proc/%d/exe", pid))
		if err != nil {
			return Module{}, errors.Wrapf(err, "resolve executable of process %d", pid)
		}
		name = exe
	}
	mappings, err := Maps(pid)
	if err != nil {
		return Module{}, err
	}
	return FindModule(mappings, name)
}
