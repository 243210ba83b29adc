package types

import "fmt"

// Target describes where a scanned image came from.
type Target interface {
	Kind() string
	// Path returns displayable path (if applicable)
	Path() string
}

// FileTarget for binary images read from disk.
type FileTarget struct {
	FilePath string
	Base     Address // address the image was mapped at for scanning
}

// Kind returns "file".
func (f FileTarget) Kind() string {
	return "file"
}

// Path returns the file path.
func (f FileTarget) Path() string {
	return f.FilePath
}

// ProcessTarget for a module mapped in a live process.
type ProcessTarget struct {
	PID     int32
	Process string // process name, if known
	Module  string // module path from the process memory map
	Base    Address
	Size    uint64
}

// Kind returns "process".
func (p ProcessTarget) Kind() string {
	return "process"
}

// Path returns "pid:<pid>/<module>".
func (p ProcessTarget) Path() string {
	return fmt.Sprintf("pid:%d/%s", p.PID, p.Module)
}

// MemoryTarget for caller-supplied buffers (library use, tests).
type MemoryTarget struct {
	Name string
	Base Address
}

// Kind returns "memory".
func (m MemoryTarget) Kind() string {
	return "memory"
}

// Path returns the buffer name.
func (m MemoryTarget) Path() string {
	return m.Name
}

// TargetBase returns the base address a target was scanned at.
func TargetBase(t Target) Address {
	switch v := t.(type) {
	case FileTarget:
		return v.Base
	case ProcessTarget:
		return v.Base
	case MemoryTarget:
		return v.Base
	default:
		return 0
	}
}
