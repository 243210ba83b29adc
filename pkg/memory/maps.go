package memory

import (
	"bufio"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/praetorian-inc/sigscan/pkg/types"
)

// ErrModuleNotFound is returned when no mapping matches a module name.
var ErrModuleNotFound = errors.New("module not found")

// Mapping is one line of a /proc/<pid>/maps listing.
type Mapping struct {
	Start types.Address
	End   types.Address
	Perms string
	Path  string
}

// Readable reports whether the mapping has read permission.
func (m Mapping) Readable() bool {
	return strings.HasPrefix(m.Perms, "r")
}

// Module is the address range spanned by every mapping of one file.
type Module struct {
	Path string
	Base types.Address
	Size uint64
}

// End returns one past the module's last address.
func (m Module) End() types.Address {
	return m.Base + types.Address(m.Size)
}

// ParseMaps parses the /proc/<pid>/maps format:
//
//	55d0c8a00000-55d0c8a28000 r--p 00000000 08:01 1311 /usr/bin/cat
func ParseMaps(r io.Reader) ([]Mapping, error) {
	var mappings []Mapping
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 5 {
			return nil, errors.Newf("maps line %d: expected at least 5 fields", lineNum)
		}
		bounds := strings.SplitN(fields[0], "-", 2)
		if len(bounds) != 2 {
			return nil, errors.Newf("maps line %d: invalid range %q", lineNum, fields[0])
		}
		start, err := strconv.ParseUint(bounds[0], 16, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "maps line %d", lineNum)
		}
		end, err := strconv.ParseUint(bounds[1], 16, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "maps line %d", lineNum)
		}

		m := Mapping{Start: types.Address(start), End: types.Address(end), Perms: fields[1]}
		if len(fields) >= 6 {
			// Paths may contain spaces.
			m.Path = strings.Join(fields[5:], " ")
		}
		mappings = append(mappings, m)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "read maps")
	}
	return mappings, nil
}

// FindModule returns the range covered by mappings of the named module. name
// matches either the full path or its base name.
func FindModule(mappings []Mapping, name string) (Module, error) {
	var mod Module
	found := false
	for _, m := range mappings {
		if m.Path == "" || (m.Path != name && filepath.Base(m.Path) != name) {
			continue
		}
		if !found {
			mod = Module{Path: m.Path, Base: m.Start, Size: uint64(m.End - m.Start)}
			found = true
			continue
		}
		end := mod.End()
		if m.Start < mod.Base {
			mod.Base = m.Start
		}
		if m.End > end {
			end = m.End
		}
		mod.Size = uint64(end - mod.Base)
	}
	if !found {
		return Module{}, errors.Wrapf(ErrModuleNotFound, "%q", name)
	}
	return mod, nil
}
