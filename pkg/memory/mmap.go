package memory

import (
	"github.com/praetorian-inc/sigscan/pkg/types"
)

// MappedRegion is a file image mapped read-only at a chosen base address.
type MappedRegion struct {
	*SliceRegion
	path    string
	cleanup func() error
}

// MapFile maps the file at path so that its first byte appears at base.
// The region must be closed to release the mapping.
func MapFile(path string, base types.Address) (*MappedRegion, error) {
	data, cleanup, err := mapFile(path)
	if err != nil {
		return nil, err
	}
	return &MappedRegion{
		SliceRegion: NewSliceRegion(base, data),
		path:        path,
		cleanup:     cleanup,
	}, nil
}

// Path returns the mapped file's path.
func (r *MappedRegion) Path() string { return r.path }

// Close releases the mapping. Reads after Close are invalid.
func (r *MappedRegion) Close() error {
	if r.cleanup == nil {
		return nil
	}
	cleanup := r.cleanup
	r.cleanup = nil
	r.SliceRegion = NewSliceRegion(r.base, nil)
	return cleanup()
}
