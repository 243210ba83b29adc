//go:build !unix

package memory

import (
	"os"

	"github.com/cockroachdb/errors"
)

// mapFile reads the whole file when mmap is not available.
func mapFile(path string) ([]byte, func() error, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, errors.Wrap(err, "read image")
	}
	return data, func() error { return nil }, nil
}
