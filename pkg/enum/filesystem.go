package enum

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	gitignore "github.com/sabhiram/go-gitignore"
)

// FilesystemEnumerator enumerates files from a filesystem path.
type FilesystemEnumerator struct {
	config Config
}

// NewFilesystemEnumerator creates a new filesystem enumerator.
func NewFilesystemEnumerator(config Config) *FilesystemEnumerator {
	return &FilesystemEnumerator{config: config}
}

// Enumerate walks the filesystem and yields eligible files sequentially.
// A Root naming a single file yields that file regardless of filters.
func (e *FilesystemEnumerator) Enumerate(ctx context.Context, callback Callback) error {
	rootInfo, err := os.Stat(e.config.Root)
	if err != nil {
		return errors.Wrapf(err, "failed to stat %s", e.config.Root)
	}
	if !rootInfo.IsDir() {
		return callback(e.config.Root, rootInfo)
	}

	ignore, err := e.loadIgnore()
	if err != nil {
		return err
	}

	return filepath.WalkDir(e.config.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		if path != e.config.Root && !e.config.IncludeHidden && isHidden(d.Name()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if ignore != nil && path != e.config.Root {
			relPath, err := filepath.Rel(e.config.Root, path)
			if err != nil {
				return err
			}
			if d.IsDir() {
				relPath += string(filepath.Separator)
			}
			if ignore.MatchesPath(relPath) {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
		}

		if d.IsDir() {
			return nil
		}

		info, err := e.fileInfo(path, d)
		if err != nil || info == nil {
			return err
		}

		if e.config.MaxFileSize > 0 && info.Size() > e.config.MaxFileSize {
			return nil
		}

		return callback(path, info)
	})
}

// fileInfo resolves d to a regular file, or nil when it should be skipped.
func (e *FilesystemEnumerator) fileInfo(path string, d fs.DirEntry) (fs.FileInfo, error) {
	if d.Type()&fs.ModeSymlink != 0 {
		if !e.config.FollowSymlinks {
			return nil, nil
		}
		info, err := os.Stat(path)
		if err != nil {
			// Dangling link.
			return nil, nil
		}
		if !info.Mode().IsRegular() {
			return nil, nil
		}
		return info, nil
	}

	if !d.Type().IsRegular() {
		return nil, nil
	}
	info, err := d.Info()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to stat %s", path)
	}
	return info, nil
}

func (e *FilesystemEnumerator) loadIgnore() (*gitignore.GitIgnore, error) {
	name := e.config.IgnoreFile
	if name == "-" {
		return nil, nil
	}
	if name == "" {
		name = ".gitignore"
	}

	path := filepath.Join(e.config.Root, name)
	if _, err := os.Stat(path); err != nil {
		return nil, nil
	}
	ignore, err := gitignore.CompileIgnoreFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse %s", path)
	}
	return ignore, nil
}

// isHidden checks if a filename is hidden (starts with .).
// The special entries "." and ".." are NOT considered hidden.
func isHidden(name string) bool {
	if name == "." || name == ".." {
		return false
	}
	return strings.HasPrefix(name, ".")
}
