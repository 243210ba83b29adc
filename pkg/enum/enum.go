package enum

import (
	"context"
	"io/fs"
)

// Callback receives each file selected for scanning.
type Callback func(path string, info fs.FileInfo) error

// Enumerator discovers binary images to scan from a source.
type Enumerator interface {
	// Enumerate yields files one at a time, in lexical walk order.
	Enumerate(ctx context.Context, callback Callback) error
}

// Config for enumeration.
type Config struct {
	// Root is the file or directory to enumerate.
	Root string

	// IncludeHidden includes hidden files/directories (starting with .).
	IncludeHidden bool

	// MaxFileSize is the maximum file size to process (0 = no limit).
	MaxFileSize int64

	// FollowSymlinks yields regular files reached through symbolic links.
	// Linked directories are never descended into.
	FollowSymlinks bool

	// IgnoreFile is the gitignore-style file consulted at Root.
	// Defaults to ".gitignore"; set to "-" to disable.
	IgnoreFile string
}
