// Package fs is the filesystem seam pkg/config writes its JSONC file
// through: an [FS] interface narrow enough to cover "read a file" and
// "atomically replace a file," and a [Real] implementation that is a
// pure passthrough to [os].
//
// Trimmed from the teacher's pkg/fs, which backs a much larger
// surface (ticket-store reads, directory listings, chaos/crash fault
// injection for its WAL). pkg/config only ever reads one file and
// atomically rewrites one file, so this package keeps exactly the
// five [FS] methods and four [File] methods that [AtomicWriter] and
// config.Load actually call — see DESIGN.md.
package fs

import (
	"io"
	"os"
)

// File is the open-file handle [AtomicWriter] needs: write the temp
// file's contents, fsync it, chmod it, close it. Satisfied by
// [os.File].
type File interface {
	io.Writer
	io.Closer

	// Sync commits the file's contents to disk. See [os.File.Sync].
	Sync() error

	// Chmod changes the mode of the file. See [os.File.Chmod].
	Chmod(mode os.FileMode) error
}

// FS is the filesystem operations pkg/config needs: read its config
// file, and atomically replace it via a temp-file-then-rename
// sequence. See [Real] for the production implementation.
type FS interface {
	// Open opens a file for reading. See [os.Open]. AtomicWriter uses
	// this only to open a directory handle for fsync after a rename.
	Open(path string) (File, error)

	// OpenFile opens a file with specified flags and permissions. See
	// [os.OpenFile]. AtomicWriter uses this to create its temp file.
	OpenFile(path string, flag int, perm os.FileMode) (File, error)

	// ReadFile reads an entire file into memory. See [os.ReadFile].
	ReadFile(path string) ([]byte, error)

	// Remove deletes a file. See [os.Remove]. AtomicWriter uses this to
	// clean up a temp file after a failed write.
	Remove(path string) error

	// Rename moves/renames a file. See [os.Rename]. Atomic on the same
	// filesystem — this is the step that makes AtomicWriter atomic.
	Rename(oldpath, newpath string) error
}

// Compile-time interface check.
var _ File = (*os.File)(nil)
