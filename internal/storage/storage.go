// Package storage contains an interface for reading and writing the downloaded file.
package storage

import "io"

// Storage is an interface for reading/writing torrent data.
type Storage interface {
	// Open returns a writable file named name truncated or extended to size bytes.
	// exists reports whether the file was already present.
	Open(name string, size int64) (f File, exists bool, err error)
	// OpenReader returns a new read-only handle to a file returned from Open.
	OpenReader(name string) (Reader, error)
}

// File interface for reading/writing torrent data.
type File interface {
	io.ReaderAt
	io.WriterAt
	io.Closer
}

// Reader is a read-only handle.
type Reader interface {
	io.ReaderAt
	io.Closer
}
