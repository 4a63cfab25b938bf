package filestorage

import "os"

// File syncs to disk after every positioned write.
type File struct {
	*os.File
}

// WriteAt writes b at off and flushes it to stable storage.
func (f *File) WriteAt(b []byte, off int64) (n int, err error) {
	n, err = f.File.WriteAt(b, off)
	if err != nil {
		return
	}
	return n, f.File.Sync()
}
