// Package window provides random-access byte-range reads over a large
// input without loading it into memory. If the input is already a
// seekable file, the window maps it directly; otherwise it first spools
// the input to a temporary file and maps that instead.
package window

import (
	"errors"
	"fmt"
	"io"
	"os"
	"syscall"
)

// ErrEmptySource is returned when Open is given a zero-length source.
var ErrEmptySource = errors.New("window: source is empty")

// Window is a scoped resource: Close releases the mapping and, if a
// temporary file was materialized, removes it.
type Window struct {
	file       *os.File
	data       []byte
	ownsFile   bool // true if file was created by Open (temp-file path)
	tempPath   string
}

// Open creates a random-access window over src. size is the total length
// of src in bytes and must be known up front (the caller's split/merge
// operations already know the file's length before opening a window).
//
// If src is a regular *os.File, that file is mapped directly. Any other
// io.Reader (including a pipe or other non-regular *os.File) is first copied into a temporary file in dir (or the
// default temp directory if dir is empty), which is then mapped; Close
// removes the temporary file in that case.
func Open(src io.Reader, size int64, dir string) (*Window, error) {
	if size <= 0 {
		return nil, ErrEmptySource
	}

	if f, ok := src.(*os.File); ok {
		if info, err := f.Stat(); err == nil && info.Mode().IsRegular() {
			return mapFile(f, size, false, "")
		}
	}

	tmp, err := os.CreateTemp(dir, "chuncker-window-*")
	if err != nil {
		return nil, fmt.Errorf("window: create temp file: %w", err)
	}
	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("window: spool source: %w", err)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("window: rewind temp file: %w", err)
	}
	return mapFile(tmp, size, true, tmp.Name())
}

func mapFile(f *os.File, size int64, owns bool, tempPath string) (*Window, error) {
	data, err := syscall.Mmap(int(f.Fd()), 0, int(size), syscall.PROT_READ, syscall.MAP_SHARED)
	if err != nil {
		if owns {
			f.Close()
			os.Remove(tempPath)
		}
		return nil, fmt.Errorf("window: mmap: %w", err)
	}
	return &Window{file: f, data: data, ownsFile: owns, tempPath: tempPath}, nil
}

// ReadRange returns a copy of the bytes in [offset, offset+length). Safe
// for concurrent callers across disjoint or overlapping ranges: the
// underlying mapping is read-only and never mutated after Open.
func (w *Window) ReadRange(offset, length int64) ([]byte, error) {
	if offset < 0 || length < 0 || offset+length > int64(len(w.data)) {
		return nil, fmt.Errorf("window: range [%d,%d) out of bounds (size %d)", offset, offset+length, len(w.data))
	}
	out := make([]byte, length)
	copy(out, w.data[offset:offset+length])
	return out, nil
}

// Size returns the mapped length in bytes.
func (w *Window) Size() int64 {
	return int64(len(w.data))
}

// Close unmaps the window and, if a temporary file was materialized,
// removes it.
func (w *Window) Close() error {
	var err error
	if w.data != nil {
		if unmapErr := syscall.Munmap(w.data); unmapErr != nil {
			err = unmapErr
		}
		w.data = nil
	}
	if w.file != nil {
		if closeErr := w.file.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
		w.file = nil
	}
	if w.ownsFile && w.tempPath != "" {
		if rmErr := os.Remove(w.tempPath); rmErr != nil && !os.IsNotExist(rmErr) && err == nil {
			err = rmErr
		}
	}
	return err
}
