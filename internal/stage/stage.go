// Package stage keeps a downloaded asset on disk for the duration of one run.
package stage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/blacktop/comicpost/internal/comicpost"
	"github.com/blacktop/comicpost/internal/logutil"
)

// File is a staged media file owned by a single run.
type File struct {
	Path string
}

// Write stores data as dir/name. name must be a bare file name and must not
// already exist in dir; an existing file is never overwritten.
func Write(dir, name string, data []byte) (*File, error) {
	if name == "" || name != filepath.Base(name) || name == "." || name == ".." {
		return nil, comicpost.ValidationError{Provider: "stage", Reason: fmt.Sprintf("invalid file name %q", name)}
	}
	if dir == "" {
		dir = "."
	}

	path := filepath.Join(dir, name)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, comicpost.NewLocalIOError("write", path, err)
	}
	_, err = f.Write(data)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return nil, comicpost.NewLocalIOError("write", path, err)
	}
	logutil.Debugf("staged %s: bytes=%d", path, len(data))

	return &File{Path: path}, nil
}

// Remove deletes the staged file. A file that is already gone is reported
// as a LocalIOError wrapping os.ErrNotExist.
func (f *File) Remove() error {
	if err := os.Remove(f.Path); err != nil {
		return comicpost.NewLocalIOError("remove", f.Path, err)
	}
	return nil
}

// Cleanup removes the staged file and never fails: problems are logged.
// It is safe to call more than once.
func (f *File) Cleanup() {
	err := f.Remove()
	switch {
	case err == nil:
		logutil.Debugf("removed staged file %s", f.Path)
	case errors.Is(err, os.ErrNotExist):
		logutil.Warnf("staged file already removed: %v", err)
	default:
		logutil.Warnf("cleanup failed: %v", err)
	}
}
