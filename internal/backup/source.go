package backup

import (
	"fmt"
	"os"
	"path/filepath"
)

// Source is a backup whose size can be learned without reading it.
type Source interface {
	Name() string
	Size() (int64, error)
	ReadAll() (string, error)
}

// File is a backup on the local filesystem.
type File struct {
	Path string
}

// NewFile returns a Source for path.
func NewFile(path string) *File {
	return &File{Path: path}
}

// Name returns the path as given.
func (f *File) Name() string { return f.Path }

// Base returns the file name without its directory.
func (f *File) Base() string { return filepath.Base(f.Path) }

// Size stats the file.
func (f *File) Size() (int64, error) {
	info, err := os.Stat(f.Path)
	if err != nil {
		return 0, fmt.Errorf("stat backup: %w", err)
	}
	if info.IsDir() {
		return 0, fmt.Errorf("stat backup: %s is a directory", f.Path)
	}
	return info.Size(), nil
}

// ReadAll loads the whole file. Callers check Size against their ceiling
// first.
func (f *File) ReadAll() (string, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return "", fmt.Errorf("read backup: %w", err)
	}
	return string(data), nil
}
