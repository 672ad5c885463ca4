// Package storage persists initialization and media segments.
package storage

import (
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// Storage stores and retrieves stream segments
type Storage interface {
	// Write writes data to a file path
	Write(path string, data []byte) error

	// Read reads data from a file path
	Read(path string) ([]byte, error)

	// ReadSeeker returns a ReadSeeker for the file (useful for http.ServeContent)
	ReadSeeker(path string) (io.ReadSeeker, error)

	// Delete deletes a file
	Delete(path string) error

	// Exists checks if a file exists
	Exists(path string) (bool, error)

	// List lists files in a directory
	List(dir string) ([]string, error)
}

// ContentType returns the MIME type of a stored file
func ContentType(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".mp4":
		return "video/mp4"
	case ".m4s":
		return "video/iso.segment"
	case ".flv":
		return "video/x-flv"
	case ".m3u8":
		return "application/vnd.apple.mpegurl"
	}
	return "application/octet-stream"
}

// CacheControl returns the caching policy of a stored file. Segments never
// change once written.
func CacheControl(name string) string {
	if strings.ToLower(path.Ext(name)) == ".m4s" {
		return "public, max-age=31536000, immutable"
	}
	return "no-cache"
}

// LocalStorage implements Storage using local filesystem
type LocalStorage struct {
	baseDir string
}

// NewLocalStorage creates a new local storage instance
func NewLocalStorage(baseDir string) (*LocalStorage, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, errors.Wrap(err, "failed to create base directory")
	}
	return &LocalStorage{
		baseDir: baseDir,
	}, nil
}

// Write writes data to a file
func (s *LocalStorage) Write(path string, data []byte) error {
	fullPath := s.GetFullPath(path)
	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return errors.Wrap(err, "failed to create directory")
	}
	// write through a temporary file so readers never see a partial segment
	tmp := fullPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return errors.Wrap(err, "failed to write file")
	}
	if err := os.Rename(tmp, fullPath); err != nil {
		os.Remove(tmp)
		return errors.Wrap(err, "failed to write file")
	}
	return nil
}

// Read reads data from a file
func (s *LocalStorage) Read(path string) ([]byte, error) {
	data, err := os.ReadFile(s.GetFullPath(path))
	if err != nil {
		return nil, errors.Wrap(err, "failed to read file")
	}
	return data, nil
}

// ReadSeeker returns a ReadSeeker for the file
func (s *LocalStorage) ReadSeeker(path string) (io.ReadSeeker, error) {
	file, err := os.Open(s.GetFullPath(path))
	if err != nil {
		return nil, errors.Wrap(err, "failed to open file")
	}
	return file, nil
}

// Delete deletes a file
func (s *LocalStorage) Delete(path string) error {
	if err := os.Remove(s.GetFullPath(path)); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "failed to delete file")
	}
	return nil
}

// Exists checks if a file exists
func (s *LocalStorage) Exists(path string) (bool, error) {
	_, err := os.Stat(s.GetFullPath(path))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, errors.Wrap(err, "failed to check file existence")
	}
	return true, nil
}

// List lists files in a directory
func (s *LocalStorage) List(dir string) ([]string, error) {
	entries, err := os.ReadDir(s.GetFullPath(dir))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to list directory")
	}
	files := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			files = append(files, entry.Name())
		}
	}
	return files, nil
}

// GetFullPath returns the full filesystem path for a relative path
func (s *LocalStorage) GetFullPath(path string) string {
	return filepath.Join(s.baseDir, path)
}
