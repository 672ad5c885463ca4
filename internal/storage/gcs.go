package storage

import (
	"bytes"
	"context"
	"io"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/pkg/errors"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GCSStorage implements Storage using Google Cloud Storage
type GCSStorage struct {
	client     *storage.Client
	bucketName string
	baseDir    string
	ctx        context.Context
}

// NewGCSStorage creates a new GCS storage instance. baseDir is an object
// prefix within the bucket. Extra client options such as credentials files
// or a custom endpoint are passed through to the client.
func NewGCSStorage(ctx context.Context, bucketName, baseDir string, opts ...option.ClientOption) (*GCSStorage, error) {
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create GCS client")
	}
	bucket := client.Bucket(bucketName)
	if _, err := bucket.Attrs(ctx); err != nil {
		client.Close()
		return nil, errors.Wrapf(err, "failed to access bucket %s", bucketName)
	}
	return &GCSStorage{
		client:     client,
		bucketName: bucketName,
		baseDir:    baseDir,
		ctx:        ctx,
	}, nil
}

func (s *GCSStorage) object(name string) *storage.ObjectHandle {
	return s.client.Bucket(s.bucketName).Object(s.fullPath(name))
}

func (s *GCSStorage) fullPath(name string) string {
	if s.baseDir == "" {
		return name
	}
	return path.Join(s.baseDir, name)
}

// Write writes data to GCS
func (s *GCSStorage) Write(name string, data []byte) error {
	w := s.object(name).NewWriter(s.ctx)
	w.ContentType = ContentType(name)
	w.CacheControl = CacheControl(name)
	if _, err := w.Write(data); err != nil {
		w.Close()
		return errors.Wrap(err, "failed to write to GCS")
	}
	if err := w.Close(); err != nil {
		return errors.Wrap(err, "failed to close GCS writer")
	}
	return nil
}

// Read reads data from GCS
func (s *GCSStorage) Read(name string) ([]byte, error) {
	r, err := s.object(name).NewReader(s.ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read from GCS")
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read data")
	}
	return data, nil
}

// ReadSeeker reads the whole object into memory
func (s *GCSStorage) ReadSeeker(name string) (io.ReadSeeker, error) {
	data, err := s.Read(name)
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(data), nil
}

// Delete deletes a file from GCS
func (s *GCSStorage) Delete(name string) error {
	if err := s.object(name).Delete(s.ctx); err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return errors.Wrap(err, "failed to delete from GCS")
	}
	return nil
}

// Exists checks if a file exists in GCS
func (s *GCSStorage) Exists(name string) (bool, error) {
	_, err := s.object(name).Attrs(s.ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "failed to check GCS object")
	}
	return true, nil
}

// List lists files in a directory in GCS
func (s *GCSStorage) List(dir string) ([]string, error) {
	prefix := s.fullPath(dir)
	if prefix != "" && prefix[len(prefix)-1] != '/' {
		prefix += "/"
	}
	it := s.client.Bucket(s.bucketName).Objects(s.ctx, &storage.Query{Prefix: prefix})
	var files []string
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "failed to list GCS objects")
		}
		name := attrs.Name[len(prefix):]
		// skip nested objects
		if name != "" && !strings.Contains(name, "/") {
			files = append(files, name)
		}
	}
	return files, nil
}

// Close closes the GCS client
func (s *GCSStorage) Close() error {
	return s.client.Close()
}
