package models

import (
	"bytes"
	"fmt"
	"io"
	"os"
)

// FileInput is one file part received for a form field.
type FileInput struct {
	FieldName   string
	Filename    string
	ContentType string
	Size        int64

	open func() (io.ReadCloser, error)
}

// NewFileInput creates a FileInput backed by an in-memory byte slice.
func NewFileInput(field, filename, contentType string, data []byte) *FileInput {
	return &FileInput{
		FieldName:   field,
		Filename:    filename,
		ContentType: contentType,
		Size:        int64(len(data)),
		open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		},
	}
}

// NewFileInputFromPath creates a FileInput backed by a file on disk, such as
// a multipart part spooled to a temporary file.
func NewFileInputFromPath(field, filename, contentType, path string, size int64) *FileInput {
	return &FileInput{
		FieldName:   field,
		Filename:    filename,
		ContentType: contentType,
		Size:        size,
		open: func() (io.ReadCloser, error) {
			return os.Open(path)
		},
	}
}

// Open returns a reader over the file content. The caller must close it.
func (f *FileInput) Open() (io.ReadCloser, error) {
	if f.open == nil {
		return nil, fmt.Errorf("file %q has no content source", f.Filename)
	}
	return f.open()
}

// ReadAll reads the whole content and releases the underlying handle.
func (f *FileInput) ReadAll() ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// Buffer loads the content into memory so the FileInput outlives the request
// that produced it.
func (f *FileInput) Buffer() (*FileInput, error) {
	data, err := f.ReadAll()
	if err != nil {
		return nil, err
	}
	buffered := NewFileInput(f.FieldName, f.Filename, f.ContentType, data)
	return buffered, nil
}

// WithFilename returns a copy of the input carrying a different name.
func (f *FileInput) WithFilename(name string) *FileInput {
	cp := *f
	cp.Filename = name
	return &cp
}
