package filestore

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime/multipart"
	"net/http"
	"os"

	"github.com/filestore/backend/internal/models"
)

// Form is the parsed multipart form as seen by the dispatcher.
type Form interface {
	// Files returns the file parts submitted under field, in form order.
	Files(field string) []*models.FileInput
	// Value returns the first plain value submitted under key.
	Value(key string) string
}

// MultipartForm is a form read from a multipart request body. File parts
// larger than the in-memory limit are spooled to temporary files, which
// RemoveAll deletes.
type MultipartForm struct {
	files  map[string][]*models.FileInput
	values map[string][]string
	temps  []string
	nfiles int
	nvals  int
}

func newMultipartForm() *MultipartForm {
	return &MultipartForm{
		files:  make(map[string][]*models.FileInput),
		values: make(map[string][]string),
	}
}

// Files implements Form.
func (m *MultipartForm) Files(field string) []*models.FileInput {
	return m.files[field]
}

// Value implements Form.
func (m *MultipartForm) Value(key string) string {
	if v := m.values[key]; len(v) > 0 {
		return v[0]
	}
	return ""
}

// FileCount returns the number of file parts across all fields.
func (m *MultipartForm) FileCount() int {
	return m.nfiles
}

// FieldCount returns the number of plain (non-file) values.
func (m *MultipartForm) FieldCount() int {
	return m.nvals
}

// RemoveAll deletes temporary files created while parsing.
func (m *MultipartForm) RemoveAll() error {
	var errs []error
	for _, path := range m.temps {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	m.temps = nil
	return errors.Join(errs...)
}

var (
	ErrTooManyFiles  = errors.New("too many files")
	ErrTooManyFields = errors.New("too many fields")
	ErrValueTooLarge = errors.New("form value too large")
)

// ParseRequest reads the multipart body of r part by part and enforces the
// form limits in cfg as parts arrive: the request is rejected at the first
// part over MaxFiles or MaxFields, before the rest of the body is read.
// MaxPartSize is how much of one file part is held in memory; larger parts
// spill to temporary files. It also caps the size of a plain value.
func ParseRequest(r *http.Request, cfg Config) (*MultipartForm, error) {
	cfg = cfg.withDefaults()

	mr, err := r.MultipartReader()
	if err != nil {
		return nil, parseError(err)
	}

	form := newMultipartForm()
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return form, nil
		}
		if err != nil {
			form.RemoveAll()
			return nil, parseError(err)
		}

		if err := form.add(part, cfg); err != nil {
			part.Close()
			form.RemoveAll()
			return nil, parseError(err)
		}
		part.Close()
	}
}

func parseError(err error) error {
	return models.NewError(models.KindValidation, "parsing multipart form", err)
}

func (m *MultipartForm) add(part *multipart.Part, cfg Config) error {
	name := part.FormName()
	if name == "" {
		return nil
	}

	filename := part.FileName()
	_, hasContentType := part.Header["Content-Type"]
	if filename == "" && !hasContentType {
		if m.nvals+1 > cfg.MaxFields {
			return fmt.Errorf("%w: more than %d", ErrTooManyFields, cfg.MaxFields)
		}
		data, err := io.ReadAll(io.LimitReader(part, cfg.MaxPartSize+1))
		if err != nil {
			return err
		}
		if int64(len(data)) > cfg.MaxPartSize {
			return fmt.Errorf("%w: %s", ErrValueTooLarge, name)
		}
		m.values[name] = append(m.values[name], string(data))
		m.nvals++
		return nil
	}

	if m.nfiles+1 > cfg.MaxFiles {
		return fmt.Errorf("%w: more than %d", ErrTooManyFiles, cfg.MaxFiles)
	}
	file, err := m.readFile(part, name, filename, cfg.MaxPartSize)
	if err != nil {
		return err
	}
	m.files[name] = append(m.files[name], file)
	m.nfiles++
	return nil
}

func (m *MultipartForm) readFile(part *multipart.Part, field, filename string, maxMemory int64) (*models.FileInput, error) {
	contentType := part.Header.Get("Content-Type")

	var buf bytes.Buffer
	n, err := io.CopyN(&buf, part, maxMemory+1)
	if err != nil && err != io.EOF {
		return nil, err
	}
	if n <= maxMemory {
		return models.NewFileInput(field, filename, contentType, buf.Bytes()), nil
	}

	tmp, err := os.CreateTemp("", "filestore-part-")
	if err != nil {
		return nil, err
	}
	m.temps = append(m.temps, tmp.Name())
	defer tmp.Close()

	size, err := io.Copy(tmp, io.MultiReader(&buf, part))
	if err != nil {
		return nil, err
	}
	if err := tmp.Close(); err != nil {
		return nil, err
	}
	return models.NewFileInputFromPath(field, filename, contentType, tmp.Name(), size), nil
}

// MapForm is an in-memory Form, useful for programmatic callers and tests.
type MapForm struct {
	files  map[string][]*models.FileInput
	values map[string]string
}

// NewMapForm creates an empty MapForm.
func NewMapForm() *MapForm {
	return &MapForm{
		files:  make(map[string][]*models.FileInput),
		values: make(map[string]string),
	}
}

// AddFile appends a file under its FieldName.
func (m *MapForm) AddFile(f *models.FileInput) *MapForm {
	m.files[f.FieldName] = append(m.files[f.FieldName], f)
	return m
}

// SetValue sets a plain form value.
func (m *MapForm) SetValue(key, value string) *MapForm {
	m.values[key] = value
	return m
}

// Files implements Form.
func (m *MapForm) Files(field string) []*models.FileInput {
	return m.files[field]
}

// Value implements Form.
func (m *MapForm) Value(key string) string {
	return m.values[key]
}
