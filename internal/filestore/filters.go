package filestore

import (
	"fmt"
	"net/http"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/filestore/backend/internal/models"
	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

// HasFilename rejects parts submitted without a filename. The dispatcher
// always runs it before the configured filters.
func HasFilename(_ *http.Request, _ Form, _ string, file *models.FileInput) bool {
	return file != nil && strings.TrimSpace(file.Filename) != ""
}

// AllowExtensions accepts files whose extension is one of exts. Matching is
// case-insensitive and the leading dot is optional.
func AllowExtensions(exts ...string) FilterFunc {
	allowed := make(map[string]struct{}, len(exts))
	for _, ext := range exts {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext != "" && !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		allowed[ext] = struct{}{}
	}

	return func(_ *http.Request, _ Form, _ string, file *models.FileInput) bool {
		_, ok := allowed[strings.ToLower(path.Ext(file.Filename))]
		return ok
	}
}

// AllowContentTypes accepts files whose detected content type is one of
// types or a subtype of one. Detection sniffs the leading bytes, so the
// client-declared Content-Type is not trusted.
func AllowContentTypes(types ...string) FilterFunc {
	return func(_ *http.Request, _ Form, _ string, file *models.FileInput) bool {
		detected, err := DetectContentType(file)
		if err != nil {
			return false
		}
		for m := detected; m != nil; m = m.Parent() {
			for _, t := range types {
				if m.Is(t) {
					return true
				}
			}
		}
		return false
	}
}

// DetectContentType sniffs the MIME type of the file content.
func DetectContentType(file *models.FileInput) (*mimetype.MIME, error) {
	rc, err := file.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return mimetype.DetectReader(rc)
}

// MaxSize accepts files of at most n bytes.
func MaxSize(n int64) FilterFunc {
	return func(_ *http.Request, _ Form, _ string, file *models.FileInput) bool {
		return file.Size <= n
	}
}

// UUIDFilename replaces the name with a random UUID, keeping the extension.
func UUIDFilename(_ *http.Request, _ Form, _ string, file *models.FileInput) string {
	return uuid.New().String() + strings.ToLower(path.Ext(file.Filename))
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// SanitizeFilename strips directories and replaces characters outside
// [A-Za-z0-9._-] with underscores.
func SanitizeFilename(_ *http.Request, _ Form, _ string, file *models.FileInput) string {
	name := filepath.Base(strings.ReplaceAll(file.Filename, `\`, "/"))
	name = unsafeChars.ReplaceAllString(name, "_")
	name = strings.Trim(name, "._")
	if name == "" {
		return "file"
	}
	return name
}

var placeholder = regexp.MustCompile(`\{[A-Za-z0-9_.-]+\}`)

// ExpandDestination returns a DestinationFunc that fills a template such as
// "books/{form.title}/{filename}". Supported placeholders are {field},
// {filename}, {ext}, {uuid} and {form.<key>}. Form values are sanitised to a
// single path segment; an empty form value is an error.
func ExpandDestination(template string) DestinationFunc {
	return func(_ *http.Request, form Form, field string, file *models.FileInput) (string, error) {
		var missing error
		out := placeholder.ReplaceAllStringFunc(template, func(m string) string {
			key := strings.Trim(m, "{}")
			switch {
			case key == "field":
				return field
			case key == "filename":
				return file.Filename
			case key == "ext":
				return strings.TrimPrefix(strings.ToLower(path.Ext(file.Filename)), ".")
			case key == "uuid":
				return uuid.New().String()
			case strings.HasPrefix(key, "form."):
				name := strings.TrimPrefix(key, "form.")
				v := strings.Trim(unsafeChars.ReplaceAllString(strings.TrimSpace(form.Value(name)), "_"), ".")
				if v == "" {
					if missing == nil {
						missing = fmt.Errorf("form value %q is empty", name)
					}
					return ""
				}
				return v
			default:
				if missing == nil {
					missing = fmt.Errorf("unknown placeholder %s", m)
				}
				return ""
			}
		})
		if missing != nil {
			return "", missing
		}
		return path.Clean(out), nil
	}
}
