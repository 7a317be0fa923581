// Package filestore routes uploaded form files to storage engines and
// aggregates the per-file outcomes.
package filestore

import (
	"net/http"

	"github.com/filestore/backend/internal/models"
	"github.com/filestore/backend/internal/storage"
)

// Callbacks receive the request, the parsed form, the field name and the file.
type (
	// FilterFunc reports whether a file should be stored.
	FilterFunc func(r *http.Request, form Form, field string, file *models.FileInput) bool
	// FilenameFunc returns the name to store the file under. An empty result
	// keeps the current name.
	FilenameFunc func(r *http.Request, form Form, field string, file *models.FileInput) string
	// DestinationFunc returns the full location (path or object key) for a file.
	DestinationFunc func(r *http.Request, form Form, field string, file *models.FileInput) (string, error)
)

// Defaults applied by New when the store config leaves a limit unset.
const (
	DefaultMaxFiles    = 1000
	DefaultMaxFields   = 1000
	DefaultMaxPartSize = 1 << 20
)

// Config holds store-wide options. A FieldSpec may carry a Config whose
// non-zero values override the store's for that field only.
type Config struct {
	Storage     storage.Engine `validate:"-"`
	Dest        string
	Destination DestinationFunc
	Filters     []FilterFunc
	Filename    FilenameFunc
	MaxFiles    int   `validate:"gte=0"`
	MaxFields   int   `validate:"gte=0"`
	MaxPartSize int64 `validate:"gte=0"`
	Background  *bool
	ExtraArgs   map[string]any
	Bucket      string
	Region      string
}

// Bool returns a pointer to b, for Config.Background.
func Bool(b bool) *bool {
	return &b
}

// IsBackground reports whether storage calls run as background tasks.
func (c Config) IsBackground() bool {
	return c.Background != nil && *c.Background
}

// Merge returns c with the non-zero values of o applied on top. Filters are
// concatenated: o's filters run before c's and all of them must pass.
func (c Config) Merge(o *Config) Config {
	if o == nil {
		return c
	}
	out := c
	if o.Storage != nil {
		out.Storage = o.Storage
	}
	if o.Dest != "" {
		out.Dest = o.Dest
	}
	if o.Destination != nil {
		out.Destination = o.Destination
	}
	if len(o.Filters) > 0 {
		filters := make([]FilterFunc, 0, len(o.Filters)+len(c.Filters))
		filters = append(filters, o.Filters...)
		filters = append(filters, c.Filters...)
		out.Filters = filters
	}
	if o.Filename != nil {
		out.Filename = o.Filename
	}
	if o.MaxFiles > 0 {
		out.MaxFiles = o.MaxFiles
	}
	if o.MaxFields > 0 {
		out.MaxFields = o.MaxFields
	}
	if o.MaxPartSize > 0 {
		out.MaxPartSize = o.MaxPartSize
	}
	if o.Background != nil {
		out.Background = o.Background
	}
	if len(o.ExtraArgs) > 0 {
		merged := make(map[string]any, len(c.ExtraArgs)+len(o.ExtraArgs))
		for k, v := range c.ExtraArgs {
			merged[k] = v
		}
		for k, v := range o.ExtraArgs {
			merged[k] = v
		}
		out.ExtraArgs = merged
	}
	if o.Bucket != "" {
		out.Bucket = o.Bucket
	}
	if o.Region != "" {
		out.Region = o.Region
	}
	return out
}

func (c Config) withDefaults() Config {
	if c.MaxFiles == 0 {
		c.MaxFiles = DefaultMaxFiles
	}
	if c.MaxFields == 0 {
		c.MaxFields = DefaultMaxFields
	}
	if c.MaxPartSize == 0 {
		c.MaxPartSize = DefaultMaxPartSize
	}
	return c
}

// FieldSpec declares one file field of the form.
type FieldSpec struct {
	Name     string  `json:"name" validate:"required"`
	MaxCount int     `json:"max_count" validate:"gte=1"`
	Required bool    `json:"required"`
	Config   *Config `json:"-" validate:"-"`
}

// Field returns a FieldSpec for a single-file field.
func Field(name string, required bool) FieldSpec {
	return FieldSpec{Name: name, MaxCount: 1, Required: required}
}

// Fields returns a FieldSpec accepting up to count files.
func Fields(name string, count int, required bool) FieldSpec {
	return FieldSpec{Name: name, MaxCount: count, Required: required}
}
