package config

import (
	"fmt"
	"io"
	"os"
	"regexp"

	"github.com/filestore/backend/internal/filestore"
	"github.com/filestore/backend/internal/storage"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Options are the storage settings shared by routes and fields. Field
// options override the route's.
type Options struct {
	Storage      string         `json:"storage,omitempty" yaml:"storage" validate:"omitempty,oneof=local memory s3"`
	Dest         string         `json:"dest,omitempty" yaml:"dest"`
	Destination  string         `json:"destination,omitempty" yaml:"destination"`
	Background   *bool          `json:"background,omitempty" yaml:"background"`
	Filename     string         `json:"filename,omitempty" yaml:"filename" validate:"omitempty,oneof=keep uuid sanitize"`
	Extensions   []string       `json:"extensions,omitempty" yaml:"extensions"`
	ContentTypes []string       `json:"contentTypes,omitempty" yaml:"content_types"`
	MaxSize      int64          `json:"maxSize,omitempty" yaml:"max_size" validate:"gte=0"`
	ExtraArgs    map[string]any `json:"extraArgs,omitempty" yaml:"extra_args"`
	Bucket       string         `json:"bucket,omitempty" yaml:"bucket"`
	Region       string         `json:"region,omitempty" yaml:"region"`
}

// FieldDecl declares one file field of a route.
type FieldDecl struct {
	Name     string `json:"name" yaml:"name" validate:"required"`
	MaxCount int    `json:"maxCount" yaml:"max_count" validate:"gte=0"`
	Required bool   `json:"required" yaml:"required"`
	Options  `yaml:",inline"`
}

// RouteSpec declares an upload route served at /api/uploads/<name>.
type RouteSpec struct {
	Name        string      `json:"name" yaml:"name" validate:"required,routename"`
	Description string      `json:"description,omitempty" yaml:"description"`
	MaxFiles    int         `json:"maxFiles,omitempty" yaml:"max_files" validate:"gte=0"`
	MaxFields   int         `json:"maxFields,omitempty" yaml:"max_fields" validate:"gte=0"`
	MaxPartSize int64       `json:"maxPartSize,omitempty" yaml:"max_part_size" validate:"gte=0"`
	Fields      []FieldDecl `json:"fields" yaml:"fields" validate:"required,min=1,unique=Name,dive"`
	Options     `yaml:",inline"`
}

// RoutesFile is the root of the routes YAML document.
type RoutesFile struct {
	Routes []RouteSpec `yaml:"routes" validate:"unique=Name,dive"`
}

var (
	validate      = validator.New()
	routeNameExpr = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
)

func init() {
	// Route names become URL path segments.
	validate.RegisterValidation("routename", func(fl validator.FieldLevel) bool {
		return routeNameExpr.MatchString(fl.Field().String())
	})
}

// LoadRoutes parses and validates a routes file.
func LoadRoutes(filePath string) ([]RouteSpec, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return ParseRoutes(file)
}

// ParseRoutes parses routes from an io.Reader.
func ParseRoutes(r io.Reader) ([]RouteSpec, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	var doc RoutesFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse routes: %w", err)
	}
	for i := range doc.Routes {
		for j := range doc.Routes[i].Fields {
			if doc.Routes[i].Fields[j].MaxCount == 0 {
				doc.Routes[i].Fields[j].MaxCount = 1
			}
		}
	}
	if err := validate.Struct(doc); err != nil {
		return nil, fmt.Errorf("invalid routes: %w", err)
	}

	return doc.Routes, nil
}

// BuildDispatchers creates one dispatcher per route. Engines are looked up in
// registry by name; a route without a storage setting uses defaultStorage.
func BuildDispatchers(routes []RouteSpec, registry *storage.Registry, defaultStorage string, opts ...filestore.Option) (map[string]*filestore.Dispatcher, error) {
	dispatchers := make(map[string]*filestore.Dispatcher, len(routes))

	for _, route := range routes {
		if route.Storage == "" {
			route.Storage = defaultStorage
		}
		cfg, err := route.Options.toConfig(registry)
		if err != nil {
			return nil, fmt.Errorf("route %s: %w", route.Name, err)
		}
		cfg.MaxFiles = route.MaxFiles
		cfg.MaxFields = route.MaxFields
		cfg.MaxPartSize = route.MaxPartSize

		fields := make([]filestore.FieldSpec, 0, len(route.Fields))
		for _, decl := range route.Fields {
			override, err := decl.Options.toConfig(registry)
			if err != nil {
				return nil, fmt.Errorf("route %s field %s: %w", route.Name, decl.Name, err)
			}
			fields = append(fields, filestore.FieldSpec{
				Name:     decl.Name,
				MaxCount: decl.MaxCount,
				Required: decl.Required,
				Config:   &override,
			})
		}

		d, err := filestore.New(route.Name, fields, cfg, opts...)
		if err != nil {
			return nil, fmt.Errorf("route %s: %w", route.Name, err)
		}
		dispatchers[route.Name] = d
	}

	return dispatchers, nil
}

func (o Options) toConfig(registry *storage.Registry) (filestore.Config, error) {
	cfg := filestore.Config{
		Dest:       o.Dest,
		Background: o.Background,
		ExtraArgs:  o.ExtraArgs,
		Bucket:     o.Bucket,
		Region:     o.Region,
	}

	if o.Storage != "" {
		engine, err := registry.Get(o.Storage)
		if err != nil {
			return cfg, err
		}
		cfg.Storage = engine
	}
	if o.Destination != "" {
		cfg.Destination = filestore.ExpandDestination(o.Destination)
	}

	switch o.Filename {
	case "uuid":
		cfg.Filename = filestore.UUIDFilename
	case "sanitize":
		cfg.Filename = filestore.SanitizeFilename
	}

	if len(o.Extensions) > 0 {
		cfg.Filters = append(cfg.Filters, filestore.AllowExtensions(o.Extensions...))
	}
	if len(o.ContentTypes) > 0 {
		cfg.Filters = append(cfg.Filters, filestore.AllowContentTypes(o.ContentTypes...))
	}
	if o.MaxSize > 0 {
		cfg.Filters = append(cfg.Filters, filestore.MaxSize(o.MaxSize))
	}

	return cfg, nil
}
