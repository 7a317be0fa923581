package filestore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path"

	"github.com/filestore/backend/internal/models"
	"github.com/filestore/backend/internal/storage"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Observer is notified of every final FileResult, including the outcome of
// background uploads once they finish.
type Observer interface {
	Observe(ctx context.Context, route string, res *models.FileResult)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, route string, res *models.FileResult)

// Observe implements Observer.
func (f ObserverFunc) Observe(ctx context.Context, route string, res *models.FileResult) {
	f(ctx, route, res)
}

// Runner executes fire-and-forget tasks and returns a task id.
type Runner interface {
	Go(name string, fn func(ctx context.Context) error) string
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithRunner sets the executor for background uploads.
func WithRunner(r Runner) Option {
	return func(d *Dispatcher) { d.runner = r }
}

// WithObserver registers an observer.
func WithObserver(o Observer) Option {
	return func(d *Dispatcher) { d.observers = append(d.observers, o) }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// Dispatcher validates the declared fields of an upload form, hands the
// accepted files to storage engines and merges the outcomes.
//
// A Dispatcher holds no per-request state and is safe for concurrent use.
type Dispatcher struct {
	name      string
	fields    []FieldSpec
	config    Config
	runner    Runner
	observers []Observer
	logger    *slog.Logger
}

type fieldSet struct {
	Fields []FieldSpec `validate:"required,min=1,unique=Name,dive"`
}

// New creates a Dispatcher for the route name. The field specs and config
// are validated here so that a misconfiguration fails at setup time rather
// than on the first request.
func New(name string, fields []FieldSpec, cfg Config, opts ...Option) (*Dispatcher, error) {
	if err := validate.Struct(fieldSet{Fields: fields}); err != nil {
		return nil, models.NewError(models.KindConfig, "declaring fields for "+name, err)
	}
	if err := validate.Struct(cfg); err != nil {
		return nil, models.NewError(models.KindConfig, "configuring "+name, err)
	}
	for _, f := range fields {
		if f.Config == nil {
			continue
		}
		if err := validate.Struct(f.Config); err != nil {
			return nil, models.NewError(models.KindConfig, "configuring field "+f.Name, err)
		}
	}

	d := &Dispatcher{
		name:   name,
		fields: append([]FieldSpec(nil), fields...),
		config: cfg.withDefaults(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.runner == nil {
		d.runner = &goRunner{logger: d.logger}
	}

	for _, f := range d.fields {
		if d.config.Merge(f.Config).Storage == nil {
			return nil, models.NewError(models.KindConfig, "configuring field "+f.Name,
				errors.New("no storage engine"))
		}
	}
	return d, nil
}

// Name returns the route name.
func (d *Dispatcher) Name() string { return d.name }

// Config returns the store-level config with defaults applied.
func (d *Dispatcher) Config() Config { return d.config }

// Fields returns a copy of the declared fields.
func (d *Dispatcher) Fields() []FieldSpec {
	return append([]FieldSpec(nil), d.fields...)
}

// single reports whether results collapse into Store.File.
func (d *Dispatcher) single() bool {
	return len(d.fields) == 1 && d.fields[0].MaxCount == 1
}

// Process stores the files of form and returns the aggregated result.
// Per-file problems never abort the request; they are reported in
// Store.Failed.
func (d *Dispatcher) Process(ctx context.Context, r *http.Request, form Form) *models.Store {
	var results []*models.FileResult
	for _, field := range d.fields {
		results = append(results, d.processField(ctx, r, form, field)...)
	}
	return Merge(results, d.single())
}

func (d *Dispatcher) processField(ctx context.Context, r *http.Request, form Form, field FieldSpec) []*models.FileResult {
	cfg := d.config.Merge(field.Config)
	files := form.Files(field.Name)

	var excess []*models.FileInput
	if len(files) > field.MaxCount {
		files, excess = files[:field.MaxCount], files[field.MaxCount:]
	}

	// slots keeps one entry per accepted file so results stay in form order.
	slots := make([]*models.FileResult, len(files))
	var items []storage.Item
	var itemSlots []int

	for i, file := range files {
		if !d.accept(r, form, field.Name, file, cfg) {
			d.logger.Debug("file filtered out", "route", d.name, "field", field.Name, "file", file.Filename)
			continue
		}

		resolved, location, err := d.resolve(r, form, field.Name, file, cfg)
		if err != nil {
			slots[i] = d.fail(ctx, field.Name, resolved, err)
			continue
		}
		items = append(items, storage.Item{File: resolved, Location: location})
		itemSlots = append(itemSlots, i)
	}

	if len(itemSlots) == 0 && field.Required && !hasResults(slots) {
		required := d.fail(ctx, field.Name, nil, models.NewError(models.KindValidation, "", models.ErrFieldRequired))
		return d.collect(ctx, field, slots, []*models.FileResult{required}, excess)
	}

	if len(items) > 0 {
		var stored []*models.FileResult
		if cfg.IsBackground() {
			stored = d.background(ctx, field, cfg, items)
		} else {
			stored = d.store(ctx, field, cfg, items)
		}
		for j, res := range stored {
			slots[itemSlots[j]] = res
		}
	}

	return d.collect(ctx, field, slots, nil, excess)
}

// collect compacts the slots and appends the required and excess failures.
func (d *Dispatcher) collect(ctx context.Context, field FieldSpec, slots, extra []*models.FileResult, excess []*models.FileInput) []*models.FileResult {
	out := make([]*models.FileResult, 0, len(slots)+len(extra)+len(excess))
	for _, res := range slots {
		if res != nil {
			out = append(out, res)
		}
	}
	out = append(out, extra...)
	for _, file := range excess {
		out = append(out, d.fail(ctx, field.Name, file,
			models.NewError(models.KindValidation, "", models.ErrMaxCountExceeded)))
	}
	return out
}

func hasResults(slots []*models.FileResult) bool {
	for _, res := range slots {
		if res != nil {
			return true
		}
	}
	return false
}

// accept runs the built-in filename check and the configured filters.
// A panicking filter rejects the file.
func (d *Dispatcher) accept(r *http.Request, form Form, field string, file *models.FileInput, cfg Config) (ok bool) {
	defer func() {
		if p := recover(); p != nil {
			d.logger.Error("filter panicked", "route", d.name, "field", field, "file", file.Filename, "panic", p)
			ok = false
		}
	}()

	if !HasFilename(r, form, field, file) {
		return false
	}
	for _, filter := range cfg.Filters {
		if !filter(r, form, field, file) {
			return false
		}
	}
	return true
}

// resolve applies the filename callback and computes the storage location.
func (d *Dispatcher) resolve(r *http.Request, form Form, field string, file *models.FileInput, cfg Config) (out *models.FileInput, location string, err error) {
	out = file
	defer func() {
		if p := recover(); p != nil {
			err = models.NewError(models.KindConfig, "resolving destination", fmt.Errorf("callback panicked: %v", p))
		}
	}()

	if cfg.Filename != nil {
		if name := cfg.Filename(r, form, field, file); name != "" && name != file.Filename {
			out = file.WithFilename(name)
		}
	}

	if cfg.Destination != nil {
		location, err = cfg.Destination(r, form, field, out)
		if err != nil {
			return out, "", models.NewError(models.KindConfig, "resolving destination", err)
		}
		if location != "" {
			return out, location, nil
		}
	}
	if cfg.Dest != "" {
		return out, path.Join(cfg.Dest, out.Filename), nil
	}
	return out, out.Filename, nil
}

func (d *Dispatcher) targetContext(ctx context.Context, cfg Config) context.Context {
	if cfg.Bucket == "" && cfg.Region == "" && len(cfg.ExtraArgs) == 0 {
		return ctx
	}
	return storage.WithTarget(ctx, storage.ObjectTarget{
		Bucket:    cfg.Bucket,
		Region:    cfg.Region,
		ExtraArgs: cfg.ExtraArgs,
	})
}

// store runs the uploads in the foreground.
func (d *Dispatcher) store(ctx context.Context, field FieldSpec, cfg Config, items []storage.Item) []*models.FileResult {
	engine := cfg.Storage
	ctx = d.targetContext(ctx, cfg)

	var results []*models.FileResult
	if field.MaxCount == 1 {
		item := items[0]
		res, err := engine.Upload(ctx, item.File, item.Location)
		if err != nil {
			res = models.FailedResult(field.Name, item.File, err)
			res.Storage = engine.Name()
		}
		results = []*models.FileResult{res}
	} else {
		results = engine.UploadMany(ctx, items)
	}

	for _, res := range results {
		res.FieldName = field.Name
		if !res.Status {
			d.logger.Warn("file upload failed",
				"route", d.name, "field", field.Name, "file", res.Filename,
				"storage", engine.Name(), "error", res.Error)
		}
		d.observe(ctx, res)
	}
	return results
}

// background submits one task per file and returns placeholder results. The
// outcome of each task is logged and reported to observers only.
func (d *Dispatcher) background(ctx context.Context, field FieldSpec, cfg Config, items []storage.Item) []*models.FileResult {
	engine := cfg.Storage
	taskCtx := d.targetContext(context.WithoutCancel(ctx), cfg)

	results := make([]*models.FileResult, len(items))
	for i, item := range items {
		// The request's multipart temp files are removed once it returns.
		buffered, err := item.File.Buffer()
		if err != nil {
			results[i] = d.fail(ctx, field.Name, item.File, models.NewError(models.KindIO, "buffering "+item.File.Filename, err))
			continue
		}

		location := item.Location
		name := fmt.Sprintf("%s/%s/%s", d.name, field.Name, buffered.Filename)
		id := d.runner.Go(name, func(_ context.Context) error {
			res, err := engine.Upload(taskCtx, buffered, location)
			if err != nil {
				failed := models.FailedResult(field.Name, buffered, err)
				failed.Storage = engine.Name()
				failed.Metadata["background"] = true
				d.observe(taskCtx, failed)
				return err
			}
			res.FieldName = field.Name
			res.Metadata["background"] = true
			d.observe(taskCtx, res)
			return nil
		})

		results[i] = &models.FileResult{
			Status:      true,
			ContentType: buffered.ContentType,
			Filename:    buffered.Filename,
			Size:        buffered.Size,
			FieldName:   field.Name,
			Metadata:    map[string]any{"background": true, "task_id": id},
			Message:     buffered.Filename + " is uploading in the background",
			Storage:     engine.Name(),
		}
	}
	return results
}

func (d *Dispatcher) fail(ctx context.Context, field string, file *models.FileInput, err error) *models.FileResult {
	res := models.FailedResult(field, file, err)
	name := ""
	if file != nil {
		name = file.Filename
	}
	d.logger.Warn("file rejected", "route", d.name, "field", field, "file", name, "error", err)
	d.observe(ctx, res)
	return res
}

func (d *Dispatcher) observe(ctx context.Context, res *models.FileResult) {
	for _, o := range d.observers {
		o.Observe(ctx, d.name, res)
	}
}

// goRunner runs tasks on plain goroutines and logs failures.
type goRunner struct {
	logger *slog.Logger
}

func (g *goRunner) Go(name string, fn func(ctx context.Context) error) string {
	go func() {
		if err := fn(context.Background()); err != nil {
			g.logger.Error("background task failed", "task", name, "error", err)
		}
	}()
	return name
}
