package filestore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/filestore/backend/internal/models"
	"github.com/filestore/backend/internal/storage"
	"github.com/filestore/backend/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingObserver struct {
	mu      sync.Mutex
	results []*models.FileResult
}

func (o *recordingObserver) Observe(_ context.Context, _ string, res *models.FileResult) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.results = append(o.results, res)
}

func (o *recordingObserver) all() []*models.FileResult {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]*models.FileResult(nil), o.results...)
}

// queueRunner holds submitted tasks until run is called.
type queueRunner struct {
	names []string
	tasks []func(ctx context.Context) error
}

func (q *queueRunner) Go(name string, fn func(ctx context.Context) error) string {
	q.names = append(q.names, name)
	q.tasks = append(q.tasks, fn)
	return fmt.Sprintf("task-%d", len(q.tasks))
}

func (q *queueRunner) run(t *testing.T) []error {
	t.Helper()
	var errs []error
	for _, task := range q.tasks {
		errs = append(errs, task(context.Background()))
	}
	return errs
}

func newRequest() *http.Request {
	return httptest.NewRequest(http.MethodPost, "/upload", nil)
}

func file(field, name string, size int) *models.FileInput {
	return models.NewFileInput(field, name, "application/pdf", bytes.Repeat([]byte("x"), size))
}

func TestNew(t *testing.T) {
	engine := testutil.NewMockEngine("mock")

	tests := []struct {
		name    string
		fields  []FieldSpec
		cfg     Config
		wantErr bool
	}{
		{
			name:   "valid single field",
			fields: []FieldSpec{Field("book", true)},
			cfg:    Config{Storage: engine},
		},
		{
			name:    "no fields",
			fields:  nil,
			cfg:     Config{Storage: engine},
			wantErr: true,
		},
		{
			name:    "missing name",
			fields:  []FieldSpec{{MaxCount: 1}},
			cfg:     Config{Storage: engine},
			wantErr: true,
		},
		{
			name:    "max count below one",
			fields:  []FieldSpec{{Name: "book", MaxCount: 0}},
			cfg:     Config{Storage: engine},
			wantErr: true,
		},
		{
			name:    "duplicate names",
			fields:  []FieldSpec{Field("book", false), Fields("book", 2, false)},
			cfg:     Config{Storage: engine},
			wantErr: true,
		},
		{
			name:    "no storage engine",
			fields:  []FieldSpec{Field("book", false)},
			cfg:     Config{},
			wantErr: true,
		},
		{
			name: "engine only on field",
			fields: []FieldSpec{
				{Name: "book", MaxCount: 1, Config: &Config{Storage: engine}},
			},
			cfg: Config{},
		},
		{
			name:    "negative max files",
			fields:  []FieldSpec{Field("book", false)},
			cfg:     Config{Storage: engine, MaxFiles: -1},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := New("test", tt.fields, tt.cfg)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, models.KindConfig, models.KindOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, DefaultMaxFiles, d.Config().MaxFiles)
			assert.Equal(t, DefaultMaxPartSize, int(d.Config().MaxPartSize))
		})
	}
}

func TestProcess_SingleRequiredField(t *testing.T) {
	d, err := New("book", []FieldSpec{Field("book", true)}, Config{Storage: storage.NewMemoryEngine(0)})
	require.NoError(t, err)

	form := NewMapForm().AddFile(file("book", "book1.pdf", 1000))
	store := d.Process(context.Background(), newRequest(), form)

	require.NotNil(t, store.File)
	assert.True(t, store.Status)
	assert.True(t, store.File.Status)
	assert.Equal(t, int64(1000), store.File.Size)
	assert.Len(t, store.File.File, 1000)
	assert.Equal(t, "book1.pdf saved successfully", store.File.Message)
	assert.Empty(t, store.Files)
	assert.Empty(t, store.Failed)
	assert.Equal(t, 1, store.Len())
	assert.Equal(t, "Files uploaded successfully", store.Message)
}

func TestProcess_MultipleFields(t *testing.T) {
	d, err := New("library", []FieldSpec{
		Fields("books", 2, true),
		Fields("authors", 2, false),
	}, Config{Storage: storage.NewMemoryEngine(0)})
	require.NoError(t, err)

	form := NewMapForm().
		AddFile(file("books", "b1.pdf", 10)).
		AddFile(file("books", "b2.pdf", 20)).
		AddFile(file("authors", "a1.pdf", 30)).
		AddFile(file("authors", "a2.pdf", 40))
	store := d.Process(context.Background(), newRequest(), form)

	assert.Nil(t, store.File)
	assert.Equal(t, 4, store.Len())
	require.Len(t, store.Files["books"], 2)
	require.Len(t, store.Files["authors"], 2)
	assert.Equal(t, "b1.pdf", store.Files["books"][0].Filename)
	assert.Equal(t, "b2.pdf", store.Files["books"][1].Filename)
	assert.Equal(t, "authors", store.Files["authors"][0].FieldName)
	assert.Empty(t, store.Failed)
	assert.True(t, store.Status)
}

func TestProcess_RequiredFieldMissing(t *testing.T) {
	d, err := New("book", []FieldSpec{Field("book", true)}, Config{Storage: storage.NewMemoryEngine(0)})
	require.NoError(t, err)

	store := d.Process(context.Background(), newRequest(), NewMapForm())

	assert.Nil(t, store.File)
	require.Len(t, store.Failed["book"], 1)
	failed := store.Failed["book"][0]
	assert.False(t, failed.Status)
	assert.Equal(t, "field required", failed.Error)
	assert.Equal(t, "validation", failed.Metadata["kind"])
	assert.False(t, store.Status)
	assert.Equal(t, 0, store.Len())
}

func TestProcess_OptionalFieldMissing(t *testing.T) {
	d, err := New("book", []FieldSpec{Field("book", false)}, Config{Storage: storage.NewMemoryEngine(0)})
	require.NoError(t, err)

	store := d.Process(context.Background(), newRequest(), NewMapForm())

	assert.Empty(t, store.Failed)
	assert.Equal(t, 0, store.Len())
	assert.Equal(t, "No files were uploaded", store.Message)
}

func TestProcess_MaxCountExceeded(t *testing.T) {
	engine := testutil.NewMockEngine("mock")
	d, err := New("books", []FieldSpec{Fields("books", 2, false)}, Config{Storage: engine})
	require.NoError(t, err)

	form := NewMapForm().
		AddFile(file("books", "1.pdf", 1)).
		AddFile(file("books", "2.pdf", 1)).
		AddFile(file("books", "3.pdf", 1))
	store := d.Process(context.Background(), newRequest(), form)

	require.Len(t, store.Files["books"], 2)
	require.Len(t, store.Failed["books"], 1)
	assert.Equal(t, "3.pdf", store.Failed["books"][0].Filename)
	assert.Equal(t, "max count exceeded", store.Failed["books"][0].Error)
	assert.Len(t, engine.Uploads(), 2)
	assert.Equal(t, "2 of 3 files uploaded", store.Message)
	assert.Equal(t, "Some files could not be uploaded", store.Error)
}

func TestProcess_Filters(t *testing.T) {
	t.Run("rejected files are dropped", func(t *testing.T) {
		engine := testutil.NewMockEngine("mock")
		d, err := New("docs", []FieldSpec{Fields("docs", 5, false)}, Config{
			Storage: engine,
			Filters: []FilterFunc{AllowExtensions("pdf")},
		})
		require.NoError(t, err)

		form := NewMapForm().
			AddFile(file("docs", "a.pdf", 1)).
			AddFile(file("docs", "b.txt", 1)).
			AddFile(file("docs", "", 1))
		store := d.Process(context.Background(), newRequest(), form)

		require.Len(t, store.Files["docs"], 1)
		assert.Equal(t, "a.pdf", store.Files["docs"][0].Filename)
		assert.Empty(t, store.Failed)
	})

	t.Run("required field with every file filtered", func(t *testing.T) {
		d, err := New("docs", []FieldSpec{Fields("docs", 5, true)}, Config{
			Storage: testutil.NewMockEngine("mock"),
			Filters: []FilterFunc{AllowExtensions("pdf")},
		})
		require.NoError(t, err)

		form := NewMapForm().AddFile(file("docs", "b.txt", 1))
		store := d.Process(context.Background(), newRequest(), form)

		assert.Empty(t, store.Files)
		require.Len(t, store.Failed["docs"], 1)
		assert.Equal(t, "field required", store.Failed["docs"][0].Error)
	})

	t.Run("field and store filters both apply", func(t *testing.T) {
		d, err := New("docs", []FieldSpec{
			{Name: "docs", MaxCount: 5, Config: &Config{Filters: []FilterFunc{MaxSize(10)}}},
		}, Config{
			Storage: testutil.NewMockEngine("mock"),
			Filters: []FilterFunc{AllowExtensions(".pdf")},
		})
		require.NoError(t, err)

		form := NewMapForm().
			AddFile(file("docs", "small.pdf", 5)).
			AddFile(file("docs", "big.pdf", 50)).
			AddFile(file("docs", "small.txt", 5))
		store := d.Process(context.Background(), newRequest(), form)

		require.Len(t, store.Files["docs"], 1)
		assert.Equal(t, "small.pdf", store.Files["docs"][0].Filename)
	})

	t.Run("panicking filter rejects the file", func(t *testing.T) {
		d, err := New("docs", []FieldSpec{Fields("docs", 5, false)}, Config{
			Storage: testutil.NewMockEngine("mock"),
			Filters: []FilterFunc{func(_ *http.Request, _ Form, _ string, f *models.FileInput) bool {
				if f.Filename == "bad.pdf" {
					panic("boom")
				}
				return true
			}},
		})
		require.NoError(t, err)

		form := NewMapForm().
			AddFile(file("docs", "bad.pdf", 1)).
			AddFile(file("docs", "good.pdf", 1))
		store := d.Process(context.Background(), newRequest(), form)

		require.Len(t, store.Files["docs"], 1)
		assert.Equal(t, "good.pdf", store.Files["docs"][0].Filename)
	})
}

func TestProcess_EngineFailureKeepsOrder(t *testing.T) {
	engine := testutil.NewMockEngine("mock").FailOn("2.pdf", nil)
	d, err := New("books", []FieldSpec{Fields("books", 3, false)}, Config{Storage: engine})
	require.NoError(t, err)

	form := NewMapForm().
		AddFile(file("books", "1.pdf", 1)).
		AddFile(file("books", "2.pdf", 1)).
		AddFile(file("books", "3.pdf", 1))
	store := d.Process(context.Background(), newRequest(), form)

	require.Len(t, store.Files["books"], 2)
	assert.Equal(t, "1.pdf", store.Files["books"][0].Filename)
	assert.Equal(t, "3.pdf", store.Files["books"][1].Filename)
	require.Len(t, store.Failed["books"], 1)
	assert.Contains(t, store.Failed["books"][0].Error, testutil.ErrMockUpload.Error())
	assert.Equal(t, "remote_storage", store.Failed["books"][0].Metadata["kind"])
	assert.Equal(t, "Unable to upload 2.pdf", store.Failed["books"][0].Message)
	assert.False(t, store.Status)
}

func TestProcess_SingleUploadFailure(t *testing.T) {
	engine := testutil.NewMockEngine("mock").FailOn("book.pdf", errors.New("denied"))
	d, err := New("book", []FieldSpec{Field("book", true)}, Config{Storage: engine})
	require.NoError(t, err)

	store := d.Process(context.Background(), newRequest(), NewMapForm().AddFile(file("book", "book.pdf", 3)))

	assert.Nil(t, store.File)
	require.Len(t, store.Failed["book"], 1)
	assert.Equal(t, "uploading book.pdf: denied", store.Failed["book"][0].Error)
}

func TestProcess_Destination(t *testing.T) {
	t.Run("static dest", func(t *testing.T) {
		engine := testutil.NewMockEngine("mock")
		d, err := New("book", []FieldSpec{Field("book", false)}, Config{Storage: engine, Dest: "uploads/books"})
		require.NoError(t, err)

		d.Process(context.Background(), newRequest(), NewMapForm().AddFile(file("book", "a.pdf", 1)))

		require.Len(t, engine.Uploads(), 1)
		assert.Equal(t, "uploads/books/a.pdf", engine.Uploads()[0].Location)
	})

	t.Run("field dest overrides store dest", func(t *testing.T) {
		engine := testutil.NewMockEngine("mock")
		d, err := New("book", []FieldSpec{
			{Name: "book", MaxCount: 1, Config: &Config{Dest: "covers"}},
		}, Config{Storage: engine, Dest: "uploads"})
		require.NoError(t, err)

		d.Process(context.Background(), newRequest(), NewMapForm().AddFile(file("book", "a.png", 1)))

		require.Len(t, engine.Uploads(), 1)
		assert.Equal(t, "covers/a.png", engine.Uploads()[0].Location)
	})

	t.Run("no dest uses filename", func(t *testing.T) {
		engine := testutil.NewMockEngine("mock")
		d, err := New("book", []FieldSpec{Field("book", false)}, Config{Storage: engine})
		require.NoError(t, err)

		d.Process(context.Background(), newRequest(), NewMapForm().AddFile(file("book", "a.pdf", 1)))

		require.Len(t, engine.Uploads(), 1)
		assert.Equal(t, "a.pdf", engine.Uploads()[0].Location)
	})

	t.Run("template uses form values", func(t *testing.T) {
		engine := testutil.NewMockEngine("mock")
		d, err := New("book", []FieldSpec{Field("book", false)}, Config{
			Storage:     engine,
			Destination: ExpandDestination("Books/{form.title}/{filename}"),
		})
		require.NoError(t, err)

		form := NewMapForm().SetValue("title", "Dune").AddFile(file("book", "dune.pdf", 1))
		d.Process(context.Background(), newRequest(), form)

		require.Len(t, engine.Uploads(), 1)
		assert.Equal(t, "Books/Dune/dune.pdf", engine.Uploads()[0].Location)
	})

	t.Run("callback error fails only that file", func(t *testing.T) {
		engine := testutil.NewMockEngine("mock")
		d, err := New("books", []FieldSpec{Fields("books", 2, false)}, Config{
			Storage: engine,
			Destination: func(_ *http.Request, _ Form, _ string, f *models.FileInput) (string, error) {
				if f.Filename == "bad.pdf" {
					return "", errors.New("no destination")
				}
				return "ok/" + f.Filename, nil
			},
		})
		require.NoError(t, err)

		form := NewMapForm().
			AddFile(file("books", "bad.pdf", 1)).
			AddFile(file("books", "good.pdf", 1))
		store := d.Process(context.Background(), newRequest(), form)

		require.Len(t, store.Files["books"], 1)
		assert.Equal(t, "ok/good.pdf", store.Files["books"][0].Path)
		require.Len(t, store.Failed["books"], 1)
		assert.Equal(t, "config", store.Failed["books"][0].Metadata["kind"])
	})

	t.Run("callback panic becomes config error", func(t *testing.T) {
		d, err := New("book", []FieldSpec{Field("book", false)}, Config{
			Storage: testutil.NewMockEngine("mock"),
			Destination: func(_ *http.Request, _ Form, _ string, _ *models.FileInput) (string, error) {
				panic("boom")
			},
		})
		require.NoError(t, err)

		store := d.Process(context.Background(), newRequest(), NewMapForm().AddFile(file("book", "a.pdf", 1)))

		require.Len(t, store.Failed["book"], 1)
		assert.Contains(t, store.Failed["book"][0].Error, "callback panicked: boom")
	})
}

func TestProcess_Filename(t *testing.T) {
	engine := testutil.NewMockEngine("mock")
	d, err := New("book", []FieldSpec{Field("book", false)}, Config{
		Storage:  engine,
		Dest:     "books",
		Filename: func(_ *http.Request, _ Form, _ string, f *models.FileInput) string { return "renamed-" + f.Filename },
	})
	require.NoError(t, err)

	store := d.Process(context.Background(), newRequest(), NewMapForm().AddFile(file("book", "a.pdf", 1)))

	require.NotNil(t, store.File)
	assert.Equal(t, "renamed-a.pdf", store.File.Filename)
	assert.Equal(t, "books/renamed-a.pdf", engine.Uploads()[0].Location)
}

func TestProcess_PerFieldStorage(t *testing.T) {
	local := testutil.NewMockEngine("local")
	memory := storage.NewMemoryEngine(0)
	d, err := New("mixed", []FieldSpec{
		Fields("docs", 2, false),
		{Name: "avatar", MaxCount: 1, Config: &Config{Storage: memory}},
	}, Config{Storage: local})
	require.NoError(t, err)

	form := NewMapForm().
		AddFile(file("docs", "a.pdf", 1)).
		AddFile(file("avatar", "me.png", 4))
	store := d.Process(context.Background(), newRequest(), form)

	require.Len(t, store.Files["docs"], 1)
	require.Len(t, store.Files["avatar"], 1)
	assert.Equal(t, "local", store.Files["docs"][0].Storage)
	assert.Equal(t, "memory", store.Files["avatar"][0].Storage)
	assert.Len(t, store.Files["avatar"][0].File, 4)
	assert.Len(t, local.Uploads(), 1)
}

func TestProcess_FileCountInvariant(t *testing.T) {
	engine := testutil.NewMockEngine("mock").FailOn("f3.pdf", nil)
	d, err := New("books", []FieldSpec{Fields("books", 4, false), Fields("papers", 1, true)}, Config{Storage: engine})
	require.NoError(t, err)

	form := NewMapForm()
	for i := 0; i < 6; i++ {
		form.AddFile(file("books", fmt.Sprintf("f%d.pdf", i), 1))
	}
	form.AddFile(file("papers", "p1.pdf", 1))
	form.AddFile(file("papers", "p2.pdf", 1))
	store := d.Process(context.Background(), newRequest(), form)

	assert.Equal(t, 6, len(store.Files["books"])+len(store.Failed["books"]))
	assert.Equal(t, 2, len(store.Files["papers"])+len(store.Failed["papers"]))
	assert.Equal(t, 4, store.Len())
	assert.Equal(t, 4, store.FailedLen())
}

func TestProcess_Background(t *testing.T) {
	engine := testutil.NewMockEngine("mock").FailOn("b2.pdf", nil)
	runner := &queueRunner{}
	observer := &recordingObserver{}
	d, err := New("books", []FieldSpec{Fields("books", 2, false)}, Config{
		Storage:    engine,
		Background: Bool(true),
	}, WithRunner(runner), WithObserver(observer))
	require.NoError(t, err)

	form := NewMapForm().
		AddFile(file("books", "b1.pdf", 3)).
		AddFile(file("books", "b2.pdf", 3))
	store := d.Process(context.Background(), newRequest(), form)

	require.Len(t, store.Files["books"], 2)
	assert.Empty(t, store.Failed)
	first := store.Files["books"][0]
	assert.Equal(t, "b1.pdf is uploading in the background", first.Message)
	assert.Equal(t, true, first.Metadata["background"])
	assert.Equal(t, "task-1", first.Metadata["task_id"])
	assert.Empty(t, engine.Uploads(), "nothing is stored before the tasks run")
	assert.Empty(t, observer.all())
	assert.Equal(t, []string{"books/books/b1.pdf", "books/books/b2.pdf"}, runner.names)

	errs := runner.run(t)
	assert.NoError(t, errs[0])
	assert.Error(t, errs[1])

	observed := observer.all()
	require.Len(t, observed, 2)
	assert.True(t, observed[0].Status)
	assert.Equal(t, true, observed[0].Metadata["background"])
	assert.False(t, observed[1].Status)
	assert.Equal(t, "b2.pdf", observed[1].Filename)
	assert.Len(t, engine.Uploads(), 1)
}

func TestProcess_BackgroundDefaultRunner(t *testing.T) {
	engine := testutil.NewMockEngine("mock")
	d, err := New("book", []FieldSpec{Field("book", false)}, Config{
		Storage:    engine,
		Background: Bool(true),
	})
	require.NoError(t, err)

	store := d.Process(context.Background(), newRequest(), NewMapForm().AddFile(file("book", "a.pdf", 2)))
	require.NotNil(t, store.File)

	up := <-engine.Done()
	assert.Equal(t, "a.pdf", up.Filename)
	assert.Equal(t, []byte("xx"), up.Data)
}

func TestProcess_ObserverSeesEveryResult(t *testing.T) {
	observer := &recordingObserver{}
	d, err := New("books", []FieldSpec{Fields("books", 1, false), Field("cover", true)}, Config{
		Storage: testutil.NewMockEngine("mock"),
	}, WithObserver(observer))
	require.NoError(t, err)

	form := NewMapForm().
		AddFile(file("books", "1.pdf", 1)).
		AddFile(file("books", "2.pdf", 1))
	store := d.Process(context.Background(), newRequest(), form)

	assert.Equal(t, store.Len()+store.FailedLen(), len(observer.all()))
	assert.Len(t, observer.all(), 3)
}

func TestProcess_MultipartForm(t *testing.T) {
	req := testutil.NewMultipartRequest(t, "/upload", []testutil.FilePart{
		{Field: "book", Filename: "book1.pdf", Data: bytes.Repeat([]byte("a"), 1000)},
	}, map[string]string{"title": "Dune"})

	form, err := ParseRequest(req, Config{})
	require.NoError(t, err)
	defer form.RemoveAll()

	assert.Equal(t, 1, form.FileCount())
	assert.Equal(t, 1, form.FieldCount())
	assert.Equal(t, "Dune", form.Value("title"))

	d, err := New("book", []FieldSpec{Field("book", true)}, Config{Storage: storage.NewMemoryEngine(0)})
	require.NoError(t, err)

	store := d.Process(req.Context(), req, form)
	require.NotNil(t, store.File)
	assert.Equal(t, int64(1000), store.File.Size)
	assert.Equal(t, "application/octet-stream", store.File.ContentType)
}

func TestParseRequest_Limits(t *testing.T) {
	parts := []testutil.FilePart{
		{Field: "a", Filename: "1.txt", Data: []byte("1")},
		{Field: "a", Filename: "2.txt", Data: []byte("2")},
	}

	t.Run("too many files", func(t *testing.T) {
		req := testutil.NewMultipartRequest(t, "/upload", parts, nil)
		_, err := ParseRequest(req, Config{MaxFiles: 1})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrTooManyFiles)
		assert.Equal(t, models.KindValidation, models.KindOf(err))
	})

	t.Run("too many fields", func(t *testing.T) {
		req := testutil.NewMultipartRequest(t, "/upload", nil, map[string]string{"x": "1", "y": "2"})
		_, err := ParseRequest(req, Config{MaxFields: 1})
		assert.ErrorIs(t, err, ErrTooManyFields)
	})

	t.Run("not multipart", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/upload", bytes.NewBufferString("{}"))
		req.Header.Set("Content-Type", "application/json")
		_, err := ParseRequest(req, Config{})
		assert.Error(t, err)
	})
}
