// handlers_test.go - Tests for health, route listing and error handling
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/filestore/backend/internal/config"
	"github.com/filestore/backend/internal/filestore"
	"github.com/filestore/backend/internal/testutil"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedTasks int

func (f fixedTasks) Pending() int { return int(f) }

func TestHealthHandler(t *testing.T) {
	handler := NewHealthHandler("1.2.0", []string{"videos", "books"}, []string{"local", "memory"}, fixedTasks(2))

	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/api/health", nil), rec)

	require.NoError(t, handler.HandleHealth(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	var got struct {
		Status       string   `json:"status"`
		Version      string   `json:"version"`
		Routes       []string `json:"routes"`
		Engines      []string `json:"engines"`
		PendingTasks int      `json:"pendingTasks"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "ok", got.Status)
	assert.Equal(t, "1.2.0", got.Version)
	assert.Equal(t, []string{"books", "videos"}, got.Routes)
	assert.Equal(t, []string{"local", "memory"}, got.Engines)
	assert.Equal(t, 2, got.PendingTasks)
}

func TestRoutesHandler(t *testing.T) {
	routes, err := config.ParseRoutes(strings.NewReader(`
routes:
  - name: books
    storage: memory
    fields:
      - name: cover
        required: true
      - name: pages
        max_count: 5
`))
	require.NoError(t, err)

	e := echo.New()

	t.Run("lists declared routes", func(t *testing.T) {
		rec := httptest.NewRecorder()
		c := e.NewContext(httptest.NewRequest(http.MethodGet, "/api/routes", nil), rec)
		require.NoError(t, NewRoutesHandler(routes).HandleListRoutes(c))

		var got []config.RouteSpec
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		require.Len(t, got, 1)
		assert.Equal(t, "books", got[0].Name)
		require.Len(t, got[0].Fields, 2)
		assert.Equal(t, 1, got[0].Fields[0].MaxCount)
		assert.Equal(t, 5, got[0].Fields[1].MaxCount)
	})

	t.Run("empty list", func(t *testing.T) {
		rec := httptest.NewRecorder()
		c := e.NewContext(httptest.NewRequest(http.MethodGet, "/api/routes", nil), rec)
		require.NoError(t, NewRoutesHandler(nil).HandleListRoutes(c))
		assert.JSONEq(t, `[]`, rec.Body.String())
	})
}

func TestErrorHandler(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tests := []struct {
		name        string
		err         error
		method      string
		showDetails bool
		wantStatus  int
		wantCode    string
		wantDetails string
	}{
		{
			name:       "api error",
			err:        NewNotFoundError("upload route", "films"),
			method:     http.MethodPost,
			wantStatus: http.StatusNotFound,
			wantCode:   "NOT_FOUND",
		},
		{
			name:       "echo error",
			err:        echo.NewHTTPError(http.StatusRequestEntityTooLarge, "Request Entity Too Large"),
			method:     http.MethodPost,
			wantStatus: http.StatusRequestEntityTooLarge,
			wantCode:   "HTTP_ERROR",
		},
		{
			name:       "unknown error hides details",
			err:        errors.New("disk on fire"),
			method:     http.MethodGet,
			wantStatus: http.StatusInternalServerError,
			wantCode:   "UNKNOWN_ERROR",
		},
		{
			name:        "unknown error with details",
			err:         errors.New("disk on fire"),
			method:      http.MethodGet,
			showDetails: true,
			wantStatus:  http.StatusInternalServerError,
			wantCode:    "UNKNOWN_ERROR",
			wantDetails: "disk on fire",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			rec := httptest.NewRecorder()
			c := e.NewContext(httptest.NewRequest(tt.method, "/", nil), rec)

			NewErrorHandler(logger, tt.showDetails)(tt.err, c)

			assert.Equal(t, tt.wantStatus, rec.Code)
			var got APIError
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
			assert.Equal(t, tt.wantCode, got.Code)
			assert.Equal(t, tt.wantDetails, got.Details)
		})
	}

	t.Run("head has no body", func(t *testing.T) {
		e := echo.New()
		rec := httptest.NewRecorder()
		c := e.NewContext(httptest.NewRequest(http.MethodHead, "/", nil), rec)

		NewErrorHandler(logger, false)(NewNotFoundError("route", "x"), c)

		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Empty(t, rec.Body.String())
	})
}

func TestRegisterRoutes(t *testing.T) {
	engine := testutil.NewMockEngine("mock")
	d, err := filestore.New("books", []filestore.FieldSpec{filestore.Field("cover", true)},
		filestore.Config{Storage: engine})
	require.NoError(t, err)

	e := echo.New()
	e.HTTPErrorHandler = NewErrorHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), false)
	RegisterRoutes(e, NewHandlers(&Dependencies{
		Dispatchers: map[string]*filestore.Dispatcher{"books": d},
		Ledger:      &fakeLedger{},
		Tasks:       fixedTasks(0),
		Engines:     []string{"mock"},
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			io.WriteString(w, "# metrics\n")
		}),
		Version: "test",
	}))

	t.Run("single file upload", func(t *testing.T) {
		req := testutil.NewMultipartRequest(t, "/api/uploads/books", []testutil.FilePart{
			{Field: "cover", Filename: "dune.png", Data: []byte("png")},
		}, nil)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var got struct {
			File struct {
				Path string `json:"path"`
			} `json:"file"`
			Status bool `json:"status"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.True(t, got.Status)
		assert.Equal(t, "dune.png", got.File.Path)
	})

	t.Run("static paths are not routes", func(t *testing.T) {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/uploads/recent", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("unknown route", func(t *testing.T) {
		req := testutil.NewMultipartRequest(t, "/api/uploads/films", nil, nil)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("metrics", func(t *testing.T) {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "# metrics")
	})
}
