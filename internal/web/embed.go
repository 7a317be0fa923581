// Package web serves the embedded upload console.
package web

import (
	"embed"
	"io/fs"
	"net/http"

	"github.com/labstack/echo/v4"
)

//go:embed static/*
var staticFiles embed.FS

// GetFileSystem returns the embedded filesystem with the static folder as root.
func GetFileSystem() (fs.FS, error) {
	return fs.Sub(staticFiles, "static")
}

// RegisterStaticRoutes serves the console at / and its assets by name.
// Unknown paths are left to the router so API 404s stay JSON.
func RegisterStaticRoutes(e *echo.Echo) error {
	staticFS, err := GetFileSystem()
	if err != nil {
		return err
	}

	entries, err := fs.ReadDir(staticFS, ".")
	if err != nil {
		return err
	}

	fileServer := http.FileServer(http.FS(staticFS))
	e.GET("/", echo.WrapHandler(fileServer))
	for _, entry := range entries {
		if entry.IsDir() || entry.Name() == "index.html" {
			continue
		}
		e.GET("/"+entry.Name(), echo.WrapHandler(fileServer))
	}

	return nil
}
