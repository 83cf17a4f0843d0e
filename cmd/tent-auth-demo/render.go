package main

import (
	"embed"
	"fmt"
	"io"
	"io/fs"
	"path"

	"github.com/flosch/pongo2/v6"
	"github.com/labstack/echo/v4"
)

//go:embed templates/*.html
var templateFS embed.FS

type renderer struct {
	templates map[string]*pongo2.Template
}

func newRenderer() (*renderer, error) {
	names, err := fs.Glob(templateFS, "templates/*.html")
	if err != nil {
		return nil, err
	}
	r := &renderer{templates: make(map[string]*pongo2.Template)}
	for _, name := range names {
		b, err := templateFS.ReadFile(name)
		if err != nil {
			return nil, err
		}
		tpl, err := pongo2.FromBytes(b)
		if err != nil {
			return nil, fmt.Errorf("parsing template %s: %w", name, err)
		}
		r.templates[path.Base(name)] = tpl
	}
	return r, nil
}

func (r *renderer) Render(w io.Writer, name string, data interface{}, c echo.Context) error {
	tpl, ok := r.templates[name]
	if !ok {
		return fmt.Errorf("template not found: %s", name)
	}
	ctx, ok := data.(pongo2.Context)
	if !ok {
		ctx = pongo2.Context{}
	}
	return tpl.ExecuteWriter(ctx, w)
}
