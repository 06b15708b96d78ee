package handler

import (
	"bytes"
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"log/slog"
	"maps"
	"net/http"
	"os"
	"path"
	"slices"
	"strings"
	"sync"
)

const (
	layoutFile = "layouts/auth.html"
	pagesGlob  = "pages/auth/*.html"
	layoutName = "auth"
	namePrefix = layoutName + "/"
)

// Renderer holds one template set per form page. Each set is a clone of the
// shared layout with a single page file parsed into it, so every page may
// define "content" without clashing. Sets are keyed "auth/<file stem>".
type Renderer struct {
	fsys   fs.FS
	logger *slog.Logger
	reload bool

	mu    sync.RWMutex
	pages map[string]*template.Template
}

// RendererConfig selects the template source.
type RendererConfig struct {
	// FS holds the templates, normally the embedded web package.
	FS fs.FS

	// TemplatesDir reads templates from disk instead of FS. With IsDev set
	// they are re-parsed on every render.
	TemplatesDir string

	Logger *slog.Logger
	IsDev  bool
}

func NewRenderer(cfg RendererConfig) (*Renderer, error) {
	r := &Renderer{
		fsys:   cfg.FS,
		logger: cfg.Logger,
		reload: cfg.IsDev && cfg.TemplatesDir != "",
	}
	if cfg.TemplatesDir != "" {
		r.fsys = os.DirFS(cfg.TemplatesDir)
	}
	if r.fsys == nil {
		return nil, fmt.Errorf("renderer: no template source configured")
	}

	pages, err := parsePages(r.fsys)
	if err != nil {
		return nil, err
	}
	r.pages = pages
	return r, nil
}

func parsePages(fsys fs.FS) (map[string]*template.Template, error) {
	layout, err := template.New(layoutName).Funcs(TemplateFuncs()).ParseFS(fsys, layoutFile)
	if err != nil {
		return nil, fmt.Errorf("parse layout: %w", err)
	}

	files, err := fs.Glob(fsys, pagesGlob)
	if err != nil {
		return nil, fmt.Errorf("glob pages: %w", err)
	}

	pages := make(map[string]*template.Template, len(files))
	for _, file := range files {
		t, err := layout.Clone()
		if err != nil {
			return nil, fmt.Errorf("clone layout for %s: %w", file, err)
		}
		if t, err = t.ParseFS(fsys, file); err != nil {
			return nil, fmt.Errorf("parse %s: %w", file, err)
		}
		pages[namePrefix+strings.TrimSuffix(path.Base(file), path.Ext(file))] = t
	}
	return pages, nil
}

// Reload re-parses every template. The previous set stays in place if
// parsing fails.
func (r *Renderer) Reload() error {
	pages, err := parsePages(r.fsys)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.pages = pages
	r.mu.Unlock()
	return nil
}

func (r *Renderer) lookup(name string) (*template.Template, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.pages[name]
	return t, ok
}

// Has reports whether a page set named name is loaded.
func (r *Renderer) Has(name string) bool {
	_, ok := r.lookup(name)
	return ok
}

// Names lists the loaded page sets in sorted order.
func (r *Renderer) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.pages))
}

// Render executes the layout of page set name into w.
func (r *Renderer) Render(w io.Writer, name string, data interface{}) error {
	if r.reload {
		if err := r.Reload(); err != nil {
			return fmt.Errorf("template reload failed: %w", err)
		}
	}

	t, ok := r.lookup(name)
	if !ok {
		return fmt.Errorf("template %q not found", name)
	}
	return t.ExecuteTemplate(w, layoutName, data)
}

// RenderHTTP buffers the page so a template error can still become a 500.
func (r *Renderer) RenderHTTP(w http.ResponseWriter, name string, data interface{}) {
	var buf bytes.Buffer
	if err := r.Render(&buf, name, data); err != nil {
		r.logger.Error("template execution failed", "name", name, "error", err)
		http.Error(w, "Template execution failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = buf.WriteTo(w)
}
