// Package web serves the report and summary views the capture pipeline
// renders to PDF. The section ids and classes in the templates are the
// contract the export selectors point at.
package web

import (
	"embed"
	"fmt"
	"html/template"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"freport/internal/logging"
)

//go:embed templates/*.html
var templateFS embed.FS

var templateFuncs = template.FuncMap{
	"add": func(a, b int) int { return a + b },
	"money": func(cents int64) string {
		sign := ""
		if cents < 0 {
			sign = "-"
			cents = -cents
		}
		return fmt.Sprintf("%s$%d.%02d", sign, cents/100, cents%100)
	},
}

// Renderer holds the parsed view templates. With a dev directory set it
// re-parses from disk whenever a template file changes; otherwise it
// serves the embedded copies.
type Renderer struct {
	mu   sync.RWMutex
	tmpl *template.Template

	devDir  string
	watcher *fsnotify.Watcher
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewRenderer parses the embedded templates.
func NewRenderer() (*Renderer, error) {
	tmpl, err := template.New("").Funcs(templateFuncs).ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse embedded templates: %w", err)
	}
	return &Renderer{tmpl: tmpl}, nil
}

// NewDevRenderer parses templates from dir and reloads them on change.
func NewDevRenderer(dir string) (*Renderer, error) {
	r := &Renderer{
		devDir: dir,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	if err := r.reload(); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create template watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch template dir %s: %w", dir, err)
	}
	r.watcher = watcher

	go r.watch()
	logging.Web("dev mode: watching templates in %s", dir)
	return r, nil
}

func (r *Renderer) reload() error {
	pattern := filepath.Join(r.devDir, "*.html")
	tmpl, err := template.New("").Funcs(templateFuncs).ParseGlob(pattern)
	if err != nil {
		return fmt.Errorf("parse templates from %s: %w", r.devDir, err)
	}
	r.mu.Lock()
	r.tmpl = tmpl
	r.mu.Unlock()
	return nil
}

func (r *Renderer) watch() {
	defer close(r.doneCh)

	// Editors fire bursts of events per save; coalesce them.
	var pending bool
	debounce := time.NewTicker(200 * time.Millisecond)
	defer debounce.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if !strings.HasSuffix(event.Name, ".html") {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				pending = true
			}
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			logging.Get(logging.CategoryWeb).Error("template watcher: %v", err)
		case <-debounce.C:
			if !pending {
				continue
			}
			pending = false
			if err := r.reload(); err != nil {
				logging.Get(logging.CategoryWeb).Error("template reload failed: %v", err)
				continue
			}
			logging.Web("templates reloaded")
		}
	}
}

// Close stops the dev watcher if one is running.
func (r *Renderer) Close() {
	if r.watcher == nil {
		return
	}
	close(r.stopCh)
	<-r.doneCh
	r.watcher.Close()
}

// Render writes the named template to w.
func (r *Renderer) Render(w io.Writer, name string, data interface{}) error {
	r.mu.RLock()
	tmpl := r.tmpl
	r.mu.RUnlock()
	if err := tmpl.ExecuteTemplate(w, name, data); err != nil {
		return fmt.Errorf("render %s: %w", name, err)
	}
	return nil
}

// WriteDevTemplates copies the embedded templates into dir so dev mode
// has files to edit and watch.
func WriteDevTemplates(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	entries, err := templateFS.ReadDir("templates")
	if err != nil {
		return err
	}
	for _, entry := range entries {
		dst := filepath.Join(dir, entry.Name())
		if _, err := os.Stat(dst); err == nil {
			continue
		}
		data, err := templateFS.ReadFile("templates/" + entry.Name())
		if err != nil {
			return err
		}
		if err := os.WriteFile(dst, data, 0o644); err != nil {
			return err
		}
	}
	return nil
}
