// Package serve provides the HTTP host for inktime frames, previews and the catalog review pages.
package serve

import (
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"k8s.io/klog/v2"

	"github.com/tstromberg/inktime/pkg/inktime"
)

// Server serves device downloads and the review web UI.
type Server struct {
	c        *inktime.Config
	catalog  *inktime.Catalog
	selector *inktime.Selector
	layout   *inktime.Layout

	idx atomic.Pointer[inktime.Index]
}

// New creates a new server and loads the initial index. A nil r uses the
// process-wide random source.
func New(c *inktime.Config, cat *inktime.Catalog, r inktime.Rand) (*Server, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	sel, err := inktime.NewSelector(c.Threshold, c.MaxLookback, r)
	if err != nil {
		return nil, err
	}
	s := &Server{
		c:        c,
		catalog:  cat,
		selector: sel,
		layout:   inktime.NewLayout(c.Width, c.Height),
	}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload rebuilds the day index from the catalog. Requests in flight keep
// using the snapshot they started with.
func (s *Server) Reload() error {
	idx, err := s.catalog.Index()
	if err != nil {
		return fmt.Errorf("index: %w", err)
	}
	s.idx.Store(idx)
	klog.Infof("loaded %d dated photos from %s", idx.Len(), s.catalog.Path())
	return nil
}

// Handler returns the routes served by s.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.IndexHandler())
	mux.HandleFunc("GET /static/inktime/{key}/{name}", s.DownloadHandler())

	mux.HandleFunc("GET /review", s.webUI(s.ReviewHandler()))
	mux.HandleFunc("GET /images/{path...}", s.webUI(s.ImageHandler()))
	mux.HandleFunc("GET /render", s.webUI(s.RenderHandler()))
	mux.HandleFunc("GET /sim", s.webUI(s.SimHandler()))
	mux.HandleFunc("GET /api/pick", s.webUI(s.PickHandler()))
	mux.HandleFunc("GET /api/reroll", s.webUI(s.RerollHandler()))
	mux.HandleFunc("GET /files/{path...}", s.webUI(s.FilesHandler()))
	return mux
}

// webUI hides h when the review web UI is disabled.
func (s *Server) webUI(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.c.EnableWebUI {
			http.NotFound(w, r)
			return
		}
		h(w, r)
	}
}

// Watch reloads the index whenever the catalog database changes. It returns
// when done is closed or the watcher fails.
func (s *Server) Watch(done <-chan struct{}) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("new watcher: %w", err)
	}
	defer w.Close()

	db, err := filepath.Abs(s.catalog.Path())
	if err != nil {
		return fmt.Errorf("abs: %w", err)
	}
	// watch the directory: sqlite replaces and journals beside the file
	if err := w.Add(filepath.Dir(db)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(db), err)
	}
	klog.Infof("watching %s for changes ...", db)

	for {
		select {
		case <-done:
			return nil
		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !strings.HasPrefix(filepath.Base(event.Name), filepath.Base(db)) {
				continue
			}
			klog.V(1).Infof("event: %s", event)
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) || event.Has(fsnotify.Remove) {
				if err := s.Reload(); err != nil {
					klog.Errorf("reload failed: %v", err)
				}
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			klog.Errorf("watch error: %v", err)
		}
	}
}

// safeJoin joins rel onto base, refusing results that escape base.
func safeJoin(base string, rel string) (string, error) {
	b, err := filepath.Abs(base)
	if err != nil {
		return "", err
	}
	p := filepath.Join(b, filepath.FromSlash(rel))
	if p != b && !strings.HasPrefix(p, b+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal blocked: %q", rel)
	}
	return p, nil
}

// imageURL maps a catalog path to its /images/ URL, or "" if the photo lies
// outside the image directory.
func (s *Server) imageURL(path string) string {
	if s.c.ImageDir == "" {
		return ""
	}
	b, err := filepath.Abs(s.c.ImageDir)
	if err != nil {
		return ""
	}
	r, err := filepath.Rel(b, path)
	if err != nil || r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) {
		return ""
	}
	return "/images/" + filepath.ToSlash(r)
}
