package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"freport/internal/logging"
	"freport/internal/store"
)

// Server serves the report views over HTTP.
type Server struct {
	store    *store.Store
	renderer *Renderer
	mux      *http.ServeMux
	httpSrv  *http.Server
}

// NewServer wires the routes. addr is the listen address for Run.
func NewServer(addr string, st *store.Store, renderer *Renderer) *Server {
	s := &Server{
		store:    st,
		renderer: renderer,
		mux:      http.NewServeMux(),
	}
	s.mux.HandleFunc("GET /reports/{id}", s.handleReport)
	s.mux.HandleFunc("GET /global", s.handleGlobal)
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler exposes the mux for tests.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Run serves until the server is shut down.
func (s *Server) Run() error {
	logging.Web("listening on %s", s.httpSrv.Addr)
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

type reportView struct {
	Report *store.Report
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid report id", http.StatusBadRequest)
		return
	}

	report, err := s.store.GetReport(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		logging.Get(logging.CategoryWeb).Error("load report %d: %v", id, err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.renderer.Render(w, "report.html", reportView{Report: report}); err != nil {
		logging.Get(logging.CategoryWeb).Error("render report %d: %v", id, err)
	}
}

type globalView struct {
	Summary *store.Summary
	Reports []store.Report
}

func (s *Server) handleGlobal(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	summary, err := s.store.GlobalSummary(ctx)
	if err != nil {
		logging.Get(logging.CategoryWeb).Error("global summary: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	reports, err := s.store.ListReports(ctx, store.ListFilter{})
	if err != nil {
		logging.Get(logging.CategoryWeb).Error("list reports: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.renderer.Render(w, "global.html", globalView{Summary: summary, Reports: reports}); err != nil {
		logging.Get(logging.CategoryWeb).Error("render global view: %v", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintln(w, "ok")
}
