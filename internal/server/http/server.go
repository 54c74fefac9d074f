// Package httpserver exposes the REST surface over chi.
package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/mkarpenko/cf-progress/internal/repository"
	"github.com/mkarpenko/cf-progress/internal/scheduler"
	"github.com/mkarpenko/cf-progress/internal/service"
)

// requestTimeout bounds one request, including a synchronous sync cycle with
// its paced remote calls.
const requestTimeout = 5 * time.Minute

// Server wraps the HTTP listener.
type Server struct {
	http *http.Server
	log  *zap.Logger
}

// New builds the router and the server around it.
func New(addr string, students service.StudentService, sync service.SyncService,
	settings repository.SettingsRepository, sched *scheduler.Scheduler, log *zap.Logger) *Server {

	h := &handlers{
		students: students,
		sync:     sync,
		settings: settings,
		sched:    sched,
		log:      log,
	}

	return &Server{
		http: &http.Server{
			Addr:              addr,
			Handler:           newRouter(h, log),
			ReadHeaderTimeout: 10 * time.Second,
		},
		log: log,
	}
}

func newRouter(h *handlers, log *zap.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(Recover(log))
	r.Use(Logging(log))
	r.Use(chimiddleware.Timeout(requestTimeout))

	r.Get("/healthz", h.health)

	r.Route("/api", func(api chi.Router) {
		api.Route("/students", func(sr chi.Router) {
			sr.Get("/", h.listStudents)
			sr.Post("/", h.enrollStudent)
			sr.Get("/csv", h.exportStudentsCSV)
			sr.Get("/{id}", h.getStudent)
			sr.Put("/{id}", h.updateStudent)
			sr.Delete("/{id}", h.deleteStudent)
			sr.Post("/{id}/sync", h.syncStudent)
		})
		api.Route("/settings/cron", func(cr chi.Router) {
			cr.Get("/", h.getCronSettings)
			cr.Put("/", h.updateCronSettings)
		})
	})

	return r
}

// ListenAndServe blocks until the listener fails or Shutdown is called.
func (s *Server) ListenAndServe() error {
	s.log.Info("listening", zap.String("addr", s.http.Addr))
	return s.http.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
