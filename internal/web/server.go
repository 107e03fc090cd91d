// Package web provides the HTTP surface of the course board: the live
// board page, the JSON API, the websocket feed and the admin endpoints.
package web

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/sweeney/course-board/internal/audit"
	"github.com/sweeney/course-board/internal/broadcast"
	"github.com/sweeney/course-board/internal/logic"
	"github.com/sweeney/course-board/internal/status"
	"github.com/sweeney/course-board/internal/store"
)

// Board is the presentation side of the dispatcher.
type Board interface {
	Subscribe(ctx context.Context, sink broadcast.Sink, greeting ...logic.Message) (*broadcast.Handle, error)
	Unsubscribe(h *broadcast.Handle)
	State(ctx context.Context) (logic.StateMessage, error)
	RequestClear(ctx context.Context) error
	CoursesUpdated(ctx context.Context) error
	Snapshot() status.Snapshot
}

// CourseStore is the editable course list.
type CourseStore interface {
	Courses() []logic.Course
	Upsert(c logic.Course) error
	Delete(id string) error
}

// PressLog reads recent audit entries.
type PressLog interface {
	Recent(ctx context.Context, n int) ([]audit.Entry, error)
}

// InputControl exposes the serial wiring of the running input backend.
type InputControl interface {
	SerialSettings() store.SerialSettings
	UpdateSerial(s store.SerialSettings) error
}

// Config wires a Server. Audit may be nil, in which case the press log
// endpoint returns an empty list. Inputs may be nil, which disables the
// serial settings endpoints.
type Config struct {
	Addr    string
	Title   string
	Board   Board
	Courses CourseStore
	Audit   PressLog
	Inputs  InputControl

	// AdminUser and AdminHash (bcrypt) guard the admin endpoints. An empty
	// hash disables them.
	AdminUser string
	AdminHash string
}

// Server serves the board over HTTP.
type Server struct {
	httpServer *http.Server
	cfg        Config
}

// New creates a Server.
func New(cfg Config) *Server {
	s := &Server{cfg: cfg}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /index.html", s.handleIndex)
	mux.HandleFunc("GET /index.json", s.handleStatusJSON)
	mux.HandleFunc("GET /ws", s.handleWS)

	mux.HandleFunc("GET /api/state", s.handleState)
	mux.HandleFunc("GET /api/courses", s.handleCourses)
	mux.HandleFunc("POST /api/clear", s.handleClear)

	mux.Handle("GET /admin", s.requireAdmin(http.HandlerFunc(s.handleAdmin)))
	mux.Handle("POST /api/admin/courses", s.requireAdmin(http.HandlerFunc(s.handleCreateCourse)))
	mux.Handle("PUT /api/admin/courses/{id}", s.requireAdmin(http.HandlerFunc(s.handleUpdateCourse)))
	mux.Handle("DELETE /api/admin/courses/{id}", s.requireAdmin(http.HandlerFunc(s.handleDeleteCourse)))
	mux.Handle("GET /api/admin/presses", s.requireAdmin(http.HandlerFunc(s.handlePresses)))
	mux.Handle("GET /api/admin/arduino-config", s.requireAdmin(http.HandlerFunc(s.handleGetSerial)))
	mux.Handle("POST /api/admin/arduino-config", s.requireAdmin(http.HandlerFunc(s.handleUpdateSerial)))

	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server. Hijacked websocket
// connections are not tracked by net/http; they end when the fanout
// closes their sinks.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	snap := s.cfg.Board.Snapshot()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	renderBoard(w, s.cfg.Title, snap)
}

func (s *Server) handleAdmin(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	renderAdmin(w, s.cfg.Title)
}

func (s *Server) handleStatusJSON(w http.ResponseWriter, r *http.Request) {
	snap := s.cfg.Board.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(snap))
}
