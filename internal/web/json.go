package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	log "github.com/sirupsen/logrus"

	"github.com/sweeney/course-board/internal/audit"
	"github.com/sweeney/course-board/internal/logic"
	"github.com/sweeney/course-board/internal/store"
)

const (
	maxBodyBytes   = 64 << 10
	defaultPresses = 100
)

type okResponse struct {
	OK bool `json:"ok"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debugf("web: write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorResponse{Error: msg})
}

func decodeCourse(r *http.Request) (logic.Course, error) {
	var c logic.Course
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&c); err != nil {
		return logic.Course{}, fmt.Errorf("decode course: %w", err)
	}
	if err := c.Validate(); err != nil {
		return logic.Course{}, err
	}
	return c, nil
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	msg, err := s.cfg.Board.State(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (s *Server) handleCourses(w http.ResponseWriter, r *http.Request) {
	courses := s.cfg.Courses.Courses()
	if courses == nil {
		courses = []logic.Course{}
	}
	writeJSON(w, http.StatusOK, courses)
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.Board.RequestClear(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

func (s *Server) handleCreateCourse(w http.ResponseWriter, r *http.Request) {
	c, err := decodeCourse(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.saveCourse(w, r, c)
}

func (s *Server) handleUpdateCourse(w http.ResponseWriter, r *http.Request) {
	c, err := decodeCourse(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if id := r.PathValue("id"); c.CourseID != id {
		writeError(w, http.StatusBadRequest, "course_id in path and body must match")
		return
	}
	s.saveCourse(w, r, c)
}

func (s *Server) saveCourse(w http.ResponseWriter, r *http.Request, c logic.Course) {
	if err := s.cfg.Courses.Upsert(c); err != nil {
		log.WithField("course", c.CourseID).Errorf("web: save course: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to save course")
		return
	}
	s.coursesChanged(r)
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

func (s *Server) handleDeleteCourse(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	err := s.cfg.Courses.Delete(id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "course not found")
		return
	case err != nil:
		log.WithField("course", id).Errorf("web: delete course: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to delete course")
		return
	}
	s.coursesChanged(r)
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

// coursesChanged notifies subscribers. The file watcher may announce the
// same change again; clients just refetch.
func (s *Server) coursesChanged(r *http.Request) {
	if err := s.cfg.Board.CoursesUpdated(r.Context()); err != nil {
		log.Warnf("web: broadcast courses_updated: %v", err)
	}
}

func (s *Server) handlePresses(w http.ResponseWriter, r *http.Request) {
	n := defaultPresses
	if v := r.URL.Query().Get("n"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 {
			writeError(w, http.StatusBadRequest, "n must be a positive integer")
			return
		}
		n = parsed
	}

	entries := []audit.Entry{}
	if s.cfg.Audit != nil {
		got, err := s.cfg.Audit.Recent(r.Context(), n)
		if err != nil {
			log.Errorf("web: read press log: %v", err)
			writeError(w, http.StatusInternalServerError, "failed to read press log")
			return
		}
		if got != nil {
			entries = got
		}
	}
	writeJSON(w, http.StatusOK, entries)
}
