// Package store keeps course metadata in a JSON file and the pin layout
// the board was wired with.
package store

import (
	"bytes"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/sweeney/course-board/internal/input"
	"github.com/sweeney/course-board/internal/logic"
)

var (
	// ErrNotFound is returned when no course has the requested id.
	ErrNotFound = errors.New("course not found")
	// ErrLayoutMissing is returned when the pin layout file does not exist.
	ErrLayoutMissing = errors.New("pin layout file missing")
)

// LoadLayout reads and validates the pin layout file.
func LoadLayout(path string) (input.Layout, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return input.Layout{}, fmt.Errorf("%w: %s", ErrLayoutMissing, path)
	}
	if err != nil {
		return input.Layout{}, fmt.Errorf("read layout: %w", err)
	}

	var l input.Layout
	if err := json.Unmarshal(data, &l); err != nil {
		return input.Layout{}, fmt.Errorf("parse layout %s: %w", path, err)
	}
	if err := l.Validate(); err != nil {
		return input.Layout{}, fmt.Errorf("layout %s: %w", path, err)
	}
	return l, nil
}

// Store is the course record store. It is safe for concurrent use.
type Store struct {
	path   string
	layout input.Layout

	mu      sync.RWMutex
	courses []logic.Course
	byPin   map[input.Pin]logic.Course
	sum     [sha256.Size]byte
}

// Open loads the courses at path. A missing file is an empty course list;
// its directory is created so that Watch and the first save succeed.
func Open(path string, layout input.Layout) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create course directory: %w", err)
	}
	s := &Store{path: path, layout: layout}
	if _, err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Layout returns the pin layout.
func (s *Store) Layout() input.Layout {
	return s.layout
}

// CourseByPin returns the course bound to pin.
func (s *Store) CourseByPin(pin input.Pin) (logic.Course, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.byPin[pin]
	return c, ok
}

// Courses returns a copy of every course, in file order.
func (s *Store) Courses() []logic.Course {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]logic.Course{}, s.courses...)
}

// Upsert validates c and inserts it, or replaces the course with the same id.
func (s *Store) Upsert(c logic.Course) error {
	if err := c.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	courses := append([]logic.Course{}, s.courses...)
	replaced := false
	for i := range courses {
		if courses[i].CourseID == c.CourseID {
			courses[i] = c
			replaced = true
			break
		}
	}
	if !replaced {
		courses = append(courses, c)
	}
	return s.saveLocked(courses)
}

// Delete removes the course with the given id.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	courses := make([]logic.Course, 0, len(s.courses))
	for _, c := range s.courses {
		if c.CourseID != id {
			courses = append(courses, c)
		}
	}
	if len(courses) == len(s.courses) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s.saveLocked(courses)
}

// Reload rereads the course file. It reports whether the content changed
// since the last load or save.
func (s *Store) Reload() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil && !os.IsNotExist(err) {
		return false, fmt.Errorf("read courses: %w", err)
	}

	sum := sha256.Sum256(data)
	if s.byPin != nil && sum == s.sum {
		return false, nil
	}

	courses, err := parseCourses(data)
	if err != nil {
		return false, fmt.Errorf("parse %s: %w", s.path, err)
	}
	s.setLocked(courses, sum)
	return true, nil
}

func (s *Store) setLocked(courses []logic.Course, sum [sha256.Size]byte) {
	byPin := make(map[input.Pin]logic.Course, len(courses))
	for _, c := range courses {
		if prev, ok := byPin[c.ButtonPin]; ok {
			log.WithField("pin", c.ButtonPin).Warnf("store: courses %q and %q share a pin, using %q", prev.CourseID, c.CourseID, c.CourseID)
		}
		byPin[c.ButtonPin] = c
	}
	s.courses = courses
	s.byPin = byPin
	s.sum = sum
}

// saveLocked writes courses through a temp file and rename, then makes
// them current.
func (s *Store) saveLocked(courses []logic.Course) error {
	data, err := json.MarshalIndent(courses, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal courses: %w", err)
	}
	data = append(data, '\n')

	if err := writeFileAtomic(s.path, data); err != nil {
		return err
	}
	s.setLocked(courses, sha256.Sum256(data))
	return nil
}

// parseCourses decodes a JSON array of courses. Entries that fail
// validation are logged and skipped.
func parseCourses(data []byte) ([]logic.Course, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return []logic.Course{}, nil
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	courses := make([]logic.Course, 0, len(raw))
	for _, r := range raw {
		var c logic.Course
		if err := json.Unmarshal(r, &c); err != nil {
			log.Warnf("store: skipping course: %v", err)
			continue
		}
		if err := c.Validate(); err != nil {
			log.WithField("course_id", c.CourseID).Warnf("store: skipping course: %v", err)
			continue
		}
		courses = append(courses, c)
	}
	return courses, nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}
