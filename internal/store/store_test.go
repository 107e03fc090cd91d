package store

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/course-board/internal/input"
	"github.com/sweeney/course-board/internal/logic"
)

var layout = input.Layout{CoursePins: []input.Pin{17, 27}, ClearPin: 22}

func course(id string, pin input.Pin) logic.Course {
	return logic.Course{
		CourseID:    id,
		Title:       "Title " + id,
		Room:        "R1",
		Description: "desc",
		Overview:    "overview",
		ButtonPin:   pin,
	}
}

const coursesJSON = `[
  {"course_id": "math", "title": "Maths", "room": "A1", "description": "d", "overview": "o", "button_gpio_pin": 17, "image_path": ""},
  {"course_id": "broken", "title": "", "room": "A2", "description": "d", "overview": "o", "button_gpio_pin": 5},
  {"course_id": "art", "title": "Art", "room": "B2", "description": "d", "overview": "o", "button_gpio_pin": 27, "image_path": "/img/art.png"}
]`

func TestLoadLayout(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadLayout(filepath.Join(dir, "missing.json"))
	assert.ErrorIs(t, err, ErrLayoutMissing)

	path := filepath.Join(dir, "gpio_map.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"course_pins": [27, 17], "clear_pin": 22}`), 0o644))
	l, err := LoadLayout(path)
	require.NoError(t, err)
	assert.Equal(t, []input.Pin{27, 17}, l.CoursePins)
	assert.Equal(t, input.Pin(22), l.ClearPin)

	require.NoError(t, os.WriteFile(path, []byte(`{"course_pins": [17, 22], "clear_pin": 22}`), 0o644))
	_, err = LoadLayout(path)
	assert.Error(t, err, "clear pin reused as a course pin")

	require.NoError(t, os.WriteFile(path, []byte(`not json`), 0o644))
	_, err = LoadLayout(path)
	assert.Error(t, err)
}

func TestOpenMissingFileIsEmpty(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "courses.json"), layout)
	require.NoError(t, err)
	assert.Empty(t, s.Courses())
	assert.NotNil(t, s.Courses())
	_, ok := s.CourseByPin(17)
	assert.False(t, ok)
	assert.Equal(t, layout, s.Layout())
}

func TestOpenMissingDirectoryStillWatches(t *testing.T) {
	path := filepath.Join(t.TempDir(), "not", "yet", "courses.json")
	s, err := Open(path, layout)
	require.NoError(t, err)
	assert.DirExists(t, filepath.Dir(path))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Watch(ctx, func() {}) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}

func TestOpenSkipsInvalidCourses(t *testing.T) {
	path := filepath.Join(t.TempDir(), "courses.json")
	require.NoError(t, os.WriteFile(path, []byte(coursesJSON), 0o644))

	s, err := Open(path, layout)
	require.NoError(t, err)

	courses := s.Courses()
	require.Len(t, courses, 2)
	assert.Equal(t, "math", courses[0].CourseID)
	assert.Equal(t, "art", courses[1].CourseID)

	c, ok := s.CourseByPin(27)
	require.True(t, ok)
	assert.Equal(t, "/img/art.png", c.ImagePath)
	_, ok = s.CourseByPin(5)
	assert.False(t, ok)
}

func TestOpenMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "courses.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"not": "an array"}`), 0o644))
	_, err := Open(path, layout)
	assert.Error(t, err)
}

func TestUpsertInsertsAndReplaces(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "courses.json")
	s, err := Open(path, layout)
	require.NoError(t, err)

	require.NoError(t, s.Upsert(course("math", 17)))
	require.NoError(t, s.Upsert(course("art", 27)))

	moved := course("math", 5)
	moved.Title = "Advanced Maths"
	require.NoError(t, s.Upsert(moved))

	courses := s.Courses()
	require.Len(t, courses, 2)
	assert.Equal(t, "Advanced Maths", courses[0].Title)

	_, ok := s.CourseByPin(17)
	assert.False(t, ok, "old pin should be unbound")
	c, ok := s.CourseByPin(5)
	require.True(t, ok)
	assert.Equal(t, "math", c.CourseID)

	reopened, err := Open(path, layout)
	require.NoError(t, err)
	assert.Equal(t, courses, reopened.Courses())

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestUpsertRejectsInvalid(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "courses.json"), layout)
	require.NoError(t, err)

	bad := course("math", 17)
	bad.Room = ""
	assert.Error(t, s.Upsert(bad))
	assert.Empty(t, s.Courses())
}

func TestDelete(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "courses.json"), layout)
	require.NoError(t, err)
	require.NoError(t, s.Upsert(course("math", 17)))

	assert.ErrorIs(t, s.Delete("nope"), ErrNotFound)

	require.NoError(t, s.Delete("math"))
	assert.Empty(t, s.Courses())
	_, ok := s.CourseByPin(17)
	assert.False(t, ok)
}

func TestReloadReportsChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "courses.json")
	s, err := Open(path, layout)
	require.NoError(t, err)

	changed, err := s.Reload()
	require.NoError(t, err)
	assert.False(t, changed)

	require.NoError(t, os.WriteFile(path, []byte(coursesJSON), 0o644))
	changed, err = s.Reload()
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Len(t, s.Courses(), 2)

	require.NoError(t, s.Upsert(course("music", 4)))
	changed, err = s.Reload()
	require.NoError(t, err)
	assert.False(t, changed, "our own save is not a change")
}

func TestWatchReloadsOnExternalEdit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "courses.json")
	s, err := Open(path, layout)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32
	done := make(chan error, 1)
	go func() { done <- s.Watch(ctx, func() { calls.Add(1) }) }()

	// Give the watcher time to register before editing.
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte(coursesJSON), 0o644))

	require.Eventually(t, func() bool { return calls.Load() >= 1 }, 3*time.Second, 10*time.Millisecond)
	_, ok := s.CourseByPin(17)
	assert.True(t, ok)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}

func TestWatchIgnoresOwnSaves(t *testing.T) {
	path := filepath.Join(t.TempDir(), "courses.json")
	s, err := Open(path, layout)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var calls atomic.Int32
	go s.Watch(ctx, func() { calls.Add(1) })

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, s.Upsert(course("math", 17)))

	time.Sleep(4 * reloadDelay)
	assert.Equal(t, int32(0), calls.Load())
}

func TestSerialSettingsRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg", "arduino_config.json")

	_, ok, err := LoadSerialSettings(path)
	require.NoError(t, err)
	assert.False(t, ok, "missing file")

	clearIn := 9
	want := SerialSettings{SerialPort: "/dev/ttyUSB1", BaudRate: 115200, CourseInputs: []int{0, 1}, ClearInput: &clearIn, InputCount: 10}
	require.NoError(t, SaveSerialSettings(path, want))

	got, ok, err := LoadSerialSettings(path)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want, got)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"serial_port": "/dev/ttyUSB1"`)
	assert.Contains(t, string(raw), `"clear_input": 9`)
}

func TestSerialSettingsPartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "arduino_config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"course_inputs": [3, 4]}`), 0o644))

	got, ok, err := LoadSerialSettings(path)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "/dev/ttyACM0", got.SerialPort)
	assert.Equal(t, 9600, got.BaudRate)
	assert.Equal(t, []int{3, 4}, got.CourseInputs)
	assert.Nil(t, got.ClearInput)
}

func TestSerialSettingsRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "arduino_config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"baud_rate": "fast"}`), 0o644))

	_, _, err := LoadSerialSettings(path)
	assert.Error(t, err)
}
