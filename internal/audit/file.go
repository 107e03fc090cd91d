package audit

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	log "github.com/sirupsen/logrus"
)

// FileWriter keeps the press log as JSON lines in a single file.
type FileWriter struct {
	path  string
	max   int
	slack int
	open  func(path string) (*os.File, error)

	mu     sync.Mutex
	f      *os.File // nil after a failed reopen; Append retries
	lines  int
	closed bool
}

// OpenFile opens or creates the log at path, keeping at least the newest
// maxEntries entries.
func OpenFile(path string, maxEntries int) (*FileWriter, error) {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir log dir: %w", err)
	}

	w := &FileWriter{path: path, max: maxEntries, slack: maxEntries / 10, open: openAppend}

	lines, err := w.readLines()
	if err != nil {
		return nil, err
	}
	w.lines = len(lines)

	if err := w.reopen(); err != nil {
		return nil, err
	}
	if w.lines > w.max {
		if err := w.trimLocked(); err != nil {
			if w.f != nil {
				_ = w.f.Close()
			}
			return nil, err
		}
	}
	return w, nil
}

// Append writes e as one line. Once the file holds more than max entries
// plus a small slack, it is rewritten with only the newest max.
func (w *FileWriter) Append(ctx context.Context, e Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}
	data = append(data, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return os.ErrClosed
	}
	if w.f == nil {
		if err := w.reopen(); err != nil {
			return err
		}
	}
	if _, err := w.f.Write(data); err != nil {
		return fmt.Errorf("append %s: %w", w.path, err)
	}
	w.lines++
	if w.lines > w.max+w.slack {
		return w.trimLocked()
	}
	return nil
}

// Recent returns up to n of the newest entries, oldest first. Lines that
// fail to parse are skipped.
func (w *FileWriter) Recent(ctx context.Context, n int) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if n <= 0 || n > w.max {
		n = w.max
	}

	w.mu.Lock()
	lines, err := w.readLines()
	w.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}

	entries := make([]Entry, 0, len(lines))
	for _, line := range lines {
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			log.WithField("path", w.path).Warnf("audit: skipping malformed line: %v", err)
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Close closes the file. Further appends fail.
func (w *FileWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	if w.f == nil {
		return nil
	}
	err := w.f.Close()
	w.f = nil
	return err
}

func (w *FileWriter) readLines() ([][]byte, error) {
	data, err := os.ReadFile(w.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", w.path, err)
	}

	var lines [][]byte
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 4096), 1<<20)
	for sc.Scan() {
		if len(bytes.TrimSpace(sc.Bytes())) == 0 {
			continue
		}
		lines = append(lines, append([]byte(nil), sc.Bytes()...))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", w.path, err)
	}
	return lines, nil
}

func openAppend(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
}

func (w *FileWriter) reopen() error {
	f, err := w.open(w.path)
	if err != nil {
		return fmt.Errorf("open %s: %w", w.path, err)
	}
	w.f = f
	return nil
}

// trimLocked rewrites the file with the newest max lines through a temp
// file and rename, so a crash leaves either the old or the new file.
func (w *FileWriter) trimLocked() error {
	lines, err := w.readLines()
	if err != nil {
		return err
	}
	if len(lines) > w.max {
		lines = lines[len(lines)-w.max:]
	}

	tmp, err := os.CreateTemp(filepath.Dir(w.path), filepath.Base(w.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpName := tmp.Name()
	bw := bufio.NewWriter(tmp)
	for _, line := range lines {
		bw.Write(line)
		bw.WriteByte('\n')
	}
	if err := bw.Flush(); err != nil {
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
	if err := os.Rename(tmpName, w.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace %s: %w", w.path, err)
	}

	if w.f != nil {
		w.f.Close()
		w.f = nil
	}
	w.lines = len(lines)
	return w.reopen()
}
