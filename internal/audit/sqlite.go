package audit

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/sweeney/course-board/internal/input"
	"github.com/sweeney/course-board/internal/logic"
)

// SQLiteWriter keeps the press log in a SQLite table. Writes go through a
// single worker goroutine; each insert trims the table in the same
// transaction.
type SQLiteWriter struct {
	db  *sql.DB
	w   *worker
	max int
}

// OpenSQLite opens or creates the database at path and applies migrations.
func OpenSQLite(ctx context.Context, path string, maxEntries int) (*SQLiteWriter, error) {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir db dir: %w", err)
	}

	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)",
		path,
	)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &SQLiteWriter{db: db, w: newWorker(db), max: maxEntries}, nil
}

// Append inserts e and deletes rows that fell out of the retention window.
func (s *SQLiteWriter) Append(ctx context.Context, e Entry) error {
	var courseID sql.NullString
	if e.CourseID != nil {
		courseID = sql.NullString{String: *e.CourseID, Valid: true}
	}
	ts := e.Timestamp.UTC().Format(time.RFC3339Nano)

	err := s.w.do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			"INSERT INTO presses(ts, pin, course_id, action, source) VALUES(?, ?, ?, ?, ?)",
			ts, int(e.Pin), courseID, string(e.Action), string(e.Source),
		)
		if err != nil {
			return err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, "DELETE FROM presses WHERE id <= ?", id-int64(s.max))
		return err
	})
	if err != nil {
		return fmt.Errorf("append press: %w", err)
	}
	return nil
}

// Recent returns up to n of the newest entries, oldest first.
func (s *SQLiteWriter) Recent(ctx context.Context, n int) ([]Entry, error) {
	if n <= 0 || n > s.max {
		n = s.max
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT ts, pin, course_id, action, source FROM presses ORDER BY id DESC LIMIT ?", n)
	if err != nil {
		return nil, fmt.Errorf("query presses: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			ts, action, source string
			pin                int
			courseID           sql.NullString
		)
		if err := rows.Scan(&ts, &pin, &courseID, &action, &source); err != nil {
			return nil, fmt.Errorf("scan press: %w", err)
		}
		t, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("parse timestamp %q: %w", ts, err)
		}
		e := Entry{
			Timestamp: t,
			Pin:       input.Pin(pin),
			Action:    logic.Action(action),
			Source:    input.SourceKind(source),
		}
		if courseID.Valid {
			id := courseID.String
			e.CourseID = &id
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read presses: %w", err)
	}

	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

// Close waits for queued writes, then closes the database.
func (s *SQLiteWriter) Close() error {
	s.w.close()
	return s.db.Close()
}
