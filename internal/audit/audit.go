// Package audit persists the press log: one entry per recognized
// transition, newest last, bounded to a fixed number of entries.
package audit

import (
	"context"
	"time"

	"github.com/sweeney/course-board/internal/input"
	"github.com/sweeney/course-board/internal/logic"
)

// DefaultMaxEntries is the number of entries kept by default.
const DefaultMaxEntries = 1000

// Entry is one line of the press log.
type Entry struct {
	Timestamp time.Time        `json:"timestamp"`
	Pin       input.Pin        `json:"pin"`
	CourseID  *string          `json:"course_id,omitempty"`
	Action    logic.Action     `json:"action"`
	Source    input.SourceKind `json:"source,omitempty"`
}

// FromRecord converts a transition record to a log entry in UTC.
func FromRecord(r logic.Record) Entry {
	e := Entry{
		Timestamp: r.Time.UTC(),
		Pin:       r.Pin,
		Action:    r.Action,
		Source:    r.Source,
	}
	if r.CourseID != nil {
		id := *r.CourseID
		e.CourseID = &id
	}
	return e
}

// Writer appends entries and reads back the newest ones.
type Writer interface {
	// Append adds e after every earlier entry.
	Append(ctx context.Context, e Entry) error
	// Recent returns up to n of the newest entries, oldest first.
	Recent(ctx context.Context, n int) ([]Entry, error)
	Close() error
}
