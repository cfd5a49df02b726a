package model

import (
	"time"
)

// ExamType distinguishes scheduled exams from practice tests.
type ExamType string

const (
	ExamTypeScheduled ExamType = "g"
	ExamTypePractice  ExamType = "q"
)

// EntryGrace is how long after its start a scheduled exam can still be joined.
const EntryGrace = 5 * time.Minute

// ExamStartLayout is the layout of the start time in the lobby listing.
const ExamStartLayout = "2006-01-02 15:04:05"

// ExamInfo is one entry of the lobby listing sent by the server.
type ExamInfo struct {
	// Number is the exam's 1-based position in the server's listing. It is
	// what the server expects back as the selection.
	Number          int        `json:"number" validate:"min=1"`
	Name            string     `json:"name" validate:"required"`
	Type            ExamType   `json:"type"`
	StartTime       *time.Time `json:"start_time,omitempty"`
	DurationMinutes int        `json:"duration_minutes" validate:"min=1"`
	TotalQuestions  int        `json:"total_questions" validate:"min=0"`
	Instructor      string     `json:"instructor"`
}

// Scheduled reports whether the exam has a fixed start time.
func (e *ExamInfo) Scheduled() bool {
	return e.StartTime != nil
}

// Duration returns the exam length.
func (e *ExamInfo) Duration() time.Duration {
	return time.Duration(e.DurationMinutes) * time.Minute
}

// EntryStatus describes whether an exam may be started now.
type EntryStatus string

const (
	EntryOpen       EntryStatus = "OPEN"
	EntryNotStarted EntryStatus = "NOT_STARTED"
	EntryClosed     EntryStatus = "CLOSED"
)

// CheckEntry reports whether the exam can be joined at now, and how long
// until it opens when it has not started yet. Practice tests are always open.
func (e *ExamInfo) CheckEntry(now time.Time) (EntryStatus, time.Duration) {
	if !e.Scheduled() {
		return EntryOpen, 0
	}
	start := *e.StartTime
	switch {
	case now.Before(start):
		return EntryNotStarted, start.Sub(now)
	case now.After(start.Add(EntryGrace)):
		return EntryClosed, 0
	default:
		return EntryOpen, 0
	}
}
