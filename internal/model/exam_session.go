package model

import (
	"time"

	"github.com/google/uuid"
)

// SessionState enumerates exam session states.
type SessionState string

const (
	SessionActive    SessionState = "ACTIVE"
	SessionExpired   SessionState = "EXPIRED"
	SessionSubmitted SessionState = "SUBMITTED"
)

// Terminal reports whether no further navigation is possible.
func (s SessionState) Terminal() bool {
	return s == SessionExpired || s == SessionSubmitted
}

// ExamSession owns everything one sitting of an exam needs: the paper in
// presented order and the mapping back to canonical indices.
type ExamSession struct {
	ID        uuid.UUID
	ExamID    string
	Paper     ExamPaper
	Mapping   ShuffleMapping
	Duration  time.Duration
	CreatedAt time.Time
}

// Len returns the number of presented questions.
func (s *ExamSession) Len() int {
	return s.Paper.Len()
}

// SheetRow is one line of a finalized answer sheet, in canonical terms.
type SheetRow struct {
	QuestionIndex int `json:"q" validate:"min=0"`
	OptionIndex   int `json:"ans" validate:"min=-1,max=3"`
	Seconds       int `json:"secs" validate:"min=0"`
}

// AnswerSheet is the frozen result of a session. Rows follow presented order.
type AnswerSheet struct {
	ExamID     string       `json:"exam_id"`
	Rows       []SheetRow   `json:"rows"`
	Outcome    SessionState `json:"outcome"`
	FinishedAt time.Time    `json:"finished_at"`
}

// UnansweredCount returns how many rows carry no answer.
func (s *AnswerSheet) UnansweredCount() int {
	n := 0
	for _, r := range s.Rows {
		if r.OptionIndex == Unanswered {
			n++
		}
	}
	return n
}

// TotalSeconds sums the focus time of every row.
func (s *AnswerSheet) TotalSeconds() int {
	total := 0
	for _, r := range s.Rows {
		total += r.Seconds
	}
	return total
}

// PendingSheet is an answer sheet waiting in durable storage for delivery.
type PendingSheet struct {
	ExamID  string     `json:"exam_id"`
	Rows    []SheetRow `json:"rows"`
	SavedAt time.Time  `json:"saved_at"`
}
