package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-client/internal/apperr"
	"github.com/stemsi/exstem-client/internal/model"
	"github.com/stemsi/exstem-client/internal/timer"
)

// Notices shown to the test-taker after a transition.
const (
	NoticeLastQuestion  = "[!] You are on the last question."
	NoticeFirstQuestion = "[!] You are on the first question."
	NoticeCleared       = "[✔] Answer cleared."
	NoticeAllAnswered   = "All questions answered."
	NoticeTimeUp        = "[!] Time is up."
	NoticeSubmitting    = "Submitting your exam..."
)

// QuestionView is what the presenter needs to draw the current question.
type QuestionView struct {
	Position int // 0-based presented position
	Total    int
	Question model.Question
	Selected int // presented letter index of the recorded answer, or model.Unanswered
}

// Presenter renders session state and supplies raw input lines.
//
// Lines must return the same channel on every call; it is fed by a single
// reader owned by the presenter so that an abandoned read never competes
// with the next session.
type Presenter interface {
	ShowQuestion(v QuestionView)
	ShowMenu(items []string)
	Notify(msg string)
	Prompt(msg string)
	Lines() <-chan string
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock replaces the wall clock used for time accounting.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		c.now = now
	}
}

// Controller drives the navigation/answer state machine of one exam session.
// Everything except the timer's expired flag is owned by the goroutine
// calling Run.
type Controller struct {
	exam      *model.ExamSession
	timer     *timer.DeadlineTimer
	presenter Presenter
	log       zerolog.Logger
	now       func() time.Time

	lines <-chan string

	answers   []int
	timeSpent []time.Duration
	position  int
	focusedAt time.Time
	state     model.SessionState

	finalizeOnce  sync.Once
	finalizeCount int
	sheet         *model.AnswerSheet
}

// New creates a controller for exam. The timer must not have been started.
func New(exam *model.ExamSession, tm *timer.DeadlineTimer, p Presenter, log zerolog.Logger, opts ...Option) *Controller {
	n := exam.Len()
	c := &Controller{
		exam:      exam,
		timer:     tm,
		presenter: p,
		log: log.With().
			Str("component", "session").
			Str("session_id", exam.ID.String()).
			Str("exam_id", exam.ExamID).
			Logger(),
		now:       time.Now,
		answers:   make([]int, n),
		timeSpent: make([]time.Duration, n),
		state:     model.SessionActive,
	}
	for i := range c.answers {
		c.answers[i] = model.Unanswered
	}
	for _, opt := range opts {
		opt(c)
	}
	c.focusedAt = c.now()
	return c
}

// Run starts the timer and processes input until the test-taker submits or
// time runs out, then returns the finalized answer sheet. Cancelling ctx
// expires the session.
func (c *Controller) Run(ctx context.Context) *model.AnswerSheet {
	c.lines = c.presenter.Lines()
	c.timer.Start(ctx)
	c.focusedAt = c.now()

	c.log.Info().
		Int("questions", c.exam.Len()).
		Dur("duration", c.exam.Duration).
		Msg("Exam started")

	notice := ""
	for {
		if c.timer.IsExpired() {
			return c.expire()
		}

		c.render(notice)
		notice = ""

		cmd, ok := c.readCommand(ctx)
		if !ok {
			return c.expire()
		}

		notice, ok = c.dispatch(ctx, cmd)
		if !ok {
			return c.expire()
		}
		if c.state == model.SessionSubmitted {
			c.presenter.Notify(NoticeSubmitting)
			return c.Finalize(model.SessionSubmitted)
		}
	}
}

func (c *Controller) expire() *model.AnswerSheet {
	c.presenter.Notify(NoticeTimeUp)
	return c.Finalize(model.SessionExpired)
}

func (c *Controller) render(notice string) {
	c.presenter.ShowQuestion(c.View())
	if notice != "" {
		c.presenter.Notify(notice)
	}
	c.presenter.ShowMenu(Menu)
}

// dispatch applies one menu command. ok is false when time ran out while a
// follow-up prompt was waiting for input.
func (c *Controller) dispatch(ctx context.Context, cmd Command) (notice string, ok bool) {
	c.log.Debug().Stringer("cmd", cmd).Int("position", c.position).Msg("Command")

	switch cmd {
	case CmdNext:
		return c.Next(), true

	case CmdPrevious:
		return c.Previous(), true

	case CmdAnswer:
		line, ok := c.readLine(ctx, "Enter your answer (A/B/C/D): ")
		if !ok {
			return "", false
		}
		letter, err := ParseLetter(line)
		if err != nil {
			return "[✖] " + errorText(err), true
		}
		notice, err := c.Answer(letter)
		if err != nil {
			return "[✖] " + errorText(err), true
		}
		return notice, true

	case CmdClear:
		return c.Clear(), true

	case CmdJump:
		total := c.exam.Len()
		for {
			line, ok := c.readLine(ctx, fmt.Sprintf("Enter question number (1 to %d): ", total))
			if !ok {
				return "", false
			}
			n, err := ParseQuestionNumber(line, total)
			if err != nil {
				c.presenter.Notify("[✖] " + errorText(err))
				continue
			}
			if err := c.Jump(n); err != nil {
				c.presenter.Notify("[✖] " + errorText(err))
				continue
			}
			return "", true
		}

	case CmdListUnanswered:
		return unansweredNotice(c.Unanswered()), true

	case CmdSubmit:
		c.Submit()
		return "", true
	}

	return "", true
}

// readCommand prompts until a valid menu choice arrives or time runs out.
func (c *Controller) readCommand(ctx context.Context) (Command, bool) {
	for {
		line, ok := c.readLine(ctx, fmt.Sprintf("Enter your choice (1-%d): ", commandCount))
		if !ok {
			return 0, false
		}
		cmd, err := ParseCommand(line)
		if err != nil {
			c.presenter.Notify("[✖] Invalid input. " + errorText(err))
			continue
		}
		return cmd, true
	}
}

// readLine waits for one input line, the timer, or ctx, whichever comes
// first. A line that races with expiry is discarded.
func (c *Controller) readLine(ctx context.Context, prompt string) (string, bool) {
	c.presenter.Prompt(prompt)
	for {
		select {
		case line, open := <-c.lines:
			if !open {
				// Input is gone; nothing left to do but wait for the deadline.
				c.log.Warn().Msg("Input closed, waiting for the deadline")
				c.lines = nil
				continue
			}
			if c.timer.IsExpired() {
				return "", false
			}
			return strings.TrimSpace(line), true
		case <-c.timer.Expired():
			return "", false
		case <-ctx.Done():
			return "", false
		}
	}
}

// account adds the focus time of the current question and restarts its clock.
func (c *Controller) account() {
	now := c.now()
	if elapsed := now.Sub(c.focusedAt); elapsed > 0 {
		c.timeSpent[c.position] += elapsed
	}
	c.focusedAt = now
}

func (c *Controller) active() bool {
	return c.state == model.SessionActive
}

// Next moves to the following question. At the last question it is a no-op
// and returns a notice.
func (c *Controller) Next() string {
	if !c.active() {
		return ""
	}
	c.account()
	if c.position < c.exam.Len()-1 {
		c.position++
		return ""
	}
	return NoticeLastQuestion
}

// Previous moves to the preceding question, stopping at the first.
func (c *Controller) Previous() string {
	if !c.active() {
		return ""
	}
	c.account()
	if c.position > 0 {
		c.position--
		return ""
	}
	return NoticeFirstQuestion
}

// Jump moves to the 1-based question n. Out-of-range n is rejected without
// touching any state.
func (c *Controller) Jump(n int) error {
	if err := checkQuestionNumber(n, c.exam.Len()); err != nil {
		return apperr.New(apperr.ErrValidation, "jump",
			fmt.Errorf("question %d is outside 1..%d", n, c.exam.Len()))
	}
	if !c.active() {
		return nil
	}
	c.account()
	c.position = n - 1
	return nil
}

// Answer records the presented option letter (A=0) for the current question
// in canonical terms, then advances like Next.
func (c *Controller) Answer(letter int) (string, error) {
	if letter < 0 || letter >= model.OptionCount {
		return "", apperr.New(apperr.ErrValidation, "answer",
			fmt.Errorf("option %d is outside A..D", letter))
	}
	if !c.active() {
		return "", nil
	}
	c.answers[c.position] = c.exam.Mapping.Resolve(c.position, letter)
	return c.Next(), nil
}

// Clear removes the answer recorded for the current question.
func (c *Controller) Clear() string {
	if !c.active() {
		return ""
	}
	c.account()
	c.answers[c.position] = model.Unanswered
	return NoticeCleared
}

// Unanswered returns the 0-based presented positions without an answer.
func (c *Controller) Unanswered() []int {
	var out []int
	for pos, a := range c.answers {
		if a == model.Unanswered {
			out = append(out, pos)
		}
	}
	return out
}

// Submit ends the session at once, ahead of the deadline. Run finalizes it.
func (c *Controller) Submit() {
	if !c.active() {
		return
	}
	c.account()
	c.state = model.SessionSubmitted
}

// Finalize freezes the session into an answer sheet. Only the first call
// does any work; later calls return the same sheet. The timer is stopped and
// joined before the sheet is built.
func (c *Controller) Finalize(outcome model.SessionState) *model.AnswerSheet {
	c.finalizeOnce.Do(func() {
		c.account()
		c.state = outcome

		c.timer.SignalExpired()
		c.timer.Wait()

		c.finalizeCount++
		c.sheet = c.buildSheet(outcome)

		c.log.Info().
			Str("outcome", string(outcome)).
			Int("unanswered", c.sheet.UnansweredCount()).
			Int("seconds", c.sheet.TotalSeconds()).
			Msg("Exam finalized")
	})
	return c.sheet
}

func (c *Controller) buildSheet(outcome model.SessionState) *model.AnswerSheet {
	rows := make([]model.SheetRow, c.exam.Len())
	for pos := range rows {
		rows[pos] = model.SheetRow{
			QuestionIndex: c.exam.Mapping.CanonicalQuestion(pos),
			OptionIndex:   c.answers[pos],
			Seconds:       int(c.timeSpent[pos] / time.Second),
		}
	}
	return &model.AnswerSheet{
		ExamID:     c.exam.ExamID,
		Rows:       rows,
		Outcome:    outcome,
		FinishedAt: c.now(),
	}
}

// View returns the current question as presented.
func (c *Controller) View() QuestionView {
	return QuestionView{
		Position: c.position,
		Total:    c.exam.Len(),
		Question: c.exam.Paper.Questions[c.position],
		Selected: c.presentedAnswer(c.position),
	}
}

// presentedAnswer maps a recorded canonical answer back to its letter.
func (c *Controller) presentedAnswer(pos int) int {
	canonical := c.answers[pos]
	if canonical == model.Unanswered {
		return model.Unanswered
	}
	for letter := 0; letter < model.OptionCount; letter++ {
		if c.exam.Mapping.Resolve(pos, letter) == canonical {
			return letter
		}
	}
	return model.Unanswered
}

// Position returns the 0-based presented position.
func (c *Controller) Position() int { return c.position }

// State returns the session state.
func (c *Controller) State() model.SessionState { return c.state }

func unansweredNotice(positions []int) string {
	if len(positions) == 0 {
		return NoticeAllAnswered
	}
	var b strings.Builder
	b.WriteString("Not Answered:")
	for _, p := range positions {
		fmt.Fprintf(&b, " Q%d", p+1)
	}
	return b.String()
}

// errorText strips the operation prefix from validation errors.
func errorText(err error) string {
	if e, ok := err.(*apperr.Error); ok && e.Err != nil {
		return e.Err.Error()
	}
	return err.Error()
}
