package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-client/internal/apperr"
	"github.com/stemsi/exstem-client/internal/model"
	"github.com/stemsi/exstem-client/internal/paper"
	"github.com/stemsi/exstem-client/internal/session"
	"github.com/stemsi/exstem-client/internal/submission"
	"github.com/stemsi/exstem-client/internal/timer"
	"github.com/stemsi/exstem-client/internal/validator"
)

// Student menu choices as the server numbers them.
const (
	menuTakeExam  = 1
	menuDashboard = 2
	menuLogout    = 3
)

// UI is the terminal surface the lobby and the exam share.
type UI interface {
	session.Presenter
	ReadLine(ctx context.Context, prompt string) (string, error)
	Printf(format string, args ...any)
	Println(args ...any)
	Progress(remaining, total time.Duration)
}

// ExamService runs the student side of the exam protocol: resend of pending
// sheets, the lobby, paper download, the dashboard and one exam session at a
// time.
type ExamService struct {
	conn       submission.Transport
	ui         UI
	papers     *paper.Store
	pipeline   *submission.Pipeline
	randomizer *paper.Randomizer
	tick       time.Duration
	replyWait  time.Duration
	reviewDir  string
	now        func() time.Time
	log        zerolog.Logger
}

// ExamServiceConfig holds the tunables of an ExamService.
type ExamServiceConfig struct {
	Tick time.Duration
	// ReplyWait bounds every wait for a lobby reply.
	ReplyWait time.Duration
	// ReviewDir receives the question papers of past attempts opened from
	// the dashboard.
	ReviewDir string
	Now       func() time.Time
}

// NewExamService creates a new ExamService.
func NewExamService(
	conn submission.Transport,
	ui UI,
	papers *paper.Store,
	pipeline *submission.Pipeline,
	randomizer *paper.Randomizer,
	cfg ExamServiceConfig,
	log zerolog.Logger,
) *ExamService {
	if cfg.Tick <= 0 {
		cfg.Tick = timer.DefaultTick
	}
	if cfg.ReplyWait <= 0 {
		cfg.ReplyWait = submission.DefaultAckTimeout
	}
	if cfg.ReviewDir == "" {
		cfg.ReviewDir = "."
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &ExamService{
		conn:       conn,
		ui:         ui,
		papers:     papers,
		pipeline:   pipeline,
		randomizer: randomizer,
		tick:       cfg.Tick,
		replyWait:  cfg.ReplyWait,
		reviewDir:  cfg.ReviewDir,
		now:        cfg.Now,
		log:        log.With().Str("component", "exam_service").Logger(),
	}
}

// Run resends any pending sheet, then serves the student menu until logout,
// end of input or ctx cancellation.
func (s *ExamService) Run(ctx context.Context) error {
	if res, err := s.pipeline.FlushPending(ctx); err != nil {
		s.log.Warn().Err(err).Str("exam_id", res.ExamID).Msg("Pending answer sheet not resent")
	} else if res.Outcome == submission.Delivered {
		s.ui.Println("[✔] Pending answer sheet for " + res.ExamID + " submitted.")
	}

	for {
		s.ui.Println("\n========== Student Menu ==========")
		s.ui.Println("  1. Take an exam")
		s.ui.Println("  2. Dashboard")
		s.ui.Println("  3. Logout")

		line, err := s.ui.ReadLine(ctx, "Enter your choice (1-3): ")
		if err != nil {
			return s.logout(ctx, err)
		}
		n, err := strconv.Atoi(line)
		if err == nil {
			err = validator.Var(n, "min=1,max=3")
		}
		if err != nil {
			s.ui.Println("[✖] Invalid choice! Please select a valid option.")
			continue
		}
		if n == menuLogout {
			return s.logout(ctx, nil)
		}

		if err := s.send(ctx, strconv.Itoa(n)); err != nil {
			return err
		}
		switch n {
		case menuTakeExam:
			err = s.TakeExam(ctx)
		case menuDashboard:
			err = s.Dashboard(ctx)
		}
		if err != nil {
			if apperr.Is(err, apperr.ErrTransport) {
				return err
			}
			s.log.Info().Err(err).Str("code", string(apperr.CodeOf(err))).Msg("Back at student menu")
		}
	}
}

func (s *ExamService) logout(ctx context.Context, cause error) error {
	s.ui.Println("Logging out...")
	if err := s.conn.Send(context.WithoutCancel(ctx), []byte(strconv.Itoa(menuLogout))); err != nil {
		s.log.Debug().Err(err).Msg("Logout not delivered")
	}
	if cause == nil || errors.Is(cause, context.Canceled) || errors.Is(cause, io.EOF) {
		return nil
	}
	return cause
}

// notify shows the student the message for err's code.
func (s *ExamService) notify(err error) {
	s.ui.Println("[✖] " + apperr.GetMessage(apperr.CodeOf(err)))
}

// TakeExam walks the lobby exchange for one exam and runs it when the
// student confirms and the entry window allows.
func (s *ExamService) TakeExam(ctx context.Context) error {
	listing, err := s.receive(ctx)
	if err != nil {
		return err
	}
	if strings.TrimSpace(listing) == NoExamsReply {
		s.ui.Println("\n[!] No exams available at the moment.")
		return apperr.New(apperr.ErrExamNotAvailable, "take exam", nil)
	}

	exams, skipped := ParseListing(listing, time.Local)
	if len(skipped) > 0 {
		s.log.Warn().Ints("lines", skipped).Msg("Skipped unreadable exam listing lines")
	}
	if len(exams) == 0 {
		s.log.Warn().Str("listing", listing).Msg("Empty or unreadable exam listing")
		s.ui.Println("\n[!] No exams available at the moment.")
		_ = s.conn.Send(ctx, []byte("0"))
		return apperr.New(apperr.ErrExamNotAvailable, "take exam", nil)
	}
	s.showListing(exams)

	info, err := s.selectExam(ctx, exams)
	if err != nil {
		return err
	}
	if info == nil {
		return s.send(ctx, "0")
	}

	text, cached, err := s.fetchPaper(ctx, info.Number)
	if err != nil && !apperr.Is(err, apperr.ErrParse) {
		return err
	}
	var exam *model.ExamSession
	if err == nil {
		exam, err = s.prepare(info.Name, text, info.Duration())
	}
	if err != nil {
		// The server is waiting for the start confirmation.
		return s.abandonPaper(ctx, info.Number, cached, err)
	}
	if !cached {
		if err := s.papers.Save(info.Number, []byte(text)); err != nil {
			// The session can still run from memory.
			s.log.Error().Err(err).Int("exam_number", info.Number).Msg("Failed to cache paper")
		} else {
			s.ui.Println("[+] Question paper received successfully")
		}
	}

	s.showDetails(info)
	confirm, err := s.ui.ReadLine(ctx, "Start the exam now? (y for yes, n for no): ")
	if err != nil {
		return err
	}
	if !strings.EqualFold(confirm, "y") {
		s.ui.Println("Returning to student menu.")
		return s.send(ctx, "n")
	}

	if status, wait := info.CheckEntry(s.now()); status != model.EntryOpen {
		if status == model.EntryClosed {
			s.ui.Println("[!] You joined too late.\nEntry is only allowed within the first 5 minutes of the exam.")
		} else {
			s.ui.Println("\n========Exam not started yet========")
			s.ui.Println("Time left: " + FormatCountdown(wait))
			s.ui.Println("------------------------------------")
		}
		if err := s.send(ctx, "n"); err != nil {
			return err
		}
		return apperr.New(apperr.ErrExamNotAvailable, "take exam", fmt.Errorf("entry %s", strings.ToLower(string(status))))
	}

	if err := s.send(ctx, "y"); err != nil {
		return err
	}
	if info.Scheduled() {
		if err := s.send(ctx, "s"); err != nil {
			return err
		}
		attempted, err := s.receive(ctx)
		if err != nil {
			return err
		}
		if strings.TrimSpace(attempted) == AttemptedReply {
			err := apperr.New(apperr.ErrAlreadyAttempted, "take exam", nil)
			s.notify(err)
			return err
		}
	} else if err := s.send(ctx, "m"); err != nil {
		return err
	}

	s.RunSession(ctx, exam)
	return nil
}

// selectExam prompts for a listing number. A nil exam means the student
// chose to go back.
func (s *ExamService) selectExam(ctx context.Context, exams []model.ExamInfo) (*model.ExamInfo, error) {
	last := exams[len(exams)-1].Number
	for {
		n, err := s.readNumber(ctx, "Select exam number to start the exam (press 0 to go back): ", 0, last)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return nil, nil
		}
		for i := range exams {
			if exams[i].Number == n {
				return &exams[i], nil
			}
		}
		s.ui.Printf("[✖] Exam %d is not available. Please choose another one.\n", n)
	}
}

// fetchPaper returns the plaintext paper for exam number n and whether it
// came from the local cache. A cached copy is announced to the server with
// the negated number. Downloaded papers are not cached here; the caller
// does that once the paper has parsed.
func (s *ExamService) fetchPaper(ctx context.Context, n int) (string, bool, error) {
	if s.papers.Exists(n) {
		if err := s.send(ctx, strconv.Itoa(-n)); err != nil {
			return "", true, err
		}
		text, err := s.papers.Load(n)
		if err != nil {
			s.log.Warn().Err(err).Int("exam_number", n).Msg("Cached paper unreadable")
			return "", true, apperr.New(apperr.ErrParse, "load paper", err)
		}
		return text, true, nil
	}

	s.ui.Println("[!] Downloading exam paper...")
	if err := s.send(ctx, strconv.Itoa(n)); err != nil {
		return "", false, err
	}
	text, err := s.receive(ctx)
	if err != nil {
		return "", false, err
	}
	if strings.TrimSpace(text) == InvalidSelectionReply {
		err := apperr.New(apperr.ErrExamNotAvailable, "fetch paper", errors.New(InvalidSelectionReply))
		s.notify(err)
		return "", false, err
	}
	return text, false, nil
}

// prepare parses and shuffles a paper, logging the records it had to skip.
func (s *ExamService) prepare(examID, text string, d time.Duration) (*model.ExamSession, error) {
	exam, skipped, err := paper.Prepare(examID, text, s.randomizer, d)
	for _, rec := range skipped {
		s.log.Warn().Str("exam_id", examID).Str("record", rec.String()).Msg("Skipped malformed question")
	}
	return exam, err
}

// abandonPaper declines an exam whose paper cannot be used and drops the
// cached copy so the next attempt downloads it again.
func (s *ExamService) abandonPaper(ctx context.Context, n int, cached bool, cause error) error {
	s.log.Error().Err(cause).Int("exam_number", n).Msg("Exam paper unusable")
	s.notify(cause)
	if cached {
		if err := s.papers.Remove(n); err != nil {
			s.log.Error().Err(err).Int("exam_number", n).Msg("Failed to drop cached paper")
		}
	}
	if err := s.send(ctx, "n"); err != nil {
		return err
	}
	return cause
}

// RunSession runs the timed session for a prepared exam and submits the
// resulting sheet. Cancelling ctx ends the session early; the sheet is still
// submitted or backed up.
func (s *ExamService) RunSession(ctx context.Context, exam *model.ExamSession) submission.Outcome {
	exam.CreatedAt = s.now()

	tm := timer.New(exam.Duration, timer.WithTick(s.tick), timer.WithOnTick(s.ui.Progress))
	ctrl := session.New(exam, tm, s.ui, s.log)
	sheet := ctrl.Run(ctx)

	outcome := s.pipeline.Submit(context.WithoutCancel(ctx), sheet)
	if outcome == submission.Delivered {
		s.ui.Println("[✔] Answer sheet submitted.")
	} else {
		s.ui.Println("[!] " + apperr.GetMessage(apperr.ErrTransport) + " Your answer sheet was saved and will be sent next time.")
	}
	return outcome
}

func (s *ExamService) showListing(exams []model.ExamInfo) {
	s.ui.Println("\n================================== Available Exams =================================")
	for i := range exams {
		ex := &exams[i]
		start := "-"
		if ex.StartTime != nil {
			start = ex.StartTime.Format(model.ExamStartLayout)
		}
		s.ui.Printf("%2d. %-15s | Type: %-14s | Start: %-19s | Duration: %3d min | Questions: %2d | Instructor: %-10s\n",
			ex.Number, ex.Name, TypeLabel(ex), start, ex.DurationMinutes, ex.TotalQuestions, ex.Instructor)
	}
	s.ui.Println("------------------------------------------------------------------------------------")
}

func (s *ExamService) showDetails(ex *model.ExamInfo) {
	start := "-"
	if ex.StartTime != nil {
		start = ex.StartTime.Format(model.ExamStartLayout)
	}
	s.ui.Println("\n==================== Exam Details ====================")
	s.ui.Printf("- Exam Name         : %s\n", ex.Name)
	s.ui.Printf("- Exam type         : %s\n", TypeLabel(ex))
	s.ui.Printf("- Start Date & Time : %s\n", start)
	s.ui.Printf("- Total Questions   : %d\n", ex.TotalQuestions)
	s.ui.Printf("- Duration          : %d minutes\n", ex.DurationMinutes)
	s.ui.Println("---------------------------------------------------------")
}

// readNumber prompts until an integer in [lo, hi] is entered.
func (s *ExamService) readNumber(ctx context.Context, prompt string, lo, hi int) (int, error) {
	for {
		line, err := s.ui.ReadLine(ctx, prompt)
		if err != nil {
			return 0, err
		}
		n, err := strconv.Atoi(line)
		if err == nil {
			err = validator.Var(n, fmt.Sprintf("min=%d,max=%d", lo, hi))
		}
		if err == nil {
			return n, nil
		}
		s.ui.Printf("[✖] Invalid input. Please enter a number between %d and %d.\n", lo, hi)
	}
}

func (s *ExamService) send(ctx context.Context, msg string) error {
	if err := s.conn.Send(ctx, []byte(msg)); err != nil {
		return apperr.New(apperr.ErrTransport, "send", err)
	}
	return nil
}

func (s *ExamService) receive(ctx context.Context) (string, error) {
	rctx, cancel := context.WithTimeout(ctx, s.replyWait)
	defer cancel()
	msg, err := s.conn.Receive(rctx)
	if err != nil {
		return "", apperr.New(apperr.ErrTransport, "receive", err)
	}
	return string(msg), nil
}
