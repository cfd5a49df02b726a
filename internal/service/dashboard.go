package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Dashboard replies with special meaning.
const (
	NoAttemptsReply     = "[!] No exam data found for student."
	InvalidExamReply    = "[!] Invalid option! please select a valid exam."
	InvalidAttemptReply = "[!] Invalid option! please select a valid attempt."
	ExamInProgressReply = "Exam is still going on."
)

const (
	dashboardBack     = 0
	dashboardAnalysis = 1

	// maxDashboardChoice bounds the exam and attempt numbers a student can type.
	maxDashboardChoice = 100

	reviewSuffix = "_questions.txt"
)

// Dashboard lets the student browse past attempts: pick an exam, then an
// attempt, keep a copy of its question paper and optionally read the
// analysis. Going back from an attempt returns to the exam list; the
// dashboard closes after one analysis, on 0 at the exam list, or when the
// server has nothing to show.
func (s *ExamService) Dashboard(ctx context.Context) error {
	for {
		listing, err := s.receive(ctx)
		if err != nil {
			return err
		}
		s.ui.Println(listing)
		if strings.TrimSpace(listing) == NoAttemptsReply {
			return nil
		}

		exam, err := s.readNumber(ctx, "Select an exam (0 to go back): ", 0, maxDashboardChoice)
		if err != nil {
			return err
		}
		if err := s.send(ctx, strconv.Itoa(exam)); err != nil {
			return err
		}
		if exam == dashboardBack {
			return nil
		}

		attempts, err := s.receive(ctx)
		if err != nil {
			return err
		}
		s.ui.Println(attempts)
		if strings.TrimSpace(attempts) == InvalidExamReply {
			continue
		}

		attempt, err := s.readNumber(ctx, "Select an attempt (0 to go back): ", 0, maxDashboardChoice)
		if err != nil {
			return err
		}
		if err := s.send(ctx, strconv.Itoa(attempt)); err != nil {
			return err
		}
		if attempt == dashboardBack {
			continue
		}

		details, err := s.receive(ctx)
		if err != nil {
			return err
		}
		s.ui.Println(details)
		switch strings.TrimSpace(details) {
		case InvalidAttemptReply:
			continue
		case ExamInProgressReply:
			return nil
		}

		questions, err := s.receive(ctx)
		if err != nil {
			return err
		}
		if path, err := s.saveReview(questions); err != nil {
			s.log.Error().Err(err).Msg("Failed to save reviewed questions")
			s.ui.Println("[!] Could not save the exam questions.")
		} else {
			s.ui.Println("\n[+] Exam questions saved to : " + path)
		}

		s.ui.Println("\n--------------------------------------------")
		s.ui.Println("[1] View Exam Analysis")
		s.ui.Println("\n[0] Back to Exam List")
		s.ui.Println("-------------------------------------------")
		choice, err := s.readNumber(ctx, "Select from above option: ", dashboardBack, dashboardAnalysis)
		if err != nil {
			return err
		}
		if err := s.send(ctx, strconv.Itoa(choice)); err != nil {
			return err
		}
		if choice == dashboardBack {
			continue
		}

		// The analysis comes as two messages: the score summary, then the
		// per-question breakdown.
		for range 2 {
			part, err := s.receive(ctx)
			if err != nil {
				return err
			}
			s.ui.Println(part)
		}
		if _, err := s.ui.ReadLine(ctx, "\nPress Enter to return to the menu..."); err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		return nil
	}
}

// saveReview writes a reviewed paper to <reviewDir>/<exam>_questions.txt,
// read-only. The first line of the paper names the exam. An existing copy
// is left as it is.
func (s *ExamService) saveReview(paperText string) (string, error) {
	first, _, _ := strings.Cut(paperText, "\n")
	name := reviewFileName(strings.TrimSpace(first))
	if name == "" {
		return "", errors.New("reviewed paper has no exam name")
	}

	if err := os.MkdirAll(s.reviewDir, 0o700); err != nil {
		return "", fmt.Errorf("create review dir: %w", err)
	}
	path := filepath.Join(s.reviewDir, name+reviewSuffix)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o444)
	if errors.Is(err, fs.ErrExist) {
		return path, nil
	}
	if err != nil {
		return "", fmt.Errorf("create review file: %w", err)
	}
	if _, err := f.WriteString(paperText); err != nil {
		f.Close()
		return "", fmt.Errorf("write review file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close review file: %w", err)
	}
	return path, nil
}

// reviewFileName turns an exam name into a single path element.
func reviewFileName(exam string) string {
	name := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', 0:
			return '_'
		}
		return r
	}, exam)
	if name == "." || name == ".." {
		return ""
	}
	return name
}
