package service

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/stemsi/exstem-client/internal/model"
	"github.com/stemsi/exstem-client/internal/validator"
)

// Server replies with special meaning in the lobby exchange.
const (
	NoExamsReply          = "No exams available."
	InvalidSelectionReply = "Error: Invalid exam selection"
	AttemptedReply        = "y"
)

// Listing field labels, in the order they appear on a line.
var listingFields = []string{
	"Exam Name:",
	"| Exam type:",
	"| Start Time:",
	"| Duration (minutes):",
	"| Total Questions:",
	"| Instructor:",
}

// ParseListing parses the lobby listing, one exam per line:
//
//	Exam Name:<n>| Exam type:<t>| Start Time:<s>| Duration (minutes):<d>| Total Questions:<q>| Instructor:<i>
//
// Exams are numbered by their position among the non-blank lines, the way
// the server numbers them, so a skipped line never shifts the numbers of
// the ones after it. The numbers of unreadable lines are returned as skipped.
func ParseListing(data string, loc *time.Location) (exams []model.ExamInfo, skipped []int) {
	number := 0
	for _, line := range strings.Split(data, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		number++
		info, err := parseListingLine(number, line, loc)
		if err != nil {
			skipped = append(skipped, number)
			continue
		}
		exams = append(exams, info)
	}
	return exams, skipped
}

func parseListingLine(number int, line string, loc *time.Location) (model.ExamInfo, error) {
	values := make([]string, len(listingFields))
	rest := line
	for i, label := range listingFields {
		idx := strings.Index(rest, label)
		if idx < 0 {
			return model.ExamInfo{}, fmt.Errorf("missing %q", label)
		}
		if i > 0 {
			values[i-1] = rest[:idx]
		}
		rest = rest[idx+len(label):]
	}
	values[len(values)-1] = rest

	duration, err := strconv.Atoi(strings.TrimSpace(values[3]))
	if err != nil {
		return model.ExamInfo{}, fmt.Errorf("duration: %w", err)
	}
	total, err := strconv.Atoi(strings.TrimSpace(values[4]))
	if err != nil {
		return model.ExamInfo{}, fmt.Errorf("total questions: %w", err)
	}

	info := model.ExamInfo{
		Number:          number,
		Name:            strings.TrimSpace(values[0]),
		Type:            model.ExamType(strings.TrimSpace(values[1])),
		DurationMinutes: duration,
		TotalQuestions:  total,
		Instructor:      strings.TrimSpace(values[5]),
	}

	// A start time with no digits ("-", "N/A") marks a practice test.
	start := strings.TrimSpace(values[2])
	if strings.IndexFunc(start, unicode.IsDigit) >= 0 {
		t, err := time.ParseInLocation(model.ExamStartLayout, start, loc)
		if err != nil {
			return model.ExamInfo{}, fmt.Errorf("start time: %w", err)
		}
		info.StartTime = &t
	}

	if err := validator.Struct(info); err != nil {
		return model.ExamInfo{}, fmt.Errorf("invalid listing: %s", validator.Message(err))
	}
	return info, nil
}

// TypeLabel is the human name of the exam type.
func TypeLabel(e *model.ExamInfo) string {
	if e.Scheduled() || e.Type == model.ExamTypeScheduled {
		return "Scheduled Test"
	}
	return "Practice Test"
}

// FormatCountdown renders a wait as "1d 2h 3m 4s", omitting leading zero units.
func FormatCountdown(d time.Duration) string {
	secs := int(d.Round(time.Second) / time.Second)
	if secs < 0 {
		secs = 0
	}
	days := secs / 86400
	secs %= 86400
	hours := secs / 3600
	secs %= 3600
	minutes := secs / 60
	secs %= 60

	var parts []string
	if days > 0 {
		parts = append(parts, fmt.Sprintf("%dd", days))
	}
	if hours > 0 || days > 0 {
		parts = append(parts, fmt.Sprintf("%dh", hours))
	}
	if minutes > 0 || hours > 0 || days > 0 {
		parts = append(parts, fmt.Sprintf("%dm", minutes))
	}
	parts = append(parts, fmt.Sprintf("%ds", secs))
	return strings.Join(parts, " ")
}
