package paper

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/stemsi/exstem-client/internal/apperr"
	"github.com/stemsi/exstem-client/internal/model"
)

const questionMarker = "Q:"

// optionMarkers are the prefixes of the four option lines, in letter order.
var optionMarkers = [model.OptionCount]string{"A)", "B)", "C)", "D)"}

// SkippedRecord describes a dropped question record.
type SkippedRecord struct {
	Line    int    // 1-based line of the record's Q: marker
	Options int    // number of option lines seen
	Text    string // first line of the question text
}

func (r SkippedRecord) String() string {
	return fmt.Sprintf("line %d: %d options (%q)", r.Line, r.Options, r.Text)
}

// ParseError is returned when no valid record could be parsed.
type ParseError struct {
	Skipped []SkippedRecord
}

func (e *ParseError) Error() string {
	if len(e.Skipped) == 0 {
		return "no valid questions found"
	}
	parts := make([]string, len(e.Skipped))
	for i, s := range e.Skipped {
		parts[i] = s.String()
	}
	return fmt.Sprintf("no valid questions found, skipped %d record(s): %s",
		len(e.Skipped), strings.Join(parts, "; "))
}

// record accumulates one Q: block while scanning.
type record struct {
	line     int
	text     strings.Builder
	options  []string
	inOption bool
}

func (r *record) firstLine() string {
	first, _, _ := strings.Cut(r.text.String(), "\n")
	return first
}

// Parse reads plaintext exam records:
//
//	Q: question text
//	optional continuation lines
//	A) option
//	B) option
//	C) option
//	D) option
//
// Records with a number of options other than four, or without question
// text, are dropped and reported in the returned slice. Lines before the first Q:
// marker and text lines after a record's options are ignored.
func Parse(text string) (*model.ExamPaper, []SkippedRecord, error) {
	var (
		questions []model.Question
		skipped   []SkippedRecord
		cur       *record
	)

	flush := func() {
		if cur == nil {
			return
		}
		if len(cur.options) != model.OptionCount || strings.TrimSpace(cur.text.String()) == "" {
			skipped = append(skipped, SkippedRecord{
				Line:    cur.line,
				Options: len(cur.options),
				Text:    cur.firstLine(),
			})
			return
		}
		q := model.Question{Text: cur.text.String()}
		copy(q.Options[:], cur.options)
		questions = append(questions, q)
	}

	sc := bufio.NewScanner(strings.NewReader(text))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimRight(sc.Text(), "\r")

		switch {
		case strings.HasPrefix(line, questionMarker):
			flush()
			cur = &record{line: lineNo}
			cur.text.WriteString(strings.TrimSpace(line[len(questionMarker):]))

		case isOptionLine(line):
			if cur == nil {
				continue
			}
			cur.options = append(cur.options, strings.TrimSpace(line[2:]))
			cur.inOption = true

		default:
			if cur == nil || cur.inOption {
				continue
			}
			if cur.text.Len() > 0 {
				cur.text.WriteByte('\n')
			}
			cur.text.WriteString(line)
		}
	}
	flush()

	if err := sc.Err(); err != nil {
		return nil, skipped, apperr.New(apperr.ErrParse, "parse paper", err)
	}
	if len(questions) == 0 {
		return nil, skipped, apperr.New(apperr.ErrParse, "parse paper", &ParseError{Skipped: skipped})
	}

	return &model.ExamPaper{Questions: questions}, skipped, nil
}

func isOptionLine(line string) bool {
	for _, m := range optionMarkers {
		if strings.HasPrefix(line, m) {
			return true
		}
	}
	return false
}
