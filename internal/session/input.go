package session

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/stemsi/exstem-client/internal/apperr"
	"github.com/stemsi/exstem-client/internal/model"
	"github.com/stemsi/exstem-client/internal/validator"
)

// Command is one entry of the exam menu.
type Command int

const (
	CmdNext Command = iota + 1
	CmdPrevious
	CmdAnswer
	CmdClear
	CmdJump
	CmdListUnanswered
	CmdSubmit
)

// commandCount is the highest menu number.
const commandCount = int(CmdSubmit)

func (c Command) String() string {
	switch c {
	case CmdNext:
		return "next"
	case CmdPrevious:
		return "previous"
	case CmdAnswer:
		return "answer"
	case CmdClear:
		return "clear"
	case CmdJump:
		return "jump"
	case CmdListUnanswered:
		return "list_unanswered"
	case CmdSubmit:
		return "submit"
	default:
		return "unknown"
	}
}

// Menu lists the commands in menu order, for presenters.
var Menu = []string{
	"Next question",
	"Previous question",
	"Answer question",
	"Clear answer",
	"Jump to question",
	"Show unanswered questions",
	"Submit exam",
}

// ParseCommand validates a raw menu choice.
func ParseCommand(line string) (Command, error) {
	n, err := parseInt(line)
	if err == nil {
		err = validator.Var(n, fmt.Sprintf("min=1,max=%d", commandCount))
	}
	if err != nil {
		return 0, apperr.New(apperr.ErrValidation, "parse command",
			fmt.Errorf("please enter a valid integer between 1 and %d", commandCount))
	}
	return Command(n), nil
}

// ParseLetter validates an option letter (case-insensitive) and returns its
// presented index, A=0.
func ParseLetter(line string) (int, error) {
	letter := strings.ToUpper(strings.TrimSpace(line))
	if err := validator.Var(letter, "required,len=1,oneof=A B C D"); err != nil {
		return 0, apperr.New(apperr.ErrValidation, "parse letter",
			fmt.Errorf("invalid choice %q, please enter A/B/C/D", line))
	}
	return int(letter[0] - 'A'), nil
}

// ParseQuestionNumber validates a 1-based question number against total.
func ParseQuestionNumber(line string, total int) (int, error) {
	n, err := parseInt(line)
	if err == nil {
		err = checkQuestionNumber(n, total)
	}
	if err != nil {
		return 0, apperr.New(apperr.ErrValidation, "parse question number",
			fmt.Errorf("please enter a number between 1 and %d", total))
	}
	return n, nil
}

func checkQuestionNumber(n, total int) error {
	return validator.Var(n, fmt.Sprintf("min=1,max=%d", total))
}

func parseInt(line string) (int, error) {
	return strconv.Atoi(strings.TrimSpace(line))
}

// Letter renders a presented option index as its letter.
func Letter(i int) string {
	if i < 0 || i >= model.OptionCount {
		return "-"
	}
	return string(rune('A' + i))
}
