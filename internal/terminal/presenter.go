package terminal

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-client/internal/model"
	"github.com/stemsi/exstem-client/internal/session"
	"golang.org/x/term"
)

const (
	clearScreen = "\033[H\033[2J"
	saveCursor  = "\033[s"
	restoreCur  = "\033[u"
	homeCursor  = "\033[1;1H"
	hideCursor  = "\033[?25l"
	showCursor  = "\033[?25h"
	clearLine   = "\033[K"

	defaultBarWidth = 50
)

// fileDescriptor is satisfied by *os.File.
type fileDescriptor interface {
	Fd() uintptr
}

// Presenter renders the exam on a plain terminal and reads input lines.
// Output from the session loop and the countdown goroutine is serialized.
type Presenter struct {
	out io.Writer
	mu  sync.Mutex

	interactive bool
	barWidth    int

	lines chan string
	log   zerolog.Logger
}

// New starts the single input reader on in. ANSI drawing is used only when
// out is a terminal.
func New(in io.Reader, out io.Writer, log zerolog.Logger) *Presenter {
	p := &Presenter{
		out:      out,
		barWidth: defaultBarWidth,
		lines:    make(chan string),
		log:      log.With().Str("component", "terminal").Logger(),
	}

	if f, ok := out.(fileDescriptor); ok && term.IsTerminal(int(f.Fd())) {
		p.interactive = true
		if w, _, err := term.GetSize(int(f.Fd())); err == nil && w > 0 && w-30 < p.barWidth {
			p.barWidth = max(w-30, 10)
		}
	}

	go p.read(in)
	return p
}

func (p *Presenter) read(in io.Reader) {
	defer close(p.lines)
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		p.lines <- sc.Text()
	}
	if err := sc.Err(); err != nil {
		p.log.Warn().Err(err).Msg("Input read failed")
	}
}

// Lines returns the channel of raw input lines. It is closed at end of input.
func (p *Presenter) Lines() <-chan string {
	return p.lines
}

// ReadLine prompts and waits for one line. io.EOF means the input is gone.
func (p *Presenter) ReadLine(ctx context.Context, prompt string) (string, error) {
	p.Prompt(prompt)
	select {
	case line, ok := <-p.lines:
		if !ok {
			return "", io.EOF
		}
		return strings.TrimSpace(line), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (p *Presenter) Printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, format, args...)
}

func (p *Presenter) Println(args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.out, args...)
}

func (p *Presenter) ShowQuestion(v session.QuestionView) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.interactive {
		fmt.Fprint(p.out, clearScreen)
	}
	fmt.Fprintf(p.out, "\n\n--------------------------------QUESTION %d/%d-------------------------------\n", v.Position+1, v.Total)
	fmt.Fprintf(p.out, "Q%d: %s\n", v.Position+1, v.Question.Text)
	for i, opt := range v.Question.Options {
		fmt.Fprintf(p.out, "%s) %s\n", session.Letter(i), opt)
	}
	if v.Selected != model.Unanswered {
		fmt.Fprintf(p.out, "Your answer: %s\n", session.Letter(v.Selected))
	}
	fmt.Fprintln(p.out, "-----------------------------QUESTION END--------------------------------")
}

func (p *Presenter) ShowMenu(items []string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	fmt.Fprintln(p.out)
	for i, item := range items {
		fmt.Fprintf(p.out, "  %d. %s\n", i+1, item)
	}
}

func (p *Presenter) Notify(msg string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, "\n%s\n", msg)
}

func (p *Presenter) Prompt(msg string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, "\n%s", msg)
}

// Progress draws the countdown bar. It is meant for timer.WithOnTick and
// runs on the timer goroutine.
func (p *Presenter) Progress(remaining, total time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.interactive {
		return
	}
	bar := ProgressBar(remaining, total, p.barWidth)
	fmt.Fprint(p.out, hideCursor+saveCursor+homeCursor+bar+clearLine+restoreCur+showCursor)
}

// ProgressBar renders "[===>   ] 40% 90s left".
func ProgressBar(remaining, total time.Duration, width int) string {
	if total <= 0 {
		total = 1
	}
	remaining = min(max(remaining, 0), total)
	elapsed := total - remaining

	percent := int(100 * elapsed / total)
	pos := int(time.Duration(width) * elapsed / total)

	var b strings.Builder
	b.WriteByte('[')
	for j := 0; j < width; j++ {
		switch {
		case j < pos:
			b.WriteByte('=')
		case j == pos:
			b.WriteByte('>')
		default:
			b.WriteByte(' ')
		}
	}
	fmt.Fprintf(&b, "] %d%% %ds left", percent, int(remaining.Round(time.Second)/time.Second))
	return b.String()
}
