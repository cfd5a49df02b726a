//go:build e2e
// +build e2e

package e2e

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-client/internal/paper"
	"github.com/stemsi/exstem-client/internal/service"
	"github.com/stemsi/exstem-client/internal/submission"
	"github.com/stemsi/exstem-client/internal/terminal"
	"github.com/stemsi/exstem-client/internal/transport"
)

const (
	examName = "E2E Physics"
	paperTxt = "Physics midterm\n" +
		"Q: Unit of force?\nA) Newton\nB) Joule\nC) Watt\nD) Pascal\n" +
		"Q: Speed of light is roughly\nA) 3e8 m/s\nB) 3e5 m/s\nC) 340 m/s\nD) 1 m/s\n" +
		"Q: g on earth\nA) 9.8\nB) 1.6\nC) 24.8\nD) 0\n"
)

var verbose bool

func TestMain(m *testing.M) {
	// Load .env if present (ignore error)
	_ = godotenv.Load("../../.env")
	verbose = os.Getenv("E2E_VERBOSE") != ""
	os.Exit(m.Run())
}

func testLogger() zerolog.Logger {
	if verbose {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	return zerolog.New(io.Discard)
}

// examServer is an in-process server speaking the student protocol. Every
// frame the client sends is forwarded on got; replies are driven by script.
type examServer struct {
	url string
	got chan string
}

func newExamServer(t *testing.T, script func(t *testing.T, ws *websocket.Conn, got chan<- string)) *examServer {
	t.Helper()
	s := &examServer{got: make(chan string, 64)}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		script(t, ws, s.got)
	}))
	t.Cleanup(srv.Close)
	s.url = "ws" + strings.TrimPrefix(srv.URL, "http")
	return s
}

// expect reads the next client frame and checks it.
func expect(t *testing.T, ws *websocket.Conn, got chan<- string, want string) string {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := ws.ReadMessage()
	if err != nil {
		t.Errorf("server read (want %q): %v", want, err)
		return ""
	}
	got <- string(msg)
	if want != "*" && string(msg) != want {
		t.Errorf("client sent %q, want %q", msg, want)
	}
	return string(msg)
}

func reply(t *testing.T, ws *websocket.Conn, msg string) {
	t.Helper()
	if err := ws.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
		t.Errorf("server write: %v", err)
	}
}

func listing() string {
	return fmt.Sprintf("Exam Name:%s| Exam type:q| Start Time:-| Duration (minutes):1| Total Questions:3| Instructor:e2e\n", examName)
}

type client struct {
	papers  *paper.Store
	pending *submission.FileStore
}

func newClient(t *testing.T) *client {
	dir := t.TempDir()
	return &client{
		papers:  paper.NewStore(dir+"/exam", 'X'),
		pending: submission.NewFileStore(dir+"/ans_sheet", testLogger()),
	}
}

// run connects to url and drives the student client with the given input.
func (c *client) run(t *testing.T, url string, input ...string) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	log := testLogger()
	conn, err := transport.Dial(ctx, url, log)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	ui := terminal.New(strings.NewReader(strings.Join(input, "\n")+"\n"), io.Discard, log)
	pipeline := submission.NewPipeline(conn, c.pending, log, submission.WithAckTimeout(500*time.Millisecond))
	svc := service.NewExamService(conn, ui, c.papers, pipeline, paper.NewRandomizer(nil),
		service.ExamServiceConfig{Tick: 50 * time.Millisecond, ReplyWait: 2 * time.Second}, log)
	return svc.Run(ctx)
}

func TestStudentTakesPracticeExam(t *testing.T) {
	srv := newExamServer(t, func(t *testing.T, ws *websocket.Conn, got chan<- string) {
		expect(t, ws, got, submission.NoPendingMarker)
		expect(t, ws, got, "1")
		reply(t, ws, listing())
		expect(t, ws, got, "1")
		reply(t, ws, paperTxt)
		expect(t, ws, got, "y")
		expect(t, ws, got, "m")
		expect(t, ws, got, "*")
		reply(t, ws, "Answer sheet received")
		expect(t, ws, got, "3")
	})

	c := newClient(t)
	if err := c.run(t, srv.url, "1", "1", "y", "3", "A", "3", "b", "7", "3"); err != nil {
		t.Fatalf("client: %v", err)
	}

	msgs := drain(srv.got)
	if len(msgs) != 7 {
		t.Fatalf("server saw %q", msgs)
	}
	rows, err := submission.Decode([]byte(msgs[5]))
	if err != nil {
		t.Fatalf("sheet %q: %v", msgs[5], err)
	}
	if len(rows) != 3 {
		t.Fatalf("sheet has %d rows", len(rows))
	}
	seen := map[int]bool{}
	answered := 0
	for _, r := range rows {
		seen[r.QuestionIndex] = true
		if r.OptionIndex != -1 {
			answered++
		}
	}
	if len(seen) != 3 || answered != 2 {
		t.Errorf("rows = %+v", rows)
	}
	if !c.papers.Exists(1) {
		t.Error("paper not cached")
	}
}

func TestSheetSurvivesLostAckAndIsResent(t *testing.T) {
	// First connection: the server never acknowledges the sheet.
	first := newExamServer(t, func(t *testing.T, ws *websocket.Conn, got chan<- string) {
		expect(t, ws, got, submission.NoPendingMarker)
		expect(t, ws, got, "1")
		reply(t, ws, listing())
		expect(t, ws, got, "1")
		reply(t, ws, paperTxt)
		expect(t, ws, got, "y")
		expect(t, ws, got, "m")
		expect(t, ws, got, "*")
		// No ack. Wait for logout, then hang up.
		expect(t, ws, got, "3")
	})

	c := newClient(t)
	if err := c.run(t, first.url, "1", "1", "y", "3", "C", "7", "3"); err != nil {
		t.Fatalf("first run: %v", err)
	}
	pending, err := c.pending.Oldest(context.Background())
	if err != nil || pending == nil || pending.ExamID != examName {
		t.Fatalf("backup = %+v, %v", pending, err)
	}
	data, err := os.ReadFile(c.pending.Path(examName))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(data), examName+"\n") {
		t.Fatalf("backup starts %q", data)
	}

	// Second connection: the pending sheet goes first and is acknowledged.
	second := newExamServer(t, func(t *testing.T, ws *websocket.Conn, got chan<- string) {
		expect(t, ws, got, examName)
		expect(t, ws, got, "*")
		reply(t, ws, "ok")
		expect(t, ws, got, "3")
	})
	if err := c.run(t, second.url, "3"); err != nil {
		t.Fatalf("second run: %v", err)
	}

	msgs := drain(second.got)
	if len(msgs) != 3 || !strings.HasPrefix(msgs[1], submission.SheetHeader+"\n") {
		t.Fatalf("server saw %q", msgs)
	}
	if _, err := os.Stat(c.pending.Path(examName)); !os.IsNotExist(err) {
		t.Fatal("backup still present after resend")
	}
}

func drain(ch chan string) []string {
	var out []string
	for {
		select {
		case m := <-ch:
			out = append(out, m)
		case <-time.After(200 * time.Millisecond):
			return out
		}
	}
}
