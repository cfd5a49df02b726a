package transport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-client/internal/submission"
)

var (
	_ submission.Transport = (*Conn)(nil)
	_ submission.Drainer   = (*Conn)(nil)
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// newServer runs handler on every accepted websocket and returns its ws:// URL.
func newServer(t *testing.T, handler func(*websocket.Conn)) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		handler(ws)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func echo(ws *websocket.Conn) {
	for {
		mt, msg, err := ws.ReadMessage()
		if err != nil {
			return
		}
		if err := ws.WriteMessage(mt, msg); err != nil {
			return
		}
	}
}

func dial(t *testing.T, url string) *Conn {
	t.Helper()
	c, err := Dial(context.Background(), url, zerolog.New(io.Discard))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestSendReceiveKeepsFrames(t *testing.T) {
	c := dial(t, newServer(t, echo))
	ctx := context.Background()

	msgs := []string{"exam-1", "ANSWERS\n0,1,2\n1,-1,0\n", "n"}
	for _, m := range msgs {
		if err := c.Send(ctx, []byte(m)); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}
	for _, want := range msgs {
		rctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		got, err := c.Receive(rctx)
		cancel()
		if err != nil {
			t.Fatalf("Receive: %v", err)
		}
		if string(got) != want {
			t.Fatalf("got %q, want %q", got, want)
		}
	}
}

func TestReceiveTimeoutKeepsConnection(t *testing.T) {
	c := dial(t, newServer(t, echo))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := c.Receive(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}

	if err := c.Send(context.Background(), []byte("still here")); err != nil {
		t.Fatalf("Send after timeout: %v", err)
	}
	rctx, rcancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer rcancel()
	got, err := c.Receive(rctx)
	if err != nil || string(got) != "still here" {
		t.Fatalf("Receive after timeout = %q, %v", got, err)
	}
}

func TestReceiveAfterServerClose(t *testing.T) {
	c := dial(t, newServer(t, func(ws *websocket.Conn) {
		ws.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := c.Receive(ctx); err == nil || errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want a closed-connection error", err)
	}
}

func TestSendAfterClose(t *testing.T) {
	c := dial(t, newServer(t, echo))
	if err := c.Close(); err != nil {
		t.Logf("Close: %v", err)
	}
	if err := c.Send(context.Background(), []byte("late")); !errors.Is(err, ErrClosed) {
		t.Fatalf("err = %v, want ErrClosed", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestDialFailure(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := Dial(ctx, "ws://127.0.0.1:1/ws", zerolog.New(io.Discard), WithDialTimeout(200*time.Millisecond)); err == nil {
		t.Fatal("Dial to a closed port succeeded")
	}
}

func TestDrainDropsUnreadFrames(t *testing.T) {
	c := dial(t, newServer(t, echo))
	ctx := context.Background()

	for _, m := range []string{"late reply", "another"} {
		if err := c.Send(ctx, []byte(m)); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}
	// Both echoes have to reach the inbox before they can be dropped.
	dropped := 0
	for deadline := time.Now().Add(2 * time.Second); dropped < 2 && time.Now().Before(deadline); {
		dropped += c.Drain()
		time.Sleep(5 * time.Millisecond)
	}
	if dropped != 2 {
		t.Fatalf("dropped %d frames, want 2", dropped)
	}

	if err := c.Send(ctx, []byte("fresh")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	rctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	got, err := c.Receive(rctx)
	if err != nil || string(got) != "fresh" {
		t.Fatalf("Receive after Drain = %q, %v", got, err)
	}
}
