package submission

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-client/internal/apperr"
	"github.com/stemsi/exstem-client/internal/model"
)

// fakeTransport records sent messages. When ack is false Receive blocks until
// ctx is done, like a server that never answers. Messages in buffered are
// returned first, like replies that arrived while nobody was reading.
type fakeTransport struct {
	mu       sync.Mutex
	sent     [][]byte
	buffered [][]byte
	ack      bool
	sendErr  error
}

func (f *fakeTransport) Drain() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := len(f.buffered)
	f.buffered = nil
	return n
}

func (f *fakeTransport) Send(_ context.Context, msg []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, append([]byte(nil), msg...))
	return nil
}

func (f *fakeTransport) Receive(ctx context.Context) ([]byte, error) {
	f.mu.Lock()
	if len(f.buffered) > 0 {
		msg := f.buffered[0]
		f.buffered = f.buffered[1:]
		f.mu.Unlock()
		return msg, nil
	}
	f.mu.Unlock()
	if f.ack {
		return []byte("ok"), nil
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

func (f *fakeTransport) messages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sent))
	for i, m := range f.sent {
		out[i] = string(m)
	}
	return out
}

func quietLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func sampleRows() []model.SheetRow {
	return []model.SheetRow{
		{QuestionIndex: 3, OptionIndex: 1, Seconds: 12},
		{QuestionIndex: 0, OptionIndex: -1, Seconds: 4},
		{QuestionIndex: 2, OptionIndex: 3, Seconds: 0},
		{QuestionIndex: 1, OptionIndex: -1, Seconds: 30},
	}
}

func TestEncode(t *testing.T) {
	got := string(Encode(sampleRows()))
	want := "ANSWERS\n3,1,12\n0,-1,4\n2,3,0\n1,-1,30\n"
	if got != want {
		t.Fatalf("Encode = %q, want %q", got, want)
	}
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    int
		wantErr bool
	}{
		{name: "with header", in: "ANSWERS\n0,1,2\n1,-1,0\n", want: 2},
		{name: "without header", in: "0,1,2\n", want: 1},
		{name: "crlf", in: "ANSWERS\r\n0,1,2\r\n", want: 1},
		{name: "header only", in: "ANSWERS\n", want: 0},
		{name: "two fields", in: "ANSWERS\n0,1\n", wantErr: true},
		{name: "not a number", in: "ANSWERS\n0,x,2\n", wantErr: true},
		{name: "option out of range", in: "ANSWERS\n0,4,2\n", wantErr: true},
		{name: "negative seconds", in: "ANSWERS\n0,1,-2\n", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows, err := Decode([]byte(tt.in))
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Decode(%q) succeeded with %v", tt.in, rows)
				}
				return
			}
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if len(rows) != tt.want {
				t.Fatalf("got %d rows, want %d", len(rows), tt.want)
			}
		})
	}
}

func TestDecodeBackupAcceptsLegacyHeader(t *testing.T) {
	for _, in := range []string{
		"midterm\n3,1,12\n0,-1,4\n",
		"midterm\nANSWERS\n3,1,12\n0,-1,4\n",
	} {
		id, rows, err := DecodeBackup([]byte(in))
		if err != nil {
			t.Fatalf("DecodeBackup(%q): %v", in, err)
		}
		if id != "midterm" || len(rows) != 2 || rows[0].OptionIndex != 1 || rows[1].OptionIndex != -1 {
			t.Fatalf("DecodeBackup(%q) = %q, %v", in, id, rows)
		}
	}
	if _, _, err := DecodeBackup([]byte("\n0,1,2\n")); err == nil {
		t.Fatal("backup without identifier accepted")
	}
}

func TestFileStore(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "ans_sheet")
	s := NewFileStore(dir, quietLogger())

	if got, err := s.Oldest(ctx); err != nil || got != nil {
		t.Fatalf("Oldest on missing dir = %v, %v", got, err)
	}

	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	for _, ps := range []model.PendingSheet{
		{ExamID: "physics", Rows: sampleRows(), SavedAt: base.Add(time.Minute)},
		{ExamID: "biology", Rows: sampleRows(), SavedAt: base},
		{ExamID: "algebra", Rows: sampleRows()[:1], SavedAt: base},
	} {
		if err := s.Save(ctx, ps); err != nil {
			t.Fatalf("Save(%s): %v", ps.ExamID, err)
		}
	}

	info, err := os.Stat(dir)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o700 {
		t.Errorf("dir perm = %o, want 700", perm)
	}
	fi, err := os.Stat(s.Path("physics"))
	if err != nil {
		t.Fatal(err)
	}
	if perm := fi.Mode().Perm(); perm != 0o600 {
		t.Errorf("file perm = %o, want 600", perm)
	}
	if s.Path("physics") != s.Path("physics") || s.Path("physics") == s.Path("biology") {
		t.Error("backup names are not deterministic per exam")
	}

	// Overwrite replaces the stale entry.
	if err := s.Save(ctx, model.PendingSheet{ExamID: "physics", Rows: sampleRows()[:2], SavedAt: base.Add(time.Hour)}); err != nil {
		t.Fatal(err)
	}

	list, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	var ids []string
	for _, ps := range list {
		ids = append(ids, ps.ExamID)
	}
	if got := strings.Join(ids, ","); got != "algebra,biology,physics" {
		t.Fatalf("List order = %s", got)
	}
	if len(list[2].Rows) != 2 {
		t.Errorf("physics has %d rows after overwrite", len(list[2].Rows))
	}

	oldest, err := s.Oldest(ctx)
	if err != nil || oldest == nil || oldest.ExamID != "algebra" {
		t.Fatalf("Oldest = %+v, %v", oldest, err)
	}

	if err := s.Delete(ctx, "algebra"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Delete(ctx, "algebra"); err != nil {
		t.Fatalf("second Delete: %v", err)
	}
	if oldest, _ := s.Oldest(ctx); oldest == nil || oldest.ExamID != "biology" {
		t.Fatalf("Oldest after delete = %+v", oldest)
	}
}

func TestFileStoreReadsLegacyBackups(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	legacy := filepath.Join(dir, "chemistry.txt")
	if err := os.WriteFile(legacy, []byte("chemistry\nANSWERS\n0,2,5\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "junk.txt"), []byte(""), 0o600); err != nil {
		t.Fatal(err)
	}

	s := NewFileStore(dir, quietLogger())
	oldest, err := s.Oldest(ctx)
	if err != nil || oldest == nil {
		t.Fatalf("Oldest = %v, %v", oldest, err)
	}
	if oldest.ExamID != "chemistry" || len(oldest.Rows) != 1 {
		t.Fatalf("legacy sheet = %+v", oldest)
	}

	if err := s.Delete(ctx, "chemistry"); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(legacy); !os.IsNotExist(err) {
		t.Fatal("legacy backup not deleted")
	}
}

func TestSubmitDelivered(t *testing.T) {
	tr := &fakeTransport{ack: true}
	store := NewFileStore(t.TempDir(), quietLogger())
	p := NewPipeline(tr, store, quietLogger())

	out := p.Submit(context.Background(), &model.AnswerSheet{ExamID: "math", Rows: sampleRows()})
	if out != Delivered {
		t.Fatalf("outcome = %s", out)
	}
	if msgs := tr.messages(); len(msgs) != 1 || msgs[0] != string(Encode(sampleRows())) {
		t.Fatalf("sent %q", msgs)
	}
	if list, _ := store.List(context.Background()); len(list) != 0 {
		t.Fatalf("delivered sheet was backed up: %v", list)
	}
}

func TestSubmitSendFailureBacksUp(t *testing.T) {
	tr := &fakeTransport{sendErr: errors.New("connection reset")}
	store := NewFileStore(t.TempDir(), quietLogger())
	savedAt := time.Date(2025, 4, 1, 10, 30, 0, 0, time.UTC)
	p := NewPipeline(tr, store, quietLogger(), WithNow(func() time.Time { return savedAt }))

	if out := p.Submit(context.Background(), &model.AnswerSheet{ExamID: "math", Rows: sampleRows()}); out != NotDelivered {
		t.Fatalf("outcome = %s", out)
	}
	oldest, _ := store.Oldest(context.Background())
	if oldest == nil || oldest.ExamID != "math" {
		t.Fatalf("no backup written: %+v", oldest)
	}
	if !oldest.SavedAt.Equal(savedAt) {
		t.Errorf("SavedAt = %v, want %v", oldest.SavedAt, savedAt)
	}
}

func TestSubmitCancelledContextStillBacksUp(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	store := NewFileStore(t.TempDir(), quietLogger())
	p := NewPipeline(&fakeTransport{}, store, quietLogger(), WithAckTimeout(time.Second))

	if out := p.Submit(ctx, &model.AnswerSheet{ExamID: "math", Rows: sampleRows()}); out != NotDelivered {
		t.Fatalf("outcome = %s", out)
	}
	if list, _ := store.List(context.Background()); len(list) != 1 {
		t.Fatalf("backups = %v", list)
	}
}

// No ack on submit leaves a backup; a later flush over a responsive
// connection resends it and removes the file.
func TestNoAckThenFlush(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := NewFileStore(dir, quietLogger())

	silent := &fakeTransport{}
	p := NewPipeline(silent, store, quietLogger(), WithAckTimeout(50*time.Millisecond))

	start := time.Now()
	out := p.Submit(ctx, &model.AnswerSheet{ExamID: "exam-42", Rows: sampleRows()})
	if out != NotDelivered {
		t.Fatalf("outcome = %s", out)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("ack wait was not bounded")
	}

	path := store.Path("exam-42")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("backup not written: %v", err)
	}
	if first, _, _ := strings.Cut(string(data), "\n"); first != "exam-42" {
		t.Fatalf("backup first line = %q", first)
	}

	responsive := &fakeTransport{ack: true}
	p = NewPipeline(responsive, store, quietLogger())
	res, err := p.FlushPending(ctx)
	if err != nil {
		t.Fatalf("FlushPending: %v", err)
	}
	if res.Outcome != Delivered || res.ExamID != "exam-42" {
		t.Fatalf("result = %+v", res)
	}
	msgs := responsive.messages()
	if len(msgs) != 2 || msgs[0] != "exam-42" || msgs[1] != string(Encode(sampleRows())) {
		t.Fatalf("sent %q", msgs)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("backup still present after ack")
	}
}

func TestFlushPendingNothing(t *testing.T) {
	tr := &fakeTransport{ack: true}
	p := NewPipeline(tr, NewFileStore(t.TempDir(), quietLogger()), quietLogger())

	res, err := p.FlushPending(context.Background())
	if err != nil {
		t.Fatalf("FlushPending: %v", err)
	}
	if res.Outcome != NothingPending {
		t.Fatalf("outcome = %s", res.Outcome)
	}
	if msgs := tr.messages(); len(msgs) != 1 || msgs[0] != NoPendingMarker {
		t.Fatalf("sent %q", msgs)
	}
}

func TestFlushPendingKeepsBackupWithoutAck(t *testing.T) {
	ctx := context.Background()
	store := NewFileStore(t.TempDir(), quietLogger())
	if err := store.Save(ctx, model.PendingSheet{ExamID: "exam-7", Rows: sampleRows(), SavedAt: time.Now()}); err != nil {
		t.Fatal(err)
	}

	p := NewPipeline(&fakeTransport{}, store, quietLogger(), WithAckTimeout(20*time.Millisecond))
	res, err := p.FlushPending(ctx)
	if !apperr.Is(err, apperr.ErrTransport) {
		t.Fatalf("err = %v, want TRANSPORT_ERROR", err)
	}
	if res.Outcome != NotDelivered {
		t.Fatalf("outcome = %s", res.Outcome)
	}
	if oldest, _ := store.Oldest(ctx); oldest == nil {
		t.Fatal("backup removed without an ack")
	}
}

func TestFlushPendingPicksOldest(t *testing.T) {
	ctx := context.Background()
	store := NewFileStore(t.TempDir(), quietLogger())
	base := time.Now().Add(-time.Hour)
	for i, id := range []string{"newer", "oldest", "middle"} {
		offsets := []time.Duration{20 * time.Minute, 0, 10 * time.Minute}
		if err := store.Save(ctx, model.PendingSheet{ExamID: id, Rows: sampleRows(), SavedAt: base.Add(offsets[i])}); err != nil {
			t.Fatal(err)
		}
	}

	tr := &fakeTransport{ack: true}
	res, err := NewPipeline(tr, store, quietLogger()).FlushPending(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.ExamID != "oldest" {
		t.Fatalf("flushed %q, want oldest", res.ExamID)
	}
	if list, _ := store.List(ctx); len(list) != 2 {
		t.Fatalf("%d backups left, want 2", len(list))
	}
}

func TestSortPendingTieBreak(t *testing.T) {
	at := time.Unix(100, 0)
	sheets := []model.PendingSheet{{ExamID: "b", SavedAt: at}, {ExamID: "a", SavedAt: at}, {ExamID: "c", SavedAt: at.Add(-time.Second)}}
	sortPending(sheets)
	var b bytes.Buffer
	for _, s := range sheets {
		b.WriteString(s.ExamID)
	}
	if b.String() != "cab" {
		t.Fatalf("order = %s", b.String())
	}
}

func TestSubmitIgnoresStaleReply(t *testing.T) {
	store := NewFileStore(t.TempDir(), quietLogger())
	tr := &fakeTransport{buffered: [][]byte{[]byte("Error: Invalid exam selection")}}
	p := NewPipeline(tr, store, quietLogger(), WithAckTimeout(20*time.Millisecond))

	sheet := &model.AnswerSheet{ExamID: "Physics", Rows: sampleRows()}
	if got := p.Submit(context.Background(), sheet); got != NotDelivered {
		t.Fatalf("Submit = %s, want %s", got, NotDelivered)
	}
	pending, err := store.Oldest(context.Background())
	if err != nil || pending == nil || pending.ExamID != "Physics" {
		t.Fatalf("backup = %+v, %v", pending, err)
	}
}

func TestStoresRejectBadExamID(t *testing.T) {
	files := NewFileStore(t.TempDir(), quietLogger())
	stores := map[string]PendingStore{
		"file": files,
		// The id is checked before redis is touched.
		"redis": NewRedisStore(nil, quietLogger()),
	}
	for name, store := range stores {
		for _, id := range []string{"", "Physics\nQ2", "Physics\r"} {
			err := store.Save(context.Background(), model.PendingSheet{ExamID: id, Rows: sampleRows(), SavedAt: time.Now()})
			if !apperr.Is(err, apperr.ErrValidation) {
				t.Errorf("%s: Save(%q) err = %v, want VALIDATION_ERROR", name, id, err)
			}
		}
	}
	if list, err := files.List(context.Background()); err != nil || len(list) != 0 {
		t.Errorf("List = %+v, %v, want empty", list, err)
	}
}
