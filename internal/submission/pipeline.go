package submission

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-client/internal/apperr"
	"github.com/stemsi/exstem-client/internal/model"
)

// DefaultAckTimeout bounds the wait for the server's acknowledgment.
const DefaultAckTimeout = 10 * time.Second

// Transport sends and receives whole messages over an established
// connection. Any message received after a send counts as its
// acknowledgment.
type Transport interface {
	Send(ctx context.Context, msg []byte) error
	Receive(ctx context.Context) ([]byte, error)
}

// Drainer is implemented by transports that buffer incoming messages. Drain
// discards whatever is buffered and reports how many messages it dropped.
type Drainer interface {
	Drain() int
}

// Outcome is the terminal result of one delivery attempt.
type Outcome string

const (
	Delivered    Outcome = "DELIVERED"
	NotDelivered Outcome = "NOT_DELIVERED"
	// NothingPending is reported by FlushPending when the store is empty.
	NothingPending Outcome = "NOTHING_PENDING"
)

// FlushResult describes what FlushPending did.
type FlushResult struct {
	ExamID  string
	Outcome Outcome
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithAckTimeout overrides DefaultAckTimeout.
func WithAckTimeout(d time.Duration) PipelineOption {
	return func(p *Pipeline) {
		if d > 0 {
			p.ackTimeout = d
		}
	}
}

// WithNow replaces the clock used to stamp backups.
func WithNow(now func() time.Time) PipelineOption {
	return func(p *Pipeline) {
		p.now = now
	}
}

// Pipeline delivers finalized answer sheets, backing them up locally when
// delivery cannot be confirmed. It makes one attempt per call.
type Pipeline struct {
	transport  Transport
	store      PendingStore
	ackTimeout time.Duration
	now        func() time.Time
	log        zerolog.Logger
}

func NewPipeline(tr Transport, store PendingStore, log zerolog.Logger, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		transport:  tr,
		store:      store,
		ackTimeout: DefaultAckTimeout,
		now:        time.Now,
		log:        log.With().Str("component", "submission").Logger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Submit sends the sheet and waits for the acknowledgment. When either step
// fails the sheet is written to the pending store and NotDelivered is
// returned. Failures are logged, never returned.
func (p *Pipeline) Submit(ctx context.Context, sheet *model.AnswerSheet) Outcome {
	log := p.log.With().Str("exam_id", sheet.ExamID).Logger()

	err := p.deliver(ctx, Encode(sheet.Rows))
	if err == nil {
		log.Info().Int("rows", len(sheet.Rows)).Msg("Answer sheet delivered")
		return Delivered
	}

	log.Warn().Err(err).Msg("Answer sheet not delivered, backing up")

	pending := model.PendingSheet{
		ExamID:  sheet.ExamID,
		Rows:    sheet.Rows,
		SavedAt: p.now(),
	}
	// The caller's context may already be cancelled by shutdown; the backup
	// must still be written.
	if err := p.store.Save(context.WithoutCancel(ctx), pending); err != nil {
		log.Error().Err(err).Msg("Failed to back up answer sheet")
	}
	return NotDelivered
}

// FlushPending resends the oldest pending sheet, if any: the exam identifier,
// then the sheet, then a bounded ack wait. The backup is deleted only after
// the acknowledgment. With nothing pending it sends NoPendingMarker.
func (p *Pipeline) FlushPending(ctx context.Context) (FlushResult, error) {
	sheet, err := p.store.Oldest(ctx)
	if err != nil {
		p.log.Error().Err(err).Msg("Failed to read pending sheets")
		sheet = nil
	}

	if sheet == nil {
		if sendErr := p.transport.Send(ctx, []byte(NoPendingMarker)); sendErr != nil {
			return FlushResult{Outcome: NothingPending}, apperr.New(apperr.ErrTransport, "flush pending", sendErr)
		}
		return FlushResult{Outcome: NothingPending}, err
	}

	log := p.log.With().Str("exam_id", sheet.ExamID).Logger()
	result := FlushResult{ExamID: sheet.ExamID, Outcome: NotDelivered}

	if err := p.transport.Send(ctx, []byte(sheet.ExamID)); err != nil {
		log.Warn().Err(err).Msg("Failed to resend pending sheet")
		return result, apperr.New(apperr.ErrTransport, "flush pending", err)
	}
	if err := p.deliver(ctx, Encode(sheet.Rows)); err != nil {
		log.Warn().Err(err).Msg("Failed to resend pending sheet")
		return result, err
	}

	result.Outcome = Delivered
	log.Info().Msg("Pending answer sheet delivered")

	if err := p.store.Delete(ctx, sheet.ExamID); err != nil {
		log.Error().Err(err).Msg("Failed to delete delivered backup")
	}
	return result, nil
}

// deliver sends one message and waits up to ackTimeout for any reply.
// Replies that were already waiting before the send cannot be the ack, so
// they are dropped first.
func (p *Pipeline) deliver(ctx context.Context, msg []byte) error {
	if d, ok := p.transport.(Drainer); ok {
		if n := d.Drain(); n > 0 {
			p.log.Warn().Int("messages", n).Msg("Dropped stale server messages before sending answer sheet")
		}
	}
	if err := p.transport.Send(ctx, msg); err != nil {
		return apperr.New(apperr.ErrTransport, "send answer sheet", err)
	}

	ackCtx, cancel := context.WithTimeout(ctx, p.ackTimeout)
	defer cancel()

	if _, err := p.transport.Receive(ackCtx); err != nil {
		return apperr.New(apperr.ErrTransport, "await acknowledgment", err)
	}
	return nil
}
