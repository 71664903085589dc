// Package ingest moves inbound messages from the queue into the document
// store and opens a workflow record for each one.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"

	"loanflow/internal/logging"
	"loanflow/internal/queue"
	"loanflow/internal/repository"
	"loanflow/pkg/models"
)

// DefaultShutdownGrace bounds the in-flight message after shutdown starts.
const DefaultShutdownGrace = 30 * time.Second

const receiveBackoff = time.Second

// Registrar creates the workflow record for an ingested document. It must
// be idempotent per id.
type Registrar interface {
	Register(ctx context.Context, id string) (bool, error)
}

// Processor handles queue messages one at a time.
type Processor struct {
	queue         queue.Queue
	docs          repository.DocumentStore
	records       Registrar
	logger        *logging.Logger
	out           io.Writer
	shutdownGrace time.Duration
	now           func() time.Time
	newID         func() string
}

// Option configures a Processor.
type Option func(*Processor)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(p *Processor) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithOutput sets where progress lines are echoed. Defaults to stdout.
func WithOutput(w io.Writer) Option {
	return func(p *Processor) {
		if w == nil {
			w = io.Discard
		}
		p.out = w
	}
}

// WithShutdownGrace bounds how long the in-flight message may take once Run's
// context is cancelled.
func WithShutdownGrace(d time.Duration) Option {
	return func(p *Processor) {
		if d > 0 {
			p.shutdownGrace = d
		}
	}
}

// NewProcessor creates a Processor.
func NewProcessor(q queue.Queue, docs repository.DocumentStore, records Registrar, opts ...Option) *Processor {
	p := &Processor{
		queue:         q,
		docs:          docs,
		records:       records,
		logger:        logging.Nop(),
		out:           os.Stdout,
		shutdownGrace: DefaultShutdownGrace,
		now:           func() time.Time { return time.Now().UTC() },
		newID:         uuid.NewString,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Run receives and handles messages until ctx is cancelled. A message being
// handled when ctx is cancelled is finished, bounded by the shutdown grace
// period. Messages that fail are left unacknowledged for redelivery.
func (p *Processor) Run(ctx context.Context) error {
	p.say("Started listening for messages...")
	for {
		if ctx.Err() != nil {
			p.say("Stopping message listener...")
			return nil
		}

		msg, err := p.queue.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Error("Failed to receive message", "error", err)
			select {
			case <-ctx.Done():
			case <-time.After(receiveBackoff):
			}
			continue
		}
		if msg == nil {
			continue
		}

		hctx, cancel := p.inflightContext(ctx)
		if err := p.Handle(hctx, msg); err != nil {
			p.logger.Error("Error processing message", "message_id", msg.ID, "error", err)
			fmt.Fprintf(p.out, "Error processing message: %v\n", err)
		}
		cancel()
	}
}

// inflightContext outlives ctx by at most the shutdown grace period.
func (p *Processor) inflightContext(ctx context.Context) (context.Context, context.CancelFunc) {
	hctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(ctx, func() {
		time.AfterFunc(p.shutdownGrace, cancel)
	})
	return hctx, func() {
		stop()
		cancel()
	}
}

// Handle stores msg, opens its workflow record and acknowledges it. The
// message is acknowledged only when both writes succeeded. A redelivered
// message reuses the document stored on an earlier attempt, so it never
// yields a second record.
func (p *Processor) Handle(ctx context.Context, msg *queue.Message) error {
	logger := p.logger.With("message_id", msg.ID)
	p.say("Received message: %s", msg.Body)

	doc, err := p.store(ctx, logger, msg)
	if err != nil {
		return err
	}

	created, err := p.records.Register(ctx, doc.ID)
	if err != nil {
		return fmt.Errorf("create workflow record %s: %w", doc.ID, err)
	}
	if created {
		p.say("Workflow record created: ID=%s, Status=%s, Current Step=1", doc.ID, models.StatusInitial)
	} else {
		logger.Info("Workflow record already present", "workflow_id", doc.ID)
	}

	if err := p.queue.Ack(ctx, msg); err != nil {
		return fmt.Errorf("acknowledge message %s: %w", msg.ID, err)
	}
	p.say("Message completed (removed from queue)")
	return nil
}

func (p *Processor) store(ctx context.Context, logger *logging.Logger, msg *queue.Message) (*models.IntakeDocument, error) {
	existing, err := p.docs.FindByMessageID(ctx, msg.ID)
	switch {
	case err == nil:
		logger.Warn("Message already stored, reusing document", "document_id", existing.ID)
		return existing, nil
	case !errors.Is(err, repository.ErrNotFound):
		return nil, fmt.Errorf("look up message %s: %w", msg.ID, err)
	}

	doc := p.newDocument(msg)
	if doc.Raw {
		logger.Warn("Message is not JSON, storing raw payload")
		p.say("Message is not JSON: %s", msg.Body)
	}

	if err := p.docs.Put(ctx, doc); err != nil {
		if errors.Is(err, repository.ErrAlreadyExists) {
			if existing, ferr := p.docs.FindByMessageID(ctx, msg.ID); ferr == nil {
				return existing, nil
			}
		}
		return nil, fmt.Errorf("store message %s: %w", msg.ID, err)
	}

	logger.Info("Message stored", "document_id", doc.ID, "raw", doc.Raw)
	p.say("Message successfully stored with document ID: %s", doc.ID)
	return doc, nil
}

func (p *Processor) newDocument(msg *queue.Message) *models.IntakeDocument {
	id := p.newID()
	doc := &models.IntakeDocument{
		ID:           id,
		PartitionKey: id,
		MessageID:    msg.ID,
		Body:         msg.Body,
		ReceivedAt:   p.now(),
	}

	var data any
	if err := json.Unmarshal([]byte(msg.Body), &data); err != nil {
		doc.Raw = true
		doc.MessageData = map[string]any{models.RawMessageKey: msg.Body}
	} else {
		doc.MessageData = data
	}
	return doc
}

func (p *Processor) say(format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	fmt.Fprintln(p.out, line)
	p.logger.Info(line)
}
