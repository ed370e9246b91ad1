// Package dispatch runs the long-lived worker pool that turns queued inbound
// messages into delivered replies. One dispatcher serves all tenants; workers
// pull tasks from a bounded queue and drive the pipeline end to end.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/chamikara/helachat/internal/agent"
	"github.com/chamikara/helachat/internal/bus"
	"github.com/chamikara/helachat/internal/data"
	"github.com/chamikara/helachat/internal/logging"
)

// ErrQueueFull is returned by Enqueue when the task buffer is exhausted.
// The message stays in status received; a later webhook retry re-enqueues it.
var ErrQueueFull = errors.New("dispatch queue full")

// TaskKind distinguishes the work a task carries.
type TaskKind string

const (
	// TaskMessage processes one inbound message through the pipeline.
	TaskMessage TaskKind = "message"

	// TaskRebuild re-chunks and re-embeds a tenant's knowledge documents.
	TaskRebuild TaskKind = "rebuild"
)

// Task is one unit of dispatcher work.
type Task struct {
	ID          string
	Kind        TaskKind
	MessageID   int64
	BusinessID  int64
	Content     string
	SenderPhone string
}

// Responder runs the response pipeline for one message.
type Responder interface {
	ProcessMessage(ctx context.Context, text string, businessID int64, senderPhone string) (*agent.Result, error)
}

// Sender delivers outbound WhatsApp messages.
type Sender interface {
	SendText(ctx context.Context, to, body string) (string, error)
}

// MessageStore persists message state transitions.
type MessageStore interface {
	MarkMessageProcessing(ctx context.Context, id int64) error
	MarkMessageResponded(ctx context.Context, id int64, aiResponse, language string, confidence int, processingTimeMs int64) error
	MarkMessageFailed(ctx context.Context, id int64, reason string) error
	CreateMessage(ctx context.Context, m *data.Message) (int64, error)
}

// KnowledgeRebuilder rebuilds a tenant's vector index from its documents.
type KnowledgeRebuilder interface {
	Rebuild(ctx context.Context, businessID int64) (chunks int, err error)
}

// PendingSource lists inbound messages still awaiting a reply.
type PendingSource interface {
	PendingMessages(ctx context.Context, limit int) ([]*data.Message, error)
}

// Config tunes the worker pool.
type Config struct {
	Workers    int
	QueueSize  int
	MaxRetries int
	RetryBase  time.Duration
}

// Dispatcher owns the task queue and worker pool. Construct once at startup
// and keep it running for the life of the process.
type Dispatcher struct {
	cfg       Config
	responder Responder
	sender    Sender
	store     MessageStore
	rebuilder KnowledgeRebuilder
	events    *bus.Bus
	log       *logging.Logger

	queue  chan Task
	cancel context.CancelFunc
	group  *errgroup.Group
}

// New creates a dispatcher. The bus may be nil.
func New(cfg Config, responder Responder, sender Sender, store MessageStore,
	rebuilder KnowledgeRebuilder, events *bus.Bus) *Dispatcher {

	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = time.Minute
	}

	return &Dispatcher{
		cfg:       cfg,
		responder: responder,
		sender:    sender,
		store:     store,
		rebuilder: rebuilder,
		events:    events,
		log:       logging.Global().WithComponent("Dispatcher"),
		queue:     make(chan Task, cfg.QueueSize),
	}
}

// Start launches the worker pool. Call Stop to shut it down.
func (d *Dispatcher) Start(ctx context.Context) error {
	if d.cancel != nil {
		return fmt.Errorf("dispatcher already started")
	}

	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	g, ctx := errgroup.WithContext(ctx)
	d.group = g

	for i := 0; i < d.cfg.Workers; i++ {
		worker := i
		g.Go(func() error {
			d.runWorker(ctx, worker)
			return nil
		})
	}

	d.log.Info("started %d workers (queue %d)", d.cfg.Workers, d.cfg.QueueSize)
	return nil
}

// Stop cancels the workers and waits for in-flight tasks to finish.
func (d *Dispatcher) Stop() error {
	if d.cancel == nil {
		return nil
	}
	d.cancel()
	err := d.group.Wait()
	d.log.Info("dispatcher stopped")
	return err
}

// Enqueue adds a message task without blocking. A full queue returns
// ErrQueueFull and leaves the message in its current status.
func (d *Dispatcher) Enqueue(task Task) error {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if task.Kind == "" {
		task.Kind = TaskMessage
	}

	select {
	case d.queue <- task:
		if d.events != nil {
			e := bus.NewEvent(bus.EventMessageQueued)
			e.BusinessID = task.BusinessID
			e.MessageID = task.MessageID
			d.events.Publish(e)
		}
		return nil
	default:
		d.log.Error("queue full, dropping task for message %d", task.MessageID)
		return ErrQueueFull
	}
}

// EnqueueRebuild queues a knowledge rebuild for one tenant.
func (d *Dispatcher) EnqueueRebuild(businessID int64) error {
	return d.Enqueue(Task{
		ID:         uuid.NewString(),
		Kind:       TaskRebuild,
		BusinessID: businessID,
	})
}

// QueueDepth reports how many tasks are waiting.
func (d *Dispatcher) QueueDepth() int {
	return len(d.queue)
}

// Recover re-enqueues inbound messages a previous run left in received or
// processing, such as a shutdown that landed mid-retry. Call once after
// Start. Returns how many messages were re-queued.
func (d *Dispatcher) Recover(ctx context.Context, source PendingSource) (int, error) {
	msgs, err := source.PendingMessages(ctx, d.cfg.QueueSize)
	if err != nil {
		return 0, fmt.Errorf("list pending messages: %w", err)
	}

	queued := 0
	for _, m := range msgs {
		err := d.Enqueue(Task{
			Kind:        TaskMessage,
			MessageID:   m.ID,
			BusinessID:  m.BusinessID,
			Content:     m.Content,
			SenderPhone: m.SenderPhone,
		})
		if errors.Is(err, ErrQueueFull) {
			d.log.Warn("recovery stopped on full queue, %d of %d re-queued", queued, len(msgs))
			break
		}
		if err != nil {
			return queued, err
		}
		queued++
	}

	if queued > 0 {
		d.log.Info("re-queued %d messages stranded by the previous run", queued)
	}
	return queued, nil
}

func (d *Dispatcher) runWorker(ctx context.Context, id int) {
	d.log.Debug("worker %d started", id)

	for {
		select {
		case <-ctx.Done():
			d.log.Debug("worker %d stopping", id)
			return
		case task := <-d.queue:
			switch task.Kind {
			case TaskRebuild:
				d.handleRebuild(ctx, task)
			default:
				d.handleMessage(ctx, task)
			}
		}
	}
}

// handleMessage drives one message through the pipeline, retrying the whole
// turn on failure with exponential backoff until MaxRetries is exhausted.
func (d *Dispatcher) handleMessage(ctx context.Context, task Task) {
	tlog := d.log.WithField("task", task.ID)

	for attempt := 0; ; attempt++ {
		err := d.processOnce(ctx, task)
		if err == nil {
			return
		}
		if ctx.Err() != nil {
			// The message row stays in processing; the startup sweep
			// re-queues it on the next run.
			tlog.Warn("shutdown interrupted message %d, leaving it for recovery", task.MessageID)
			return
		}

		if attempt >= d.cfg.MaxRetries {
			tlog.Error("message %d failed permanently after %d attempts: %v",
				task.MessageID, attempt+1, err)
			d.markFailed(ctx, task, err)
			return
		}

		backoff := d.cfg.RetryBase * (1 << attempt)
		tlog.Warn("message %d attempt %d failed, retrying in %s: %v",
			task.MessageID, attempt+1, backoff, err)

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
	}
}

func (d *Dispatcher) processOnce(ctx context.Context, task Task) error {
	if err := d.store.MarkMessageProcessing(ctx, task.MessageID); err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}

	result, err := d.responder.ProcessMessage(ctx, task.Content, task.BusinessID, task.SenderPhone)
	if err != nil {
		return fmt.Errorf("process message: %w", err)
	}

	waID, err := d.sender.SendText(ctx, task.SenderPhone, result.Response)
	if err != nil {
		return fmt.Errorf("send reply: %w", err)
	}

	// Persist the outcome even if the request context was cancelled mid-send.
	persistCtx, cancel := logging.DetachContextWithTimeout(ctx, 10*time.Second)
	defer cancel()

	if _, err := d.store.CreateMessage(persistCtx, &data.Message{
		BusinessID:        task.BusinessID,
		WhatsAppMessageID: waID,
		Direction:         data.DirectionOutbound,
		Content:           result.Response,
		LanguageDetected:  result.Language,
		RecipientPhone:    task.SenderPhone,
		Status:            data.StatusResponded,
		ConfidenceScore:   result.Confidence,
	}); err != nil {
		return fmt.Errorf("store outbound message: %w", err)
	}

	if err := d.store.MarkMessageResponded(persistCtx, task.MessageID,
		result.Response, result.Language, result.Confidence, result.ProcessingTime); err != nil {
		return fmt.Errorf("mark responded: %w", err)
	}

	if d.events != nil {
		e := bus.NewEvent(bus.EventReplySent)
		e.BusinessID = task.BusinessID
		e.MessageID = task.MessageID
		e.Confidence = result.Confidence
		e.Language = result.Language
		e.DurationMs = result.ProcessingTime
		d.events.Publish(e)
	}

	return nil
}

func (d *Dispatcher) markFailed(ctx context.Context, task Task, cause error) {
	persistCtx, cancel := logging.DetachContextWithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := d.store.MarkMessageFailed(persistCtx, task.MessageID, cause.Error()); err != nil {
		d.log.Error("failed to mark message %d failed: %v", task.MessageID, err)
	}

	if d.events != nil {
		e := bus.NewEvent(bus.EventTurnFailed)
		e.BusinessID = task.BusinessID
		e.MessageID = task.MessageID
		e.Error = cause.Error()
		d.events.Publish(e)
	}
}

func (d *Dispatcher) handleRebuild(ctx context.Context, task Task) {
	start := time.Now()

	chunks, err := d.rebuilder.Rebuild(ctx, task.BusinessID)
	if err != nil {
		d.log.Error("knowledge rebuild for business %d failed: %v", task.BusinessID, err)
		return
	}

	d.log.Info("knowledge rebuilt for business %d: %d chunks in %s",
		task.BusinessID, chunks, time.Since(start).Round(time.Millisecond))

	if d.events != nil {
		e := bus.NewEvent(bus.EventKnowledgeRebuilt)
		e.BusinessID = task.BusinessID
		e.ResultCount = chunks
		e.DurationMs = time.Since(start).Milliseconds()
		d.events.Publish(e)
	}
}
