package ledgerq

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// MessageProcessor processes one queue message into an Outcome.
type MessageProcessor interface {
	// Process validates and applies a single message.
	Process(ctx context.Context, msg *EventMessage) Outcome
}

// Worker is the sequential driver: it pulls one message at a time
// from the queue, invokes the processor, and acts on the verdict with
// the retry policy. Run multiple Worker instances against the same
// queue for horizontal scale; correctness relies on the store's
// idempotency constraint, not on worker-side mutual exclusion.
type Worker struct {
	queue     Queue
	processor MessageProcessor
	cfg       WorkerConfig
}

// NewWorker constructs a Worker with defaults and optional settings.
func NewWorker(queue Queue, processor MessageProcessor, opts ...WorkerOption) *Worker {
	if queue == nil {
		panic("ledgerq: nil Queue")
	}
	if processor == nil {
		panic("ledgerq: nil MessageProcessor")
	}

	var cfg WorkerConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg = cfg.withDefaults()

	return &Worker{
		queue:     queue,
		processor: processor,
		cfg:       cfg,
	}
}

// Run polls until ctx is cancelled. A failing poll or message never
// terminates the loop; the worker logs it and waits one poll interval.
func (w *Worker) Run(ctx context.Context) error {
	w.cfg.Logger.Info("worker starting",
		"poll_interval", w.cfg.PollInterval,
		"max_attempts", w.cfg.RetryPolicy.MaxAttempts(),
	)

	for {
		select {
		case <-ctx.Done():
			w.cfg.Logger.Info("worker stopping")

			return ctx.Err()
		default:
		}

		handled, err := w.ProcessOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				w.cfg.Logger.Info("worker stopping")

				return ctx.Err()
			}
			w.cfg.Logger.Error("processing cycle failed", "err", err)
			if sleepErr := w.sleep(ctx, w.cfg.PollInterval); sleepErr != nil {
				return sleepErr
			}

			continue
		}
		if !handled {
			if sleepErr := w.sleep(ctx, w.cfg.PollInterval); sleepErr != nil {
				return sleepErr
			}
		}
	}
}

// ProcessOnce peeks at most one message and routes its outcome. It
// reports whether a message was handled. An error from the queue
// leaves the message owned by the queue for redelivery.
func (w *Worker) ProcessOnce(ctx context.Context) (bool, error) {
	msg, err := w.queue.Peek(ctx)
	if err != nil {
		if errors.Is(err, ErrNoMessages) {
			return false, nil
		}

		return false, fmt.Errorf("queue peek failed: %w", err)
	}

	return true, w.route(ctx, msg)
}

func (w *Worker) route(ctx context.Context, msg *EventMessage) error {
	start := time.Now()
	outcome := w.safeProcess(ctx, msg)
	w.cfg.Metrics.ObserveProcessDuration(time.Since(start))

	switch outcome.Code {
	case OutcomeSuccess:
		if err := w.queue.Complete(ctx, msg); err != nil {
			return fmt.Errorf("complete failed for message %s: %w", msg.ID, err)
		}
		if outcome.Duplicate {
			w.cfg.Metrics.AddDuplicates(1)
		} else {
			w.cfg.Metrics.AddProcessed(1)
		}

		return nil

	case OutcomePermanentFailure:
		w.cfg.Logger.Error("dead-lettering invalid message",
			"message_id", msg.ID, "reason", outcome.Reason, "err", outcome.Err)
		if err := w.queue.MoveToDeadLetter(ctx, msg); err != nil {
			return fmt.Errorf("dead-letter failed for message %s: %w", msg.ID, err)
		}
		w.cfg.Metrics.AddPermanentFailures(1)

		return nil

	default:
		w.cfg.Metrics.AddTransientFailures(1)

		return w.routeTransient(ctx, msg, outcome)
	}
}

func (w *Worker) routeTransient(ctx context.Context, msg *EventMessage, outcome Outcome) error {
	decision := w.cfg.RetryPolicy.Decide(msg.Attempts)
	if decision.Dead {
		w.cfg.Logger.Warn("message exceeded retry attempts, dead-lettering",
			"message_id", msg.ID, "attempts", msg.Attempts, "reason", outcome.Reason)
		if err := w.queue.MoveToDeadLetter(ctx, msg); err != nil {
			return fmt.Errorf("dead-letter failed for message %s: %w", msg.ID, err)
		}
		w.cfg.Metrics.AddDeadLettered(1)

		return nil
	}

	notBefore := w.cfg.Clock.Now().Add(decision.Delay)
	w.cfg.Logger.Warn("transient failure, rescheduling",
		"message_id", msg.ID,
		"attempt", msg.Attempts+1,
		"max_attempts", w.cfg.RetryPolicy.MaxAttempts(),
		"delay", decision.Delay,
		"reason", outcome.Reason,
	)
	if err := w.queue.Reschedule(ctx, msg, notBefore); err != nil {
		return fmt.Errorf("reschedule failed for message %s: %w", msg.ID, err)
	}
	w.cfg.Metrics.AddRetries(1)

	return nil
}

// safeProcess invokes the processor, converting a panic into a
// TransientFailure so one poison message cannot kill the loop.
func (w *Worker) safeProcess(ctx context.Context, msg *EventMessage) (outcome Outcome) {
	defer func() {
		if rec := recover(); rec != nil {
			w.cfg.Logger.Error("processor panic", "message_id", msg.ID, "panic", rec)
			outcome = TransientFailure("processor panic", fmt.Errorf("%w: %v", ErrWorkerPanic, rec))
		}
	}()

	return w.processor.Process(ctx, msg)
}

func (w *Worker) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
