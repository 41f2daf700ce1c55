package ledgerq

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeQueue struct {
	messages []*EventMessage

	completed   []ID
	abandoned   []ID
	rescheduled []rescheduleCall
	deadLetters []ID

	peekErr       error
	completeErr   error
	rescheduleErr error
	deadErr       error
}

type rescheduleCall struct {
	id        ID
	notBefore time.Time
}

func (q *fakeQueue) Peek(context.Context) (*EventMessage, error) {
	if q.peekErr != nil {
		return nil, q.peekErr
	}
	if len(q.messages) == 0 {
		return nil, ErrNoMessages
	}
	msg := q.messages[0]
	q.messages = q.messages[1:]

	return msg, nil
}

func (q *fakeQueue) Complete(_ context.Context, msg *EventMessage) error {
	if q.completeErr != nil {
		return q.completeErr
	}
	q.completed = append(q.completed, msg.ID)

	return nil
}

func (q *fakeQueue) Abandon(_ context.Context, msg *EventMessage) error {
	q.abandoned = append(q.abandoned, msg.ID)

	return nil
}

func (q *fakeQueue) Reschedule(_ context.Context, msg *EventMessage, notBefore time.Time) error {
	if q.rescheduleErr != nil {
		return q.rescheduleErr
	}
	q.rescheduled = append(q.rescheduled, rescheduleCall{id: msg.ID, notBefore: notBefore})

	return nil
}

func (q *fakeQueue) MoveToDeadLetter(_ context.Context, msg *EventMessage) error {
	if q.deadErr != nil {
		return q.deadErr
	}
	q.deadLetters = append(q.deadLetters, msg.ID)

	return nil
}

type scriptProcessor struct {
	outcomes []Outcome
	calls    int
	panics   bool
}

func (p *scriptProcessor) Process(context.Context, *EventMessage) Outcome {
	if p.panics {
		panic("boom")
	}
	outcome := p.outcomes[p.calls%len(p.outcomes)]
	p.calls++

	return outcome
}

type countMetrics struct {
	NopMetrics
	processed  int
	duplicates int
	permanent  int
	transient  int
	retries    int
	dead       int
}

func (m *countMetrics) AddProcessed(n int)         { m.processed += n }
func (m *countMetrics) AddDuplicates(n int)        { m.duplicates += n }
func (m *countMetrics) AddPermanentFailures(n int) { m.permanent += n }
func (m *countMetrics) AddTransientFailures(n int) { m.transient += n }
func (m *countMetrics) AddRetries(n int)           { m.retries += n }
func (m *countMetrics) AddDeadLettered(n int)      { m.dead += n }

func testMessage(id byte, attempts int) *EventMessage {
	return &EventMessage{ID: ID{id}, Body: []byte("{}"), Attempts: attempts}
}

func TestWorkerCompletesOnSuccess(t *testing.T) {
	queue := &fakeQueue{messages: []*EventMessage{testMessage(1, 0)}}
	metrics := &countMetrics{}
	worker := NewWorker(queue, &scriptProcessor{outcomes: []Outcome{Success()}}, WithMetrics(metrics))

	handled, err := worker.ProcessOnce(context.Background())
	if err != nil {
		t.Fatalf("process once: %v", err)
	}
	if !handled {
		t.Fatal("expected a message to be handled")
	}
	if len(queue.completed) != 1 || queue.completed[0] != (ID{1}) {
		t.Fatalf("expected message completed, got %+v", queue.completed)
	}
	if metrics.processed != 1 {
		t.Fatalf("expected processed metric 1, got %d", metrics.processed)
	}
}

func TestWorkerCountsDuplicates(t *testing.T) {
	queue := &fakeQueue{messages: []*EventMessage{testMessage(1, 0)}}
	metrics := &countMetrics{}
	worker := NewWorker(queue, &scriptProcessor{outcomes: []Outcome{DuplicateSuccess()}}, WithMetrics(metrics))

	if _, err := worker.ProcessOnce(context.Background()); err != nil {
		t.Fatalf("process once: %v", err)
	}
	if len(queue.completed) != 1 {
		t.Fatal("expected duplicate to be completed")
	}
	if metrics.duplicates != 1 || metrics.processed != 0 {
		t.Fatalf("expected duplicate metric only, got %+v", metrics)
	}
}

func TestWorkerDeadLettersPermanentFailure(t *testing.T) {
	queue := &fakeQueue{messages: []*EventMessage{testMessage(1, 0)}}
	metrics := &countMetrics{}
	processor := &scriptProcessor{outcomes: []Outcome{PermanentFailure("malformed payload", nil)}}
	worker := NewWorker(queue, processor, WithMetrics(metrics))

	if _, err := worker.ProcessOnce(context.Background()); err != nil {
		t.Fatalf("process once: %v", err)
	}
	if len(queue.deadLetters) != 1 {
		t.Fatalf("expected message dead-lettered, got %+v", queue.deadLetters)
	}
	if len(queue.rescheduled) != 0 {
		t.Fatal("permanent failures must never be rescheduled")
	}
	if metrics.permanent != 1 {
		t.Fatalf("expected permanent metric 1, got %d", metrics.permanent)
	}
}

func TestWorkerBackoffSchedule(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := fixedClock{t: now}
	processor := &scriptProcessor{outcomes: []Outcome{TransientFailure("store timeout", nil)}}

	expected := []time.Duration{5 * time.Second, 25 * time.Second, 125 * time.Second}
	for attempts, delay := range expected {
		queue := &fakeQueue{messages: []*EventMessage{testMessage(1, attempts)}}
		worker := NewWorker(queue, processor, WithClock(clock))

		if _, err := worker.ProcessOnce(context.Background()); err != nil {
			t.Fatalf("attempt %d: %v", attempts, err)
		}
		if len(queue.rescheduled) != 1 {
			t.Fatalf("attempt %d: expected reschedule, got %+v", attempts, queue)
		}
		if got := queue.rescheduled[0].notBefore; !got.Equal(now.Add(delay)) {
			t.Fatalf("attempt %d: expected notBefore %s, got %s", attempts, now.Add(delay), got)
		}
	}

	// Fourth transient failure exhausts the schedule.
	queue := &fakeQueue{messages: []*EventMessage{testMessage(1, len(expected))}}
	metrics := &countMetrics{}
	worker := NewWorker(queue, processor, WithClock(clock), WithMetrics(metrics))

	if _, err := worker.ProcessOnce(context.Background()); err != nil {
		t.Fatalf("final attempt: %v", err)
	}
	if len(queue.rescheduled) != 0 {
		t.Fatal("expected no reschedule after schedule exhaustion")
	}
	if len(queue.deadLetters) != 1 {
		t.Fatal("expected dead-letter after schedule exhaustion")
	}
	if metrics.dead != 1 {
		t.Fatalf("expected dead metric 1, got %d", metrics.dead)
	}
}

func TestWorkerPanicBecomesTransient(t *testing.T) {
	queue := &fakeQueue{messages: []*EventMessage{testMessage(1, 0)}}
	worker := NewWorker(queue, &scriptProcessor{panics: true})

	if _, err := worker.ProcessOnce(context.Background()); err != nil {
		t.Fatalf("process once: %v", err)
	}
	if len(queue.rescheduled) != 1 {
		t.Fatalf("expected panic to be rescheduled as transient, got %+v", queue)
	}
}

func TestWorkerNoMessages(t *testing.T) {
	queue := &fakeQueue{}
	worker := NewWorker(queue, &scriptProcessor{outcomes: []Outcome{Success()}})

	handled, err := worker.ProcessOnce(context.Background())
	if err != nil {
		t.Fatalf("process once: %v", err)
	}
	if handled {
		t.Fatal("expected no message handled")
	}
}

func TestWorkerPeekErrorPropagates(t *testing.T) {
	queue := &fakeQueue{peekErr: errors.New("queue unavailable")}
	worker := NewWorker(queue, &scriptProcessor{outcomes: []Outcome{Success()}})

	if _, err := worker.ProcessOnce(context.Background()); err == nil {
		t.Fatal("expected peek error to propagate")
	}
}

func TestWorkerCompleteErrorPropagates(t *testing.T) {
	queue := &fakeQueue{
		messages:    []*EventMessage{testMessage(1, 0)},
		completeErr: errors.New("connection lost"),
	}
	worker := NewWorker(queue, &scriptProcessor{outcomes: []Outcome{Success()}})

	handled, err := worker.ProcessOnce(context.Background())
	if !handled {
		t.Fatal("expected message to be handled")
	}
	if err == nil {
		t.Fatal("expected complete error to propagate")
	}
	// The message stays owned by the queue for redelivery.
	if len(queue.completed) != 0 {
		t.Fatalf("expected no completion recorded, got %+v", queue.completed)
	}
}

func TestWorkerRunStopsOnCancel(t *testing.T) {
	queue := &fakeQueue{}
	worker := NewWorker(queue, &scriptProcessor{outcomes: []Outcome{Success()}},
		WithPollInterval(10*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- worker.Run(ctx)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after cancellation")
	}
}

func TestWorkerRunSurvivesQueueErrors(t *testing.T) {
	queue := &fakeQueue{peekErr: errors.New("queue unavailable")}
	worker := NewWorker(queue, &scriptProcessor{outcomes: []Outcome{Success()}},
		WithPollInterval(5*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := worker.Run(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected the loop to keep running until cancellation, got %v", err)
	}
}
