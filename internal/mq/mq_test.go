package mq

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shaiso/omnipost/internal/domain"
)

func TestExpirationMillis(t *testing.T) {
	tests := []struct {
		delay time.Duration
		want  string
	}{
		{5 * time.Second, "5000"},
		{1500 * time.Microsecond, "1"},
		{time.Microsecond, "1"},
		{2 * time.Minute, "120000"},
	}

	for _, tt := range tests {
		if got := expirationMillis(tt.delay); got != tt.want {
			t.Errorf("expirationMillis(%v) = %q, want %q", tt.delay, got, tt.want)
		}
	}
}

func TestStepMessage_RoundTrip(t *testing.T) {
	job := &domain.StepJob{
		RunID:    uuid.New(),
		PostID:   uuid.New(),
		Index:    2,
		Password: "pw",
		Delay:    5 * time.Second,
		Step: domain.ActionStep{
			Request:         domain.RequestTemplate{BaseURL: "https://api.x.com", Method: "POST"},
			ExpectedStatus:  201,
			VariableMapping: map[string]string{"id": domain.TerminalRequest},
		},
	}

	msg := stepMessage(job, time.Now())
	if job.ID == uuid.Nil {
		t.Fatal("stepMessage should assign a job ID")
	}
	if msg.ID != job.ID.String() || msg.Type != MessageTypeStepReady {
		t.Errorf("unexpected message header: %+v", msg)
	}

	// Так сообщение видит consumer
	body, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var received Message
	if err := json.Unmarshal(body, &received); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	got, err := ParsePayload[domain.StepJob](&received)
	if err != nil {
		t.Fatalf("ParsePayload: %v", err)
	}
	if got.RunID != job.RunID || got.Index != 2 || got.Password != "pw" || got.Delay != job.Delay {
		t.Errorf("job fields lost: %+v", got)
	}
	if !got.Step.IsTerminal() || got.Step.ExpectedStatus != 201 {
		t.Errorf("step lost: %+v", got.Step)
	}
}

func TestQueueArgs_DelayBucketsDeadLetterIntoReady(t *testing.T) {
	args := queueArgs()

	for _, b := range DelayBuckets {
		delayed, ok := args[b.Queue]
		if !ok {
			t.Fatalf("no arguments for %s", b.Queue)
		}
		if delayed["x-dead-letter-exchange"] != string(ExchangeSteps) {
			t.Errorf("%s must dead-letter into %s, got %v", b.Queue, ExchangeSteps, delayed["x-dead-letter-exchange"])
		}
		if delayed["x-dead-letter-routing-key"] != string(RoutingKeyReady) {
			t.Errorf("%s must route to %s, got %v", b.Queue, RoutingKeyReady, delayed["x-dead-letter-routing-key"])
		}
		if delayed["x-message-ttl"] != b.TTL.Milliseconds() {
			t.Errorf("%s ttl = %v, want %d", b.Queue, delayed["x-message-ttl"], b.TTL.Milliseconds())
		}
	}

	ready := args[QueueStepsReady]
	if ready["x-dead-letter-exchange"] != string(ExchangeDLQ) {
		t.Errorf("ready queue must dead-letter into DLQ, got %v", ready["x-dead-letter-exchange"])
	}

	if got, want := len(topologyQueues()), len(DelayBuckets)+2; got != want {
		t.Errorf("declared %d queues, want %d", got, want)
	}
}

func TestDelayBuckets_Ascending(t *testing.T) {
	for i := 1; i < len(DelayBuckets); i++ {
		if DelayBuckets[i].TTL <= DelayBuckets[i-1].TTL {
			t.Errorf("bucket %s must be longer than %s", DelayBuckets[i].Queue, DelayBuckets[i-1].Queue)
		}
	}
}

func TestDelayRoute(t *testing.T) {
	tests := []struct {
		delay     time.Duration
		wantQueue Queue
		wantTTL   time.Duration
	}{
		{300 * time.Millisecond, "steps.delay.1s", 300 * time.Millisecond},
		{time.Second, "steps.delay.1s", time.Second},
		{5 * time.Second, "steps.delay.1s", time.Second},
		{10 * time.Second, "steps.delay.10s", 10 * time.Second},
		{59 * time.Second, "steps.delay.10s", 10 * time.Second},
		{90 * time.Second, "steps.delay.1m", time.Minute},
		{15 * time.Minute, "steps.delay.10m", 10 * time.Minute},
		{26 * time.Hour, "steps.delay.1h", time.Hour},
	}

	for _, tt := range tests {
		t.Run(tt.delay.String(), func(t *testing.T) {
			bucket, ttl := delayRoute(tt.delay)
			if bucket.Queue != tt.wantQueue || ttl != tt.wantTTL {
				t.Errorf("delayRoute(%v) = %s/%v, want %s/%v", tt.delay, bucket.Queue, ttl, tt.wantQueue, tt.wantTTL)
			}
			if ttl > tt.delay {
				t.Errorf("ttl %v exceeds delay %v", ttl, tt.delay)
			}
		})
	}
}

// fakeAck запоминает подтверждения доставки.
type fakeAck struct {
	acked, nacked, requeued bool
}

func (a *fakeAck) Ack(uint64, bool) error {
	a.acked = true
	return nil
}

func (a *fakeAck) Nack(_ uint64, _ bool, requeue bool) error {
	a.nacked, a.requeued = true, requeue
	return nil
}

func (a *fakeAck) Reject(_ uint64, requeue bool) error {
	a.nacked, a.requeued = true, requeue
	return nil
}

type fakeEnqueuer struct {
	at   time.Time
	jobs int
}

func (q *fakeEnqueuer) EnqueueAt(_ context.Context, at time.Time, _ *domain.StepJob) error {
	q.at = at
	q.jobs++
	return nil
}

func TestConsumerHandle_EarlyDeliveryIsRequeued(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		runAt       time.Time
		wantRequeue bool
	}{
		{"due", now.Add(-time.Millisecond), false},
		{"exactly now", now, false},
		{"early", now.Add(40 * time.Second), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handled := 0
			q := &fakeEnqueuer{}
			handler := func(context.Context, *domain.StepJob) error {
				handled++
				return nil
			}
			c := NewConsumer(nil, ConsumerConfig{Handler: handler, Requeue: q})
			c.now = func() time.Time { return now }

			body, err := json.Marshal(stepMessage(&domain.StepJob{RunID: uuid.New(), Index: 1, RunAt: tt.runAt}, now))
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			ack := &fakeAck{}
			c.handle(context.Background(), amqp.Delivery{Acknowledger: ack, Body: body})

			if !ack.acked || ack.nacked {
				t.Errorf("delivery must be acked: %+v", ack)
			}
			if tt.wantRequeue {
				if q.jobs != 1 || !q.at.Equal(tt.runAt) || handled != 0 {
					t.Errorf("expected requeue at %v without execution, got jobs=%d at=%v handled=%d", tt.runAt, q.jobs, q.at, handled)
				}
				return
			}
			if q.jobs != 0 || handled != 1 {
				t.Errorf("expected execution, got jobs=%d handled=%d", q.jobs, handled)
			}
		})
	}
}

func TestDecodeStep(t *testing.T) {
	valid, err := json.Marshal(stepMessage(&domain.StepJob{RunID: uuid.New(), Index: 1}, time.Now()))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{"valid", string(valid), false},
		{"not json", `{"type":`, true},
		{"wrong type", `{"id":"1","type":"task.ready","payload":{}}`, true},
		{"no run", `{"id":"1","type":"step.ready","payload":{"index":1}}`, true},
		{"zero index", `{"id":"1","type":"step.ready","payload":{"run_id":"` + uuid.NewString() + `","index":0}}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job, err := DecodeStep([]byte(tt.body))
			if tt.wantErr {
				if !errors.Is(err, ErrMalformedMessage) {
					t.Errorf("error = %v, want ErrMalformedMessage", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeStep: %v", err)
			}
			if job.Index != 1 {
				t.Errorf("index = %d, want 1", job.Index)
			}
		})
	}
}
