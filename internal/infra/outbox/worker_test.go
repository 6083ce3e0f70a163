package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	appoutbox "staybook/internal/app/outbox"
)

type stubStore struct {
	mu      sync.Mutex
	pending []Envelope
	sent    []string
	failed  map[string]string
}

func (s *stubStore) Claim(_ context.Context, _ string, limit int) ([]Envelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit > len(s.pending) {
		limit = len(s.pending)
	}
	out := s.pending[:limit]
	s.pending = s.pending[limit:]
	return out, nil
}

func (s *stubStore) MarkSent(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, id)
	return nil
}

func (s *stubStore) MarkFailed(_ context.Context, id string, _ time.Time, msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failed == nil {
		s.failed = map[string]string{}
	}
	s.failed[id] = msg
	return nil
}

type published struct {
	topic   string
	key     string
	payload []byte
	headers map[string]string
}

type stubProducer struct {
	fail  map[string]bool
	calls []published
}

func (p *stubProducer) Publish(_ context.Context, topic, key string, payload []byte, headers map[string]string) error {
	if p.fail[key] {
		return errors.New("broker down")
	}
	p.calls = append(p.calls, published{topic: topic, key: key, payload: payload, headers: headers})
	return nil
}

func envelope(id, name, aggregate string) Envelope {
	return Envelope{Record: appoutbox.EventRecord{
		ID:         id,
		Name:       name,
		Payload:    []byte(`{"booking_id":"` + aggregate + `"}`),
		OccurredAt: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		Aggregate:  aggregate,
		Headers:    map[string]string{"traceparent": "00-abc-def-01"},
	}}
}

func TestWorkerPublishesCloudEvents(t *testing.T) {
	store := &stubStore{pending: []Envelope{
		envelope("ev-1", "booking.approved", "bk-1"),
		envelope("ev-2", "access.credential_assigned", "bk-1"),
	}}
	producer := &stubProducer{}
	w := &Worker{Store: store, Producer: producer, TopicPrefix: "sb."}

	sent, err := w.ProcessOnce(context.Background())
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if sent != 2 || len(store.sent) != 2 {
		t.Fatalf("expected 2 sent, got %d (%v)", sent, store.sent)
	}
	if producer.calls[0].topic != "sb.booking.events.v1" || producer.calls[1].topic != "sb.access.events.v1" {
		t.Fatalf("unexpected topics: %s, %s", producer.calls[0].topic, producer.calls[1].topic)
	}
	var evt CloudEvent
	if err := json.Unmarshal(producer.calls[0].payload, &evt); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if evt.Type != "booking.approved.v1" || evt.EventName() != "booking.approved" {
		t.Fatalf("unexpected type %q", evt.Type)
	}
	if evt.Source != "app://staybook" || evt.ID != "ev-1" || evt.TraceParent != "00-abc-def-01" {
		t.Fatalf("unexpected envelope %+v", evt)
	}
	if string(evt.Data) != `{"booking_id":"bk-1"}` {
		t.Fatalf("unexpected data %s", evt.Data)
	}
	if producer.calls[0].headers["content-type"] != "application/cloudevents+json" {
		t.Fatalf("missing content type header")
	}
}

func TestWorkerMarksFailures(t *testing.T) {
	store := &stubStore{pending: []Envelope{
		envelope("ev-1", "booking.requested", "bk-1"),
		envelope("ev-2", "booking.requested", "bk-2"),
	}}
	producer := &stubProducer{fail: map[string]bool{"bk-1": true}}
	w := &Worker{Store: store, Producer: producer, Backoff: []time.Duration{time.Second}}

	sent, err := w.ProcessOnce(context.Background())
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if sent != 1 {
		t.Fatalf("expected one delivery, got %d", sent)
	}
	if store.failed["ev-1"] != "broker down" {
		t.Fatalf("expected ev-1 marked failed, got %v", store.failed)
	}
	if len(store.sent) != 1 || store.sent[0] != "ev-2" {
		t.Fatalf("expected ev-2 sent, got %v", store.sent)
	}
}

func TestWorkerRejectsNonJSONPayload(t *testing.T) {
	env := envelope("ev-1", "booking.requested", "bk-1")
	env.Record.Payload = []byte("not json")
	store := &stubStore{pending: []Envelope{env}}
	w := &Worker{Store: store, Producer: &stubProducer{}}

	if _, err := w.ProcessOnce(context.Background()); err != nil {
		t.Fatalf("process: %v", err)
	}
	if _, ok := store.failed["ev-1"]; !ok {
		t.Fatalf("expected malformed record to be marked failed")
	}
}

func TestWorkerRunRequiresDependencies(t *testing.T) {
	w := &Worker{}
	if err := w.Run(context.Background()); !errors.Is(err, ErrWorkerNotConfigured) {
		t.Fatalf("expected ErrWorkerNotConfigured, got %v", err)
	}
}

func TestTopicFor(t *testing.T) {
	cases := map[string]string{
		"booking.cancelled":          "booking.events.v1",
		"access.credential_assigned": "access.events.v1",
		"plain":                      "plain.events.v1",
	}
	for name, want := range cases {
		if got := TopicFor("", name); got != want {
			t.Errorf("TopicFor(%q) = %q, want %q", name, got, want)
		}
	}
}
