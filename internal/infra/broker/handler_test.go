package broker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"staybook/internal/infra/outbox"
)

type memInbox struct {
	seen map[string]bool
}

func (m *memInbox) Seen(_ context.Context, id string) (bool, error) {
	if m.seen[id] {
		return true, nil
	}
	m.seen[id] = true
	return false, nil
}

type recordingSink struct {
	names    []string
	payloads []string
}

func (s *recordingSink) Handle(_ context.Context, name string, payload []byte) {
	s.names = append(s.names, name)
	s.payloads = append(s.payloads, string(payload))
}

func encode(t *testing.T, id, typ string) []byte {
	t.Helper()
	body, err := json.Marshal(outbox.CloudEvent{
		SpecVersion: "1.0",
		ID:          id,
		Type:        typ,
		Source:      "app://staybook",
		Time:        time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		Data:        []byte(`{"booking_id":"bk-1"}`),
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return body
}

func TestEventHandlerDeliversOnce(t *testing.T) {
	sink := &recordingSink{}
	h := &EventHandler{Inbox: &memInbox{seen: map[string]bool{}}, Sink: sink}
	msg := encode(t, "ev-1", "booking.confirmed.v1")

	for i := 0; i < 2; i++ {
		if err := h.HandlePayload(context.Background(), msg); err != nil {
			t.Fatalf("handle: %v", err)
		}
	}
	if len(sink.names) != 1 || sink.names[0] != "booking.confirmed" {
		t.Fatalf("expected one booking.confirmed delivery, got %v", sink.names)
	}
	if sink.payloads[0] != `{"booking_id":"bk-1"}` {
		t.Fatalf("unexpected data %s", sink.payloads[0])
	}
}

func TestEventHandlerRejectsMalformed(t *testing.T) {
	h := &EventHandler{Sink: &recordingSink{}}
	for _, body := range []string{"nope", `{"specversion":"1.0"}`} {
		if err := h.HandlePayload(context.Background(), []byte(body)); !errors.Is(err, ErrMalformedEvent) {
			t.Fatalf("expected ErrMalformedEvent for %q, got %v", body, err)
		}
	}
}
