package middleware

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"staybook/internal/app/commands"
	"staybook/internal/app/outbox"
)

type createThing struct {
	Name    string `validate:"required"`
	IdemKey string
}

func (c createThing) Key() string { return "thing.create" }

func (c createThing) IdempotencyKey() string { return c.IdemKey }

func (c createThing) ResultPrototype() any { return &thingResult{} }

func (c createThing) LogAttrs() []any { return []any{"thing", c.Name} }

type thingResult struct {
	ID    string `json:"id"`
	Calls int    `json:"calls"`
}

type memStore struct {
	mu    sync.Mutex
	items map[string]IdempotencyRecord
}

func (s *memStore) Get(_ context.Context, key string) (IdempotencyRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.items[key]
	return rec, ok, nil
}

func (s *memStore) Save(_ context.Context, rec IdempotencyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[rec.Key] = rec
	return nil
}

type countingBox struct{ flushes int }

func (b *countingBox) Add(context.Context, outbox.EventRecord) error { return nil }

func (b *countingBox) Flush(context.Context) error {
	b.flushes++
	return nil
}

func newBus(calls *int, fail error) *commands.InMemoryBus {
	bus := commands.NewInMemoryBus()
	commands.RegisterHandler[createThing, *thingResult](bus, "thing.create", commands.HandlerFunc[createThing, *thingResult](
		func(ctx context.Context, cmd createThing) (*thingResult, error) {
			*calls++
			if fail != nil {
				return nil, fail
			}
			return &thingResult{ID: "t-" + cmd.Name, Calls: *calls}, nil
		}))
	return bus
}

func TestValidationRejectsMissingFields(t *testing.T) {
	calls := 0
	bus := ChainCommands(newBus(&calls, nil), Validation(NewStructValidator()))
	_, err := commands.Dispatch[createThing, *thingResult](context.Background(), bus, createThing{})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	var verr *ValidationError
	if !errors.As(err, &verr) || len(verr.Fields) != 1 || verr.Fields[0].Field != "Name" || verr.Fields[0].Rule != "required" {
		t.Fatalf("unexpected validation error %+v", err)
	}
	if calls != 0 {
		t.Fatal("handler invoked for invalid command")
	}
}

func TestIdempotencyReplaysStoredResult(t *testing.T) {
	calls := 0
	store := &memStore{items: map[string]IdempotencyRecord{}}
	bus := ChainCommands(newBus(&calls, nil), Idempotency(store, nil))
	ctx := context.Background()

	first, err := commands.Dispatch[createThing, *thingResult](ctx, bus, createThing{Name: "a", IdemKey: "k1"})
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := commands.Dispatch[createThing, *thingResult](ctx, bus, createThing{Name: "a", IdemKey: "k1"})
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if calls != 1 {
		t.Fatalf("handler ran %d times", calls)
	}
	if first.ID != second.ID || second.Calls != 1 {
		t.Fatalf("replayed result differs: %+v vs %+v", first, second)
	}
	if _, err := commands.Dispatch[createThing, *thingResult](ctx, bus, createThing{Name: "b"}); err != nil {
		t.Fatalf("no key: %v", err)
	}
	if calls != 2 {
		t.Fatalf("commands without key must not be cached, calls=%d", calls)
	}
}

func TestIdempotencyDoesNotCacheFailures(t *testing.T) {
	calls := 0
	store := &memStore{items: map[string]IdempotencyRecord{}}
	bus := ChainCommands(newBus(&calls, errors.New("boom")), Idempotency(store, nil))
	for i := 0; i < 2; i++ {
		if _, err := commands.Dispatch[createThing, *thingResult](context.Background(), bus, createThing{Name: "a", IdemKey: "k"}); err == nil || err.Error() != "boom" {
			t.Fatalf("attempt %d: expected boom, got %v", i, err)
		}
	}
	if calls != 2 {
		t.Fatalf("failed command must be retried, handler ran %d times", calls)
	}
	if _, found, _ := store.Get(context.Background(), "k"); found {
		t.Fatal("failure was cached")
	}
}

func TestOutboxFlushRunsAfterFailedCommands(t *testing.T) {
	calls := 0
	box := &countingBox{}
	bus := ChainCommands(newBus(&calls, errors.New("boom")), OutboxFlush(box))
	if _, err := commands.Dispatch[createThing, *thingResult](context.Background(), bus, createThing{Name: "a"}); err == nil {
		t.Fatal("expected error")
	}
	if box.flushes != 1 {
		t.Fatalf("expected one flush, got %d", box.flushes)
	}
}

func TestIdempotencyRejectsReusedKey(t *testing.T) {
	calls := 0
	store := &memStore{items: map[string]IdempotencyRecord{}}
	bus := ChainCommands(newBus(&calls, nil), Idempotency(store, nil))
	ctx := context.Background()

	if _, err := commands.Dispatch[createThing, *thingResult](ctx, bus, createThing{Name: "a", IdemKey: "k1"}); err != nil {
		t.Fatalf("first: %v", err)
	}
	_, err := commands.Dispatch[createThing, *thingResult](ctx, bus, createThing{Name: "b", IdemKey: "k1"})
	if !errors.Is(err, ErrIdempotencyKeyReused) {
		t.Fatalf("expected ErrIdempotencyKeyReused, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("handler ran %d times", calls)
	}
}

var errSoldOut = errors.New("thing: sold out")

func TestLoggingCarriesSubjectAndLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	calls := 0
	bus := ChainCommands(newBus(&calls, nil), Logging(logger, errSoldOut))
	if _, err := commands.Dispatch[createThing, *thingResult](context.Background(), bus, createThing{Name: "lamp"}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "level=INFO") || !strings.Contains(out, "command=thing.create") || !strings.Contains(out, "thing=lamp") {
		t.Fatalf("unexpected log %q", out)
	}

	buf.Reset()
	rejected := ChainCommands(newBus(&calls, errSoldOut), Logging(logger, errSoldOut))
	_, _ = commands.Dispatch[createThing, *thingResult](context.Background(), rejected, createThing{Name: "lamp"})
	if !strings.Contains(buf.String(), "level=INFO") || !strings.Contains(buf.String(), "command rejected") {
		t.Fatalf("business outcome should log at info, got %q", buf.String())
	}

	buf.Reset()
	failing := ChainCommands(newBus(&calls, errors.New("disk full")), Logging(logger, errSoldOut))
	_, _ = commands.Dispatch[createThing, *thingResult](context.Background(), failing, createThing{Name: "lamp"})
	if !strings.Contains(buf.String(), "level=WARN") || !strings.Contains(buf.String(), "disk full") {
		t.Fatalf("fault should log at warn, got %q", buf.String())
	}
}
