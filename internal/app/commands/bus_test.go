package commands

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
)

type approve struct{ BookingID string }

func (approve) Key() string { return "booking.approve" }

type decline struct{}

func (decline) Key() string { return "booking.decline" }

func newApproveBus() *InMemoryBus {
	bus := NewInMemoryBus()
	RegisterHandler[approve, string](bus, approve{}.Key(), HandlerFunc[approve, string](func(_ context.Context, cmd approve) (string, error) {
		return "approved " + cmd.BookingID, nil
	}))
	return bus
}

func TestDispatchTypedResult(t *testing.T) {
	got, err := Dispatch[approve, string](context.Background(), newApproveBus(), approve{BookingID: "bk-1"})
	if err != nil || got != "approved bk-1" {
		t.Fatalf("got %q, %v", got, err)
	}
}

func TestDispatchErrorsNameTheKey(t *testing.T) {
	bus := newApproveBus()
	_, err := Dispatch[decline, string](context.Background(), bus, decline{})
	if !errors.Is(err, ErrHandlerNotFound) || !strings.Contains(err.Error(), "booking.decline") {
		t.Fatalf("unexpected error %v", err)
	}
	_, err = Dispatch[approve, int](context.Background(), bus, approve{})
	if !errors.Is(err, ErrResultType) || !strings.Contains(err.Error(), "booking.approve") {
		t.Fatalf("unexpected error %v", err)
	}
	if _, err := Dispatch[approve, string](context.Background(), nil, approve{}); !errors.Is(err, ErrNilBus) {
		t.Fatalf("expected ErrNilBus, got %v", err)
	}
}

func TestDuplicateRegistrationPanics(t *testing.T) {
	bus := newApproveBus()
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on duplicate key")
		}
	}()
	RegisterHandler[approve, string](bus, approve{}.Key(), HandlerFunc[approve, string](func(context.Context, approve) (string, error) {
		return "", nil
	}))
}

func TestKeysAreSorted(t *testing.T) {
	bus := newApproveBus()
	RegisterHandler[decline, string](bus, decline{}.Key(), HandlerFunc[decline, string](func(context.Context, decline) (string, error) {
		return "", nil
	}))
	if got := bus.Keys(); !reflect.DeepEqual(got, []string{"booking.approve", "booking.decline"}) {
		t.Fatalf("keys = %v", got)
	}
}
