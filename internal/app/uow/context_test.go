package uow

import (
	"context"
	"testing"

	domainaccess "staybook/internal/domain/access"
	domainbooking "staybook/internal/domain/booking"
	domainproperty "staybook/internal/domain/property"
)

type txKey struct{}

type stubUnit struct{}

func (stubUnit) Properties() domainproperty.Repository { return nil }
func (stubUnit) Credentials() domainaccess.Repository  { return nil }
func (stubUnit) Bookings() domainbooking.Repository    { return nil }
func (stubUnit) Commit(context.Context) error          { return nil }
func (stubUnit) Rollback(context.Context) error        { return nil }

type sessionUnit struct{ stubUnit }

func (sessionUnit) InjectContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, txKey{}, "tx-1")
}

func TestBindInjectsTransaction(t *testing.T) {
	ctx := Bind(context.Background(), sessionUnit{})
	if ctx.Value(txKey{}) != "tx-1" {
		t.Fatal("transaction not injected")
	}
	if _, ok := FromContext(ctx); !ok {
		t.Fatal("unit not bound")
	}

	plain := Bind(context.Background(), stubUnit{})
	if plain.Value(txKey{}) != nil {
		t.Fatal("plain unit must not inject")
	}
	if _, ok := FromContext(context.Background()); ok {
		t.Fatal("empty context reported a unit")
	}
}
