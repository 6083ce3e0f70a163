package fake

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"staybook/internal/app/policies"
	"staybook/internal/domain/shared/money"
)

type Op string

const (
	OpOpenHold Op = "open_hold"
	OpCapture  Op = "capture"
	OpRelease  Op = "release"
	OpRefund   Op = "refund"
)

var ErrUnknownHold = errors.New("fake gateway: unknown hold")

// Gateway is an in-process gateway for development and tests. Failures are
// scripted per operation with FailNext.
type Gateway struct {
	mu       sync.Mutex
	seq      int
	holds    map[string]money.Money
	released map[string]bool
	captured map[string]bool
	refunds  map[string]money.Money
	failures map[Op][]error
	calls    map[Op]int
}

func NewGateway() *Gateway {
	return &Gateway{
		holds:    make(map[string]money.Money),
		released: make(map[string]bool),
		captured: make(map[string]bool),
		refunds:  make(map[string]money.Money),
		failures: make(map[Op][]error),
		calls:    make(map[Op]int),
	}
}

// FailNext makes the next call of op return err.
func (g *Gateway) FailNext(op Op, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failures[op] = append(g.failures[op], err)
}

func (g *Gateway) Calls(op Op) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[op]
}

func (g *Gateway) Released(holdRef string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.released[holdRef]
}

func (g *Gateway) Captured(holdRef string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.captured[holdRef]
}

func (g *Gateway) OpenHold(ctx context.Context, req policies.HoldRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.begin(ctx, OpOpenHold); err != nil {
		return "", err
	}
	g.seq++
	ref := fmt.Sprintf("hold_%04d", g.seq)
	g.holds[ref] = req.Amount
	return ref, nil
}

func (g *Gateway) Capture(ctx context.Context, holdRef string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.begin(ctx, OpCapture); err != nil {
		return "", err
	}
	if _, ok := g.holds[holdRef]; !ok || g.released[holdRef] {
		return "", fmt.Errorf("%w: %w", policies.ErrGatewayDeclined, ErrUnknownHold)
	}
	g.captured[holdRef] = true
	return "chrg_" + holdRef, nil
}

func (g *Gateway) Release(ctx context.Context, holdRef string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.begin(ctx, OpRelease); err != nil {
		return err
	}
	if _, ok := g.holds[holdRef]; !ok {
		return fmt.Errorf("%w: %w", policies.ErrGatewayDeclined, ErrUnknownHold)
	}
	g.released[holdRef] = true
	return nil
}

func (g *Gateway) Refund(ctx context.Context, chargeRef string, amount money.Money) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.begin(ctx, OpRefund); err != nil {
		return "", err
	}
	ref := "rfnd_" + chargeRef
	g.refunds[ref] = amount
	return ref, nil
}

func (g *Gateway) begin(ctx context.Context, op Op) error {
	g.calls[op]++
	if err := ctx.Err(); err != nil {
		return err
	}
	if queue := g.failures[op]; len(queue) > 0 {
		err := queue[0]
		g.failures[op] = queue[1:]
		return err
	}
	return nil
}

var _ policies.PaymentGateway = (*Gateway)(nil)
