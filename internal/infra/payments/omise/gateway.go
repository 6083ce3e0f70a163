package omise

import (
	"context"
	"errors"
	"fmt"
	"strings"

	omisego "github.com/omise/omise-go"
	"github.com/omise/omise-go/operations"

	"staybook/internal/app/policies"
	"staybook/internal/domain/shared/money"
)

// Gateway reserves deposits as authorize-only Omise charges, charged to the
// card token from the booking request or, failing that, the configured customer.
type Gateway struct {
	client   *omisego.Client
	customer string
}

func NewGateway(publicKey, secretKey, customer string) (*Gateway, error) {
	client, err := omisego.NewClient(publicKey, secretKey)
	if err != nil {
		return nil, err
	}
	return &Gateway{client: client, customer: customer}, nil
}

func (g *Gateway) OpenHold(ctx context.Context, req policies.HoldRequest) (string, error) {
	charge := &omisego.Charge{}
	op := &operations.CreateCharge{
		Card:        req.CardToken,
		Amount:      req.Amount.Amount,
		Currency:    strings.ToLower(req.Amount.Currency),
		Description: chargeDescription(req),
		DontCapture: true,
	}
	if op.Card == "" {
		op.Customer = g.customer
	}
	if err := g.do(ctx, func() error { return g.client.Do(charge, op) }); err != nil {
		return "", err
	}
	if err := chargeFailure(charge); err != nil {
		return "", err
	}
	return charge.ID, nil
}

// chargeDescription carries the booking references on the charge, the only
// free-form field CreateCharge exposes.
func chargeDescription(req policies.HoldRequest) string {
	var parts []string
	if d := strings.TrimSpace(req.Description); d != "" {
		parts = append(parts, d)
	}
	parts = append(parts, "booking="+req.BookingID)
	if req.GuestEmail != "" {
		parts = append(parts, "guest="+req.GuestEmail)
	}
	return strings.Join(parts, " ")
}

func (g *Gateway) Capture(ctx context.Context, holdRef string) (string, error) {
	charge := &omisego.Charge{}
	if err := g.do(ctx, func() error { return g.client.Do(charge, &operations.CaptureCharge{ChargeID: holdRef}) }); err != nil {
		return "", err
	}
	if err := chargeFailure(charge); err != nil {
		return "", err
	}
	// Omise captures in place; the charge id doubles as the charge reference.
	return charge.ID, nil
}

func (g *Gateway) Release(ctx context.Context, holdRef string) error {
	charge := &omisego.Charge{}
	return g.do(ctx, func() error { return g.client.Do(charge, &operations.ReverseCharge{ChargeID: holdRef}) })
}

func (g *Gateway) Refund(ctx context.Context, chargeRef string, amount money.Money) (string, error) {
	refund := &omisego.Refund{}
	if err := g.do(ctx, func() error {
		return g.client.Do(refund, &operations.CreateRefund{ChargeID: chargeRef, Amount: amount.Amount})
	}); err != nil {
		return "", err
	}
	return refund.ID, nil
}

// do runs the SDK call, which takes no context, and abandons it when ctx ends.
func (g *Gateway) do(ctx context.Context, call func() error) error {
	done := make(chan error, 1)
	go func() {
		done <- call()
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return classify(err)
	}
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *omisego.Error
	if errors.As(err, &apiErr) && apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 {
		return fmt.Errorf("%w: %s: %s", policies.ErrGatewayDeclined, apiErr.Code, apiErr.Message)
	}
	return err
}

func chargeFailure(charge *omisego.Charge) error {
	if string(charge.Status) != "failed" {
		return nil
	}
	code, msg := "failed", ""
	if charge.FailureCode != nil {
		code = *charge.FailureCode
	}
	if charge.FailureMessage != nil {
		msg = *charge.FailureMessage
	}
	return fmt.Errorf("%w: %s: %s", policies.ErrGatewayDeclined, code, msg)
}

var _ policies.PaymentGateway = (*Gateway)(nil)
