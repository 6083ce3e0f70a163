package policies

import (
	"context"
	"errors"

	"staybook/internal/domain/shared/money"
)

// ErrGatewayDeclined marks a business refusal from the gateway (card declined,
// authorization expired). Any other gateway error is treated as transport failure.
var ErrGatewayDeclined = errors.New("gateway: operation declined")

type HoldRequest struct {
	BookingID        string
	ConfirmationCode string
	Amount           money.Money
	Description      string
	GuestEmail       string
	CardToken        string
}

// PaymentGateway reserves, captures, releases and refunds deposits.
type PaymentGateway interface {
	OpenHold(ctx context.Context, req HoldRequest) (holdRef string, err error)
	Capture(ctx context.Context, holdRef string) (chargeRef string, err error)
	Release(ctx context.Context, holdRef string) error
	Refund(ctx context.Context, chargeRef string, amount money.Money) (refundRef string, err error)
}
