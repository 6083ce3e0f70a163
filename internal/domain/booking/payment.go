package booking

import "time"

// PaymentIssue flags a booking for manual follow-up. The *_pending values are
// written together with the status change that triggers the side effect and
// cleared or converted once the side effect returns.
type PaymentIssue string

const (
	IssueNone           PaymentIssue = ""
	IssueCapturePending PaymentIssue = "capture_pending"
	IssueCaptureFailed  PaymentIssue = "capture_failed"
	IssueReleasePending PaymentIssue = "release_pending"
	IssueReleaseFailed  PaymentIssue = "release_failed"
	IssueRefundPending  PaymentIssue = "refund_pending"
	IssueRefundFailed   PaymentIssue = "refund_failed"
)

type PaymentMethod string

const (
	MethodGateway      PaymentMethod = "gateway"
	MethodCash         PaymentMethod = "cash"
	MethodBankTransfer PaymentMethod = "bank_transfer"
	MethodCard         PaymentMethod = "card"
	MethodOther        PaymentMethod = "other"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case MethodGateway, MethodCash, MethodBankTransfer, MethodCard, MethodOther:
		return true
	}
	return false
}

type Payment struct {
	Status        PaymentStatus
	HoldRef       string
	HoldReleased  bool
	ChargeRef     string
	RefundRef     string
	DepositPaid   bool
	DepositPaidAt time.Time
	DepositMethod PaymentMethod
	BalancePaid   bool
	BalancePaidAt time.Time
	BalanceMethod PaymentMethod
	Issue         PaymentIssue
	IssueReason   string
}

// HoldOpen reports whether an authorization is still reserved at the gateway:
// opened, never captured and never released.
func (p Payment) HoldOpen() bool {
	return p.HoldRef != "" && !p.HoldReleased && p.ChargeRef == ""
}

func (p Payment) HasIssue() bool {
	return p.Issue != IssueNone
}

func (p *Payment) clearIssue() {
	p.Issue = IssueNone
	p.IssueReason = ""
}

func (p *Payment) flag(issue PaymentIssue, reason string) {
	p.Issue = issue
	p.IssueReason = reason
}
