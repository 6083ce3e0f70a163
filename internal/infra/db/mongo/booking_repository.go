package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	domainaccess "staybook/internal/domain/access"
	domainbooking "staybook/internal/domain/booking"
	domainpricing "staybook/internal/domain/pricing"
	domainproperty "staybook/internal/domain/property"
	domainrange "staybook/internal/domain/shared/daterange"
)

type BookingRepository struct {
	col *mongo.Collection
}

func NewBookingRepository(db *mongo.Database) *BookingRepository {
	col := db.Collection("agg_booking")
	_, _ = col.Indexes().CreateMany(context.Background(), []mongo.IndexModel{
		{Keys: bson.D{{Key: "confirmation_code", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "property_id", Value: 1}, {Key: "status", Value: 1}, {Key: "range.check_in", Value: 1}}},
		{Keys: bson.D{{Key: "host_id", Value: 1}, {Key: "status", Value: 1}}},
		{Keys: bson.D{{Key: "payment.issue", Value: 1}}},
	})
	return &BookingRepository{col: col}
}

func (r *BookingRepository) ByID(ctx context.Context, id domainbooking.BookingID) (*domainbooking.Booking, error) {
	return r.findOne(ctx, bson.M{"_id": string(id)})
}

func (r *BookingRepository) ByConfirmationCode(ctx context.Context, code string) (*domainbooking.Booking, error) {
	return r.findOne(ctx, bson.M{"confirmation_code": code})
}

func (r *BookingRepository) ActiveOverlapping(ctx context.Context, propertyID domainproperty.PropertyID, dr domainrange.DateRange) ([]*domainbooking.Booking, error) {
	return r.find(ctx, bson.M{
		"property_id":     string(propertyID),
		"status":          bson.M{"$in": statusStrings(domainbooking.ActiveStatuses)},
		"range.check_in":  bson.M{"$lt": dr.CheckOut},
		"range.check_out": bson.M{"$gt": dr.CheckIn},
	})
}

func (r *BookingRepository) List(ctx context.Context, filter domainbooking.Filter) ([]*domainbooking.Booking, error) {
	q := bson.M{}
	if filter.PropertyID != "" {
		q["property_id"] = string(filter.PropertyID)
	}
	if filter.HostID != "" {
		q["host_id"] = string(filter.HostID)
	}
	if len(filter.Statuses) > 0 {
		q["status"] = bson.M{"$in": statusStrings(filter.Statuses)}
	}
	return r.find(ctx, q)
}

func (r *BookingRepository) DueForPreStay(ctx context.Context, until time.Time) ([]*domainbooking.Booking, error) {
	return r.find(ctx, bson.M{
		"status":                bson.M{"$in": []string{string(domainbooking.StatusApproved), string(domainbooking.StatusConfirmed)}},
		"pre_stay_processed_at": nil,
		"range.check_in":        bson.M{"$lt": until.UTC()},
	})
}

func (r *BookingRepository) DueForCompletion(ctx context.Context, now time.Time) ([]*domainbooking.Booking, error) {
	return r.find(ctx, bson.M{
		"status":          string(domainbooking.StatusConfirmed),
		"range.check_out": bson.M{"$lte": domainrange.Day(now)},
	})
}

func (r *BookingRepository) WithPaymentIssues(ctx context.Context) ([]*domainbooking.Booking, error) {
	return r.find(ctx, bson.M{"payment.issue": bson.M{"$nin": bson.A{"", nil}}})
}

func (r *BookingRepository) Insert(ctx context.Context, b *domainbooking.Booking) error {
	if err := b.Validate(); err != nil {
		return err
	}
	doc := newBookingDocument(b)
	doc.Version = 1
	if _, err := r.col.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domainbooking.ErrDuplicateConfirmationCode
		}
		return err
	}
	b.Version = doc.Version
	return nil
}

func (r *BookingRepository) Save(ctx context.Context, b *domainbooking.Booking) error {
	if err := b.Validate(); err != nil {
		return err
	}
	doc := newBookingDocument(b)
	doc.Version = b.Version + 1
	return r.guardedUpdate(ctx, b, bson.M{"$set": doc}, doc.Version)
}

func (r *BookingRepository) UpdatePayment(ctx context.Context, b *domainbooking.Booking) error {
	if err := b.Validate(); err != nil {
		return err
	}
	next := b.Version + 1
	update := bson.M{"$set": bson.M{
		"payment":    newPaymentDocument(b.Payment),
		"updated_at": b.UpdatedAt.UTC(),
		"version":    next,
	}}
	return r.guardedUpdate(ctx, b, update, next)
}

func (r *BookingRepository) AttachCredential(ctx context.Context, b *domainbooking.Booking) error {
	if err := b.Validate(); err != nil {
		return err
	}
	filter := bson.M{"_id": string(b.ID), "credential_id": ""}
	update := bson.M{
		"$set": bson.M{
			"credential_id":   string(b.CredentialID),
			"credential_code": b.CredentialCode,
			"updated_at":      b.UpdatedAt.UTC(),
		},
		"$inc": bson.M{"version": 1},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After).SetProjection(bson.M{"version": 1})
	var out struct {
		Version int64 `bson:"version"`
	}
	err := r.col.FindOneAndUpdate(ctx, filter, update, opts).Decode(&out)
	if errors.Is(err, mongo.ErrNoDocuments) {
		if _, lookupErr := r.ByID(ctx, b.ID); lookupErr != nil {
			return lookupErr
		}
		return domainbooking.ErrCredentialAlreadyAssigned
	}
	if err != nil {
		return err
	}
	b.Version = out.Version
	return nil
}

func (r *BookingRepository) guardedUpdate(ctx context.Context, b *domainbooking.Booking, update bson.M, next int64) error {
	res, err := r.col.UpdateOne(ctx, bson.M{"_id": string(b.ID), "version": b.Version}, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return domainbooking.ErrConcurrentUpdate
	}
	b.Version = next
	return nil
}

func (r *BookingRepository) findOne(ctx context.Context, filter bson.M) (*domainbooking.Booking, error) {
	var doc bookingDocument
	if err := r.col.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domainbooking.ErrBookingNotFound
		}
		return nil, err
	}
	return doc.toAggregate(), nil
}

func (r *BookingRepository) find(ctx context.Context, filter bson.M) ([]*domainbooking.Booking, error) {
	cur, err := r.col.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "range.check_in", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	out := make([]*domainbooking.Booking, 0)
	for cur.Next(ctx) {
		var doc bookingDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, doc.toAggregate())
	}
	return out, cur.Err()
}

func statusStrings(statuses []domainbooking.Status) []string {
	out := make([]string, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, string(s))
	}
	return out
}

type bookingDocument struct {
	ID                 string                       `bson:"_id"`
	ConfirmationCode   string                       `bson:"confirmation_code"`
	PropertyID         string                       `bson:"property_id"`
	HostID             string                       `bson:"host_id"`
	HostEmail          string                       `bson:"host_email"`
	PropertyName       string                       `bson:"property_name"`
	Range              rangeDocument                `bson:"range"`
	Nights             int                          `bson:"nights"`
	Guests             int                          `bson:"guests"`
	Guest              guestDocument                `bson:"guest"`
	GuestMessage       string                       `bson:"guest_message"`
	Price              domainpricing.PriceBreakdown `bson:"price"`
	Status             string                       `bson:"status"`
	Payment            paymentDocument              `bson:"payment"`
	CredentialID       string                       `bson:"credential_id"`
	CredentialCode     string                       `bson:"credential_code"`
	HostMessage        string                       `bson:"host_message"`
	CancelReason       string                       `bson:"cancel_reason"`
	CancelledAt        *time.Time                   `bson:"cancelled_at"`
	PreStayProcessedAt *time.Time                   `bson:"pre_stay_processed_at"`
	CreatedAt          time.Time                    `bson:"created_at"`
	UpdatedAt          time.Time                    `bson:"updated_at"`
	Version            int64                        `bson:"version"`
}

type rangeDocument struct {
	CheckIn  time.Time `bson:"check_in"`
	CheckOut time.Time `bson:"check_out"`
}

type guestDocument struct {
	Name  string `bson:"name"`
	Email string `bson:"email"`
	Phone string `bson:"phone"`
}

type paymentDocument struct {
	Status        string     `bson:"status"`
	HoldRef       string     `bson:"hold_ref"`
	HoldReleased  bool       `bson:"hold_released"`
	ChargeRef     string     `bson:"charge_ref"`
	RefundRef     string     `bson:"refund_ref"`
	DepositPaid   bool       `bson:"deposit_paid"`
	DepositPaidAt *time.Time `bson:"deposit_paid_at"`
	DepositMethod string     `bson:"deposit_method"`
	BalancePaid   bool       `bson:"balance_paid"`
	BalancePaidAt *time.Time `bson:"balance_paid_at"`
	BalanceMethod string     `bson:"balance_method"`
	Issue         string     `bson:"issue"`
	IssueReason   string     `bson:"issue_reason"`
}

func newBookingDocument(b *domainbooking.Booking) bookingDocument {
	return bookingDocument{
		ID:                 string(b.ID),
		ConfirmationCode:   b.ConfirmationCode,
		PropertyID:         string(b.PropertyID),
		HostID:             string(b.HostID),
		HostEmail:          b.HostEmail,
		PropertyName:       b.PropertyName,
		Range:              rangeDocument{CheckIn: b.Range.CheckIn.UTC(), CheckOut: b.Range.CheckOut.UTC()},
		Nights:             b.Nights,
		Guests:             b.Guests,
		Guest:              guestDocument{Name: b.Guest.Name, Email: b.Guest.Email, Phone: b.Guest.Phone},
		GuestMessage:       b.GuestMessage,
		Price:              b.Price,
		Status:             string(b.Status),
		Payment:            newPaymentDocument(b.Payment),
		CredentialID:       string(b.CredentialID),
		CredentialCode:     b.CredentialCode,
		HostMessage:        b.HostMessage,
		CancelReason:       b.CancelReason,
		CancelledAt:        optionalTime(b.CancelledAt),
		PreStayProcessedAt: optionalTime(b.PreStayProcessedAt),
		CreatedAt:          b.CreatedAt.UTC(),
		UpdatedAt:          b.UpdatedAt.UTC(),
		Version:            b.Version,
	}
}

func newPaymentDocument(p domainbooking.Payment) paymentDocument {
	return paymentDocument{
		Status:        string(p.Status),
		HoldRef:       p.HoldRef,
		HoldReleased:  p.HoldReleased,
		ChargeRef:     p.ChargeRef,
		RefundRef:     p.RefundRef,
		DepositPaid:   p.DepositPaid,
		DepositPaidAt: optionalTime(p.DepositPaidAt),
		DepositMethod: string(p.DepositMethod),
		BalancePaid:   p.BalancePaid,
		BalancePaidAt: optionalTime(p.BalancePaidAt),
		BalanceMethod: string(p.BalanceMethod),
		Issue:         string(p.Issue),
		IssueReason:   p.IssueReason,
	}
}

func (d bookingDocument) toAggregate() *domainbooking.Booking {
	return &domainbooking.Booking{
		ID:               domainbooking.BookingID(d.ID),
		ConfirmationCode: d.ConfirmationCode,
		PropertyID:       domainproperty.PropertyID(d.PropertyID),
		HostID:           domainproperty.HostID(d.HostID),
		HostEmail:        d.HostEmail,
		PropertyName:     d.PropertyName,
		Range:            domainrange.DateRange{CheckIn: d.Range.CheckIn.UTC(), CheckOut: d.Range.CheckOut.UTC()},
		Nights:           d.Nights,
		Guests:           d.Guests,
		Guest:            domainbooking.Guest{Name: d.Guest.Name, Email: d.Guest.Email, Phone: d.Guest.Phone},
		GuestMessage:     d.GuestMessage,
		Price:            d.Price,
		Status:           domainbooking.Status(d.Status),
		Payment: domainbooking.Payment{
			Status:        domainbooking.PaymentStatus(d.Payment.Status),
			HoldRef:       d.Payment.HoldRef,
			HoldReleased:  d.Payment.HoldReleased,
			ChargeRef:     d.Payment.ChargeRef,
			RefundRef:     d.Payment.RefundRef,
			DepositPaid:   d.Payment.DepositPaid,
			DepositPaidAt: valueTime(d.Payment.DepositPaidAt),
			DepositMethod: domainbooking.PaymentMethod(d.Payment.DepositMethod),
			BalancePaid:   d.Payment.BalancePaid,
			BalancePaidAt: valueTime(d.Payment.BalancePaidAt),
			BalanceMethod: domainbooking.PaymentMethod(d.Payment.BalanceMethod),
			Issue:         domainbooking.PaymentIssue(d.Payment.Issue),
			IssueReason:   d.Payment.IssueReason,
		},
		CredentialID:       domainaccess.CredentialID(d.CredentialID),
		CredentialCode:     d.CredentialCode,
		HostMessage:        d.HostMessage,
		CancelReason:       d.CancelReason,
		CancelledAt:        valueTime(d.CancelledAt),
		PreStayProcessedAt: valueTime(d.PreStayProcessedAt),
		CreatedAt:          d.CreatedAt.UTC(),
		UpdatedAt:          d.UpdatedAt.UTC(),
		Version:            d.Version,
	}
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}

func valueTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return t.UTC()
}

var _ domainbooking.Repository = (*BookingRepository)(nil)
