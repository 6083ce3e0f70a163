package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	domainavailability "staybook/internal/domain/availability"
	domainbooking "staybook/internal/domain/booking"
	domainproperty "staybook/internal/domain/property"
	"staybook/internal/domain/shared/daterange"
)

// PropertyRepository is an in-memory property store loaded from fixtures.
type PropertyRepository struct {
	mu    sync.RWMutex
	items map[domainproperty.PropertyID]domainproperty.Property
}

func NewPropertyRepository() *PropertyRepository {
	return &PropertyRepository{items: make(map[domainproperty.PropertyID]domainproperty.Property)}
}

// ByID returns a copy of the property or ErrPropertyNotFound.
func (r *PropertyRepository) ByID(ctx context.Context, id domainproperty.PropertyID) (*domainproperty.Property, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.items[id]
	if !ok {
		return nil, domainproperty.ErrPropertyNotFound
	}
	return &p, nil
}

func (r *PropertyRepository) Save(ctx context.Context, p *domainproperty.Property) error {
	if err := p.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[p.ID] = *p
	return nil
}

// BookingRepository stores bookings in memory. Every read returns a clone so
// callers never share state with the store.
type BookingRepository struct {
	mu     sync.RWMutex
	items  map[domainbooking.BookingID]*domainbooking.Booking
	byCode map[string]domainbooking.BookingID
}

func NewBookingRepository() *BookingRepository {
	return &BookingRepository{
		items:  make(map[domainbooking.BookingID]*domainbooking.Booking),
		byCode: make(map[string]domainbooking.BookingID),
	}
}

func (r *BookingRepository) ByID(ctx context.Context, id domainbooking.BookingID) (*domainbooking.Booking, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.items[id]
	if !ok {
		return nil, domainbooking.ErrBookingNotFound
	}
	return b.Clone(), nil
}

func (r *BookingRepository) ByConfirmationCode(ctx context.Context, code string) (*domainbooking.Booking, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byCode[domainbooking.NormalizeConfirmationCode(code)]
	if !ok {
		return nil, domainbooking.ErrBookingNotFound
	}
	return r.items[id].Clone(), nil
}

func (r *BookingRepository) ActiveOverlapping(ctx context.Context, propertyID domainproperty.PropertyID, dr daterange.DateRange) ([]*domainbooking.Booking, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.collect(func(b *domainbooking.Booking) bool {
		return b.PropertyID == propertyID && b.Status.Active() && b.Range.Overlaps(dr)
	}), nil
}

func (r *BookingRepository) List(ctx context.Context, filter domainbooking.Filter) ([]*domainbooking.Booking, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.collect(func(b *domainbooking.Booking) bool {
		if filter.PropertyID != "" && b.PropertyID != filter.PropertyID {
			return false
		}
		if filter.HostID != "" && b.HostID != filter.HostID {
			return false
		}
		return statusIncluded(b.Status, filter.Statuses)
	}), nil
}

func (r *BookingRepository) DueForPreStay(ctx context.Context, until time.Time) ([]*domainbooking.Booking, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.collect(func(b *domainbooking.Booking) bool {
		if b.Status != domainbooking.StatusApproved && b.Status != domainbooking.StatusConfirmed {
			return false
		}
		return b.PreStayProcessedAt.IsZero() && b.Range.CheckIn.Before(until)
	}), nil
}

func (r *BookingRepository) DueForCompletion(ctx context.Context, now time.Time) ([]*domainbooking.Booking, error) {
	today := daterange.Day(now)
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.collect(func(b *domainbooking.Booking) bool {
		return b.Status == domainbooking.StatusConfirmed && !b.Range.CheckOut.After(today)
	}), nil
}

func (r *BookingRepository) WithPaymentIssues(ctx context.Context) ([]*domainbooking.Booking, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.collect(func(b *domainbooking.Booking) bool {
		return b.Payment.HasIssue()
	}), nil
}

// Insert stores a new booking. Like the relational store it refuses an active
// booking that overlaps another active booking of the same property.
func (r *BookingRepository) Insert(ctx context.Context, b *domainbooking.Booking) error {
	if err := b.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.items[b.ID]; exists {
		return domainbooking.ErrConcurrentUpdate
	}
	if _, taken := r.byCode[b.ConfirmationCode]; taken {
		return domainbooking.ErrDuplicateConfirmationCode
	}
	if b.Status.Active() {
		for _, other := range r.items {
			if other.PropertyID == b.PropertyID && other.Status.Active() && other.Range.Overlaps(b.Range) {
				return &domainavailability.ConflictError{Range: other.Range}
			}
		}
	}
	b.Version = 1
	r.items[b.ID] = b.Clone()
	r.byCode[b.ConfirmationCode] = b.ID
	return nil
}

func (r *BookingRepository) Save(ctx context.Context, b *domainbooking.Booking) error {
	if err := b.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.items[b.ID]
	if !ok {
		return domainbooking.ErrBookingNotFound
	}
	if current.Version != b.Version {
		return domainbooking.ErrConcurrentUpdate
	}
	b.Version++
	r.items[b.ID] = b.Clone()
	return nil
}

func (r *BookingRepository) UpdatePayment(ctx context.Context, b *domainbooking.Booking) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.items[b.ID]
	if !ok {
		return domainbooking.ErrBookingNotFound
	}
	if current.Version != b.Version {
		return domainbooking.ErrConcurrentUpdate
	}
	next := current.Clone()
	next.Payment = b.Payment
	next.UpdatedAt = b.UpdatedAt
	if err := next.Validate(); err != nil {
		return err
	}
	next.Version++
	b.Version = next.Version
	r.items[b.ID] = next
	return nil
}

func (r *BookingRepository) AttachCredential(ctx context.Context, b *domainbooking.Booking) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.items[b.ID]
	if !ok {
		return domainbooking.ErrBookingNotFound
	}
	if current.HasCredential() {
		return domainbooking.ErrCredentialAlreadyAssigned
	}
	next := current.Clone()
	next.CredentialID = b.CredentialID
	next.CredentialCode = b.CredentialCode
	next.UpdatedAt = b.UpdatedAt
	if err := next.Validate(); err != nil {
		return err
	}
	next.Version++
	b.Version = next.Version
	r.items[b.ID] = next
	return nil
}

func (r *BookingRepository) collect(match func(*domainbooking.Booking) bool) []*domainbooking.Booking {
	out := make([]*domainbooking.Booking, 0)
	for _, b := range r.items {
		if match(b) {
			out = append(out, b.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Range.CheckIn.Equal(out[j].Range.CheckIn) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].Range.CheckIn.Before(out[j].Range.CheckIn)
	})
	return out
}

func statusIncluded(status domainbooking.Status, allowed []domainbooking.Status) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, candidate := range allowed {
		if status == candidate {
			return true
		}
	}
	return false
}

var (
	_ domainproperty.Repository = (*PropertyRepository)(nil)
	_ domainbooking.Repository  = (*BookingRepository)(nil)
)
