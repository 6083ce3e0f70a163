package access

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"staybook/internal/domain/property"
)

var (
	// ErrNoCredentialAvailable is informational: rotation is optional for a property.
	ErrNoCredentialAvailable = errors.New("access: no active credential available")
	ErrCredentialNotFound    = errors.New("access: credential not found")
	ErrCodeRequired          = errors.New("access: credential code is required")
)

type CredentialID string

// Credential is a physical access code (door keypad PIN, lockbox code) owned by a property.
// Credentials are deactivated, never deleted, because past bookings keep referencing them.
type Credential struct {
	ID         CredentialID
	PropertyID property.PropertyID
	Index      int
	Code       string
	Label      string
	Active     bool
	LastUsedAt time.Time
	UsageCount int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Repository stores credentials and the per-property rotation cursor.
type Repository interface {
	Active(ctx context.Context, propertyID property.PropertyID) ([]Credential, error)
	ByID(ctx context.Context, id CredentialID) (*Credential, error)
	Save(ctx context.Context, c *Credential) error
	// AdvanceCursor atomically reads the cursor c, stores (c+1) mod activeCount
	// and returns c mod activeCount.
	AdvanceCursor(ctx context.Context, propertyID property.PropertyID, activeCount int) (int, error)
	MarkUsed(ctx context.Context, id CredentialID, at time.Time) error
}

func (c *Credential) Validate() error {
	if strings.TrimSpace(c.Code) == "" {
		return ErrCodeRequired
	}
	return nil
}

func (c *Credential) Deactivate(now time.Time) {
	if !c.Active {
		return
	}
	c.Active = false
	c.UpdatedAt = now.UTC()
}

// SortByIndex orders credentials by their rotation index, ties broken by id.
func SortByIndex(creds []Credential) {
	sort.SliceStable(creds, func(i, j int) bool {
		if creds[i].Index == creds[j].Index {
			return creds[i].ID < creds[j].ID
		}
		return creds[i].Index < creds[j].Index
	})
}

// FilterActive keeps active credentials ordered by index.
func FilterActive(creds []Credential) []Credential {
	out := make([]Credential, 0, len(creds))
	for _, c := range creds {
		if c.Active {
			out = append(out, c)
		}
	}
	SortByIndex(out)
	return out
}

// Slot maps a raw cursor value onto the active list.
func Slot(cursor, activeCount int) int {
	if activeCount <= 0 {
		return 0
	}
	s := cursor % activeCount
	if s < 0 {
		s += activeCount
	}
	return s
}

// NextCursor is the cursor value stored after selecting Slot(cursor, activeCount).
func NextCursor(cursor, activeCount int) int {
	return (Slot(cursor, activeCount) + 1) % activeCount
}

// Select returns the credential at the given slot of the active list.
func Select(active []Credential, slot int) (Credential, error) {
	if len(active) == 0 {
		return Credential{}, ErrNoCredentialAvailable
	}
	return active[Slot(slot, len(active))], nil
}
