package memory

import (
	"context"
	"sync"
	"time"

	domainaccess "staybook/internal/domain/access"
	domainproperty "staybook/internal/domain/property"
)

// CredentialRepository keeps access credentials and one rotation cursor per
// property. The cursor is advanced under the repository mutex.
type CredentialRepository struct {
	mu      sync.Mutex
	items   map[domainaccess.CredentialID]domainaccess.Credential
	cursors map[domainproperty.PropertyID]int
}

func NewCredentialRepository() *CredentialRepository {
	return &CredentialRepository{
		items:   make(map[domainaccess.CredentialID]domainaccess.Credential),
		cursors: make(map[domainproperty.PropertyID]int),
	}
}

func (r *CredentialRepository) Active(ctx context.Context, propertyID domainproperty.PropertyID) ([]domainaccess.Credential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	all := make([]domainaccess.Credential, 0)
	for _, c := range r.items {
		if c.PropertyID == propertyID {
			all = append(all, c)
		}
	}
	return domainaccess.FilterActive(all), nil
}

func (r *CredentialRepository) ByID(ctx context.Context, id domainaccess.CredentialID) (*domainaccess.Credential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.items[id]
	if !ok {
		return nil, domainaccess.ErrCredentialNotFound
	}
	return &c, nil
}

func (r *CredentialRepository) Save(ctx context.Context, c *domainaccess.Credential) error {
	if err := c.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[c.ID] = *c
	return nil
}

func (r *CredentialRepository) AdvanceCursor(ctx context.Context, propertyID domainproperty.PropertyID, activeCount int) (int, error) {
	if activeCount <= 0 {
		return 0, domainaccess.ErrNoCredentialAvailable
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	current := r.cursors[propertyID]
	slot := domainaccess.Slot(current, activeCount)
	r.cursors[propertyID] = domainaccess.NextCursor(current, activeCount)
	return slot, nil
}

func (r *CredentialRepository) MarkUsed(ctx context.Context, id domainaccess.CredentialID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.items[id]
	if !ok {
		return domainaccess.ErrCredentialNotFound
	}
	c.UsageCount++
	c.LastUsedAt = at.UTC()
	c.UpdatedAt = at.UTC()
	r.items[id] = c
	return nil
}

var _ domainaccess.Repository = (*CredentialRepository)(nil)
