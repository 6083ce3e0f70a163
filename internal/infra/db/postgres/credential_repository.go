package postgres

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	domainaccess "staybook/internal/domain/access"
	domainproperty "staybook/internal/domain/property"
)

type CredentialRepository struct {
	db *gorm.DB
}

func NewCredentialRepository(db *gorm.DB) *CredentialRepository {
	return &CredentialRepository{db: db}
}

func (r *CredentialRepository) Active(ctx context.Context, propertyID domainproperty.PropertyID) ([]domainaccess.Credential, error) {
	var rows []credentialRow
	err := conn(ctx, r.db).
		Where("property_id = ? AND active = ?", string(propertyID), true).
		Order("idx ASC").Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]domainaccess.Credential, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toCredential())
	}
	return domainaccess.FilterActive(out), nil
}

func (r *CredentialRepository) ByID(ctx context.Context, id domainaccess.CredentialID) (*domainaccess.Credential, error) {
	var row credentialRow
	if err := conn(ctx, r.db).Where("id = ?", string(id)).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainaccess.ErrCredentialNotFound
		}
		return nil, err
	}
	c := row.toCredential()
	return &c, nil
}

func (r *CredentialRepository) Save(ctx context.Context, c *domainaccess.Credential) error {
	if err := c.Validate(); err != nil {
		return err
	}
	row := credentialRow{
		ID:         string(c.ID),
		PropertyID: string(c.PropertyID),
		Index:      c.Index,
		Code:       c.Code,
		Label:      c.Label,
		Active:     c.Active,
		LastUsedAt: optionalTime(c.LastUsedAt),
		UsageCount: c.UsageCount,
		CreatedAt:  c.CreatedAt.UTC(),
		UpdatedAt:  c.UpdatedAt.UTC(),
	}
	return conn(ctx, r.db).Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error
}

// AdvanceCursor moves the cursor in one statement; the row lock taken by the
// upsert serializes concurrent callers.
func (r *CredentialRepository) AdvanceCursor(ctx context.Context, propertyID domainproperty.PropertyID, activeCount int) (int, error) {
	if activeCount <= 0 {
		return 0, domainaccess.ErrNoCredentialAvailable
	}
	var out cursorValue
	err := conn(ctx, r.db).Raw(
		`INSERT INTO rotation_cursors AS c (property_id, value, updated_at) VALUES (?, 1 % ?, ?)
		 ON CONFLICT (property_id) DO UPDATE SET value = ((c.value % ?) + 1) % ?, updated_at = EXCLUDED.updated_at
		 RETURNING value`,
		string(propertyID), activeCount, time.Now().UTC(), activeCount, activeCount,
	).Scan(&out).Error
	if err != nil {
		return 0, err
	}
	return domainaccess.Slot(out.Value-1, activeCount), nil
}

func (r *CredentialRepository) MarkUsed(ctx context.Context, id domainaccess.CredentialID, at time.Time) error {
	res := conn(ctx, r.db).Model(&credentialRow{}).
		Where("id = ?", string(id)).
		Updates(map[string]any{
			"last_used_at": at.UTC(),
			"updated_at":   at.UTC(),
			"usage_count":  gorm.Expr("usage_count + 1"),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domainaccess.ErrCredentialNotFound
	}
	return nil
}

type cursorValue struct {
	Value int
}

func (row credentialRow) toCredential() domainaccess.Credential {
	return domainaccess.Credential{
		ID:         domainaccess.CredentialID(row.ID),
		PropertyID: domainproperty.PropertyID(row.PropertyID),
		Index:      row.Index,
		Code:       row.Code,
		Label:      row.Label,
		Active:     row.Active,
		LastUsedAt: valueTime(row.LastUsedAt),
		UsageCount: row.UsageCount,
		CreatedAt:  row.CreatedAt.UTC(),
		UpdatedAt:  row.UpdatedAt.UTC(),
	}
}

var _ domainaccess.Repository = (*CredentialRepository)(nil)
