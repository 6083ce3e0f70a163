package postgres

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	domainproperty "staybook/internal/domain/property"
	"staybook/internal/domain/shared/money"
)

type PropertyRepository struct {
	db *gorm.DB
}

func NewPropertyRepository(db *gorm.DB) *PropertyRepository {
	return &PropertyRepository{db: db}
}

func (r *PropertyRepository) ByID(ctx context.Context, id domainproperty.PropertyID) (*domainproperty.Property, error) {
	var row propertyRow
	if err := conn(ctx, r.db).Where("id = ?", string(id)).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainproperty.ErrPropertyNotFound
		}
		return nil, err
	}
	return &domainproperty.Property{
		ID:                 domainproperty.PropertyID(row.ID),
		Host:               domainproperty.HostID(row.HostID),
		HostEmail:          row.HostEmail,
		Name:               row.Name,
		NightlyRate:        money.Money{Amount: row.NightlyAmount, Currency: row.Currency},
		CleaningFee:        money.Money{Amount: row.CleaningAmount, Currency: row.Currency},
		MinNights:          row.MinNights,
		MaxNights:          row.MaxNights,
		DepositBasisPoints: row.DepositBasisPoints,
		RotationEnabled:    row.RotationEnabled,
		CreatedAt:          row.CreatedAt.UTC(),
		UpdatedAt:          row.UpdatedAt.UTC(),
	}, nil
}

// Save upserts the snapshot; used when loading fixtures.
func (r *PropertyRepository) Save(ctx context.Context, p *domainproperty.Property) error {
	if err := p.Validate(); err != nil {
		return err
	}
	row := propertyRow{
		ID:                 string(p.ID),
		HostID:             string(p.Host),
		HostEmail:          p.HostEmail,
		Name:               p.Name,
		Currency:           p.Currency(),
		NightlyAmount:      p.NightlyRate.Amount,
		CleaningAmount:     p.CleaningFee.Amount,
		MinNights:          p.MinNights,
		MaxNights:          p.MaxNights,
		DepositBasisPoints: p.DepositBasisPoints,
		RotationEnabled:    p.RotationEnabled,
		CreatedAt:          p.CreatedAt.UTC(),
		UpdatedAt:          time.Now().UTC(),
	}
	return conn(ctx, r.db).Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error
}

var _ domainproperty.Repository = (*PropertyRepository)(nil)
