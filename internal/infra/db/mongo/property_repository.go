package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	domainproperty "staybook/internal/domain/property"
	"staybook/internal/domain/shared/money"
)

// PropertyRepository reads the property snapshot the booking engine works
// with. Save exists for fixture loading.
type PropertyRepository struct {
	col *mongo.Collection
}

func NewPropertyRepository(db *mongo.Database) *PropertyRepository {
	return &PropertyRepository{col: db.Collection("properties")}
}

func (r *PropertyRepository) ByID(ctx context.Context, id domainproperty.PropertyID) (*domainproperty.Property, error) {
	var doc propertyDocument
	if err := r.col.FindOne(ctx, bson.M{"_id": string(id)}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domainproperty.ErrPropertyNotFound
		}
		return nil, err
	}
	return doc.toProperty(), nil
}

func (r *PropertyRepository) Save(ctx context.Context, p *domainproperty.Property) error {
	if err := p.Validate(); err != nil {
		return err
	}
	doc := propertyDocument{
		ID:                 string(p.ID),
		HostID:             string(p.Host),
		HostEmail:          p.HostEmail,
		Name:               p.Name,
		NightlyRate:        p.NightlyRate,
		CleaningFee:        p.CleaningFee,
		MinNights:          p.MinNights,
		MaxNights:          p.MaxNights,
		DepositBasisPoints: p.DepositBasisPoints,
		RotationEnabled:    p.RotationEnabled,
		CreatedAt:          p.CreatedAt.UTC(),
		UpdatedAt:          time.Now().UTC(),
	}
	_, err := r.col.UpdateByID(ctx, doc.ID, bson.M{"$set": doc}, options.Update().SetUpsert(true))
	return err
}

type propertyDocument struct {
	ID                 string      `bson:"_id"`
	HostID             string      `bson:"host_id"`
	HostEmail          string      `bson:"host_email"`
	Name               string      `bson:"name"`
	NightlyRate        money.Money `bson:"nightly_rate"`
	CleaningFee        money.Money `bson:"cleaning_fee"`
	MinNights          int         `bson:"min_nights"`
	MaxNights          int         `bson:"max_nights"`
	DepositBasisPoints int         `bson:"deposit_basis_points"`
	RotationEnabled    bool        `bson:"rotation_enabled"`
	CreatedAt          time.Time   `bson:"created_at"`
	UpdatedAt          time.Time   `bson:"updated_at"`
}

func (d propertyDocument) toProperty() *domainproperty.Property {
	return &domainproperty.Property{
		ID:                 domainproperty.PropertyID(d.ID),
		Host:               domainproperty.HostID(d.HostID),
		HostEmail:          d.HostEmail,
		Name:               d.Name,
		NightlyRate:        d.NightlyRate,
		CleaningFee:        d.CleaningFee,
		MinNights:          d.MinNights,
		MaxNights:          d.MaxNights,
		DepositBasisPoints: d.DepositBasisPoints,
		RotationEnabled:    d.RotationEnabled,
		CreatedAt:          d.CreatedAt,
		UpdatedAt:          d.UpdatedAt,
	}
}

var _ domainproperty.Repository = (*PropertyRepository)(nil)
