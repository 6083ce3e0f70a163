package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	domainaccess "staybook/internal/domain/access"
	domainproperty "staybook/internal/domain/property"
)

const maxCursorTry = 8

var ErrCursorContention = errors.New("mongo: rotation cursor contended")

// CredentialRepository stores access credentials and the per-property rotation
// cursor. The cursor is advanced with a compare-and-swap on its version.
type CredentialRepository struct {
	col     *mongo.Collection
	cursors *mongo.Collection
}

func NewCredentialRepository(db *mongo.Database) *CredentialRepository {
	col := db.Collection("access_credentials")
	_, _ = col.Indexes().CreateOne(context.Background(), mongo.IndexModel{
		Keys: bson.D{{Key: "property_id", Value: 1}, {Key: "active", Value: 1}, {Key: "index", Value: 1}},
	})
	return &CredentialRepository{col: col, cursors: db.Collection("rotation_cursors")}
}

func (r *CredentialRepository) Active(ctx context.Context, propertyID domainproperty.PropertyID) ([]domainaccess.Credential, error) {
	cur, err := r.col.Find(ctx, bson.M{"property_id": string(propertyID), "active": true},
		options.Find().SetSort(bson.D{{Key: "index", Value: 1}, {Key: "_id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	out := make([]domainaccess.Credential, 0)
	for cur.Next(ctx) {
		var doc credentialDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, doc.toCredential())
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	return domainaccess.FilterActive(out), nil
}

func (r *CredentialRepository) ByID(ctx context.Context, id domainaccess.CredentialID) (*domainaccess.Credential, error) {
	var doc credentialDocument
	if err := r.col.FindOne(ctx, bson.M{"_id": string(id)}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domainaccess.ErrCredentialNotFound
		}
		return nil, err
	}
	c := doc.toCredential()
	return &c, nil
}

func (r *CredentialRepository) Save(ctx context.Context, c *domainaccess.Credential) error {
	if err := c.Validate(); err != nil {
		return err
	}
	doc := credentialDocument{
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
	_, err := r.col.UpdateByID(ctx, doc.ID, bson.M{"$set": doc}, options.Update().SetUpsert(true))
	return err
}

// AdvanceCursor reads the cursor and swaps in the next value when nobody moved
// it in between; a lost race reads again.
func (r *CredentialRepository) AdvanceCursor(ctx context.Context, propertyID domainproperty.PropertyID, activeCount int) (int, error) {
	if activeCount <= 0 {
		return 0, domainaccess.ErrNoCredentialAvailable
	}
	for attempt := 0; attempt < maxCursorTry; attempt++ {
		var doc cursorDocument
		err := r.cursors.FindOne(ctx, bson.M{"_id": string(propertyID)}).Decode(&doc)
		switch {
		case errors.Is(err, mongo.ErrNoDocuments):
			_, err = r.cursors.InsertOne(ctx, cursorDocument{
				ID:        string(propertyID),
				Value:     domainaccess.NextCursor(0, activeCount),
				Version:   1,
				UpdatedAt: time.Now().UTC(),
			})
			if mongo.IsDuplicateKeyError(err) {
				continue
			}
			if err != nil {
				return 0, err
			}
			return 0, nil
		case err != nil:
			return 0, err
		}
		res, err := r.cursors.UpdateOne(ctx,
			bson.M{"_id": string(propertyID), "version": doc.Version},
			bson.M{"$set": bson.M{
				"value":      domainaccess.NextCursor(doc.Value, activeCount),
				"version":    doc.Version + 1,
				"updated_at": time.Now().UTC(),
			}})
		if err != nil {
			return 0, err
		}
		if res.MatchedCount == 1 {
			return domainaccess.Slot(doc.Value, activeCount), nil
		}
	}
	return 0, ErrCursorContention
}

func (r *CredentialRepository) MarkUsed(ctx context.Context, id domainaccess.CredentialID, at time.Time) error {
	res, err := r.col.UpdateByID(ctx, string(id), bson.M{
		"$set": bson.M{"last_used_at": at.UTC(), "updated_at": at.UTC()},
		"$inc": bson.M{"usage_count": 1},
	})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return domainaccess.ErrCredentialNotFound
	}
	return nil
}

type credentialDocument struct {
	ID         string     `bson:"_id"`
	PropertyID string     `bson:"property_id"`
	Index      int        `bson:"index"`
	Code       string     `bson:"code"`
	Label      string     `bson:"label"`
	Active     bool       `bson:"active"`
	LastUsedAt *time.Time `bson:"last_used_at"`
	UsageCount int        `bson:"usage_count"`
	CreatedAt  time.Time  `bson:"created_at"`
	UpdatedAt  time.Time  `bson:"updated_at"`
}

func (d credentialDocument) toCredential() domainaccess.Credential {
	return domainaccess.Credential{
		ID:         domainaccess.CredentialID(d.ID),
		PropertyID: domainproperty.PropertyID(d.PropertyID),
		Index:      d.Index,
		Code:       d.Code,
		Label:      d.Label,
		Active:     d.Active,
		LastUsedAt: valueTime(d.LastUsedAt),
		UsageCount: d.UsageCount,
		CreatedAt:  d.CreatedAt,
		UpdatedAt:  d.UpdatedAt,
	}
}

type cursorDocument struct {
	ID        string    `bson:"_id"`
	Value     int       `bson:"value"`
	Version   int64     `bson:"version"`
	UpdatedAt time.Time `bson:"updated_at"`
}

var _ domainaccess.Repository = (*CredentialRepository)(nil)
