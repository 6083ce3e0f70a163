package mongo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"staybook/internal/app/policies"
)

const lockRetryDelay = 25 * time.Millisecond

// Locker keeps one document per held key. The unique _id makes acquisition
// exclusive; expired documents are taken over, and the TTL index sweeps the
// ones nobody contends for.
type Locker struct {
	col *mongo.Collection
	ttl time.Duration
}

func NewLocker(db *mongo.Database, ttl time.Duration) *Locker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	col := db.Collection("app_locks")
	_, _ = col.Indexes().CreateOne(context.Background(), mongo.IndexModel{
		Keys:    bson.D{{Key: "expires_at", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(0),
	})
	return &Locker{col: col, ttl: ttl}
}

func (l *Locker) Lock(ctx context.Context, key string) (policies.UnlockFunc, error) {
	token := uuid.NewString()
	for {
		ok, err := l.tryLock(ctx, key, token)
		if err != nil {
			return nil, err
		}
		if ok {
			return l.unlockFunc(key, token), nil
		}
		select {
		case <-ctx.Done():
			return nil, errors.Join(policies.ErrLockNotAcquired, ctx.Err())
		case <-time.After(lockRetryDelay):
		}
	}
}

func (l *Locker) tryLock(ctx context.Context, key, token string) (bool, error) {
	now := time.Now().UTC()
	doc := lockDocument{ID: key, Token: token, ExpiresAt: now.Add(l.ttl)}
	_, err := l.col.InsertOne(ctx, doc)
	if err == nil {
		return true, nil
	}
	if !mongo.IsDuplicateKeyError(err) {
		return false, err
	}
	res, err := l.col.UpdateOne(ctx,
		bson.M{"_id": key, "expires_at": bson.M{"$lte": now}},
		bson.M{"$set": bson.M{"token": token, "expires_at": doc.ExpiresAt}})
	if err != nil {
		return false, err
	}
	return res.ModifiedCount == 1, nil
}

func (l *Locker) unlockFunc(key, token string) policies.UnlockFunc {
	released := false
	return func(ctx context.Context) error {
		if released {
			return nil
		}
		released = true
		_, err := l.col.DeleteOne(ctx, bson.M{"_id": key, "token": token})
		return err
	}
}

type lockDocument struct {
	ID        string    `bson:"_id"`
	Token     string    `bson:"token"`
	ExpiresAt time.Time `bson:"expires_at"`
}

var _ policies.Locker = (*Locker)(nil)
