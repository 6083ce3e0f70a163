package redis

import (
	"context"
	"time"

	goredis "github.com/go-redis/redis/v8"
)

// InboxStore dedupes broker deliveries per consumer with SETNX.
type InboxStore struct {
	client    goredis.UniversalClient
	consumer  string
	retention time.Duration
}

func NewInboxStore(client goredis.UniversalClient, consumer string, retention time.Duration) *InboxStore {
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}
	return &InboxStore{client: client, consumer: consumer, retention: retention}
}

func (s *InboxStore) Seen(ctx context.Context, eventID string) (bool, error) {
	fresh, err := s.client.SetNX(ctx, "staybook:inbox:"+s.consumer+":"+eventID, time.Now().UTC().Unix(), s.retention).Result()
	if err != nil {
		return false, err
	}
	return !fresh, nil
}
