package postgres

import (
	"context"
	"encoding/json"
	"time"

	"gorm.io/gorm"

	appoutbox "staybook/internal/app/outbox"
	infraoutbox "staybook/internal/infra/outbox"
)

// OutboxStore writes records in the unit's transaction. Claims use
// FOR UPDATE SKIP LOCKED so several relay workers can share the table.
type OutboxStore struct {
	db *gorm.DB
}

func NewOutboxStore(db *gorm.DB) *OutboxStore {
	return &OutboxStore{db: db}
}

func (s *OutboxStore) Add(ctx context.Context, record appoutbox.EventRecord) error {
	headers, err := json.Marshal(record.Headers)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	row := outboxRow{
		ID:            record.ID,
		Name:          record.Name,
		Payload:       record.Payload,
		OccurredAt:    record.OccurredAt.UTC(),
		Aggregate:     record.Aggregate,
		Headers:       headers,
		State:         infraoutbox.StateNew,
		NextAttemptAt: now,
		CreatedAt:     now,
	}
	return conn(ctx, s.db).Create(&row).Error
}

func (s *OutboxStore) Flush(context.Context) error {
	return nil
}

func (s *OutboxStore) Claim(ctx context.Context, workerID string, limit int) ([]infraoutbox.Envelope, error) {
	if limit <= 0 {
		limit = 1
	}
	now := time.Now().UTC()
	var rows []outboxRow
	err := conn(ctx, s.db).Raw(
		`UPDATE app_outbox SET state = ?, claimed_by = ?, claimed_at = ?
		 WHERE id IN (
			SELECT id FROM app_outbox
			WHERE (state IN (?, ?) AND next_attempt_at <= ?) OR (state = ? AND claimed_at <= ?)
			ORDER BY created_at
			LIMIT ?
			FOR UPDATE SKIP LOCKED
		 )
		 RETURNING *`,
		infraoutbox.StateClaimed, workerID, now,
		infraoutbox.StateNew, infraoutbox.StateFailed, now,
		infraoutbox.StateClaimed, now.Add(-infraoutbox.ClaimLease),
		limit,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]infraoutbox.Envelope, 0, len(rows))
	for _, row := range rows {
		headers := map[string]string{}
		if len(row.Headers) > 0 {
			if err := json.Unmarshal(row.Headers, &headers); err != nil {
				return nil, err
			}
		}
		out = append(out, infraoutbox.Envelope{
			Record: appoutbox.EventRecord{
				ID:         row.ID,
				Name:       row.Name,
				Payload:    row.Payload,
				OccurredAt: row.OccurredAt,
				Aggregate:  row.Aggregate,
				Headers:    headers,
			},
			Attempts: row.Attempts,
		})
	}
	return out, nil
}

func (s *OutboxStore) MarkSent(ctx context.Context, id string) error {
	return conn(ctx, s.db).Model(&outboxRow{}).Where("id = ?", id).
		Updates(map[string]any{"state": infraoutbox.StateSent, "sent_at": time.Now().UTC()}).Error
}

func (s *OutboxStore) MarkFailed(ctx context.Context, id string, next time.Time, errMsg string) error {
	return conn(ctx, s.db).Model(&outboxRow{}).Where("id = ?", id).
		Updates(map[string]any{
			"state":           infraoutbox.StateFailed,
			"next_attempt_at": next.UTC(),
			"last_error":      errMsg,
			"attempts":        gorm.Expr("attempts + 1"),
		}).Error
}

var (
	_ appoutbox.Outbox  = (*OutboxStore)(nil)
	_ infraoutbox.Store = (*OutboxStore)(nil)
)
