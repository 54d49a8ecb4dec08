package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-twitch-listener/core"
)

// DeliveryStore records seen (topic, delivery id) pairs so the router can
// drop redelivered notifications after a restart.
type DeliveryStore struct {
	db   *bun.DB
	repo repository.Repository[*deliveryRecord]
}

func NewDeliveryStore(db *bun.DB) (*DeliveryStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*deliveryRecord](db, deliveryHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid delivery repository wiring: %w", err)
		}
	}
	return &DeliveryStore{db: db, repo: repo}, nil
}

func (s *DeliveryStore) Claim(ctx context.Context, topic string, deliveryID string) (bool, error) {
	if s == nil || s.db == nil || s.repo == nil {
		return false, fmt.Errorf("sqlstore: delivery store is not configured")
	}
	topic = strings.TrimSpace(topic)
	deliveryID = strings.TrimSpace(deliveryID)
	if topic == "" || deliveryID == "" {
		return false, fmt.Errorf("sqlstore: topic and delivery id are required")
	}

	claimed := false
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		count, err := tx.NewSelect().
			Model((*deliveryRecord)(nil)).
			Where("?TableAlias.topic = ?", topic).
			Where("?TableAlias.delivery_id = ?", deliveryID).
			Count(ctx)
		if err != nil {
			return err
		}
		if count > 0 {
			return nil
		}
		record := &deliveryRecord{
			ID:         uuid.NewString(),
			Topic:      topic,
			DeliveryID: deliveryID,
			CreatedAt:  time.Now().UTC(),
		}
		if _, err := tx.NewInsert().Model(record).Exec(ctx); err != nil {
			return err
		}
		claimed = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return claimed, nil
}

var _ core.DeliveryLedger = (*DeliveryStore)(nil)
