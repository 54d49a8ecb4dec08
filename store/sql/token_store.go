// Package sqlstore provides bun-backed durable stores: a TokenStore keeping
// the cached token record in a database row, and a webhook delivery ledger
// that dedupes inbound notifications across process restarts.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-twitch-listener/core"
)

const defaultTokenKey = "app"

// TokenStore satisfies core.TokenStore on top of a bun database. One row per
// key; the listener uses a single application-level key.
type TokenStore struct {
	db   *bun.DB
	repo repository.Repository[*tokenRecord]
	key  string
}

func NewTokenStore(db *bun.DB, key string) (*TokenStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		key = defaultTokenKey
	}
	repo := repository.NewRepository[*tokenRecord](db, tokenHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid token repository wiring: %w", err)
		}
	}
	return &TokenStore{db: db, repo: repo, key: key}, nil
}

func (s *TokenStore) Read(ctx context.Context) ([]byte, bool, error) {
	if s == nil || s.repo == nil {
		return nil, false, fmt.Errorf("sqlstore: token store is not configured")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("key", "=", s.key),
		repository.OrderBy("updated_at DESC"),
		repository.SelectPaginate(1, 0),
	)
	if err != nil {
		return nil, false, err
	}
	if len(records) == 0 || len(records[0].Payload) == 0 {
		return nil, false, nil
	}
	return append([]byte(nil), records[0].Payload...), true, nil
}

func (s *TokenStore) Write(ctx context.Context, data []byte) error {
	if s == nil || s.db == nil || s.repo == nil {
		return fmt.Errorf("sqlstore: token store is not configured")
	}
	now := time.Now().UTC()
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		existing := &tokenRecord{}
		err := tx.NewSelect().
			Model(existing).
			Where("?TableAlias.key = ?", s.key).
			Limit(1).
			Scan(ctx)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		if errors.Is(err, sql.ErrNoRows) {
			record := &tokenRecord{
				ID:        uuid.NewString(),
				Key:       s.key,
				Payload:   append([]byte(nil), data...),
				CreatedAt: now,
				UpdatedAt: now,
			}
			_, insertErr := tx.NewInsert().Model(record).Exec(ctx)
			return insertErr
		}
		existing.Payload = append([]byte(nil), data...)
		existing.UpdatedAt = now
		_, updateErr := tx.NewUpdate().
			Model(existing).
			Where("id = ?", existing.ID).
			Exec(ctx)
		return updateErr
	})
}

var _ core.TokenStore = (*TokenStore)(nil)
