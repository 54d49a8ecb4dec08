package sqlstore

import (
	"time"

	"github.com/uptrace/bun"
)

type tokenRecord struct {
	bun.BaseModel `bun:"table:listener_tokens,alias:lt"`

	ID        string    `bun:"id,pk"`
	Key       string    `bun:"key,notnull"`
	Payload   []byte    `bun:"payload,notnull"`
	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type deliveryRecord struct {
	bun.BaseModel `bun:"table:listener_webhook_deliveries,alias:lwd"`

	ID         string    `bun:"id,pk"`
	Topic      string    `bun:"topic,notnull"`
	DeliveryID string    `bun:"delivery_id,notnull"`
	CreatedAt  time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}
