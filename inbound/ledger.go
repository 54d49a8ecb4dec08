package inbound

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/goliatone/go-twitch-listener/core"
)

// MemoryDeliveryLedger dedupes deliveries for the life of the process. Use
// the sql-backed ledger when dedup must survive restarts.
type MemoryDeliveryLedger struct {
	mu     sync.Mutex
	claims map[string]string
}

func NewMemoryDeliveryLedger() *MemoryDeliveryLedger {
	return &MemoryDeliveryLedger{claims: map[string]string{}}
}

func (l *MemoryDeliveryLedger) Claim(_ context.Context, topic string, deliveryID string) (bool, error) {
	if l == nil {
		return true, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	key := topic + ":" + deliveryID
	if _, exists := l.claims[key]; exists {
		return false, nil
	}
	l.claims[key] = uuid.NewString()
	return true, nil
}

var _ core.DeliveryLedger = (*MemoryDeliveryLedger)(nil)
