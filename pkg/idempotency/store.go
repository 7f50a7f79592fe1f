package idempotency

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store is a fast-path duplicate detector for gateway confirmation
// callbacks. The database's conditional update on payment_state stays
// authoritative; this only short-circuits obvious retries.
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewStore(rdb *redis.Client, ttl time.Duration) *Store {
	return &Store{rdb: rdb, ttl: ttl}
}

func PaymentKey(gatewayPaymentRef string) string {
	return fmt.Sprintf("idem:confirm:%s", gatewayPaymentRef)
}

func (s *Store) Seen(ctx context.Context, key string) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, key, "1", s.ttl).Result()
	if err != nil {
		return false, err
	}
	return !ok, nil
}
