package progress

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/medprep/qbank/internal/platform/cache"
)

// RedisSlots is a SlotStore over Redis, keyed per user so the process can
// host more than one user's state.
type RedisSlots struct {
	client *redis.Client
	user   string
}

// NewRedisSlots creates a Redis-backed slot store for one user.
func NewRedisSlots(c *cache.Cache, user string) *RedisSlots {
	return &RedisSlots{client: c.Client, user: user}
}

func (s *RedisSlots) Load(ctx context.Context, slot string) ([]byte, error) {
	data, err := s.client.Get(ctx, s.key(slot)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading slot %s: %w", slot, err)
	}
	return data, nil
}

func (s *RedisSlots) Save(ctx context.Context, slot string, data []byte) error {
	if err := s.client.Set(ctx, s.key(slot), data, 0).Err(); err != nil {
		return fmt.Errorf("saving slot %s: %w", slot, err)
	}
	return nil
}

func (s *RedisSlots) key(slot string) string {
	return fmt.Sprintf("qbank:%s:%s", s.user, slot)
}
