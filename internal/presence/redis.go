package presence

import (
	"context"
	"fmt"

	radix "github.com/mediocregopher/radix/v3"

	"github.com/pelusa-v/pelusa-chat/internal/config"
	"github.com/pelusa-v/pelusa-chat/internal/models"
)

// RedisStore keeps statuses under presence:<userId>; offline users have no key.
type RedisStore struct {
	client radix.Client
}

func NewRedisStore(client radix.Client) *RedisStore {
	return &RedisStore{client: client}
}

// DialRedis opens the connection pool for cfg.
func DialRedis(cfg config.RedisConfig) (radix.Client, error) {
	size := cfg.PoolSize
	if size <= 0 {
		size = 10
	}
	pool, err := radix.NewPool("tcp", cfg.Addr, size)
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return pool, nil
}

func key(userID string) string { return "presence:" + userID }

func (r *RedisStore) Status(_ context.Context, userID string) (models.Status, error) {
	var raw string
	mn := radix.MaybeNil{Rcv: &raw}
	if err := r.client.Do(radix.Cmd(&mn, "GET", key(userID))); err != nil {
		return models.StatusOffline, err
	}
	if mn.Nil {
		return models.StatusOffline, nil
	}
	s := models.Status(raw)
	if !s.Valid() {
		return models.StatusOffline, nil
	}
	return s, nil
}

func (r *RedisStore) SetStatus(_ context.Context, userID string, status models.Status) error {
	if status == models.StatusOffline {
		return r.client.Do(radix.Cmd(nil, "DEL", key(userID)))
	}
	return r.client.Do(radix.Cmd(nil, "SET", key(userID), string(status)))
}
