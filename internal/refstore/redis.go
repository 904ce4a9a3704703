package refstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/verificaicode/verifica-ai/internal/types"
)

const connectionTimeout = 2 * time.Second

// Redis is the Store backed by a Redis instance, for deployments where the
// bot runs more than one replica. Slots expire after the configured TTL.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

var _ Store = (*Redis)(nil)

// NewRedis connects to Redis and verifies the connection with a ping.
func NewRedis(addr, password string, ttl time.Duration) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
	})

	pingCtx, cancel := context.WithTimeout(context.Background(), connectionTimeout)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Redis{client: client, ttl: ttl}, nil
}

// NewRedisWithClient wraps an existing client; used by tests.
func NewRedisWithClient(client *redis.Client, ttl time.Duration) *Redis {
	return &Redis{client: client, ttl: ttl}
}

func slotKey(senderID string) string {
	return "verifai:ref:" + senderID
}

// Get returns the sender's slot, decoding the stored JSON state.
func (r *Redis) Get(ctx context.Context, senderID string) (*types.SenderState, bool, error) {
	data, err := r.client.Get(ctx, slotKey(senderID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}

	var state types.SenderState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, false, fmt.Errorf("decode sender state: %w", err)
	}
	return &state, true, nil
}

// Put overwrites the sender's slot.
func (r *Redis) Put(ctx context.Context, senderID string, item *types.WorkItem) error {
	state := types.SenderState{Item: item.Snapshot(), MayRespond: true}
	data, err := json.Marshal(&state)
	if err != nil {
		return fmt.Errorf("encode sender state: %w", err)
	}

	if err := r.client.Set(ctx, slotKey(senderID), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Suppress clears MayRespond, keeping the slot's remaining TTL semantics
// simple by rewriting with the full TTL.
func (r *Redis) Suppress(ctx context.Context, senderID string) error {
	state, ok, err := r.Get(ctx, senderID)
	if err != nil || !ok {
		return err
	}

	state.MayRespond = false
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode sender state: %w", err)
	}

	if err := r.client.Set(ctx, slotKey(senderID), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}
