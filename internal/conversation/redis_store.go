package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	redisclient "github.com/hackgods/sms-booking-engine/internal/redis"
)

const statePrefix = "conv:state:"

// RedisStore keeps states as JSON with a TTL equal to the inactivity window,
// so abandoned conversations expire on their own. Turns for the same phone are
// serialized across processes through the distributed locker.
type RedisStore struct {
	client *redis.Client
	locker redisclient.Locker
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, locker redisclient.Locker, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, locker: locker, ttl: ttl}
}

func (s *RedisStore) WithLock(ctx context.Context, phone string, fn func(ctx context.Context) error) error {
	return s.locker.WithLock(ctx, "conv:"+phone, fn)
}

func (s *RedisStore) Load(ctx context.Context, phone string) (State, error) {
	data, err := s.client.Get(ctx, statePrefix+phone).Bytes()
	if errors.Is(err, redis.Nil) {
		return State{}, ErrStateNotFound
	}
	if err != nil {
		return State{}, fmt.Errorf("load conversation %s: %w", phone, err)
	}
	return decodeState(data)
}

func (s *RedisStore) Save(ctx context.Context, st State) error {
	data, err := encodeState(st)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, statePrefix+st.Phone, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("save conversation %s: %w", st.Phone, err)
	}
	return nil
}

func (s *RedisStore) Clear(ctx context.Context, phone string) error {
	if err := s.client.Del(ctx, statePrefix+phone).Err(); err != nil {
		return fmt.Errorf("clear conversation %s: %w", phone, err)
	}
	return nil
}

func encodeState(st State) ([]byte, error) {
	data, err := json.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("encode conversation %s: %w", st.Phone, err)
	}
	return data, nil
}

func decodeState(data []byte) (State, error) {
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return State{}, fmt.Errorf("decode conversation: %w", err)
	}
	return st, nil
}
