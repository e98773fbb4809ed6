package game

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisDirectory keeps participants in one Redis hash, field = agent id.
type RedisDirectory struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisDirectory(rdb *redis.Client, prefix string, ttl time.Duration) *RedisDirectory {
	if prefix == "" {
		prefix = "arbiter"
	}
	return &RedisDirectory{rdb: rdb, prefix: prefix, ttl: ttl}
}

func (d *RedisDirectory) key() string {
	return fmt.Sprintf("%s:participants", d.prefix)
}

func (d *RedisDirectory) Save(ctx context.Context, p Participant) error {
	b, err := json.Marshal(p)
	if err != nil {
		return err
	}
	_, err = d.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, d.key(), p.ID, b)
		if d.ttl > 0 {
			pipe.Expire(ctx, d.key(), d.ttl)
		}
		return nil
	})
	return err
}

func (d *RedisDirectory) Delete(ctx context.Context, id string) error {
	return d.rdb.HDel(ctx, d.key(), id).Err()
}

func (d *RedisDirectory) Load(ctx context.Context) ([]Participant, error) {
	vals, err := d.rdb.HGetAll(ctx, d.key()).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	out := make([]Participant, 0, len(vals))
	for id, raw := range vals {
		var p Participant
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return nil, fmt.Errorf("decode participant %s: %w", id, err)
		}
		out = append(out, p)
	}
	return out, nil
}

func (d *RedisDirectory) Clear(ctx context.Context) error {
	return d.rdb.Del(ctx, d.key()).Err()
}
