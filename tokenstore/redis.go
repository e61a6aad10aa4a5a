package tokenstore

import (
	"context"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "authclient:tokens:"

// RedisBackend is a durable backend keeping the record in a redis hash, for
// deployments where several processes share one session.
type RedisBackend struct {
	rdb redis.UniversalClient
	key string
}

// NewRedisBackend stores the record for clientID in rdb.
func NewRedisBackend(rdb redis.UniversalClient, clientID string) *RedisBackend {
	return &RedisBackend{rdb: rdb, key: redisKeyPrefix + clientID}
}

func (r *RedisBackend) Name() string { return "durable" }

func (r *RedisBackend) Load(ctx context.Context) (Record, error) {
	m, err := r.rdb.HGetAll(ctx, r.key).Result()
	if err != nil {
		return nil, err
	}
	return Record(m), nil
}

func (r *RedisBackend) Save(ctx context.Context, rec Record) error {
	if len(rec) == 0 {
		return nil
	}
	return r.rdb.HSet(ctx, r.key, map[string]string(rec)).Err()
}

func (r *RedisBackend) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return r.rdb.HDel(ctx, r.key, keys...).Err()
}
