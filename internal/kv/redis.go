package kv

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// Redis is the production Store backend. The client is safe for concurrent
// use and pools connections internally, so one Redis value is shared across
// the whole process.
type Redis struct {
	rdb *redis.Client
}

// NewRedis connects to the store at addr. The connection is verified with a
// ping before use.
func NewRedis(ctx context.Context, addr, password string) (*Redis, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return &Redis{rdb: rdb}, nil
}

func wrapRedis(err error) error {
	if err == nil || err == redis.Nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

func (r *Redis) Get(ctx context.Context, key string) (string, error) {
	v, err := r.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", wrapRedis(err)
	}
	return v, nil
}

func (r *Redis) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return wrapRedis(r.rdb.Set(ctx, key, value, leaseOrDefault(ttl)).Err())
}

func (r *Redis) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	n, err := r.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, wrapRedis(err)
	}
	if err := r.rdb.Expire(ctx, key, leaseOrDefault(ttl)).Err(); err != nil {
		return 0, wrapRedis(err)
	}
	return n, nil
}

func (r *Redis) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return wrapRedis(r.rdb.Del(ctx, keys...).Err())
}

func (r *Redis) Exists(ctx context.Context, key string) (bool, error) {
	n, err := r.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, wrapRedis(err)
	}
	return n > 0, nil
}

func (r *Redis) SAdd(ctx context.Context, key, member string, ttl time.Duration) error {
	if err := r.rdb.SAdd(ctx, key, member).Err(); err != nil {
		return wrapRedis(err)
	}
	return wrapRedis(r.rdb.Expire(ctx, key, leaseOrDefault(ttl)).Err())
}

func (r *Redis) SRem(ctx context.Context, key, member string) error {
	return wrapRedis(r.rdb.SRem(ctx, key, member).Err())
}

func (r *Redis) SIsMember(ctx context.Context, key, member string) (bool, error) {
	ok, err := r.rdb.SIsMember(ctx, key, member).Result()
	if err != nil {
		return false, wrapRedis(err)
	}
	return ok, nil
}

func (r *Redis) SMembers(ctx context.Context, key string) ([]string, error) {
	members, err := r.rdb.SMembers(ctx, key).Result()
	if err != nil {
		return nil, wrapRedis(err)
	}
	return members, nil
}

func (r *Redis) HSet(ctx context.Context, key string, pairs []string, ttl time.Duration) error {
	if len(pairs) == 0 || len(pairs)%2 != 0 {
		return fmt.Errorf("kv: hset %q: pairs must be non-empty field/value pairs", key)
	}
	args := make([]interface{}, len(pairs))
	for i, p := range pairs {
		args[i] = p
	}
	if err := r.rdb.HSet(ctx, key, args...).Err(); err != nil {
		return wrapRedis(err)
	}
	return wrapRedis(r.rdb.Expire(ctx, key, leaseOrDefault(ttl)).Err())
}

func (r *Redis) HGet(ctx context.Context, key, field string) (string, error) {
	v, err := r.rdb.HGet(ctx, key, field).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", wrapRedis(err)
	}
	return v, nil
}

func (r *Redis) HGetAll(ctx context.Context, key string) ([]string, error) {
	fields, err := r.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, wrapRedis(err)
	}
	pairs := make([]string, 0, len(fields)*2)
	for f, v := range fields {
		pairs = append(pairs, f, v)
	}
	return pairs, nil
}

func (r *Redis) LPush(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := r.rdb.LPush(ctx, key, value).Err(); err != nil {
		return wrapRedis(err)
	}
	return wrapRedis(r.rdb.Expire(ctx, key, leaseOrDefault(ttl)).Err())
}

func (r *Redis) LPop(ctx context.Context, key string) (string, error) {
	v, err := r.rdb.LPop(ctx, key).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", wrapRedis(err)
	}
	return v, nil
}

func (r *Redis) RPop(ctx context.Context, key string) (string, error) {
	v, err := r.rdb.RPop(ctx, key).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", wrapRedis(err)
	}
	return v, nil
}

func (r *Redis) LLen(ctx context.Context, key string) (int64, error) {
	n, err := r.rdb.LLen(ctx, key).Result()
	if err != nil {
		return 0, wrapRedis(err)
	}
	return n, nil
}

func (r *Redis) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return wrapRedis(r.rdb.Expire(ctx, key, leaseOrDefault(ttl)).Err())
}

func (r *Redis) Ping(ctx context.Context) error {
	return wrapRedis(r.rdb.Ping(ctx).Err())
}

func (r *Redis) Close() error {
	return r.rdb.Close()
}
