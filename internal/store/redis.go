package store

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gomodule/redigo/redis"
)

// RedisPrefix namespaces every key written by RedisStore
const RedisPrefix = "infra:kv:"

// RedisStore keeps keys in Redis through a small connection pool
type RedisStore struct {
	pool *redis.Pool
}

// NewRedisStore connects to addr, given as "host:port" or "redis://host:port".
// The server is pinged once so a wrong address fails at startup.
func NewRedisStore(addr string) (*RedisStore, error) {
	if parts := strings.SplitN(addr, "://", 2); len(parts) == 2 {
		addr = parts[1]
	}

	pool := &redis.Pool{
		MaxIdle:     3,
		IdleTimeout: 240 * time.Second,
		Dial: func() (redis.Conn, error) {
			return redis.Dial("tcp", addr,
				redis.DialConnectTimeout(2*time.Second),
				redis.DialReadTimeout(2*time.Second),
				redis.DialWriteTimeout(2*time.Second))
		},
	}

	conn := pool.Get()
	defer conn.Close()
	if _, err := conn.Do("PING"); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}

	return &RedisStore{pool: pool}, nil
}

func (r *RedisStore) Get(key string) (string, error) {
	conn := r.pool.Get()
	defer conn.Close()

	value, err := redis.String(conn.Do("GET", RedisPrefix+key))
	if errors.Is(err, redis.ErrNil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to read key %s: %w", key, err)
	}
	return value, nil
}

func (r *RedisStore) Set(key, value string) error {
	conn := r.pool.Get()
	defer conn.Close()

	if _, err := conn.Do("SET", RedisPrefix+key, value); err != nil {
		return fmt.Errorf("failed to write key %s: %w", key, err)
	}
	return nil
}

func (r *RedisStore) Delete(key string) error {
	conn := r.pool.Get()
	defer conn.Close()

	if _, err := conn.Do("DEL", RedisPrefix+key); err != nil {
		return fmt.Errorf("failed to delete key %s: %w", key, err)
	}
	return nil
}

// Close releases the pool
func (r *RedisStore) Close() error {
	return r.pool.Close()
}
