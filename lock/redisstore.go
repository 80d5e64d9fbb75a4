package lock

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gomodule/redigo/redis"
)

// 锁的 value 编码为 token|ttlMillis|acquiredAtUnixMilli|purpose，token 为 uuid，不会包含分隔符

// releaseScript 仅当 token 匹配当前持有者时删除锁
const releaseScript = `
local val = redis.call('GET', KEYS[1])
if not val then
  return 0
end
if string.sub(val, 1, string.len(ARGV[1]) + 1) == ARGV[1] .. '|' then
  return redis.call('DEL', KEYS[1])
end
return 0
`

// refreshScript 仅当 token 匹配当前持有者时续期
const refreshScript = `
local val = redis.call('GET', KEYS[1])
if not val then
  return 0
end
if string.sub(val, 1, string.len(ARGV[1]) + 1) == ARGV[1] .. '|' then
  return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`

// RedisStore 基于 redis 的锁存储，多实例部署共享同一把锁
// 过期回收依赖 redis 的 key 过期机制完成，因此 Acquire 不会观测到被回收的旧锁
type RedisStore struct {
	pool      *redis.Pool
	keyPrefix string
	release   *redis.Script
	refresh   *redis.Script
}

func NewRedisStore(pool *redis.Pool) *RedisStore {
	return &RedisStore{
		pool:      pool,
		keyPrefix: "storesync:lock:",
		release:   redis.NewScript(1, releaseScript),
		refresh:   redis.NewScript(1, refreshScript),
	}
}

func (r *RedisStore) key(resourceID string) string {
	return r.keyPrefix + resourceID
}

func (r *RedisStore) Acquire(ctx context.Context, rec *Record) (bool, *Record, error) {
	conn, err := r.pool.GetContext(ctx)
	if err != nil {
		return false, nil, err
	}
	defer conn.Close()

	val := encodeRecord(rec)
	reply, err := redis.String(conn.Do("SET", r.key(rec.ResourceID), val, "NX", "PX", rec.TTL.Milliseconds()))
	if err == nil && reply == "OK" {
		return true, nil, nil
	}
	if err != nil && err != redis.ErrNil {
		return false, nil, err
	}

	// 取锁失败，读出当前持有者供调用方决策
	cur, err := r.get(conn, rec.ResourceID)
	if err != nil {
		return false, nil, err
	}
	if cur != nil && cur.Token == rec.Token {
		// 重入场景，刷新自己的锁
		if _, err = conn.Do("SET", r.key(rec.ResourceID), val, "PX", rec.TTL.Milliseconds()); err != nil {
			return false, nil, err
		}
		return true, nil, nil
	}
	return false, cur, nil
}

func (r *RedisStore) Release(ctx context.Context, resourceID, token string) (bool, error) {
	conn, err := r.pool.GetContext(ctx)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	deleted, err := redis.Int(r.release.Do(conn, r.key(resourceID), token))
	if err != nil {
		return false, err
	}
	return deleted == 1, nil
}

func (r *RedisStore) Refresh(ctx context.Context, resourceID, token string, ttl time.Duration) (bool, error) {
	conn, err := r.pool.GetContext(ctx)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	ok, err := redis.Int(r.refresh.Do(conn, r.key(resourceID), token, ttl.Milliseconds()))
	if err != nil {
		return false, err
	}
	return ok == 1, nil
}

func (r *RedisStore) Get(ctx context.Context, resourceID string) (*Record, error) {
	conn, err := r.pool.GetContext(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	return r.get(conn, resourceID)
}

func (r *RedisStore) get(conn redis.Conn, resourceID string) (*Record, error) {
	val, err := redis.String(conn.Do("GET", r.key(resourceID)))
	if err == redis.ErrNil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeRecord(resourceID, val)
}

func encodeRecord(rec *Record) string {
	return fmt.Sprintf("%s|%d|%d|%s", rec.Token, rec.TTL.Milliseconds(), rec.AcquiredAt.UnixMilli(), rec.Purpose)
}

func decodeRecord(resourceID, val string) (*Record, error) {
	parts := strings.SplitN(val, "|", 4)
	if len(parts) != 4 {
		return nil, fmt.Errorf("malformed lock value: %s", val)
	}
	ttlMillis, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("malformed lock ttl: %s", parts[1])
	}
	acquiredMillis, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("malformed lock timestamp: %s", parts[2])
	}
	return &Record{
		ResourceID: resourceID,
		Token:      parts[0],
		Purpose:    parts[3],
		AcquiredAt: time.UnixMilli(acquiredMillis),
		TTL:        time.Duration(ttlMillis) * time.Millisecond,
	}, nil
}
