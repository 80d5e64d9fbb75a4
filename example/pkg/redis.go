package pkg

import (
	"time"

	"github.com/gomodule/redigo/redis"
)

// NewRedisPool 构造 redigo 连接池
// 资源锁存储与 TXStore 的模块级锁共用同一个池
func NewRedisPool(address, password string) *redis.Pool {
	return &redis.Pool{
		MaxIdle:     8,
		MaxActive:   64,
		IdleTimeout: 5 * time.Minute,
		Wait:        true,
		Dial: func() (redis.Conn, error) {
			opts := []redis.DialOption{
				redis.DialConnectTimeout(3 * time.Second),
				redis.DialReadTimeout(2 * time.Second),
				redis.DialWriteTimeout(2 * time.Second),
			}
			if password != "" {
				opts = append(opts, redis.DialPassword(password))
			}
			return redis.Dial("tcp", address, opts...)
		},
		TestOnBorrow: func(c redis.Conn, t time.Time) error {
			if time.Since(t) < time.Minute {
				return nil
			}
			_, err := c.Do("PING")
			return err
		},
	}
}

// BuildTXStoreLockResource TXStore 模块级锁的资源名，恢复轮询使用
func BuildTXStoreLockResource() string {
	return "storesync:txstore"
}
