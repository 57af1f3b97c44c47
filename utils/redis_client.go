package utils

import (
	"context"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/travelhub/travelhub/config"
)

var (
	redisClient *redis.Client
	redisOnce   sync.Once
)

// GetRedis returns the shared Redis client, or nil when RedisHost is empty.
// Cache, token blacklist, OAuth state and the redis chat broker fall back to memory on nil.
func GetRedis() *redis.Client {
	redisOnce.Do(func() {
		redisClient = newRedisClient(config.Get())
	})
	return redisClient
}

func newRedisClient(cfg config.AppConfig) *redis.Client {
	if cfg.RedisHost == "" {
		return nil
	}
	rc := redis.NewClient(&redis.Options{
		Addr:         net.JoinHostPort(cfg.RedisHost, strconv.Itoa(cfg.RedisPort)),
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     20,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	// unreachable Redis is not fatal; individual calls degrade
	if err := rc.Ping(ctx).Err(); err != nil {
		Sugar.Warnf("redis %s unreachable at startup: %v", rc.Options().Addr, err)
	}
	return rc
}

// CloseRedis releases the shared client, if one was created.
func CloseRedis() error {
	if redisClient == nil {
		return nil
	}
	return redisClient.Close()
}
