package utils

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const defaultCacheTTL = time.Hour

// Cache key prefixes shared by readers and invalidators.
const (
	CachePostsList    = "cache:posts:list:"
	CachePostDetail   = "cache:post:detail:"
	CacheUserPosts    = "cache:user:posts:"
	CacheProfile      = "cache:profile:"
	CacheNewsList     = "cache:news:list:"
	CacheHeroSlides   = "cache:hero:list"
	cacheOpTimeout    = 2 * time.Second
	cacheScanTimeout  = 3 * time.Second
	cacheScanMaxRound = 10
)

// CacheGetBytes returns cached bytes for a key from Redis.
func CacheGetBytes(ctx context.Context, key string) ([]byte, bool) {
	rc := GetRedis()
	if rc == nil {
		return nil, false
	}
	ctx, cancel := context.WithTimeout(ctx, cacheOpTimeout)
	defer cancel()
	b, err := rc.Get(ctx, key).Bytes()
	if err != nil {
		if Sugar != nil {
			Sugar.Debugf("cache get miss key=%s err=%v", key, err)
		}
		return nil, false
	}
	return b, true
}

// CacheSetBytes stores bytes, using the default TTL when ttl <= 0.
func CacheSetBytes(ctx context.Context, key string, b []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	rc := GetRedis()
	if rc == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, cacheOpTimeout)
	defer cancel()
	if err := rc.Set(ctx, key, b, ttl).Err(); err != nil && Sugar != nil {
		Sugar.Warnf("cache set failed key=%s err=%v", key, err)
	}
}

// CacheSetJSON marshals v and stores JSON bytes.
func CacheSetJSON(ctx context.Context, key string, v interface{}, ttl time.Duration) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	CacheSetBytes(ctx, key, b, ttl)
}

// ServeCached writes a cached success envelope and reports whether it did.
func ServeCached(ctx *gin.Context, key string) bool {
	b, ok := CacheGetBytes(ctx.Request.Context(), key)
	if !ok {
		return false
	}
	ctx.Data(http.StatusOK, "application/json; charset=utf-8", b)
	return true
}

// SuccessCached responds with the success envelope and caches the exact body.
func SuccessCached(ctx *gin.Context, key string, data interface{}, ttl time.Duration) {
	CacheSetJSON(ctx.Request.Context(), key, JSONResponse{Code: 0, Message: "success", Data: data}, ttl)
	Success(ctx, data)
}

// InvalidateByPrefix deletes keys that match the given prefix using SCAN.
func InvalidateByPrefix(ctx context.Context, prefixes ...string) {
	rc := GetRedis()
	if rc == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cacheScanTimeout)
	defer cancel()
	for _, prefix := range prefixes {
		var cursor uint64
		for i := 0; i < cacheScanMaxRound; i++ {
			keys, cur, err := rc.Scan(ctx, cursor, prefix+"*", 1000).Result()
			if err != nil {
				break
			}
			cursor = cur
			if len(keys) > 0 {
				pipe := rc.Pipeline()
				for _, k := range keys {
					pipe.Del(ctx, k)
				}
				_, _ = pipe.Exec(ctx)
			}
			if cursor == 0 {
				break
			}
		}
	}
}
