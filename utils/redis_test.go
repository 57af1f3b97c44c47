package utils

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// useMiniredis points the shared client at an in-process Redis for one test.
func useMiniredis(t *testing.T) *miniredis.Miniredis {
	t.Helper()
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr(), Protocol: 2, DisableIdentity: true})

	redisOnce.Do(func() {})
	prev := redisClient
	redisClient = rc
	t.Cleanup(func() {
		redisClient = prev
		_ = rc.Close()
	})
	return mr
}

func TestCacheServesAndInvalidatesWithRedis(t *testing.T) {
	mr := useMiniredis(t)
	gin.SetMode(gin.TestMode)

	hits := 0
	r := gin.New()
	r.GET("/posts", func(ctx *gin.Context) {
		key := CachePostsList + ctx.Query("page")
		if ServeCached(ctx, key) {
			return
		}
		hits++
		SuccessCached(ctx, key, gin.H{"hits": hits}, time.Minute)
	})
	get := func(page string) string {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/posts?page="+page, nil))
		require.Equal(t, http.StatusOK, w.Code)
		return w.Body.String()
	}

	first := get("1")
	assert.JSONEq(t, `{"code":0,"message":"success","data":{"hits":1}}`, first)
	assert.Equal(t, first, get("1"), "second read comes from the cache")
	get("2")
	assert.Equal(t, 2, hits)
	assert.True(t, mr.Exists(CachePostsList+"1"))
	ttl := mr.TTL(CachePostsList + "1")
	assert.True(t, ttl > 0 && ttl <= time.Minute, "ttl %s", ttl)

	require.NoError(t, mr.Set(CacheHeroSlides, "keep"))
	InvalidateByPrefix(context.Background(), CachePostsList)
	assert.False(t, mr.Exists(CachePostsList+"1"))
	assert.False(t, mr.Exists(CachePostsList+"2"))
	assert.True(t, mr.Exists(CacheHeroSlides))

	assert.JSONEq(t, `{"code":0,"message":"success","data":{"hits":3}}`, get("1"))
}

func TestBlacklistAndStateWithRedis(t *testing.T) {
	mr := useMiniredis(t)
	ctx := context.Background()

	BlacklistToken(ctx, "jti-redis", time.Now().Add(time.Hour))
	assert.True(t, mr.Exists("jwt:blacklist:jti-redis"))
	assert.True(t, IsTokenBlacklisted(ctx, "jti-redis"))
	mr.FastForward(2 * time.Hour)
	assert.False(t, IsTokenBlacklisted(ctx, "jti-redis"))

	SaveState(ctx, "state-redis", "", time.Minute)
	returnTo, ok := ConsumeState(ctx, "state-redis")
	require.True(t, ok)
	assert.Empty(t, returnTo)
	_, ok = ConsumeState(ctx, "state-redis")
	assert.False(t, ok)
}
