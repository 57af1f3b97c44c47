package utils

import (
	"context"
	"sync"
	"time"
)

var (
	// token id -> natural expiry
	blacklist   = map[string]time.Time{}
	blacklistMu sync.RWMutex
)

// BlacklistToken revokes a token id until its natural expiry to support logout.
func BlacklistToken(ctx context.Context, tokenID string, expiresAt time.Time) {
	ttl := time.Until(expiresAt)
	if tokenID == "" || ttl <= 0 {
		return
	}
	if rc := GetRedis(); rc != nil {
		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := rc.Set(ctx, "jwt:blacklist:"+tokenID, "1", ttl).Err(); err == nil {
			return
		}
		Sugar.Warnf("redis blacklist failed, falling back to memory: jti=%s", tokenID)
	}
	blacklistMu.Lock()
	blacklist[tokenID] = expiresAt
	blacklistMu.Unlock()
}

// IsTokenBlacklisted checks if a token id was revoked before natural expiration.
func IsTokenBlacklisted(ctx context.Context, tokenID string) bool {
	if tokenID == "" {
		return false
	}
	if rc := GetRedis(); rc != nil {
		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if n, err := rc.Exists(ctx, "jwt:blacklist:"+tokenID).Result(); err == nil && n > 0 {
			return true
		}
		// fail open on Redis errors; the memory map below still applies
	}
	blacklistMu.RLock()
	expiresAt, ok := blacklist[tokenID]
	blacklistMu.RUnlock()
	if !ok {
		return false
	}

	if time.Now().After(expiresAt) {
		blacklistMu.Lock()
		delete(blacklist, tokenID)
		blacklistMu.Unlock()
		return false
	}
	return true
}
