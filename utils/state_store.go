package utils

import (
	"context"
	"sync"
	"time"
)

type stateEntry struct {
	returnTo  string
	expiresAt time.Time
}

var (
	stateStore   = map[string]stateEntry{}
	stateStoreMu sync.Mutex
)

// SaveState stores an OAuth state token and where to send the browser afterwards.
func SaveState(ctx context.Context, state, returnTo string, ttl time.Duration) {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if rc := GetRedis(); rc != nil {
		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		// "-" keeps an empty returnTo distinguishable from a missing key
		if err := rc.Set(ctx, "oauth:state:"+state, "-"+returnTo, ttl).Err(); err == nil {
			return
		}
	}
	stateStoreMu.Lock()
	stateStore[state] = stateEntry{returnTo: returnTo, expiresAt: time.Now().Add(ttl)}
	stateStoreMu.Unlock()
}

// ConsumeState validates and removes a state token, returning its stored redirect.
func ConsumeState(ctx context.Context, state string) (string, bool) {
	if state == "" {
		return "", false
	}
	if rc := GetRedis(); rc != nil {
		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if v, err := rc.GetDel(ctx, "oauth:state:"+state).Result(); err == nil && v != "" {
			return v[1:], true
		}
	}
	stateStoreMu.Lock()
	entry, ok := stateStore[state]
	if ok {
		delete(stateStore, state)
	}
	stateStoreMu.Unlock()
	if !ok || time.Now().After(entry.expiresAt) {
		return "", false
	}
	return entry.returnTo, true
}
