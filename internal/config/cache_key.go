package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// SessionBaselineKey returns the cache key for a session's start timestamp,
// used to resync countdowns after a reload.
func (r *CacheKeyStruct) SessionBaselineKey(sessionID string) string {
	return fmt.Sprintf("session:%s:baseline", sessionID)
}

// SessionResultKey returns the cache key for a session's terminal result.
func (r *CacheKeyStruct) SessionResultKey(sessionID string) string {
	return fmt.Sprintf("session:%s:result", sessionID)
}

var CacheKey = NewCacheKeyStruct()
