package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// ParentSessionKey returns the cache key for a parent's login session JTI.
func (r *CacheKeyStruct) ParentSessionKey(parentID int) string {
	return fmt.Sprintf("login:%d", parentID)
}

// CheckoutSnapshotKey returns the cache key holding a checkout snapshot.
func (r *CacheKeyStruct) CheckoutSnapshotKey(checkoutID string) string {
	return fmt.Sprintf("checkout:%s:snapshot", checkoutID)
}

// CheckoutChannel returns the Redis PubSub channel for checkout state pushes.
func (r *CacheKeyStruct) CheckoutChannel(checkoutID string) string {
	return fmt.Sprintf("checkout:%s:events", checkoutID)
}

var CacheKey = NewCacheKeyStruct()
