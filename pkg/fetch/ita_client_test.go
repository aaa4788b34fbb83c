// Copyright 2025 Certen Protocol

package fetch

import (
	"encoding/base64"
	"testing"
	"time"
)

// ============================================================================
// cacheKey
// ============================================================================

func TestCacheKey_NormalizesPrefixAndCase(t *testing.T) {
	a := cacheKey("0xABCDEF")
	b := cacheKey("abcdef")
	c := cacheKey("0XabCDEf")
	if a != b || b != c {
		t.Errorf("expected normalized cache keys to match: %s %s %s", a, b, c)
	}

	d := cacheKey("000000")
	if a == d {
		t.Errorf("expected different quotes to hash differently")
	}
}

// ============================================================================
// ttlFromClaims
// ============================================================================

func TestTtlFromClaims_BoundsToMinAndMax(t *testing.T) {
	farFuture := float64(time.Now().Add(10 * time.Hour).Unix())
	ttl := ttlFromClaims(map[string]interface{}{"exp": farFuture})
	if ttl != itaMaxSuccessTTL {
		t.Errorf("expected ttl capped at itaMaxSuccessTTL for a far-future exp, got %v", ttl)
	}

	fortyMin := float64(time.Now().Add(40 * time.Minute).Unix())
	ttl = ttlFromClaims(map[string]interface{}{"exp": fortyMin})
	if ttl < 39*time.Minute || ttl > 40*time.Minute {
		t.Errorf("expected ttl ~= 40min (within [10min, 60min]), got %v", ttl)
	}
}

func TestTtlFromClaims_NoExpFallsBackToMin(t *testing.T) {
	if got := ttlFromClaims(nil); got != itaMinSuccessTTL {
		t.Errorf("ttlFromClaims(nil) = %v, want %v", got, itaMinSuccessTTL)
	}
	if got := ttlFromClaims(map[string]interface{}{}); got != itaMinSuccessTTL {
		t.Errorf("ttlFromClaims({}) = %v, want %v", got, itaMinSuccessTTL)
	}
}

func TestTtlFromClaims_PastExpYieldsZero(t *testing.T) {
	past := float64(time.Now().Add(-1 * time.Hour).Unix())
	got := ttlFromClaims(map[string]interface{}{"exp": past})
	if got != 0 {
		t.Errorf("ttlFromClaims(past) = %v, want 0", got)
	}
}

// ============================================================================
// LRU eviction
// ============================================================================

func TestITAClient_EvictsOldestOnceOverCapacity(t *testing.T) {
	c := NewITAClient("https://ita.example.com")

	for i := 0; i < itaMaxCacheEntries+1; i++ {
		key := cacheKey(string(rune('a' + i%26)) + string(rune(i)))
		c.putCached(key, map[string]interface{}{"i": i}, nil)
	}

	if len(c.entries) != itaMaxCacheEntries {
		t.Errorf("expected cache capped at %d entries, got %d", itaMaxCacheEntries, len(c.entries))
	}
	oldest := cacheKey(string(rune('a')) + string(rune(0)))
	if _, ok := c.entries[oldest]; ok {
		t.Errorf("expected the oldest entry to be evicted")
	}
}

func TestITAClient_GetCachedHonorsExpiry(t *testing.T) {
	c := NewITAClient("https://ita.example.com")
	key := cacheKey("deadbeef")

	c.mu.Lock()
	c.entries[key] = &itaCacheEntry{value: map[string]interface{}{"ok": true}, expiresAt: time.Now().Add(-time.Second)}
	c.mu.Unlock()

	if _, ok := c.getCached(key); ok {
		t.Errorf("expected an expired entry to be treated as a cache miss")
	}
}

// ============================================================================
// decodeJWTPayload
// ============================================================================

func TestDecodeJWTPayload_EmptyTokenYieldsNil(t *testing.T) {
	claims, err := decodeJWTPayload("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if claims != nil {
		t.Errorf("expected nil claims for an empty token, got %v", claims)
	}
}

func TestDecodeJWTPayload_DecodesUnverifiedClaims(t *testing.T) {
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none","typ":"JWT"}`))
	payload := base64.RawURLEncoding.EncodeToString([]byte(`{"sub":"app-123","exp":9999999999}`))
	token := header + "." + payload + "."

	claims, err := decodeJWTPayload(token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if claims["sub"] != "app-123" {
		t.Errorf("expected sub claim to decode, got %v", claims["sub"])
	}
}

func TestDecodeJWTPayload_MalformedTokenErrors(t *testing.T) {
	if _, err := decodeJWTPayload("not-a-jwt"); err == nil {
		t.Fatal("expected an error for a malformed token, got nil")
	}
}
