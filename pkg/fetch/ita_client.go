// Copyright 2025 Certen Protocol
//
// Intel Trust Authority appraisal client. Cache/eviction shape grounded
// on accumulate-lite-client-2/liteclient/cache/account.go's
// map-plus-access-order-slice LRU, keyed here by SHA-256 of the
// normalized quote hex instead of an account URL.

package fetch

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"golang.org/x/time/rate"
)

const (
	itaMaxCacheEntries  = 500
	itaMaxRetries       = 4
	itaPerAttemptTimeout = 15 * time.Second
	itaBackoffBase      = 250 * time.Millisecond
	itaBackoffCap       = 3 * time.Second
	itaBackoffJitterMax = 120 * time.Millisecond
	itaFailureTTL       = 20 * time.Second
	itaMaxSuccessTTL    = 60 * time.Minute
	itaMinSuccessTTL    = 10 * time.Minute
)

type itaCacheEntry struct {
	value     map[string]interface{}
	isFailure bool
	expiresAt time.Time
}

// ITAClient appraises TDX quotes via Intel Trust Authority, applying the
// cache/in-flight-dedup/rate-limit/retry policy of spec.md §4.1 exactly.
type ITAClient struct {
	baseURL    string
	httpClient *http.Client

	mu          sync.Mutex
	entries     map[string]*itaCacheEntry
	accessOrder []string

	limiter *rate.Limiter

	inflight sync.Map // cacheKey -> *inflightCall
}

type inflightCall struct {
	done  chan struct{}
	value map[string]interface{}
	err   error
}

// NewITAClient creates an ITAClient against Intel Trust Authority's
// appraisal endpoint, rate-limited to 2 requests/second globally.
func NewITAClient(baseURL string) *ITAClient {
	return &ITAClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: itaPerAttemptTimeout},
		entries:    make(map[string]*itaCacheEntry),
		limiter:    rate.NewLimiter(rate.Limit(2), 2),
	}
}

// cacheKey is SHA-256 of the normalized (0x-stripped, lowercased) quote hex.
func cacheKey(quoteHex string) string {
	normalized := strings.ToLower(strings.TrimPrefix(strings.TrimPrefix(quoteHex, "0x"), "0X"))
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// Appraise implements fetch.ITAClient.
func (c *ITAClient) Appraise(ctx context.Context, quoteHex string, apiKey string) (map[string]interface{}, error) {
	key := cacheKey(quoteHex)

	if v, ok := c.getCached(key); ok {
		return v, nil
	}

	// In-flight dedup: concurrent requests for the same key share one
	// result future.
	call, leader := c.joinInflight(key)
	if !leader {
		<-call.done
		return call.value, call.err
	}
	defer c.finishInflight(key, call)

	// Fail-open on limiter failure: the limiter error is dropped (not
	// logged) and the call proceeds rather than blocking verification.
	if err := c.limiter.Wait(ctx); err != nil {
		call.err = nil
	}

	value, err := c.appraiseWithRetry(ctx, quoteHex, apiKey)
	call.value, call.err = value, err

	c.putCached(key, value, err)
	return value, err
}

func (c *ITAClient) joinInflight(key string) (*inflightCall, bool) {
	call := &inflightCall{done: make(chan struct{})}
	actual, loaded := c.inflight.LoadOrStore(key, call)
	if loaded {
		return actual.(*inflightCall), false
	}
	return call, true
}

func (c *ITAClient) finishInflight(key string, call *inflightCall) {
	close(call.done)
	c.inflight.Delete(key)
}

func (c *ITAClient) getCached(key string) (map[string]interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok || time.Now().After(entry.expiresAt) {
		return nil, false
	}
	c.touch(key)
	if entry.isFailure {
		return nil, true // cached negative result: nil value, no error
	}
	return entry.value, true
}

func (c *ITAClient) putCached(key string, value map[string]interface{}, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := &itaCacheEntry{value: value, isFailure: err != nil}
	if err != nil {
		entry.expiresAt = time.Now().Add(itaFailureTTL)
	} else {
		entry.expiresAt = time.Now().Add(ttlFromClaims(value))
	}

	c.entries[key] = entry
	c.touch(key)
	c.evictIfNeeded()
}

func (c *ITAClient) touch(key string) {
	for i, k := range c.accessOrder {
		if k == key {
			c.accessOrder = append(c.accessOrder[:i], c.accessOrder[i+1:]...)
			break
		}
	}
	c.accessOrder = append(c.accessOrder, key)
}

func (c *ITAClient) evictIfNeeded() {
	for len(c.entries) > itaMaxCacheEntries && len(c.accessOrder) > 0 {
		lru := c.accessOrder[0]
		c.accessOrder = c.accessOrder[1:]
		delete(c.entries, lru)
	}
}

// ttlFromClaims caches a successful appraisal for the remaining time until
// "exp", capped at itaMaxSuccessTTL, falling back to itaMinSuccessTTL if no
// "exp" claim is present (an already-expired exp yields 0, not the
// fallback — it is not safe to treat that like a missing claim).
func ttlFromClaims(claims map[string]interface{}) time.Duration {
	if claims == nil {
		return itaMinSuccessTTL
	}
	expRaw, ok := claims["exp"]
	if !ok {
		return itaMinSuccessTTL
	}
	expFloat, ok := expRaw.(float64)
	if !ok {
		return itaMinSuccessTTL
	}

	remaining := time.Until(time.Unix(int64(expFloat), 0))
	if remaining <= 0 {
		return 0
	}
	if remaining > itaMaxSuccessTTL {
		return itaMaxSuccessTTL
	}
	return remaining
}

func (c *ITAClient) appraiseWithRetry(ctx context.Context, quoteHex string, apiKey string) (map[string]interface{}, error) {
	var lastErr error

	for attempt := 0; attempt < itaMaxRetries; attempt++ {
		if attempt > 0 {
			wait := backoffDelay(attempt)
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, itaPerAttemptTimeout)
		token, retryAfter, status, err := c.doAppraise(attemptCtx, quoteHex, apiKey)
		cancel()

		if err == nil {
			return decodeJWTPayload(token)
		}

		lastErr = err
		if !isRetriableStatus(status) {
			return nil, err
		}
		if retryAfter > 0 {
			time.Sleep(retryAfter)
		}
	}

	return nil, fmt.Errorf("ITA appraisal failed after %d attempts: %w", itaMaxRetries, lastErr)
}

func isRetriableStatus(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

func backoffDelay(attempt int) time.Duration {
	delay := itaBackoffBase * time.Duration(1<<uint(attempt-1))
	if delay > itaBackoffCap {
		delay = itaBackoffCap
	}
	jitter := time.Duration(rand.Int63n(int64(itaBackoffJitterMax)))
	return delay + jitter
}

func (c *ITAClient) doAppraise(ctx context.Context, quoteHex string, apiKey string) (token string, retryAfter time.Duration, status int, err error) {
	payload, err := json.Marshal(map[string]string{"quote": quoteHex})
	if err != nil {
		return "", 0, 0, fmt.Errorf("encoding appraisal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/appraisal/v2/appraise", bytes.NewReader(payload))
	if err != nil {
		return "", 0, 0, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", 0, 0, fmt.Errorf("appraisal request: %w", err)
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		ra := parseRetryAfter(resp.Header.Get("Retry-After"))
		return "", ra, resp.StatusCode, fmt.Errorf("ITA appraisal returned status %d", resp.StatusCode)
	}
	if readErr != nil {
		return "", 0, resp.StatusCode, fmt.Errorf("reading appraisal response: %w", readErr)
	}

	var out struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", 0, resp.StatusCode, fmt.Errorf("decoding appraisal response: %w", err)
	}

	return out.Token, 0, resp.StatusCode, nil
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil {
		return time.Duration(secs) * time.Second
	}
	return 0
}

// decodeJWTPayload decodes a JWT's claims without verifying its
// signature: ITA's signing key is not configured here, and the spec
// only requires reading the appraisal result, not independently
// authenticating ITA itself. Token absence yields (nil, nil), not an
// error.
func decodeJWTPayload(token string) (map[string]interface{}, error) {
	if token == "" {
		return nil, nil
	}

	var claims jwt.MapClaims
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, &claims); err != nil {
		return nil, fmt.Errorf("decoding JWT claims: %w", err)
	}

	return claims, nil
}
