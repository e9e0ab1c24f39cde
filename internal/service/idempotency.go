package service

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"sync"

	"github.com/punchamoorthee/marketops/internal/models"
)

var (
	ErrIdempotencyConflict = errors.New("request in progress")
	ErrIdempotencyMismatch = errors.New("key reuse with mismatched payload")
)

// idempotencyCache remembers completed responses per (action, key). Only successful outcomes are
// stored; a failed attempt releases its key so the caller can retry with it.
type idempotencyCache struct {
	mu      sync.Mutex
	limit   int
	order   []string
	records map[string]*models.IdempotencyRecord
}

func newIdempotencyCache(limit int) *idempotencyCache {
	return &idempotencyCache{limit: limit, records: make(map[string]*models.IdempotencyRecord)}
}

// HashRequest is the hex sha256 of a request body.
func HashRequest(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// reserve claims key for a new execution. It returns the stored record when the key already completed.
func (c *idempotencyCache) reserve(key, reqHash string) (*models.IdempotencyRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if rec, ok := c.records[key]; ok {
		if rec.RequestHash != reqHash {
			return nil, ErrIdempotencyMismatch
		}
		if rec.Status == models.IdempotencyInProgress {
			return nil, ErrIdempotencyConflict
		}
		return rec, nil
	}

	c.records[key] = &models.IdempotencyRecord{Key: key, RequestHash: reqHash, Status: models.IdempotencyInProgress}
	c.order = append(c.order, key)
	c.evictLocked()
	return nil, nil
}

func (c *idempotencyCache) complete(key string, status int, body any) {
	raw, err := json.Marshal(body)
	if err != nil {
		c.release(key)
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if rec, ok := c.records[key]; ok {
		rec.Status = models.IdempotencyCompleted
		rec.ResponseStatus = status
		rec.ResponseBody = raw
	}
}

func (c *idempotencyCache) release(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.records, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// evictLocked drops the oldest completed records beyond the limit. In-progress keys are kept.
func (c *idempotencyCache) evictLocked() {
	for len(c.order) > c.limit {
		evicted := false
		for i, k := range c.order {
			if c.records[k].Status == models.IdempotencyCompleted {
				delete(c.records, k)
				c.order = append(c.order[:i], c.order[i+1:]...)
				evicted = true
				break
			}
		}
		if !evicted {
			return
		}
	}
}

// idempotent runs fn at most once per successful (scope, key). A replay decodes the stored
// response instead of running fn again.
func idempotent[T any](c *idempotencyCache, scope, key, reqHash string, fn func() (T, error)) (T, bool, error) {
	var zero T
	full := scope + ":" + key

	rec, err := c.reserve(full, reqHash)
	if err != nil {
		return zero, false, err
	}
	if rec != nil {
		var out T
		if err := json.Unmarshal(rec.ResponseBody, &out); err != nil {
			return zero, false, err
		}
		return out, true, nil
	}

	out, err := fn()
	if err != nil {
		c.release(full)
		return out, false, err
	}
	c.complete(full, 200, out)
	return out, false, nil
}
