// Package cache implements the evaluation result cache: a deterministic key
// derivation plus in-memory and Redis-backed stores.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/skillsift/evalengine/internal/adapter/observability"
	"github.com/skillsift/evalengine/internal/domain"
	"github.com/skillsift/evalengine/pkg/textx"
)

// Key derives the cache identity of one evaluation: normalized document,
// normalized job description, requested provider and model ids, and the
// resolved weights. The credential never participates, so identical inputs
// hit regardless of who supplied the key. Unpinned requests share the
// empty-provider key.
func Key(documentText, jobDescription, providerID, modelID string, w domain.Weights) string {
	h := sha256.New()
	for _, part := range []string{
		textx.Normalize(documentText),
		textx.Normalize(jobDescription),
		providerID,
		modelID,
		fmt.Sprintf("%.2f:%.2f", w.Semantic, w.Lexical),
	} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Memory is an in-process domain.ResultCache with FIFO eviction, safe for
// concurrent use.
type Memory struct {
	capacity int
	mu       sync.RWMutex
	m        map[string]domain.Evaluation
	ord      []string
}

// NewMemory builds a Memory cache holding up to capacity entries.
func NewMemory(capacity int) *Memory {
	if capacity <= 0 {
		capacity = 512
	}
	return &Memory{
		capacity: capacity,
		m:        make(map[string]domain.Evaluation, capacity),
		ord:      make([]string, 0, capacity),
	}
}

// Get implements domain.ResultCache.
func (c *Memory) Get(_ domain.Context, key string) (domain.Evaluation, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ev, ok := c.m[key]
	if ok {
		observability.RecordCacheHit()
	} else {
		observability.RecordCacheMiss()
	}
	return ev, ok, nil
}

// Set implements domain.ResultCache. Overwrites are idempotent and do not
// consume extra capacity.
func (c *Memory) Set(_ domain.Context, key string, ev domain.Evaluation) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.m[key]; exists {
		c.m[key] = ev
		return nil
	}
	if len(c.ord) >= c.capacity {
		old := c.ord[0]
		c.ord = c.ord[1:]
		delete(c.m, old)
	}
	c.m[key] = ev
	c.ord = append(c.ord, key)
	return nil
}

// Len reports the number of cached entries.
func (c *Memory) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.m)
}
