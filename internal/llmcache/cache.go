// Package llmcache implements the persistent, typed cache that sits in
// front of the LLM race (internal/llm), grounded on the teacher's
// internal/conversation/faq_cache.go (an in-memory lookup that bypasses the
// LLM for known inputs) and on the original Python service's
// utils/cache.py (eager-load-to-memory, on-disk JSON/binary backing,
// sanitized cache-key derivation).
//
// Per the REDESIGN FLAGS "Dynamic cache values" note, this cache is
// parameterized by a concrete result type T instead of storing arbitrary
// JSON blobs: each higher-level primitive in primitives.go gets its own
// Cache[ResultType], so a cache hit can never hand a caller a value shaped
// differently than what ask() would have produced.
package llmcache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"golang.org/x/text/unicode/norm"
)

var (
	combiningMark = regexp.MustCompile(`\p{Mn}`)
	nonAlnum      = regexp.MustCompile(`[^a-z0-9]`)
	underscoreRun = regexp.MustCompile(`_+`)
)

// CacheKey derives the on-disk/in-memory key for a request's input fields,
// per spec.md §4.3's key-derivation rule. Map iteration in Go is randomized,
// so the caller-supplied field names are sorted here for a stable key.
func CacheKey(input map[string]string) string {
	keys := make([]string, 0, len(input))
	for k := range input {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	values := make([]string, 0, len(keys))
	for _, k := range keys {
		if v := strings.TrimSpace(input[k]); v != "" {
			values = append(values, v)
		}
	}

	if len(values) == 0 {
		data, _ := json.Marshal(input) // encoding/json sorts map keys
		sum := sha256.Sum256(data)
		return hex.EncodeToString(sum[:])
	}

	combined := strings.ToLower(strings.Join(values, " | "))
	normalized := norm.NFD.String(combined)
	withoutMarks := combiningMark.ReplaceAllString(normalized, "")
	sanitized := nonAlnum.ReplaceAllString(withoutMarks, "_")
	sanitized = underscoreRun.ReplaceAllString(sanitized, "_")
	return strings.Trim(sanitized, "_")
}

// Cache is an on-disk, JSON-backed key/value store for a single result
// type, namespaced by directory. It eagerly loads every existing entry
// into memory at construction, matching CacheManager._load_all_cache's
// behavior in the original, and serializes writes with a mutex since the
// key space is small and can be contended across concurrent calls
// (SPEC_FULL.md §7 concurrency notes).
type Cache[T any] struct {
	dir string
	mu  sync.RWMutex
	mem map[string]T
}

// NewCache opens (creating if needed) root/namespace and loads every
// "*.json" entry it contains into memory.
func NewCache[T any](root, namespace string) (*Cache[T], error) {
	dir := filepath.Join(root, namespace)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("llmcache: create cache dir %s: %w", dir, err)
	}
	c := &Cache[T]{dir: dir, mem: make(map[string]T)}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("llmcache: read cache dir %s: %w", dir, err)
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			continue // a damaged cache file is a stale hit, not a fatal error
		}
		var value T
		if err := json.Unmarshal(data, &value); err != nil {
			continue
		}
		key := strings.TrimSuffix(entry.Name(), ".json")
		c.mem[key] = value
	}
	return c, nil
}

// Get returns the cached value for key, if any.
func (c *Cache[T]) Get(key string) (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.mem[key]
	return v, ok
}

// Set stores value under key, writing through to disk and memory.
func (c *Cache[T]) Set(key string, value T) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("llmcache: marshal cache value: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := os.WriteFile(filepath.Join(c.dir, key+".json"), data, 0o644); err != nil {
		return fmt.Errorf("llmcache: write cache file: %w", err)
	}
	c.mem[key] = value
	return nil
}
