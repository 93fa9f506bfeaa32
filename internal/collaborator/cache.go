package collaborator

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// CacheEntry holds a cached downstream response.
type CacheEntry struct {
	Status    int
	Headers   http.Header
	Body      []byte
	ExpiresAt time.Time
	HitCount  int64
}

// ResponseCache keeps recommendation documents between regenerations. Entries are keyed
// by request path so a user's entries can be dropped together.
type ResponseCache struct {
	mu       sync.RWMutex
	entries  map[string]*CacheEntry
	maxSize  int
	maxEntry int64
	ttl      time.Duration
	now      func() time.Time

	stopCh chan struct{}
	once   sync.Once
}

// NewResponseCache creates a cache holding at most maxSize entries of up to
// maxEntrySize bytes. ttl applies when the backend sends no max-age.
func NewResponseCache(maxSize int, maxEntrySize int64, ttl time.Duration) *ResponseCache {
	return &ResponseCache{
		entries:  make(map[string]*CacheEntry),
		maxSize:  maxSize,
		maxEntry: maxEntrySize,
		ttl:      ttl,
		now:      time.Now,
		stopCh:   make(chan struct{}),
	}
}

// Start removes expired entries every interval until Close.
func (rc *ResponseCache) Start(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n := rc.purgeExpired(); n > 0 {
					log.Debug().Int("purged", n).Msg("expired recommendation entries removed")
				}
			case <-rc.stopCh:
				return
			}
		}
	}()
}

func (rc *ResponseCache) Close() {
	rc.once.Do(func() { close(rc.stopCh) })
}

// Get retrieves a cached response if it exists and isn't expired.
func (rc *ResponseCache) Get(key string) (*CacheEntry, bool) {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	entry, ok := rc.entries[key]
	if !ok {
		return nil, false
	}
	if rc.now().After(entry.ExpiresAt) {
		delete(rc.entries, key)
		return nil, false
	}
	entry.HitCount++
	return entry, true
}

// Set stores an entry, evicting the least used one when full.
func (rc *ResponseCache) Set(key string, entry *CacheEntry) {
	if int64(len(entry.Body)) > rc.maxEntry {
		return
	}

	rc.mu.Lock()
	defer rc.mu.Unlock()

	if _, exists := rc.entries[key]; !exists && len(rc.entries) >= rc.maxSize {
		rc.evictLeastUsed()
	}
	rc.entries[key] = entry
}

// InvalidatePrefix drops every entry whose key starts with prefix.
func (rc *ResponseCache) InvalidatePrefix(prefix string) int {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	n := 0
	for key := range rc.entries {
		if strings.HasPrefix(key, prefix) {
			delete(rc.entries, key)
			n++
		}
	}
	return n
}

func (rc *ResponseCache) Len() int {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	return len(rc.entries)
}

func (rc *ResponseCache) evictLeastUsed() {
	var victim string
	minHits := int64(-1)
	for key, entry := range rc.entries {
		if minHits < 0 || entry.HitCount < minHits {
			minHits = entry.HitCount
			victim = key
		}
	}
	if victim != "" {
		delete(rc.entries, victim)
	}
}

func (rc *ResponseCache) purgeExpired() int {
	now := rc.now()
	rc.mu.Lock()
	defer rc.mu.Unlock()
	n := 0
	for key, entry := range rc.entries {
		if now.After(entry.ExpiresAt) {
			delete(rc.entries, key)
			n++
		}
	}
	return n
}

// ttlFor honours Cache-Control from the backend. no-store disables caching.
func (rc *ResponseCache) ttlFor(h http.Header) (time.Duration, bool) {
	cc := h.Get("Cache-Control")
	for _, directive := range strings.Split(cc, ",") {
		directive = strings.TrimSpace(directive)
		if directive == "no-store" || directive == "no-cache" {
			return 0, false
		}
		var maxAge int
		if _, err := fmt.Sscanf(directive, "max-age=%d", &maxAge); err == nil && maxAge > 0 {
			return time.Duration(maxAge) * time.Second, true
		}
	}
	return rc.ttl, rc.ttl > 0
}

// CachedRoundTripper serves GET requests from a ResponseCache.
type CachedRoundTripper struct {
	transport http.RoundTripper
	cache     *ResponseCache
}

func NewCachedRoundTripper(transport http.RoundTripper, cache *ResponseCache) *CachedRoundTripper {
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &CachedRoundTripper{transport: transport, cache: cache}
}

// RoundTrip implements http.RoundTripper.
func (crt *CachedRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Method != http.MethodGet {
		return crt.transport.RoundTrip(req)
	}

	key := req.URL.EscapedPath()
	if req.URL.RawQuery != "" {
		key += "?" + req.URL.RawQuery
	}
	if cached, ok := crt.cache.Get(key); ok {
		h := cached.Headers.Clone()
		h.Set("X-Cache", "HIT")
		return &http.Response{
			Status:        fmt.Sprintf("%d %s", cached.Status, http.StatusText(cached.Status)),
			StatusCode:    cached.Status,
			Proto:         "HTTP/1.1",
			ProtoMajor:    1,
			ProtoMinor:    1,
			Header:        h,
			Body:          io.NopCloser(bytes.NewReader(cached.Body)),
			ContentLength: int64(len(cached.Body)),
			Request:       req,
		}, nil
	}

	resp, err := crt.transport.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusOK {
		if ttl, ok := crt.cache.ttlFor(resp.Header); ok {
			crt.cache.Set(key, &CacheEntry{
				Status:    resp.StatusCode,
				Headers:   resp.Header.Clone(),
				Body:      body,
				ExpiresAt: crt.cache.now().Add(ttl),
			})
		}
	}
	resp.Header.Set("X-Cache", "MISS")
	resp.Body = io.NopCloser(bytes.NewReader(body))
	return resp, nil
}
