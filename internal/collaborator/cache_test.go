package collaborator

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResponseCache_SetGetExpire(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	rc := NewResponseCache(10, 1024, time.Minute)
	rc.now = func() time.Time { return now }

	rc.Set("/users/u1/recommendations/meals", &CacheEntry{Status: 200, Body: []byte("{}"), ExpiresAt: now.Add(time.Minute)})
	e, ok := rc.Get("/users/u1/recommendations/meals")
	require.True(t, ok)
	assert.Equal(t, int64(1), e.HitCount)

	now = now.Add(2 * time.Minute)
	_, ok = rc.Get("/users/u1/recommendations/meals")
	assert.False(t, ok)
	assert.Equal(t, 0, rc.Len())
}

func TestResponseCache_SizeLimits(t *testing.T) {
	rc := NewResponseCache(2, 4, time.Minute)
	exp := time.Now().Add(time.Hour)

	rc.Set("big", &CacheEntry{Body: []byte("too large"), ExpiresAt: exp})
	assert.Equal(t, 0, rc.Len())

	rc.Set("a", &CacheEntry{Body: []byte("a"), ExpiresAt: exp})
	rc.Set("b", &CacheEntry{Body: []byte("b"), ExpiresAt: exp})
	rc.Get("a")
	rc.Set("c", &CacheEntry{Body: []byte("c"), ExpiresAt: exp})

	assert.Equal(t, 2, rc.Len())
	_, ok := rc.Get("a")
	assert.True(t, ok, "most used entry survives")
	_, ok = rc.Get("b")
	assert.False(t, ok, "least used entry is evicted")
}

func TestResponseCache_InvalidatePrefix(t *testing.T) {
	rc := NewResponseCache(10, 1024, time.Minute)
	exp := time.Now().Add(time.Hour)
	for _, k := range []string{"/users/u1/recommendations/meals", "/users/u1/recommendations/workouts", "/users/u2/recommendations/meals"} {
		rc.Set(k, &CacheEntry{Body: []byte("x"), ExpiresAt: exp})
	}
	assert.Equal(t, 2, rc.InvalidatePrefix("/users/u1/"))
	assert.Equal(t, 1, rc.Len())
}

func TestResponseCache_PurgeLoop(t *testing.T) {
	rc := NewResponseCache(10, 1024, time.Minute)
	rc.Set("old", &CacheEntry{Body: []byte("x"), ExpiresAt: time.Now().Add(-time.Second)})
	rc.Start(10 * time.Millisecond)
	defer rc.Close()

	assert.Eventually(t, func() bool { return rc.Len() == 0 }, time.Second, 10*time.Millisecond)
}

func TestCachedRoundTripper(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := hits.Add(1)
		if r.URL.Path == "/nostore" {
			w.Header().Set("Cache-Control", "no-store")
		}
		fmt.Fprintf(w, `{"n":%d}`, n)
	}))
	defer srv.Close()

	client := &http.Client{Transport: NewCachedRoundTripper(nil, NewResponseCache(10, 1024, time.Minute))}

	get := func(path string) (string, string) {
		resp, err := client.Get(srv.URL + path)
		require.NoError(t, err)
		defer resp.Body.Close()
		var buf [64]byte
		n, _ := resp.Body.Read(buf[:])
		return string(buf[:n]), resp.Header.Get("X-Cache")
	}

	body, state := get("/doc")
	assert.Equal(t, `{"n":1}`, body)
	assert.Equal(t, "MISS", state)

	body, state = get("/doc")
	assert.Equal(t, `{"n":1}`, body)
	assert.Equal(t, "HIT", state)

	get("/nostore")
	body, state = get("/nostore")
	assert.Equal(t, `{"n":3}`, body)
	assert.Equal(t, "MISS", state)

	resp, err := client.Post(srv.URL+"/doc", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, int32(4), hits.Load())
}

func TestTTLFor(t *testing.T) {
	rc := NewResponseCache(1, 1, 5*time.Minute)

	ttl, ok := rc.ttlFor(http.Header{"Cache-Control": {"public, max-age=30"}})
	assert.True(t, ok)
	assert.Equal(t, 30*time.Second, ttl)

	_, ok = rc.ttlFor(http.Header{"Cache-Control": {"no-cache"}})
	assert.False(t, ok)

	ttl, ok = rc.ttlFor(http.Header{})
	assert.True(t, ok)
	assert.Equal(t, 5*time.Minute, ttl)
}
