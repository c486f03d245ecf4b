package recipes

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

func gridServer(t *testing.T, requests *int32, body string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests != nil {
			atomic.AddInt32(requests, 1)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	}))
}

func testCache(t *testing.T, serverURL string) *Cache {
	t.Helper()
	return New(Options{
		RecipeURL: serverURL + "/craft/recipe/{itemTag}",
		CacheFile: filepath.Join(t.TempDir(), "recipe_cache.json"),
	})
}

func TestFetchAndAggregateGrid(t *testing.T) {
	server := gridServer(t, nil, `{
		"A1": "ENCHANTED_BONE:64",
		"A2": "ENCHANTED_BONE:64",
		"A3": "ENCHANTED_STRING:32",
		"B1": ""
	}`)
	defer server.Close()

	cache := testCache(t, server.URL)

	var notified int32
	cache.FetchInBackground(context.Background(), "Wolf", 0, func() {
		atomic.AddInt32(&notified, 1)
	})

	waitFor(t, "recipe fetch", func() bool {
		_, ok := cache.Cached("Wolf", 0)
		return ok
	})

	materials, _ := cache.Cached("Wolf", 0)
	if materials["ENCHANTED_BONE"] != 128 {
		t.Errorf("ENCHANTED_BONE = %d, want 128 (summed across slots)", materials["ENCHANTED_BONE"])
	}
	if materials["ENCHANTED_STRING"] != 32 {
		t.Errorf("ENCHANTED_STRING = %d, want 32", materials["ENCHANTED_STRING"])
	}

	waitFor(t, "completion callback", func() bool {
		return atomic.LoadInt32(&notified) == 1
	})
	if cache.Size() != 1 {
		t.Errorf("Size = %d, want 1", cache.Size())
	}
}

func TestInFlightDedup(t *testing.T) {
	var requests int32
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		<-release
		w.Write([]byte(`{"A1": "ENCHANTED_BONE:64"}`))
	}))
	defer server.Close()

	cache := testCache(t, server.URL)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		cache.FetchInBackground(ctx, "Wolf", 0, nil)
	}
	if !cache.HasPending() {
		t.Fatal("Expected a pending fetch")
	}
	close(release)

	waitFor(t, "fetch completion", func() bool { return !cache.HasPending() })
	if n := atomic.LoadInt32(&requests); n != 1 {
		t.Errorf("Expected 1 upstream request, got %d", n)
	}

	// Cached key: further schedules are no-ops
	cache.FetchInBackground(ctx, "Wolf", 0, nil)
	time.Sleep(20 * time.Millisecond)
	if n := atomic.LoadInt32(&requests); n != 1 {
		t.Errorf("Cached key triggered %d extra requests", n-1)
	}
}

func TestProgressLifecycle(t *testing.T) {
	server := gridServer(t, nil, `{"A1": "ENCHANTED_BONE:64"}`)
	defer server.Close()

	cache := testCache(t, server.URL)

	if p := cache.Progress(); p != 1.0 {
		t.Errorf("Idle progress = %.2f, want 1.0", p)
	}

	cache.FetchInBackground(context.Background(), "Wolf", 0, nil)
	cache.FetchInBackground(context.Background(), "Ocelot", 0, nil)

	waitFor(t, "all fetches", func() bool { return cache.Progress() == 1.0 })

	cache.ResetProgress()
	if p := cache.Progress(); p != 1.0 {
		t.Errorf("Progress after reset = %.2f, want 1.0 (idle)", p)
	}
}

func TestFailedFetchRetryable(t *testing.T) {
	var failing atomic.Bool
	failing.Store(true)
	var requests int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		if failing.Load() {
			http.Error(w, "upstream error", http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"A1": "ENCHANTED_BONE:64"}`))
	}))
	defer server.Close()

	cache := testCache(t, server.URL)
	ctx := context.Background()

	cache.FetchInBackground(ctx, "Wolf", 0, nil)
	waitFor(t, "failed fetch to clear", func() bool { return !cache.HasPending() })

	if _, ok := cache.Cached("Wolf", 0); ok {
		t.Fatal("Failed fetch must not populate the cache")
	}

	// The pending slot was released, so the key can be fetched again
	failing.Store(false)
	cache.FetchInBackground(ctx, "Wolf", 0, nil)
	waitFor(t, "retry", func() bool {
		_, ok := cache.Cached("Wolf", 0)
		return ok
	})
}

func TestNullRecipeNotCached(t *testing.T) {
	server := gridServer(t, nil, `null`)
	defer server.Close()

	cache := testCache(t, server.URL)
	var notified int32
	cache.FetchInBackground(context.Background(), "Wolf", 0, func() {
		atomic.AddInt32(&notified, 1)
	})

	waitFor(t, "fetch completion", func() bool { return !cache.HasPending() })
	if _, ok := cache.Cached("Wolf", 0); ok {
		t.Error("A null recipe should not be cached")
	}
	if atomic.LoadInt32(&notified) != 0 {
		t.Error("onAvailable must not fire for a missing recipe")
	}
}

func TestPersistenceRoundTrip(t *testing.T) {
	server := gridServer(t, nil, `{"A1": "ENCHANTED_BONE:64"}`)
	defer server.Close()

	cacheFile := filepath.Join(t.TempDir(), "recipe_cache.json")
	opts := Options{
		RecipeURL: server.URL + "/craft/recipe/{itemTag}",
		CacheFile: cacheFile,
	}

	first := New(opts)
	first.FetchInBackground(context.Background(), "Wolf", 0, nil)
	waitFor(t, "fetch and persist", func() bool {
		_, ok := first.Cached("Wolf", 0)
		return ok && !first.HasPending()
	})

	// A fresh cache over the same file starts warm
	second := New(opts)
	materials, ok := second.Cached("Wolf", 0)
	if !ok {
		t.Fatal("Expected the persisted recipe after restart")
	}
	if materials["ENCHANTED_BONE"] != 64 {
		t.Errorf("Restored ENCHANTED_BONE = %d, want 64", materials["ENCHANTED_BONE"])
	}
}

func TestClearCache(t *testing.T) {
	server := gridServer(t, nil, `{"A1": "ENCHANTED_BONE:64"}`)
	defer server.Close()

	opts := Options{
		RecipeURL: server.URL + "/craft/recipe/{itemTag}",
		CacheFile: filepath.Join(t.TempDir(), "recipe_cache.json"),
	}
	cache := New(opts)
	cache.FetchInBackground(context.Background(), "Wolf", 0, nil)
	waitFor(t, "fetch", func() bool {
		_, ok := cache.Cached("Wolf", 0)
		return ok
	})

	cache.ClearCache()
	if cache.Size() != 0 {
		t.Errorf("Size after clear = %d, want 0", cache.Size())
	}
	if restarted := New(opts); restarted.Size() != 0 {
		t.Errorf("Cache file should be gone after clear, restart loaded %d entries", restarted.Size())
	}
}
