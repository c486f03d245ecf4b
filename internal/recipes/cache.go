// Package recipes caches pet crafting recipes keyed by family and tier.
//
// Recipes are treated as immutable once known: an entry is written on first
// successful fetch, persisted to a JSON cache file, and never expires. Missing
// entries are fetched asynchronously; callers get a callback when the recipe
// arrives and re-query the cache. Fetch progress is exposed so a caller can
// drive a progress indicator without polling fetch internals.
package recipes

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"skyprofit/internal/logger"
)

// Options configures the recipe cache.
type Options struct {
	// RecipeURL is the endpoint template with an {itemTag} placeholder; the
	// tag ("FAMILY;TIER") is URL-escaped before substitution.
	RecipeURL         string
	CacheFile         string
	RequestsPerWindow int
	Window            time.Duration
	Timeout           time.Duration
}

// Cache is the recipe store plus its background fetcher.
type Cache struct {
	opts       Options
	httpClient *http.Client
	limiter    *rate.Limiter

	mu      sync.RWMutex
	entries map[string]map[string]int // "FAMILY;TIER" -> material -> quantity

	pendingMu sync.Mutex
	pending   map[string]struct{}
	requested int
	completed int
}

// New creates a recipe cache and loads any previously persisted entries.
// A missing or unreadable cache file is not an error; the cache starts empty.
func New(opts Options) *Cache {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.RequestsPerWindow <= 0 {
		opts.RequestsPerWindow = 30
	}
	if opts.Window <= 0 {
		opts.Window = 10 * time.Second
	}
	c := &Cache{
		opts:       opts,
		httpClient: &http.Client{Timeout: opts.Timeout},
		limiter:    rate.NewLimiter(rate.Every(opts.Window/time.Duration(opts.RequestsPerWindow)), opts.RequestsPerWindow),
		entries:    make(map[string]map[string]int),
		pending:    make(map[string]struct{}),
	}
	c.loadFromFile()
	return c
}

// Cached returns the material list for a (family, tier) pair, cache-only.
// It never blocks on the network.
func (c *Cache) Cached(family string, tier int) (map[string]int, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	materials, ok := c.entries[cacheKey(family, tier)]
	return materials, ok
}

// FetchInBackground schedules an asynchronous fetch of a missing recipe.
// Already-cached and already-in-flight keys are no-ops. On success the entry
// is stored, persisted, and onAvailable is invoked so the caller can
// recompute with the new data.
func (c *Cache) FetchInBackground(ctx context.Context, family string, tier int, onAvailable func()) {
	key := cacheKey(family, tier)

	c.mu.RLock()
	_, cached := c.entries[key]
	c.mu.RUnlock()
	if cached {
		return
	}

	c.pendingMu.Lock()
	if _, inFlight := c.pending[key]; inFlight {
		c.pendingMu.Unlock()
		return
	}
	c.pending[key] = struct{}{}
	c.requested++
	c.pendingMu.Unlock()

	go func() {
		// The pending entry must be removed even on failure, or the key
		// could never be retried.
		defer func() {
			c.pendingMu.Lock()
			c.completed++
			delete(c.pending, key)
			c.pendingMu.Unlock()
		}()

		materials, err := c.fetchRecipe(ctx, family, tier)
		if err != nil {
			logger.Debug("Recipe fetch for %s failed: %v", key, err)
			return
		}
		if materials == nil {
			logger.Debug("No recipe published for %s", key)
			return
		}

		c.mu.Lock()
		c.entries[key] = materials
		c.mu.Unlock()

		if err := c.saveToFile(); err != nil {
			logger.Warn("Failed to persist recipe cache: %v", err)
		}

		if onAvailable != nil {
			onAvailable()
		}
	}()
}

// HasPending reports whether any background fetch is still in flight.
func (c *Cache) HasPending() bool {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	return len(c.pending) > 0
}

// Progress returns completed/requested in [0,1]; 1.0 when nothing was ever
// requested (idle).
func (c *Cache) Progress() float64 {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	if c.requested == 0 {
		return 1.0
	}
	return float64(c.completed) / float64(c.requested)
}

// ResetProgress zeroes the progress counters.
func (c *Cache) ResetProgress() {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	c.requested = 0
	c.completed = 0
}

// Size returns the number of cached recipes.
func (c *Cache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// ClearCache drops all entries and removes the cache file.
func (c *Cache) ClearCache() {
	c.mu.Lock()
	c.entries = make(map[string]map[string]int)
	c.mu.Unlock()
	if err := os.Remove(c.opts.CacheFile); err != nil && !os.IsNotExist(err) {
		logger.Warn("Failed to remove recipe cache file: %v", err)
	}
	logger.Debug("Recipe cache cleared")
}

// fetchRecipe retrieves and flattens one recipe. The upstream responds with a
// crafting-grid map of slot -> "MATERIAL_ID:QUANTITY"; quantities of the same
// material across slots are summed. A "null" body means no recipe exists,
// reported as (nil, nil).
func (c *Cache) fetchRecipe(ctx context.Context, family string, tier int) (map[string]int, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	tag := strings.ToUpper(strings.ReplaceAll(family, " ", "_")) + ";" + strconv.Itoa(tier)
	endpoint := strings.Replace(c.opts.RecipeURL, "{itemTag}", url.PathEscape(tag), 1)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var grid map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&grid); err != nil {
		return nil, fmt.Errorf("failed to decode recipe: %w", err)
	}
	if grid == nil {
		return nil, nil
	}

	materials := make(map[string]int)
	for _, slot := range grid {
		id, quantity, ok := strings.Cut(slot, ":")
		if !ok || id == "" {
			continue
		}
		amount, err := strconv.Atoi(quantity)
		if err != nil {
			amount = 1
		}
		materials[id] += amount
	}
	if len(materials) == 0 {
		return nil, nil
	}
	return materials, nil
}

// loadFromFile restores persisted entries at startup, best-effort.
func (c *Cache) loadFromFile() {
	data, err := os.ReadFile(c.opts.CacheFile)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warn("Failed to read recipe cache file: %v", err)
		}
		return
	}

	var entries map[string]map[string]int
	if err := json.Unmarshal(data, &entries); err != nil {
		logger.Warn("Failed to parse recipe cache file: %v", err)
		return
	}

	c.mu.Lock()
	for key, materials := range entries {
		c.entries[key] = materials
	}
	c.mu.Unlock()
	logger.Debug("Loaded %d recipes from cache file", len(entries))
}

// saveToFile persists all entries with an atomic tmp-file-and-rename write.
func (c *Cache) saveToFile() error {
	c.mu.RLock()
	data, err := json.MarshalIndent(c.entries, "", "  ")
	c.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to marshal recipe cache: %w", err)
	}

	dir := filepath.Dir(c.opts.CacheFile)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	tempPath := c.opts.CacheFile + ".tmp"
	if err := os.WriteFile(tempPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write cache file: %w", err)
	}
	if err := os.Rename(tempPath, c.opts.CacheFile); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to rename cache file: %w", err)
	}
	return nil
}

func cacheKey(family string, tier int) string {
	return strings.ToUpper(strings.ReplaceAll(family, " ", "_")) + ";" + strconv.Itoa(tier)
}
