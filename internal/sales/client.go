// Package sales estimates hourly sales rates from the Coflnet sold-auction
// history API.
//
// The upstream API is tier-agnostic for pets: one query for a pet family
// returns sold records across every rarity. The client therefore fetches per
// family, groups the records by tier, and caches an hourly rate for every
// tier of the family in one operation — including tiers with no sales, which
// are cached as rate 0 so a quiet tier does not trigger a re-fetch on every
// lookup. Results are cached for 24 hours by default.
//
// Requests are throttled by a blocking rate limiter sized to the API's
// documented allowance (30 requests per 10 seconds).
package sales

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"skyprofit/internal/logger"
)

const petPrefix = "PET_"

// Options configures a sales client.
type Options struct {
	// SoldAuctionsURL is the endpoint template with {itemTag} and {pageSize}
	// placeholders.
	SoldAuctionsURL string
	// PageSizes are tried in order until the API returns records; the API
	// silently truncates some large requests, so a descending sequence copes
	// with both behaviors.
	PageSizes         []int
	RequestsPerWindow int
	Window            time.Duration
	CacheTTL          time.Duration
	Timeout           time.Duration
	// Rarities is the ascending tier ladder; its indices are the tier
	// numbers written per family batch.
	Rarities []string
}

// Client fetches and caches hourly sales rates per item key.
type Client struct {
	opts        Options
	tierNumbers map[string]int
	httpClient  *http.Client
	limiter     *rate.Limiter

	rates    *gocache.Cache // item key -> float64 hourly rate
	attempts *gocache.Cache // family base ID -> struct{}{}, marks a recent whole-family fetch
	fetchMu  sync.Mutex     // serializes upstream fetches
}

// soldRecord is one entry of the sold-auction history payload.
type soldRecord struct {
	UUID string `json:"uuid"`
	End  string `json:"end"`
	Bin  bool   `json:"bin"`
	Tier string `json:"tier"`
}

// NewClient creates a sales client.
func NewClient(opts Options) *Client {
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 24 * time.Hour
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.RequestsPerWindow <= 0 {
		opts.RequestsPerWindow = 30
	}
	if opts.Window <= 0 {
		opts.Window = 10 * time.Second
	}
	if len(opts.PageSizes) == 0 {
		opts.PageSizes = []int{500, 250, 100, 50}
	}
	if len(opts.Rarities) == 0 {
		opts.Rarities = []string{"COMMON", "UNCOMMON", "RARE", "EPIC", "LEGENDARY", "MYTHIC"}
	}
	tierNumbers := make(map[string]int, len(opts.Rarities))
	for i, rarity := range opts.Rarities {
		tierNumbers[strings.ToUpper(rarity)] = i
	}
	return &Client{
		opts:        opts,
		tierNumbers: tierNumbers,
		httpClient:  &http.Client{Timeout: opts.Timeout},
		limiter:     rate.NewLimiter(rate.Every(opts.Window/time.Duration(opts.RequestsPerWindow)), opts.RequestsPerWindow),
		rates:       gocache.New(opts.CacheTTL, 10*time.Minute),
		attempts:    gocache.New(opts.CacheTTL, 10*time.Minute),
	}
}

// FetchHourlyRate returns the hourly sales rate for an item key, fetching
// from the upstream API when not cached. The second return is false when the
// rate could not be determined (network or payload failure); such failures
// are not cached, so a later call retries.
//
// Composite keys ("FAMILY;TIER") are resolved via a family fetch that
// populates every tier of the family at once.
func (c *Client) FetchHourlyRate(ctx context.Context, itemID string) (float64, bool) {
	if itemID == "" {
		return 0, false
	}

	isPet := strings.Contains(itemID, ";")
	key := normalizeKey(itemID)

	if rate, ok := c.cachedRate(itemID, key); ok {
		logger.Debug("Using cached sales rate for %s", key)
		return rate, true
	}

	base := key
	if isPet {
		base = strings.SplitN(key, ";", 2)[0]
		// A recent family fetch already wrote every tier; an evicted or
		// missing entry here still counts as "known, zero".
		if _, attempted := c.attempts.Get(base); attempted {
			if rate, ok := c.rates.Get(key); ok {
				return rate.(float64), true
			}
			return 0, true
		}
	}

	c.fetchMu.Lock()
	defer c.fetchMu.Unlock()

	// Another caller may have completed the same fetch while we waited.
	if rate, ok := c.rates.Get(key); ok {
		return rate.(float64), true
	}

	fetchID := strings.ReplaceAll(base, " ", "_")
	if isPet {
		fetchID = petPrefix + fetchID
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return 0, false
	}

	logger.Debug("Fetching sold-auction history for %s", fetchID)
	records, err := c.tryFetch(ctx, fetchID)
	if (err != nil || len(records) == 0) && isPet {
		// The upstream is inconsistent about the PET_ prefix.
		alt := strings.TrimPrefix(fetchID, petPrefix)
		logger.Debug("Retrying sold-auction history without prefix for %s", alt)
		records, err = c.tryFetch(ctx, alt)
	}
	if err != nil {
		// Transient failure: cache nothing so a later call can retry.
		logger.Debug("Failed to fetch sales for %s: %v", fetchID, err)
		return 0, false
	}

	now := time.Now()

	if len(records) == 0 {
		logger.Debug("No sales found for %s", fetchID)
		if isPet {
			c.writeFamilyBatch(base, nil, now)
		} else {
			c.rates.Set(key, 0.0, gocache.DefaultExpiration)
		}
		return 0, true
	}

	if isPet {
		grouped := make(map[string][]soldRecord)
		for _, record := range records {
			grouped[strings.ToUpper(record.Tier)] = append(grouped[strings.ToUpper(record.Tier)], record)
		}
		c.writeFamilyBatch(base, grouped, now)
		if rate, ok := c.rates.Get(key); ok {
			return rate.(float64), true
		}
		return 0, true
	}

	hourly := hourlyRate(records, now)
	logger.Debug("Sales rate for %s: %.2f/hr", key, hourly)
	c.rates.Set(key, hourly, gocache.DefaultExpiration)
	return hourly, true
}

// ClearCache drops all cached rates and family-attempt stamps.
func (c *Client) ClearCache() {
	logger.Debug("Clearing sales caches")
	c.rates.Flush()
	c.attempts.Flush()
}

// writeFamilyBatch caches a rate for every tier of a family in one pass:
// zeros first, then computed rates for tiers that had records. The attempt
// stamp suppresses re-fetching the family for any sibling tier within the
// TTL. Runs under fetchMu, so no reader of the family fetch path observes a
// half-written batch.
func (c *Client) writeFamilyBatch(base string, grouped map[string][]soldRecord, now time.Time) {
	c.attempts.Set(base, struct{}{}, gocache.DefaultExpiration)
	for i := range c.opts.Rarities {
		c.rates.Set(fmt.Sprintf("%s;%d", base, i), 0.0, gocache.DefaultExpiration)
	}
	for tierName, records := range grouped {
		tierNum, ok := c.tierNumbers[tierName]
		if !ok {
			continue
		}
		hourly := hourlyRate(records, now)
		logger.Debug("Sales rate for %s %s: %.2f/hr", base, tierName, hourly)
		c.rates.Set(fmt.Sprintf("%s;%d", base, tierNum), hourly, gocache.DefaultExpiration)
	}
}

// tryFetch requests sold records for one item tag, walking the configured
// page sizes until a non-empty result arrives. A nil error with an empty
// slice means the upstream genuinely has no records.
func (c *Client) tryFetch(ctx context.Context, itemTag string) ([]soldRecord, error) {
	var lastErr error
	for _, size := range c.opts.PageSizes {
		url := strings.NewReplacer(
			"{itemTag}", itemTag,
			"{pageSize}", fmt.Sprintf("%d", size),
		).Replace(c.opts.SoldAuctionsURL)

		records, err := c.fetchPage(ctx, url)
		if err != nil {
			lastErr = err
			continue
		}
		if len(records) > 0 {
			return records, nil
		}
	}
	return nil, lastErr
}

func (c *Client) fetchPage(ctx context.Context, url string) ([]soldRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
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

	var records []soldRecord
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		return nil, fmt.Errorf("failed to decode sold records: %w", err)
	}
	return records, nil
}

// cachedRate checks the cache under both the raw and normalized spellings.
func (c *Client) cachedRate(itemID, key string) (float64, bool) {
	if rate, ok := c.rates.Get(itemID); ok {
		return rate.(float64), true
	}
	if key != itemID {
		if rate, ok := c.rates.Get(key); ok {
			return rate.(float64), true
		}
	}
	return 0, false
}

// hourlyRate divides the record count by the hours elapsed since the oldest
// record, clamped to at least one hour.
func hourlyRate(records []soldRecord, now time.Time) float64 {
	oldest := now
	for _, record := range records {
		if end, err := parseEndTime(record.End); err == nil && end.Before(oldest) {
			oldest = end
		}
	}
	hours := now.Sub(oldest).Hours()
	if hours < 1 {
		hours = 1
	}
	return float64(len(records)) / hours
}

// parseEndTime parses the upstream timestamp, which sometimes omits the
// trailing zone designator.
func parseEndTime(s string) (time.Time, error) {
	if !strings.HasSuffix(s, "Z") {
		s += "Z"
	}
	return time.Parse(time.RFC3339, s)
}

// normalizeKey strips the PET_ prefix from the family part of an item key so
// cache entries are spelled consistently regardless of the caller's form.
func normalizeKey(itemID string) string {
	if !strings.Contains(itemID, ";") {
		return strings.TrimPrefix(itemID, petPrefix)
	}
	parts := strings.SplitN(itemID, ";", 2)
	return strings.TrimPrefix(parts[0], petPrefix) + ";" + parts[1]
}
