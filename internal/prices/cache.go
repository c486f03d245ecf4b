// Package prices resolves item prices against two independently cached market
// feeds: the bazaar order book and the lowest-BIN auction summary.
//
// A single snapshot holds both feeds and is replaced wholesale once its age
// exceeds the configured TTL. Either feed may be missing from a snapshot
// (fetch failure); resolution then degrades to the other feed, and ultimately
// to a zero quote meaning "unknown". Concurrent callers share one in-flight
// refresh.
package prices

import (
	"context"
	"strings"
	"sync"
	"time"

	"skyprofit/internal/logger"
	"skyprofit/internal/models"
)

// Priority selects which feed wins when an item is present in both.
type Priority int

const (
	// Either prefers the bazaar when present, otherwise the lowest BIN.
	Either Priority = iota
	// BazaarFirst resolves from the order book whenever the item is listed there.
	BazaarFirst
	// AuctionFirst resolves from the lowest BIN whenever a listing exists.
	AuctionFirst
)

// petPrefix is toggled on composite "FAMILY;TIER" IDs when the lowest-BIN
// feed indexes the pet under the alternate spelling.
const petPrefix = "PET_"

// Fetcher retrieves fresh copies of the two market feeds.
type Fetcher interface {
	FetchBazaar(ctx context.Context) (map[string]models.OrderBookEntry, error)
	FetchLowestBin(ctx context.Context) (map[string]float64, error)
}

// Options tunes cache behavior beyond the feed endpoints.
type Options struct {
	SnapshotTTL time.Duration
	// NPCItemCosts prices an item as a fixed bundle of other items
	// (e.g. frog treats bought with Agatha coupons).
	NPCItemCosts map[string]map[string]int
	// FallbackPrices substitute for items whose market data is unreliable;
	// used when the bazaar has no entry for the item.
	FallbackPrices map[string]float64
}

// snapshot holds one consistent read of both feeds. A nil map means that
// feed's fetch failed; it is never mutated after creation.
type snapshot struct {
	bazaar    map[string]models.OrderBookEntry
	lowestBin map[string]float64
	fetchedAt time.Time
}

// Cache answers price queries from the freshest available snapshot.
type Cache struct {
	fetcher Fetcher
	opts    Options

	mu        sync.RWMutex // guards snap
	snap      *snapshot
	refreshMu sync.Mutex // serializes snapshot refreshes
}

// NewCache creates a price cache backed by the given feed fetcher.
func NewCache(fetcher Fetcher, opts Options) *Cache {
	if opts.SnapshotTTL <= 0 {
		opts.SnapshotTTL = 15 * time.Minute
	}
	return &Cache{
		fetcher: fetcher,
		opts:    opts,
	}
}

// GetBuyPrice returns the price to acquire one unit of the item.
// Instant means taking the best standing order; otherwise placing your own.
func (c *Cache) GetBuyPrice(ctx context.Context, itemID string, instant bool, priority Priority) models.PriceQuote {
	return c.getPrice(ctx, itemID, instant, priority, true)
}

// GetSellPrice returns the price received for one unit of the item.
func (c *Cache) GetSellPrice(ctx context.Context, itemID string, instant bool, priority Priority) models.PriceQuote {
	return c.getPrice(ctx, itemID, instant, priority, false)
}

// HasBazaar reports whether the item has a bazaar order-book entry, for
// callers that branch presentation on source availability.
func (c *Cache) HasBazaar(ctx context.Context, itemID string) bool {
	if itemID == "" {
		return false
	}
	snap := c.getOrRefresh(ctx)
	_, ok := snap.bazaar[itemID]
	return ok
}

// Refresh replaces the snapshot when stale. With force, the current snapshot
// is dropped first so both feeds are re-fetched regardless of age.
func (c *Cache) Refresh(ctx context.Context, force bool) {
	if force {
		logger.Debug("Forcing price refresh, dropping cached snapshot")
		c.mu.Lock()
		c.snap = nil
		c.mu.Unlock()
	}
	c.getOrRefresh(ctx)
}

func (c *Cache) getPrice(ctx context.Context, itemID string, instant bool, priority Priority, isBuy bool) models.PriceQuote {
	if itemID == "" {
		return models.PriceQuote{Origin: models.OriginAuction}
	}

	// Items bought from an NPC for a bundle of other items are priced as the
	// sum of their components, when every component is known.
	if components, ok := c.opts.NPCItemCosts[itemID]; ok {
		total := 0.0
		allKnown := true
		for componentID, amount := range components {
			quote := c.getPrice(ctx, componentID, instant, priority, isBuy)
			if !quote.Known() {
				allKnown = false
			}
			total += quote.Price * float64(amount)
		}
		if allKnown && total > 0 {
			return models.PriceQuote{Price: total, Origin: models.OriginBazaar}
		}
	}

	snap := c.getOrRefresh(ctx)

	entry, hasBazaar := snap.bazaar[itemID]

	// Items with a configured fallback are priced from the bazaar when listed
	// there, and from the fallback otherwise.
	if fallback, ok := c.opts.FallbackPrices[itemID]; ok && !hasBazaar {
		return models.PriceQuote{Price: fallback, Origin: models.OriginBazaar}
	}

	lbin, hasLbin := snap.lowestBin[itemID]
	if !hasLbin && strings.Contains(itemID, ";") {
		// The lowest-BIN feed is inconsistent about the PET_ prefix on
		// composite pet IDs; try the alternate spelling before giving up.
		altID := petPrefix + itemID
		if strings.HasPrefix(itemID, petPrefix) {
			altID = strings.TrimPrefix(itemID, petPrefix)
		}
		lbin, hasLbin = snap.lowestBin[altID]
	}

	var bazaarPrice float64
	if hasBazaar {
		if isBuy == instant {
			bazaarPrice = entry.BuyPrice
		} else {
			bazaarPrice = entry.SellPrice
		}
	}

	switch priority {
	case AuctionFirst:
		if hasLbin {
			return models.PriceQuote{Price: lbin, Origin: models.OriginAuction}
		}
		if hasBazaar {
			return models.PriceQuote{Price: bazaarPrice, Origin: models.OriginBazaar}
		}
		return models.PriceQuote{Origin: models.OriginAuction}
	default: // BazaarFirst and Either both prefer the order book when present
		if hasBazaar {
			return models.PriceQuote{Price: bazaarPrice, Origin: models.OriginBazaar}
		}
		if hasLbin {
			return models.PriceQuote{Price: lbin, Origin: models.OriginAuction}
		}
		return models.PriceQuote{Origin: models.OriginAuction}
	}
}

// getOrRefresh returns the current snapshot, replacing it first when missing
// or older than the TTL. Only one refresh runs at a time; callers arriving
// during a refresh block until it completes, then reuse its result.
func (c *Cache) getOrRefresh(ctx context.Context) *snapshot {
	c.mu.RLock()
	snap := c.snap
	c.mu.RUnlock()
	if snap != nil && time.Since(snap.fetchedAt) < c.opts.SnapshotTTL {
		return snap
	}

	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	// Another caller may have refreshed while we waited for the lock.
	c.mu.RLock()
	snap = c.snap
	c.mu.RUnlock()
	if snap != nil && time.Since(snap.fetchedAt) < c.opts.SnapshotTTL {
		return snap
	}

	logger.Debug("Price snapshot expired or missing, fetching feeds")

	bazaar, err := c.fetcher.FetchBazaar(ctx)
	if err != nil {
		logger.Warn("Bazaar feed unavailable: %v", err)
		bazaar = nil
	}
	lowestBin, err := c.fetcher.FetchLowestBin(ctx)
	if err != nil {
		logger.Warn("Lowest-BIN feed unavailable: %v", err)
		lowestBin = nil
	}
	logger.Debug("Fetched %d bazaar products and %d lowest-BIN listings", len(bazaar), len(lowestBin))

	fresh := &snapshot{
		bazaar:    bazaar,
		lowestBin: lowestBin,
		fetchedAt: time.Now(),
	}
	c.mu.Lock()
	c.snap = fresh
	c.mu.Unlock()
	return fresh
}
