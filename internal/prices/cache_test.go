package prices

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"skyprofit/internal/models"
)

// stubFetcher serves fixed feed data and counts fetches.
type stubFetcher struct {
	bazaar    map[string]models.OrderBookEntry
	lowestBin map[string]float64
	bazaarErr error
	lbinErr   error

	bazaarCalls int32
	lbinCalls   int32
}

func (s *stubFetcher) FetchBazaar(ctx context.Context) (map[string]models.OrderBookEntry, error) {
	atomic.AddInt32(&s.bazaarCalls, 1)
	if s.bazaarErr != nil {
		return nil, s.bazaarErr
	}
	return s.bazaar, nil
}

func (s *stubFetcher) FetchLowestBin(ctx context.Context) (map[string]float64, error) {
	atomic.AddInt32(&s.lbinCalls, 1)
	if s.lbinErr != nil {
		return nil, s.lbinErr
	}
	return s.lowestBin, nil
}

func TestSnapshotReuseWithinTTL(t *testing.T) {
	fetcher := &stubFetcher{
		bazaar:    map[string]models.OrderBookEntry{"ITEM_A": {BuyPrice: 100, SellPrice: 90}},
		lowestBin: map[string]float64{"ITEM_A": 95},
	}
	cache := NewCache(fetcher, Options{SnapshotTTL: time.Hour})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		cache.GetBuyPrice(ctx, "ITEM_A", true, Either)
	}

	if n := atomic.LoadInt32(&fetcher.bazaarCalls); n != 1 {
		t.Errorf("Expected 1 bazaar fetch, got %d", n)
	}
	if n := atomic.LoadInt32(&fetcher.lbinCalls); n != 1 {
		t.Errorf("Expected 1 lowest-BIN fetch, got %d", n)
	}
}

func TestForceRefreshDropsSnapshot(t *testing.T) {
	fetcher := &stubFetcher{
		bazaar: map[string]models.OrderBookEntry{"ITEM_A": {BuyPrice: 100, SellPrice: 90}},
	}
	cache := NewCache(fetcher, Options{SnapshotTTL: time.Hour})
	ctx := context.Background()

	cache.GetBuyPrice(ctx, "ITEM_A", true, Either)
	cache.Refresh(ctx, true)

	if n := atomic.LoadInt32(&fetcher.bazaarCalls); n != 2 {
		t.Errorf("Expected 2 bazaar fetches after forced refresh, got %d", n)
	}
}

func TestBazaarPriceSelection(t *testing.T) {
	fetcher := &stubFetcher{
		bazaar: map[string]models.OrderBookEntry{"ITEM_A": {BuyPrice: 100, SellPrice: 90}},
	}
	cache := NewCache(fetcher, Options{SnapshotTTL: time.Hour})
	ctx := context.Background()

	tests := []struct {
		name    string
		isBuy   bool
		instant bool
		want    float64
	}{
		{"instant buy pays the ask", true, true, 100},
		{"resting buy order fills at the bid", true, false, 90},
		{"instant sell receives the bid", false, true, 90},
		{"resting sell order fills at the ask", false, false, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var quote models.PriceQuote
			if tt.isBuy {
				quote = cache.GetBuyPrice(ctx, "ITEM_A", tt.instant, Either)
			} else {
				quote = cache.GetSellPrice(ctx, "ITEM_A", tt.instant, Either)
			}
			if quote.Price != tt.want {
				t.Errorf("Got %.0f, want %.0f", quote.Price, tt.want)
			}
			if quote.Origin != models.OriginBazaar {
				t.Errorf("Got origin %s, want bazaar", quote.Origin)
			}
		})
	}
}

func TestPriorityResolution(t *testing.T) {
	fetcher := &stubFetcher{
		bazaar:    map[string]models.OrderBookEntry{"BOTH": {BuyPrice: 100, SellPrice: 90}},
		lowestBin: map[string]float64{"BOTH": 80, "AH_ONLY": 70},
	}
	cache := NewCache(fetcher, Options{SnapshotTTL: time.Hour})
	ctx := context.Background()

	if q := cache.GetBuyPrice(ctx, "BOTH", true, Either); q.Price != 100 || q.Origin != models.OriginBazaar {
		t.Errorf("Either should prefer bazaar, got %.0f from %s", q.Price, q.Origin)
	}
	if q := cache.GetBuyPrice(ctx, "BOTH", true, BazaarFirst); q.Price != 100 {
		t.Errorf("BazaarFirst got %.0f, want 100", q.Price)
	}
	if q := cache.GetBuyPrice(ctx, "BOTH", true, AuctionFirst); q.Price != 80 || q.Origin != models.OriginAuction {
		t.Errorf("AuctionFirst should prefer lowest BIN, got %.0f from %s", q.Price, q.Origin)
	}
	if q := cache.GetBuyPrice(ctx, "AH_ONLY", true, BazaarFirst); q.Price != 70 || q.Origin != models.OriginAuction {
		t.Errorf("BazaarFirst should fall back to lowest BIN, got %.0f from %s", q.Price, q.Origin)
	}
	if q := cache.GetBuyPrice(ctx, "MISSING", true, Either); q.Known() {
		t.Errorf("Missing item should be unknown, got %.0f", q.Price)
	}
}

func TestPetPrefixFallback(t *testing.T) {
	fetcher := &stubFetcher{
		lowestBin: map[string]float64{"PET_WOLF;3": 500000, "OCELOT;2": 30000},
	}
	cache := NewCache(fetcher, Options{SnapshotTTL: time.Hour})
	ctx := context.Background()

	// Bare ID resolved via the PET_ spelling
	if q := cache.GetBuyPrice(ctx, "WOLF;3", true, Either); q.Price != 500000 {
		t.Errorf("WOLF;3 got %.0f, want 500000", q.Price)
	}
	// PET_ ID resolved via the bare spelling
	if q := cache.GetBuyPrice(ctx, "PET_OCELOT;2", true, Either); q.Price != 30000 {
		t.Errorf("PET_OCELOT;2 got %.0f, want 30000", q.Price)
	}
	// No toggling on simple IDs
	if q := cache.GetBuyPrice(ctx, "WOLF", true, Either); q.Known() {
		t.Errorf("Simple ID should not toggle prefix, got %.0f", q.Price)
	}
}

func TestNPCItemCosts(t *testing.T) {
	fetcher := &stubFetcher{
		bazaar: map[string]models.OrderBookEntry{"AGATHA_COUPON": {BuyPrice: 20000, SellPrice: 19000}},
	}
	cache := NewCache(fetcher, Options{
		SnapshotTTL: time.Hour,
		NPCItemCosts: map[string]map[string]int{
			"SMALL_FROG_TREAT": {"AGATHA_COUPON": 30},
		},
	})
	ctx := context.Background()

	q := cache.GetBuyPrice(ctx, "SMALL_FROG_TREAT", true, Either)
	if q.Price != 600000 {
		t.Errorf("Expected 30 coupons at 20000 = 600000, got %.0f", q.Price)
	}
	if q.Origin != models.OriginBazaar {
		t.Errorf("Component-priced item should report bazaar origin, got %s", q.Origin)
	}
}

func TestFallbackPrices(t *testing.T) {
	fetcher := &stubFetcher{
		bazaar: map[string]models.OrderBookEntry{"LISTED": {BuyPrice: 10, SellPrice: 9}},
	}
	cache := NewCache(fetcher, Options{
		SnapshotTTL: time.Hour,
		FallbackPrices: map[string]float64{
			"LISTED":   999,
			"UNLISTED": 15000,
		},
	})
	ctx := context.Background()

	// Bazaar listing wins over the fallback
	if q := cache.GetBuyPrice(ctx, "LISTED", true, Either); q.Price != 10 {
		t.Errorf("Listed item got %.0f, want bazaar 10", q.Price)
	}
	// Fallback applies when the bazaar has no entry
	if q := cache.GetBuyPrice(ctx, "UNLISTED", true, Either); q.Price != 15000 {
		t.Errorf("Unlisted item got %.0f, want fallback 15000", q.Price)
	}
}

func TestFeedOutageDegradation(t *testing.T) {
	fetcher := &stubFetcher{
		bazaarErr: errors.New("upstream down"),
		lowestBin: map[string]float64{"ITEM_A": 95},
	}
	cache := NewCache(fetcher, Options{SnapshotTTL: time.Hour})
	ctx := context.Background()

	// Bazaar outage degrades to the other feed
	if q := cache.GetBuyPrice(ctx, "ITEM_A", true, Either); q.Price != 95 || q.Origin != models.OriginAuction {
		t.Errorf("Got %.0f from %s, want 95 from auction", q.Price, q.Origin)
	}

	// Both feeds down: unknown quote, no panic
	both := &stubFetcher{bazaarErr: errors.New("down"), lbinErr: errors.New("down")}
	cache = NewCache(both, Options{SnapshotTTL: time.Hour})
	if q := cache.GetBuyPrice(ctx, "ITEM_A", true, Either); q.Known() {
		t.Errorf("Expected unknown quote during full outage, got %.0f", q.Price)
	}
}

func TestHasBazaar(t *testing.T) {
	fetcher := &stubFetcher{
		bazaar:    map[string]models.OrderBookEntry{"ITEM_A": {BuyPrice: 1, SellPrice: 1}},
		lowestBin: map[string]float64{"ITEM_B": 5},
	}
	cache := NewCache(fetcher, Options{SnapshotTTL: time.Hour})
	ctx := context.Background()

	if !cache.HasBazaar(ctx, "ITEM_A") {
		t.Error("ITEM_A should have a bazaar entry")
	}
	if cache.HasBazaar(ctx, "ITEM_B") {
		t.Error("ITEM_B is auction-only")
	}
	if cache.HasBazaar(ctx, "") {
		t.Error("Empty ID should report false")
	}
}

func TestEmptyItemID(t *testing.T) {
	fetcher := &stubFetcher{}
	cache := NewCache(fetcher, Options{SnapshotTTL: time.Hour})

	q := cache.GetBuyPrice(context.Background(), "", true, Either)
	if q.Known() {
		t.Errorf("Empty ID should resolve to unknown, got %.0f", q.Price)
	}
	if n := atomic.LoadInt32(&fetcher.bazaarCalls); n != 0 {
		t.Errorf("Empty ID should not trigger a fetch, got %d", n)
	}
}
