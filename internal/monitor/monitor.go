// Package monitor ranks resolved upgrade cards for notification and
// suppresses repeats.
//
// Ranking drops cards with unpriced components and profits below the
// configured floor, then keeps the top-K by expected profit. A card that was
// already sent is suppressed until either the cooldown lapses or its profit
// moves materially, so a stable market does not produce the same alert every
// cycle.
package monitor

import (
	"math"
	"sort"
	"sync"
	"time"

	"skyprofit/internal/logger"
	"skyprofit/internal/models"
)

// notifiedRecord tracks a previously sent card for cooldown deduplication.
type notifiedRecord struct {
	Profit float64
	SentAt time.Time
}

// profitDriftThreshold is the relative profit change that re-qualifies a card
// inside the cooldown window.
const profitDriftThreshold = 0.10

// Monitor ranks upgrade cards and remembers what was already sent.
type Monitor struct {
	mu       sync.Mutex
	notified map[string]notifiedRecord // key = chain key
}

// New creates a new Monitor instance
func New() *Monitor {
	return &Monitor{
		notified: make(map[string]notifiedRecord),
	}
}

// Rank filters out unpriced and below-floor cards and returns the topK most
// profitable, ordered by descending profit.
func (m *Monitor) Rank(cards []models.UpgradeCard, minProfit float64, topK int) []models.UpgradeCard {
	filtered := make([]models.UpgradeCard, 0, len(cards))
	for _, card := range cards {
		if card.UnknownPrices {
			continue
		}
		if card.Profit < minProfit {
			continue
		}
		filtered = append(filtered, card)
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].Profit > filtered[j].Profit
	})

	if topK > 0 && len(filtered) > topK {
		filtered = filtered[:topK]
	}
	logger.Debug("Ranked %d of %d cards above floor %.0f", len(filtered), len(cards), minProfit)
	return filtered
}

// FilterRecentlySent removes cards that were already notified within the
// cooldown window, unless their profit drifted enough to be news again.
func (m *Monitor) FilterRecentlySent(cards []models.UpgradeCard, cooldown time.Duration) []models.UpgradeCard {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	kept := make([]models.UpgradeCard, 0, len(cards))
	for _, card := range cards {
		record, sent := m.notified[chainKey(card)]
		if !sent || now.Sub(record.SentAt) >= cooldown || profitDrifted(record.Profit, card.Profit) {
			kept = append(kept, card)
			continue
		}
		logger.Debug("Suppressing recently sent card %s %s→%s", card.Recipe.Name, card.StartRarity, card.EndRarity)
	}
	return kept
}

// RecordNotified marks cards as sent, starting their cooldown.
func (m *Monitor) RecordNotified(cards []models.UpgradeCard) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for _, card := range cards {
		m.notified[chainKey(card)] = notifiedRecord{Profit: card.Profit, SentAt: now}
	}
}

// chainKey identifies an upgrade step independent of the per-resolution card
// ID.
func chainKey(card models.UpgradeCard) string {
	return card.Recipe.ItemTag + ":" + card.StartRarity + ":" + card.EndRarity
}

// profitDrifted reports whether the profit moved by more than the drift
// threshold relative to its value at send time.
func profitDrifted(sent, current float64) bool {
	base := math.Abs(sent)
	if base < 1 {
		base = 1
	}
	return math.Abs(current-sent)/base >= profitDriftThreshold
}
