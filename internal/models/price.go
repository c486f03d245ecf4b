// Package models defines the core domain entities for skyprofit.
// These models represent market price quotes, pet upgrade recipes, and the
// results of cost resolution across an upgrade chain.
//
// Terminology (matching SkyBlock's own naming):
//   - Bazaar: the order-book market with standing buy/sell orders per item.
//   - AH / lowest BIN: the auction house, summarized as the single cheapest
//     currently listed unit price per item.
//   - Rarity tier: one step of a pet's upgrade chain, numbered 0 (Common)
//     through 5 (Mythic). The item tag "WOLF;3" means the Epic Wolf pet.
package models

// PriceOrigin identifies which market feed a quote was resolved from.
type PriceOrigin string

const (
	// OriginBazaar means the quote was derived from the bazaar order book.
	OriginBazaar PriceOrigin = "bazaar"
	// OriginAuction means the quote is a lowest-BIN auction listing price.
	OriginAuction PriceOrigin = "auction"
)

// PriceQuote is the immutable result of a single price query.
// A Price of 0 means "unknown", not "free"; callers branch on Known().
type PriceQuote struct {
	Price  float64     `json:"price"`
	Origin PriceOrigin `json:"origin"`
}

// Known reports whether the quote carries a usable price.
func (q PriceQuote) Known() bool {
	return q.Price > 0
}

// OrderBookEntry is the best bid/ask pair for one bazaar product.
// BuyPrice is what an instant buyer pays (best ask), SellPrice is what an
// instant seller receives (best bid).
type OrderBookEntry struct {
	BuyPrice  float64 `json:"buyPrice"`
	SellPrice float64 `json:"sellPrice"`
}
