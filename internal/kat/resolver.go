// Package kat prices pet upgrades offered by the Kat NPC.
//
// For a pet at tier T the cheapest acquisition cost is the lower of buying
// tier T outright and producing it from tier T-1: the previous tier's own
// resolved cost (recursively), the upgrade materials, the NPC fee, and the
// cheapest time-reduction items. Tier 0 can additionally be crafted from raw
// materials when the crafting recipe is known.
//
// Missing prices and recipes never abort a computation: they resolve to zero
// and are reported in the unknown-item list, so a partially priced chain
// still yields a presentable estimate.
package kat

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"skyprofit/internal/models"
	"skyprofit/internal/prices"
)

// PriceSource answers live price queries. *prices.Cache implements it.
type PriceSource interface {
	GetBuyPrice(ctx context.Context, itemID string, instant bool, priority prices.Priority) models.PriceQuote
	GetSellPrice(ctx context.Context, itemID string, instant bool, priority prices.Priority) models.PriceQuote
}

// RecipeSource provides cached crafting recipes and schedules fetches for
// missing ones. *recipes.Cache implements it.
type RecipeSource interface {
	Cached(family string, tier int) (map[string]int, bool)
	FetchInBackground(ctx context.Context, family string, tier int, onAvailable func())
}

// Config carries the market and chain parameters the resolver needs.
type Config struct {
	Rarities            []string // ascending, index = tier number
	FlowerID            string
	BouquetID           string
	DefaultFlowerPrice  float64
	DefaultBouquetPrice float64
	BazaarInstant       bool
	BazaarTaxPct        float64
	AHTaxMultiplier     float64
	AHTaxThresholds     []float64
	AHTaxRates          []float64
	ItemIDMappings      map[string]string
}

// Resolver computes upgrade costs and profitability cards for pet families.
type Resolver struct {
	prices  PriceSource
	recipes RecipeSource
	reducer Reducer
	cfg     Config
}

// NewResolver creates a resolver over the given price and recipe sources.
func NewResolver(priceSource PriceSource, recipeSource RecipeSource, reducer Reducer, cfg Config) *Resolver {
	return &Resolver{
		prices:  priceSource,
		recipes: recipeSource,
		reducer: reducer,
		cfg:     cfg,
	}
}

// resolveState is request-scoped: the memo avoids re-resolving sibling tiers
// within one computation, and unknown collects item IDs that had no usable
// price anywhere along the chain.
type resolveState struct {
	memo        map[string]models.CostResolution
	unknown     []string
	onAvailable func()
}

func (s *resolveState) markUnknown(itemID string) {
	for _, id := range s.unknown {
		if id == itemID {
			return
		}
	}
	s.unknown = append(s.unknown, itemID)
}

// ResolveCost returns the cheapest acquisition cost for one tier of a family,
// plus the list of item IDs whose prices were unknown along the way. A zero
// price with source "unknown" is an expected outcome, not an error.
func (r *Resolver) ResolveCost(ctx context.Context, family *models.KatFamily, tier int, onAvailable func()) (models.CostResolution, []string) {
	if tier < 0 || tier >= len(r.cfg.Rarities) {
		return models.CostResolution{Tier: tier, Source: models.CostUnknown}, nil
	}
	state := &resolveState{
		memo:        make(map[string]models.CostResolution),
		onAvailable: onAvailable,
	}
	petName := petNameOf(family)
	res := r.resolveTier(ctx, family, petName, tier, state)
	return res, state.unknown
}

// resolveTier implements the per-tier decision. Recursion walks strictly
// downward through tiers, so depth is bounded by the ladder length.
func (r *Resolver) resolveTier(ctx context.Context, family *models.KatFamily, petName string, tier int, state *resolveState) models.CostResolution {
	key := fmt.Sprintf("%s;%d", petName, tier)
	if res, ok := state.memo[key]; ok {
		return res
	}

	petID := r.MappedID(key)
	market := r.prices.GetBuyPrice(ctx, petID, true, prices.Either).Price

	var res models.CostResolution
	if tier == 0 {
		res = r.resolveBaseTier(ctx, petName, petID, market, state)
	} else {
		res = r.resolveUpgradeTier(ctx, family, petName, tier, petID, market, state)
	}

	state.memo[key] = res
	return res
}

// resolveBaseTier prices tier 0: bought outright, or crafted from raw
// materials when the recipe is known. A missing recipe triggers a background
// fetch and the market price is used for this pass.
func (r *Resolver) resolveBaseTier(ctx context.Context, petName, petID string, market float64, state *resolveState) models.CostResolution {
	materials, ok := r.recipes.Cached(petName, 0)
	if !ok {
		r.recipes.FetchInBackground(ctx, petName, 0, state.onAvailable)
		return r.marketOnly(petID, 0, market, state)
	}

	craft := 0.0
	for _, line := range r.MaterialsBreakdown(ctx, materials) {
		craft += line.TotalPrice
	}

	switch {
	case market > 0 && (craft <= 0 || market < craft):
		return models.CostResolution{Tier: 0, Price: market, Source: models.CostMarket}
	case craft > 0:
		return models.CostResolution{Tier: 0, Price: craft, Source: models.CostCraft}
	default:
		return r.marketOnly(petID, 0, market, state)
	}
}

// resolveUpgradeTier prices tier T>0: the cheaper of buying T outright and
// upgrading from T-1 (previous tier cost + materials + NPC fee + time
// reduction).
func (r *Resolver) resolveUpgradeTier(ctx context.Context, family *models.KatFamily, petName string, tier int, petID string, market float64, state *resolveState) models.CostResolution {
	prevRarity := r.cfg.Rarities[tier-1]
	prevRecipe := findRecipe(family, prevRarity)
	if prevRecipe == nil {
		return r.marketOnly(petID, tier, market, state)
	}

	prev := r.resolveTier(ctx, family, petName, tier-1, state)
	if prev.Price <= 0 {
		return r.marketOnly(petID, tier, market, state)
	}

	materialCost := 0.0
	for _, line := range r.MaterialsBreakdown(ctx, prevRecipe.Materials) {
		materialCost += line.TotalPrice
	}

	flowerPrice, bouquetPrice := r.ReductionPrices(ctx)
	plan := r.reducer.OptimalReduction(prevRecipe.Hours, flowerPrice, bouquetPrice)
	reductionCost := float64(plan.Flowers)*flowerPrice + float64(plan.Bouquets)*bouquetPrice

	upgrade := prev.Price + float64(prevRecipe.Cost) + materialCost + reductionCost

	if market > 0 && market < upgrade {
		return models.CostResolution{Tier: tier, Price: market, Source: models.CostMarket}
	}
	return models.CostResolution{Tier: tier, Price: upgrade, Source: models.CostCraft}
}

// marketOnly wraps a bare market price, downgrading to "unknown" when there
// is no usable price at all.
func (r *Resolver) marketOnly(petID string, tier int, market float64, state *resolveState) models.CostResolution {
	if market <= 0 {
		state.markUnknown(petID)
		return models.CostResolution{Tier: tier, Source: models.CostUnknown}
	}
	return models.CostResolution{Tier: tier, Price: market, Source: models.CostMarket}
}

// UpgradeCards builds the profitability breakdowns for one upgrade step: the
// normal upgrade card, preceded by a craft-from-scratch card when this is the
// family's base-tier step and the crafting recipe is known.
func (r *Resolver) UpgradeCards(ctx context.Context, family *models.KatFamily, recipe *models.KatRecipe, onAvailable func()) []models.UpgradeCard {
	var cards []models.UpgradeCard

	petName := petNameOf(family)
	startRarity := strings.ToUpper(recipe.BaseRarity)
	startTier := r.rarityNumber(startRarity)
	if startTier < 0 {
		return nil
	}

	if r.isBaseStep(family, recipe, startRarity) {
		if card, ok := r.craftCard(ctx, petName, recipe, onAvailable); ok {
			cards = append(cards, card)
		}
	}

	state := &resolveState{
		memo:        make(map[string]models.CostResolution),
		onAvailable: onAvailable,
	}

	start := r.resolveTier(ctx, family, petName, startTier, state)

	endTier := startTier + 1
	endRarity := ""
	if endTier < len(r.cfg.Rarities) {
		endRarity = r.cfg.Rarities[endTier]
	}
	endID := r.MappedID(fmt.Sprintf("%s;%d", petName, endTier))
	endNet, endQuote := r.taxedSellValue(ctx, endID)

	breakdown := r.MaterialsBreakdown(ctx, recipe.Materials)
	materialCost := 0.0
	for _, line := range breakdown {
		materialCost += line.TotalPrice
	}

	flowerPrice, bouquetPrice := r.ReductionPrices(ctx)
	plan := r.reducer.OptimalReduction(recipe.Hours, flowerPrice, bouquetPrice)
	flowerCost := float64(plan.Flowers) * flowerPrice
	bouquetCost := float64(plan.Bouquets) * bouquetPrice

	totalCost := float64(recipe.Cost) + materialCost + start.Price + flowerCost + bouquetCost
	profit := endNet - totalCost

	unknown := unknownMaterials(breakdown)
	if start.Price <= 0 {
		unknown = append(unknown, r.MappedID(fmt.Sprintf("%s;%d", petName, startTier)))
	}
	if !endQuote.Known() {
		unknown = append(unknown, endID)
	}

	margin := 0.0
	if totalCost > 0 {
		margin = profit / totalCost
	}

	cards = append(cards, models.UpgradeCard{
		ID:            uuid.New().String(),
		Recipe:        *recipe,
		StartRarity:   startRarity,
		EndRarity:     endRarity,
		StartPrice:    start.Price,
		StartSource:   start.Source,
		EndPrice:      endNet,
		BaseHours:     recipe.Hours,
		ReducedHours:  plan.FinalHours,
		Materials:     breakdown,
		Flowers:       plan.Flowers,
		Bouquets:      plan.Bouquets,
		FlowerCost:    flowerCost,
		BouquetCost:   bouquetCost,
		MaterialCost:  materialCost,
		TotalCost:     totalCost,
		Profit:        profit,
		ProfitMargin:  margin,
		UnknownPrices: len(unknown) > 0,
		UnknownItems:  unknown,
	})

	return cards
}

// craftCard prices producing the base tier from raw materials and selling it.
// Returns false when the recipe is not yet cached; a background fetch is
// scheduled so a later pass can include the card.
func (r *Resolver) craftCard(ctx context.Context, petName string, recipe *models.KatRecipe, onAvailable func()) (models.UpgradeCard, bool) {
	materials, ok := r.recipes.Cached(petName, 0)
	if !ok {
		r.recipes.FetchInBackground(ctx, petName, 0, onAvailable)
		return models.UpgradeCard{}, false
	}

	breakdown := r.MaterialsBreakdown(ctx, materials)
	materialCost := 0.0
	for _, line := range breakdown {
		materialCost += line.TotalPrice
	}

	endID := r.MappedID(petName + ";0")
	endNet, endQuote := r.taxedSellValue(ctx, endID)

	unknown := unknownMaterials(breakdown)
	if !endQuote.Known() {
		unknown = append(unknown, endID)
	}

	profit := endNet - materialCost
	margin := 0.0
	if materialCost > 0 {
		margin = profit / materialCost
	}

	return models.UpgradeCard{
		ID:            uuid.New().String(),
		Recipe:        *recipe,
		StartRarity:   "CRAFT",
		EndRarity:     r.cfg.Rarities[0],
		StartSource:   models.CostCraft,
		EndPrice:      endNet,
		Materials:     breakdown,
		MaterialCost:  materialCost,
		TotalCost:     materialCost,
		Profit:        profit,
		ProfitMargin:  margin,
		UnknownPrices: len(unknown) > 0,
		UnknownItems:  unknown,
		CraftOnly:     true,
	}, true
}

// MaterialsBreakdown prices out a material list at current buy prices.
func (r *Resolver) MaterialsBreakdown(ctx context.Context, materials map[string]int) []models.MaterialCost {
	breakdown := make([]models.MaterialCost, 0, len(materials))
	for itemID, quantity := range materials {
		quote := r.prices.GetBuyPrice(ctx, r.MappedID(itemID), r.cfg.BazaarInstant, prices.Either)
		breakdown = append(breakdown, models.MaterialCost{
			ItemID:     itemID,
			Quantity:   quantity,
			UnitPrice:  quote.Price,
			TotalPrice: quote.Price * float64(quantity),
			Bazaar:     quote.Origin == models.OriginBazaar,
		})
	}
	return breakdown
}

// ReductionPrices returns current flower and bouquet unit prices, falling
// back to configured defaults when the market has no quote.
func (r *Resolver) ReductionPrices(ctx context.Context) (float64, float64) {
	flower := r.prices.GetBuyPrice(ctx, r.cfg.FlowerID, r.cfg.BazaarInstant, prices.Either).Price
	if flower <= 0 {
		flower = r.cfg.DefaultFlowerPrice
	}
	bouquet := r.prices.GetBuyPrice(ctx, r.cfg.BouquetID, r.cfg.BazaarInstant, prices.Either).Price
	if bouquet <= 0 {
		bouquet = r.cfg.DefaultBouquetPrice
	}
	return flower, bouquet
}

// MappedID normalizes an item ID: spaces become underscores and known
// upstream aliases are rewritten, preserving a ";TIER" suffix.
func (r *Resolver) MappedID(itemID string) string {
	base, tierPart, hasTier := strings.Cut(itemID, ";")
	sanitized := strings.ReplaceAll(base, " ", "_")
	mapped, ok := r.cfg.ItemIDMappings[base]
	if !ok {
		if m, ok2 := r.cfg.ItemIDMappings[sanitized]; ok2 {
			mapped = m
		} else {
			mapped = sanitized
		}
	}
	if hasTier {
		return mapped + ";" + tierPart
	}
	return mapped
}

// taxedSellValue returns the net value of selling one unit (after bazaar tax
// or the bracketed auction-house tax) alongside the raw quote.
func (r *Resolver) taxedSellValue(ctx context.Context, itemID string) (float64, models.PriceQuote) {
	quote := r.prices.GetSellPrice(ctx, itemID, false, prices.Either)
	taxPct := r.cfg.BazaarTaxPct
	if quote.Origin != models.OriginBazaar {
		taxPct = r.ahTaxPct(quote.Price)
	}
	return quote.Price * (1.0 - taxPct/100.0), quote
}

// ahTaxPct returns the auction-house tax percentage for a sale price, from
// the configured bracket table.
func (r *Resolver) ahTaxPct(price float64) float64 {
	rates := r.cfg.AHTaxRates
	if len(rates) == 0 {
		return 0
	}
	pct := rates[len(rates)-1]
	for i, threshold := range r.cfg.AHTaxThresholds {
		if price < threshold && i < len(rates) {
			pct = rates[i]
			break
		}
	}
	return pct * r.cfg.AHTaxMultiplier
}

func (r *Resolver) rarityNumber(rarity string) int {
	for i, name := range r.cfg.Rarities {
		if name == rarity {
			return i
		}
	}
	return -1
}

// isBaseStep reports whether this recipe is the family's first step starting
// at the base rarity, which is when the craft-from-scratch path applies.
func (r *Resolver) isBaseStep(family *models.KatFamily, recipe *models.KatRecipe, startRarity string) bool {
	if len(family.Recipes) == 0 || startRarity != r.cfg.Rarities[0] {
		return false
	}
	return family.Recipes[0].ItemTag == recipe.ItemTag && family.Recipes[0].BaseRarity == recipe.BaseRarity
}

func findRecipe(family *models.KatFamily, baseRarity string) *models.KatRecipe {
	for i := range family.Recipes {
		if strings.ToUpper(family.Recipes[i].BaseRarity) == baseRarity {
			return &family.Recipes[i]
		}
	}
	return nil
}

func petNameOf(family *models.KatFamily) string {
	if len(family.Recipes) > 0 {
		return family.Recipes[0].PetName()
	}
	return strings.ToUpper(strings.ReplaceAll(family.Name, " ", "_"))
}

func unknownMaterials(breakdown []models.MaterialCost) []string {
	var unknown []string
	for _, line := range breakdown {
		if line.UnitPrice <= 0 {
			unknown = append(unknown, line.ItemID)
		}
	}
	return unknown
}
