package models

import (
	"errors"
	"strings"
)

// CostSource records how the cheaper acquisition path for a tier was found.
type CostSource string

const (
	// CostMarket means buying the tier outright was cheapest.
	CostMarket CostSource = "market"
	// CostCraft means upgrading (or crafting) from the previous tier was cheapest.
	CostCraft CostSource = "craft"
	// CostUnknown means neither path produced a usable price.
	CostUnknown CostSource = "unknown"
)

// KatRecipe describes one upgrade step offered by the Kat NPC: taking a pet
// from BaseRarity to the next rarity for a fixed coin Cost, a material list,
// and a waiting period of Hours.
type KatRecipe struct {
	Name       string         `json:"name"`
	BaseRarity string         `json:"baseRarity"`
	Hours      float64        `json:"hours"`
	Cost       int64          `json:"cost"`
	Materials  map[string]int `json:"materials"`
	ItemTag    string         `json:"itemTag"`
}

// Validate checks that a recipe is structurally usable.
func (r *KatRecipe) Validate() error {
	if r.Name == "" {
		return errors.New("recipe name must not be empty")
	}
	if r.BaseRarity == "" {
		return errors.New("recipe base rarity must not be empty")
	}
	if r.Hours < 0 {
		return errors.New("recipe hours must not be negative")
	}
	if r.Cost < 0 {
		return errors.New("recipe cost must not be negative")
	}
	return nil
}

// PetName returns the family part of the recipe's item tag ("WOLF;3" → "WOLF").
func (r *KatRecipe) PetName() string {
	return strings.SplitN(r.ItemTag, ";", 2)[0]
}

// KatFamily groups every upgrade step belonging to one pet.
// FullFamily is true when the chain starts at the base rarity, so the
// craft-from-scratch path applies.
type KatFamily struct {
	Name       string      `json:"name"`
	Recipes    []KatRecipe `json:"recipes"`
	FullFamily bool        `json:"fullFamily"`
}

// MaterialCost is the priced-out line item for one upgrade material.
type MaterialCost struct {
	ItemID     string  `json:"item_id"`
	Quantity   int     `json:"quantity"`
	UnitPrice  float64 `json:"unit_price"`
	TotalPrice float64 `json:"total_price"`
	Bazaar     bool    `json:"bazaar"`
}

// ReductionPlan is the optimizer's output: how many time-skip flowers and
// bouquets to apply and the duration that remains afterwards.
type ReductionPlan struct {
	Flowers    int     `json:"flowers"`
	Bouquets   int     `json:"bouquets"`
	FinalHours float64 `json:"final_hours"`
}

// CostResolution is the transient result of recursively resolving the
// cheapest acquisition cost for one tier of a family. It is recomputed per
// request because it depends on live prices.
type CostResolution struct {
	Tier   int        `json:"tier"`
	Price  float64    `json:"price"`
	Source CostSource `json:"source"`
}

// UpgradeCard is the full profitability breakdown for one upgrade step,
// ready for presentation. StartPrice already reflects the cheapest way to
// obtain the starting tier (bought or upgraded recursively).
type UpgradeCard struct {
	ID            string         `json:"id"`
	Recipe        KatRecipe      `json:"recipe"`
	StartRarity   string         `json:"start_rarity"`
	EndRarity     string         `json:"end_rarity"`
	StartPrice    float64        `json:"start_price"`
	StartSource   CostSource     `json:"start_source"`
	EndPrice      float64        `json:"end_price"` // after sale tax
	BaseHours     float64        `json:"base_hours"`
	ReducedHours  float64        `json:"reduced_hours"`
	Materials     []MaterialCost `json:"materials"`
	Flowers       int            `json:"flowers"`
	Bouquets      int            `json:"bouquets"`
	FlowerCost    float64        `json:"flower_cost"`
	BouquetCost   float64        `json:"bouquet_cost"`
	MaterialCost  float64        `json:"material_cost"`
	TotalCost     float64        `json:"total_cost"`
	Profit        float64        `json:"profit"`
	ProfitMargin  float64        `json:"profit_margin"`
	UnknownPrices bool           `json:"unknown_prices"`
	UnknownItems  []string       `json:"unknown_items,omitempty"`
	CraftOnly     bool           `json:"craft_only"`
}

// ProfitPerHour spreads the expected profit over the reduced waiting period.
// Instant upgrades report the raw profit.
func (c *UpgradeCard) ProfitPerHour() float64 {
	if c.ReducedHours > 0 {
		return c.Profit / c.ReducedHours
	}
	return c.Profit
}
