// Package forge computes profit for forge crafting recipes: sell value after
// market tax, ingredient and coin cost scaled by parallel slots, and duration
// after the Quick Forge perk.
package forge

import (
	"encoding/json"
	"os"

	"skyprofit/internal/models"
)

// Recipe describes one forge craft.
type Recipe struct {
	Name            string       `json:"outputName"`
	ItemID          string       `json:"outputItemId"`
	DurationSeconds int          `json:"durationSeconds"`
	Ingredients     []Ingredient `json:"ingredients"`
	CoinCost        int64        `json:"coinCost"`
}

// Ingredient is a single recipe input.
type Ingredient struct {
	ItemID   string `json:"itemId"`
	Quantity int    `json:"quantity"`
}

// Settings controls how profit is computed.
type Settings struct {
	Slots           int
	QuickForgeLevel int
	BazaarTaxPct    float64
	AHTaxMultiplier float64
	AHTaxThresholds []float64
	AHTaxRates      []float64
}

// Result is the computed outcome for one recipe.
type Result struct {
	Recipe            Recipe
	SellValue         float64
	TotalCost         float64
	ProfitPerHour     float64
	SoldOnBazaar      bool
	TaxPct            float64
	EffectiveDuration int
}

// Profit is the net gain for one full run across all slots.
func (r Result) Profit() float64 {
	return r.SellValue - r.TotalCost
}

// LoadRecipes reads the forge recipe list from a JSON file.
func LoadRecipes(path string) ([]Recipe, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var recipes []Recipe
	if err := json.Unmarshal(data, &recipes); err != nil {
		return nil, err
	}
	return recipes, nil
}

// CalculateProfit prices one recipe. sellPrice is the quote for the output
// item; ingredientPrices maps each ingredient ID to its buy quote, with
// missing or unknown entries counted as zero cost.
func CalculateProfit(recipe Recipe, sellPrice models.PriceQuote, ingredientPrices map[string]models.PriceQuote, settings Settings) Result {
	taxPct := taxFor(sellPrice, settings)
	sellValue := sellPrice.Price * (1.0 - taxPct/100.0) * float64(settings.Slots)
	totalCost := totalCost(recipe, ingredientPrices, settings)

	reduction := quickForgeReduction(settings.QuickForgeLevel)
	effectiveDuration := int(float64(recipe.DurationSeconds) * (1.0 - reduction))

	profit := sellValue - totalCost
	profitPerHour := profit
	if effectiveDuration > 0 {
		profitPerHour = profit / float64(effectiveDuration) * 3600
	}

	return Result{
		Recipe:            recipe,
		SellValue:         sellValue,
		TotalCost:         totalCost,
		ProfitPerHour:     profitPerHour,
		SoldOnBazaar:      sellPrice.Origin == models.OriginBazaar,
		TaxPct:            taxPct,
		EffectiveDuration: effectiveDuration,
	}
}

func taxFor(price models.PriceQuote, settings Settings) float64 {
	if price.Origin == models.OriginBazaar {
		return settings.BazaarTaxPct
	}
	rate := settings.AHTaxRates[len(settings.AHTaxRates)-1]
	for i, threshold := range settings.AHTaxThresholds {
		if price.Price < threshold {
			rate = settings.AHTaxRates[i]
			break
		}
	}
	return rate * settings.AHTaxMultiplier
}

func totalCost(recipe Recipe, ingredientPrices map[string]models.PriceQuote, settings Settings) float64 {
	cost := float64(recipe.CoinCost)
	for _, ingredient := range recipe.Ingredients {
		cost += ingredientPrices[ingredient.ItemID].Price * float64(ingredient.Quantity)
	}
	return cost * float64(settings.Slots)
}

// quickForgeReduction maps the Quick Forge perk level to a fractional time
// reduction, capped at 30% from level 20.
func quickForgeReduction(level int) float64 {
	switch {
	case level <= 0:
		return 0.0
	case level >= 20:
		return 0.30
	default:
		return 0.10 + float64(level)*0.005
	}
}
