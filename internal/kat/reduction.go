package kat

import (
	"skyprofit/internal/models"
)

// Reducer finds the cheapest combination of time-skip items (flowers and
// bouquets) that brings an upgrade's waiting period down to the target
// duration. It is a pure value: no I/O, safe for concurrent use.
type Reducer struct {
	FlowerSkipHours  float64
	BouquetSkipHours float64
	MaxFlowers       int
	MaxBouquets      int
	TargetMaxHours   float64
	Enabled          bool
}

// OptimalReduction returns the minimum-cost plan whose remaining duration is
// at most the target. The search is exhaustive over the bounded grid
// (ascending flowers, then bouquets); the first combination found at the
// minimum cost wins, making the tie-break deterministic.
//
// When no combination within the bounds reaches the target, the plan uses
// the maximum allowed count of both items: best-effort maximum reduction,
// which callers must treat as a valid outcome.
func (r Reducer) OptimalReduction(baseHours, flowerPrice, bouquetPrice float64) models.ReductionPlan {
	if !r.Enabled || baseHours <= r.TargetMaxHours {
		return models.ReductionPlan{FinalHours: baseHours}
	}

	best := models.ReductionPlan{}
	found := false
	minCost := 0.0

	for flowers := 0; flowers <= r.MaxFlowers; flowers++ {
		for bouquets := 0; bouquets <= r.MaxBouquets; bouquets++ {
			remaining := baseHours - float64(flowers)*r.FlowerSkipHours - float64(bouquets)*r.BouquetSkipHours
			if remaining < 0 {
				remaining = 0
			}
			if remaining > r.TargetMaxHours {
				continue
			}
			cost := float64(flowers)*flowerPrice + float64(bouquets)*bouquetPrice
			if !found || cost < minCost {
				found = true
				minCost = cost
				best = models.ReductionPlan{Flowers: flowers, Bouquets: bouquets, FinalHours: remaining}
			}
		}
	}

	if !found {
		remaining := baseHours - float64(r.MaxFlowers)*r.FlowerSkipHours - float64(r.MaxBouquets)*r.BouquetSkipHours
		if remaining < 0 {
			remaining = 0
		}
		return models.ReductionPlan{Flowers: r.MaxFlowers, Bouquets: r.MaxBouquets, FinalHours: remaining}
	}

	return best
}
