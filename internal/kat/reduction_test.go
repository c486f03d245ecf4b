package kat

import (
	"testing"

	"skyprofit/internal/models"
)

func defaultReducer() Reducer {
	return Reducer{
		FlowerSkipHours:  24,
		BouquetSkipHours: 120,
		MaxFlowers:       30,
		MaxBouquets:      10,
		TargetMaxHours:   0.05,
		Enabled:          true,
	}
}

func planCost(p models.ReductionPlan, flowerPrice, bouquetPrice float64) float64 {
	return float64(p.Flowers)*flowerPrice + float64(p.Bouquets)*bouquetPrice
}

func TestNoReductionWhenDisabled(t *testing.T) {
	r := defaultReducer()
	r.Enabled = false

	plan := r.OptimalReduction(168, 100000, 1000000)
	if plan.Flowers != 0 || plan.Bouquets != 0 {
		t.Errorf("Disabled reducer bought items: %+v", plan)
	}
	if plan.FinalHours != 168 {
		t.Errorf("FinalHours = %.2f, want 168", plan.FinalHours)
	}
}

func TestNoReductionWhenAlreadyUnderTarget(t *testing.T) {
	r := defaultReducer()

	plan := r.OptimalReduction(0.04, 100000, 1000000)
	if plan.Flowers != 0 || plan.Bouquets != 0 || plan.FinalHours != 0.04 {
		t.Errorf("Short upgrade should need nothing, got %+v", plan)
	}
}

func TestPrefersCheaperItemMix(t *testing.T) {
	r := defaultReducer()

	// 168h: 7 flowers (7 × 24h) costs 700k; 2 bouquets cost 2m.
	plan := r.OptimalReduction(168, 100000, 1000000)
	if plan.Flowers != 7 || plan.Bouquets != 0 {
		t.Errorf("Got %d flowers %d bouquets, want 7 flowers", plan.Flowers, plan.Bouquets)
	}
	if plan.FinalHours != 0 {
		t.Errorf("FinalHours = %.2f, want 0", plan.FinalHours)
	}

	// With bouquets cheap relative to their coverage the mix flips:
	// 2 bouquets (240h) at 200k beat 7 flowers at 700k.
	plan = r.OptimalReduction(168, 100000, 100000)
	if plan.Bouquets != 2 || plan.Flowers != 0 {
		t.Errorf("Got %d flowers %d bouquets, want 2 bouquets", plan.Flowers, plan.Bouquets)
	}
}

func TestMatchesBruteForceOracle(t *testing.T) {
	r := Reducer{
		FlowerSkipHours:  24,
		BouquetSkipHours: 120,
		MaxFlowers:       8,
		MaxBouquets:      4,
		TargetMaxHours:   0.05,
		Enabled:          true,
	}

	cases := []struct {
		baseHours    float64
		flowerPrice  float64
		bouquetPrice float64
	}{
		{48, 100000, 1000000},
		{168, 100000, 450000},
		{100, 90000, 500000},
		{24, 100000, 1000000},
		{1, 100000, 1000000},
	}

	for _, tc := range cases {
		plan := r.OptimalReduction(tc.baseHours, tc.flowerPrice, tc.bouquetPrice)

		// Independent minimum-cost search over the full grid
		bestCost := -1.0
		for a := 0; a <= r.MaxFlowers; a++ {
			for b := 0; b <= r.MaxBouquets; b++ {
				remaining := tc.baseHours - float64(a)*r.FlowerSkipHours - float64(b)*r.BouquetSkipHours
				if remaining < 0 {
					remaining = 0
				}
				if remaining > r.TargetMaxHours {
					continue
				}
				cost := float64(a)*tc.flowerPrice + float64(b)*tc.bouquetPrice
				if bestCost < 0 || cost < bestCost {
					bestCost = cost
				}
			}
		}
		if bestCost < 0 {
			t.Fatalf("Oracle found no qualifying plan for %.0fh", tc.baseHours)
		}

		if got := planCost(plan, tc.flowerPrice, tc.bouquetPrice); got != bestCost {
			t.Errorf("baseHours=%.0f flower=%.0f bouquet=%.0f: cost %.0f, oracle %.0f (plan %+v)",
				tc.baseHours, tc.flowerPrice, tc.bouquetPrice, got, bestCost, plan)
		}
		if plan.FinalHours > r.TargetMaxHours {
			t.Errorf("Plan leaves %.2fh, above target", plan.FinalHours)
		}
	}
}

func TestMaxCountsFallback(t *testing.T) {
	r := Reducer{
		FlowerSkipHours:  24,
		BouquetSkipHours: 120,
		MaxFlowers:       2,
		MaxBouquets:      1,
		TargetMaxHours:   0.05,
		Enabled:          true,
	}

	// 500h cannot be covered by 2×24 + 1×120 = 168h
	plan := r.OptimalReduction(500, 100000, 1000000)
	if plan.Flowers != 2 || plan.Bouquets != 1 {
		t.Errorf("Fallback should use max counts, got %+v", plan)
	}
	if plan.FinalHours != 332 {
		t.Errorf("FinalHours = %.2f, want 332", plan.FinalHours)
	}
}

func TestDeterministicTieBreak(t *testing.T) {
	r := defaultReducer()

	// With free items many plans qualify at cost 0; the search must always
	// settle on the same one.
	first := r.OptimalReduction(168, 0, 0)
	for i := 0; i < 10; i++ {
		if again := r.OptimalReduction(168, 0, 0); again != first {
			t.Fatalf("Plan changed between runs: %+v then %+v", first, again)
		}
	}
}
