package kat

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"skyprofit/internal/logger"
	"skyprofit/internal/models"
)

// Loader fetches the Kat upgrade-chain definitions (one recipe per pet per
// base rarity) and keeps a local copy so restarts do not depend on the
// upstream feed.
type Loader struct {
	dataURL    string
	dataFile   string
	rarities   []string
	httpClient *http.Client
}

// NewLoader creates a loader for the Kat data feed.
func NewLoader(dataURL, dataFile string, rarities []string, timeout time.Duration) *Loader {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Loader{
		dataURL:    dataURL,
		dataFile:   dataFile,
		rarities:   rarities,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Load returns the upgrade families, preferring the local copy and falling
// back to a fetch-and-save when the copy is missing or unreadable.
func (l *Loader) Load(ctx context.Context) ([]models.KatFamily, error) {
	if data, err := os.ReadFile(l.dataFile); err == nil {
		var recipes []models.KatRecipe
		if err := json.Unmarshal(data, &recipes); err == nil && len(recipes) > 0 {
			logger.Debug("Loaded %d Kat recipes from %s", len(recipes), l.dataFile)
			return l.groupFamilies(recipes), nil
		}
		logger.Warn("Local Kat data unreadable, refetching")
	}
	return l.fetchAndSave(ctx)
}

// fetchAndSave pulls the upstream feed, normalizes item tags to the
// "FAMILY;TIER" form, persists the result, and groups it into families.
func (l *Loader) fetchAndSave(ctx context.Context) ([]models.KatFamily, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.dataURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch Kat data: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status fetching Kat data: %d", resp.StatusCode)
	}

	var recipes []models.KatRecipe
	if err := json.NewDecoder(resp.Body).Decode(&recipes); err != nil {
		return nil, fmt.Errorf("failed to decode Kat data: %w", err)
	}

	for i := range recipes {
		tier := l.rarityNumber(strings.ToUpper(recipes[i].BaseRarity))
		if tier < 0 {
			tier = 0
		}
		name := strings.TrimPrefix(recipes[i].ItemTag, "PET_")
		name = strings.ToUpper(strings.ReplaceAll(name, " ", "_"))
		// Upstream tags carry no tier; rewrite to the composite form used
		// throughout the cache and feed lookups.
		if base, _, hasTier := strings.Cut(name, ";"); hasTier {
			name = base
		}
		recipes[i].ItemTag = fmt.Sprintf("%s;%d", name, tier)
	}

	if err := l.save(recipes); err != nil {
		logger.Warn("Failed to persist Kat data: %v", err)
	}

	logger.Info("Fetched %d Kat recipes from upstream", len(recipes))
	return l.groupFamilies(recipes), nil
}

func (l *Loader) save(recipes []models.KatRecipe) error {
	data, err := json.MarshalIndent(recipes, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(l.dataFile), 0o755); err != nil {
		return err
	}
	tempPath := l.dataFile + ".tmp"
	if err := os.WriteFile(tempPath, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tempPath, l.dataFile); err != nil {
		_ = os.Remove(tempPath)
		return err
	}
	return nil
}

// groupFamilies buckets recipes by pet name, orders each family's steps by
// tier, and sorts full families (chains starting at the base rarity) first.
func (l *Loader) groupFamilies(recipes []models.KatRecipe) []models.KatFamily {
	byName := make(map[string][]models.KatRecipe)
	var order []string
	for _, recipe := range recipes {
		if recipe.Validate() != nil {
			continue
		}
		if _, seen := byName[recipe.Name]; !seen {
			order = append(order, recipe.Name)
		}
		byName[recipe.Name] = append(byName[recipe.Name], recipe)
	}

	families := make([]models.KatFamily, 0, len(byName))
	for _, name := range order {
		group := byName[name]
		sort.SliceStable(group, func(i, j int) bool {
			return l.rarityNumber(strings.ToUpper(group[i].BaseRarity)) < l.rarityNumber(strings.ToUpper(group[j].BaseRarity))
		})
		full := false
		for _, recipe := range group {
			if strings.ToUpper(recipe.BaseRarity) == l.rarities[0] {
				full = true
				break
			}
		}
		families = append(families, models.KatFamily{
			Name:       name,
			Recipes:    group,
			FullFamily: full,
		})
	}

	sort.SliceStable(families, func(i, j int) bool {
		return families[i].FullFamily && !families[j].FullFamily
	})
	return families
}

func (l *Loader) rarityNumber(rarity string) int {
	for i, name := range l.rarities {
		if name == rarity {
			return i
		}
	}
	return -1
}
