package kat

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

var testRarities = []string{"COMMON", "UNCOMMON", "RARE", "EPIC", "LEGENDARY", "MYTHIC"}

const katFeedPayload = `[
	{"name": "Wolf", "baseRarity": "RARE", "hours": 74, "cost": 750000, "materials": {}, "itemTag": "PET_WOLF"},
	{"name": "Wolf", "baseRarity": "COMMON", "hours": 24, "cost": 100000, "materials": {}, "itemTag": "PET_WOLF"},
	{"name": "Wolf", "baseRarity": "UNCOMMON", "hours": 47, "cost": 250000, "materials": {}, "itemTag": "PET_WOLF"},
	{"name": "Grandma Wolf", "baseRarity": "EPIC", "hours": 168, "cost": 5000000, "materials": {}, "itemTag": "PET_GRANDMA WOLF"}
]`

func TestLoadFetchesGroupsAndPersists(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(katFeedPayload))
	}))
	defer server.Close()

	dataFile := filepath.Join(t.TempDir(), "kat.json")
	loader := NewLoader(server.URL, dataFile, testRarities, 5*time.Second)

	families, err := loader.Load(context.Background())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(families) != 2 {
		t.Fatalf("Got %d families, want 2", len(families))
	}

	// Full families (chains starting at the base rarity) sort first
	wolf := families[0]
	if wolf.Name != "Wolf" || !wolf.FullFamily {
		t.Errorf("First family = %s (full=%v), want the full Wolf chain", wolf.Name, wolf.FullFamily)
	}
	grandma := families[1]
	if grandma.Name != "Grandma Wolf" || grandma.FullFamily {
		t.Errorf("Second family = %s (full=%v), want the partial Grandma Wolf chain", grandma.Name, grandma.FullFamily)
	}

	// Steps ordered by ascending tier regardless of feed order
	wantRarities := []string{"COMMON", "UNCOMMON", "RARE"}
	for i, recipe := range wolf.Recipes {
		if recipe.BaseRarity != wantRarities[i] {
			t.Errorf("Wolf step %d = %s, want %s", i, recipe.BaseRarity, wantRarities[i])
		}
	}

	// Tags normalized to the composite FAMILY;TIER form
	if tag := wolf.Recipes[2].ItemTag; tag != "WOLF;2" {
		t.Errorf("Rare Wolf tag = %q, want WOLF;2", tag)
	}
	if tag := grandma.Recipes[0].ItemTag; tag != "GRANDMA_WOLF;3" {
		t.Errorf("Grandma Wolf tag = %q, want GRANDMA_WOLF;3", tag)
	}

	// The fetch persisted a local copy
	if _, err := os.Stat(dataFile); err != nil {
		t.Errorf("Expected a persisted data file: %v", err)
	}
}

func TestLoadPrefersLocalCopy(t *testing.T) {
	var requests int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.Write([]byte(katFeedPayload))
	}))
	defer server.Close()

	dataFile := filepath.Join(t.TempDir(), "kat.json")
	loader := NewLoader(server.URL, dataFile, testRarities, 5*time.Second)
	ctx := context.Background()

	if _, err := loader.Load(ctx); err != nil {
		t.Fatalf("First load failed: %v", err)
	}
	if _, err := loader.Load(ctx); err != nil {
		t.Fatalf("Second load failed: %v", err)
	}

	if requests != 1 {
		t.Errorf("Expected 1 upstream fetch, got %d", requests)
	}
}

func TestLoadRefetchesOnCorruptFile(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(katFeedPayload))
	}))
	defer server.Close()

	dataFile := filepath.Join(t.TempDir(), "kat.json")
	if err := os.WriteFile(dataFile, []byte("not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	loader := NewLoader(server.URL, dataFile, testRarities, 5*time.Second)
	families, err := loader.Load(context.Background())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(families) != 2 {
		t.Errorf("Got %d families after refetch, want 2", len(families))
	}
}
