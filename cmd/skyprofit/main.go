package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"skyprofit/internal/config"
	"skyprofit/internal/forge"
	"skyprofit/internal/kat"
	"skyprofit/internal/logger"
	"skyprofit/internal/models"
	"skyprofit/internal/monitor"
	"skyprofit/internal/prices"
	"skyprofit/internal/recipes"
	"skyprofit/internal/sales"
	"skyprofit/internal/tasks"
	"skyprofit/internal/telegram"
)

var configPath = flag.String("config", "configs/config.yaml", "Path to configuration file")

// app bundles the long-lived components the scan cycle operates on.
type app struct {
	cfg            *config.Config
	priceCache     *prices.Cache
	salesClient    *sales.Client
	recipeCache    *recipes.Cache
	resolver       *kat.Resolver
	mon            *monitor.Monitor
	families       []models.KatFamily
	forgeRecipes   []forge.Recipe
	queue          *tasks.Queue
	telegramClient *telegram.Client
}

func main() {
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Setup logging with level support
	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	logger.Info("Configuration loaded from %s", *configPath)

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, cleaning up...")
		cancel()
	}()

	// Initialize market price cache
	feedClient := prices.NewFeedClient(cfg.Feeds.BazaarURL, cfg.Feeds.LowestBinURL, cfg.Feeds.Timeout)
	priceCache := prices.NewCache(feedClient, prices.Options{
		SnapshotTTL:    cfg.Feeds.SnapshotTTL,
		NPCItemCosts:   cfg.Kat.NPCItemCosts,
		FallbackPrices: cfg.Kat.FallbackPrices,
	})

	// Initialize sold-auction history client
	salesClient := sales.NewClient(sales.Options{
		SoldAuctionsURL:   cfg.Sales.SoldAuctionsURL,
		PageSizes:         cfg.Sales.PageSizes,
		RequestsPerWindow: cfg.Sales.RequestsPerWindow,
		Window:            cfg.Sales.Window,
		CacheTTL:          cfg.Sales.CacheTTL,
		Timeout:           cfg.Sales.Timeout,
		Rarities:          cfg.Kat.Rarities,
	})

	// Initialize crafting recipe cache
	recipeCache := recipes.New(recipes.Options{
		RecipeURL:         cfg.Recipes.RecipeURL,
		CacheFile:         cfg.Recipes.CacheFile,
		RequestsPerWindow: cfg.Recipes.RequestsPerWindow,
		Window:            cfg.Recipes.Window,
		Timeout:           cfg.Recipes.Timeout,
	})
	logger.Info("Recipe cache loaded with %d entries", recipeCache.Size())

	// Load Kat upgrade families
	loader := kat.NewLoader(cfg.Kat.DataURL, cfg.Kat.DataFile, cfg.Kat.Rarities, cfg.Feeds.Timeout)
	families, err := loader.Load(ctx)
	if err != nil {
		logger.Fatal("Failed to load Kat upgrade data: %v", err)
	}
	logger.Info("Loaded %d pet families", len(families))

	reducer := kat.Reducer{
		FlowerSkipHours:  cfg.Kat.FlowerSkipHours,
		BouquetSkipHours: cfg.Kat.BouquetSkipHours,
		MaxFlowers:       cfg.Kat.MaxFlowers,
		MaxBouquets:      cfg.Kat.MaxBouquets,
		TargetMaxHours:   cfg.Kat.TargetMaxHours,
		Enabled:          cfg.Kat.EnableReduction,
	}
	resolver := kat.NewResolver(priceCache, recipeCache, reducer, kat.Config{
		Rarities:            cfg.Kat.Rarities,
		FlowerID:            cfg.Kat.FlowerID,
		BouquetID:           cfg.Kat.BouquetID,
		DefaultFlowerPrice:  cfg.Kat.DefaultFlowerPrice,
		DefaultBouquetPrice: cfg.Kat.DefaultBouquetPrice,
		BazaarInstant:       cfg.Kat.BazaarInstant,
		BazaarTaxPct:        cfg.Market.BazaarTaxPct,
		AHTaxMultiplier:     cfg.Market.AHTaxMultiplier,
		AHTaxThresholds:     cfg.Market.AHTaxThresholds,
		AHTaxRates:          cfg.Market.AHTaxRates,
		ItemIDMappings:      cfg.Kat.ItemIDMappings,
	})

	// Load forge recipes when the forge scan is enabled
	var forgeRecipes []forge.Recipe
	if cfg.Forge.Enabled {
		forgeRecipes, err = forge.LoadRecipes(cfg.Forge.RecipesFile)
		if err != nil {
			logger.Fatal("Failed to load forge recipes: %v", err)
		}
		logger.Info("Loaded %d forge recipes", len(forgeRecipes))
	}

	// Initialize Telegram client
	var telegramClient *telegram.Client
	if cfg.Telegram.Enabled {
		telegramClient, err = telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.MaxRetries, cfg.Telegram.RetryDelayBase)
		if err != nil {
			logger.Fatal("Failed to initialize Telegram client: %v", err)
		}
		logger.Info("Telegram client initialized successfully")
	} else {
		logger.Debug("Telegram notifications disabled")
	}

	queue := tasks.NewQueue(ctx)
	defer queue.Close()

	a := &app{
		cfg:            cfg,
		priceCache:     priceCache,
		salesClient:    salesClient,
		recipeCache:    recipeCache,
		resolver:       resolver,
		mon:            monitor.New(),
		families:       families,
		forgeRecipes:   forgeRecipes,
		queue:          queue,
		telegramClient: telegramClient,
	}

	logger.Info("Starting scan service (interval: %v, top_k: %d, min_profit: %.0f)",
		cfg.Monitor.PollInterval, cfg.Monitor.TopK, cfg.Monitor.MinProfit)

	ticker := time.NewTicker(cfg.Monitor.PollInterval)
	defer ticker.Stop()

	// Run initial scan immediately
	logger.Debug("Running initial scan cycle")
	a.submitScan(true)

	for {
		select {
		case <-ctx.Done():
			logger.Info("Service stopped")
			return

		case <-ticker.C:
			logger.Debug("Starting scheduled scan cycle")
			a.submitScan(true)
		}
	}
}

// submitScan enqueues one scan cycle. Overlapping submissions while a scan is
// still queued are dropped by the task queue's dedup.
func (a *app) submitScan(force bool) {
	if !a.queue.Submit("scan", func(taskCtx context.Context) error {
		return a.runScanCycle(taskCtx, force)
	}) {
		logger.Debug("Scan already queued, skipping")
	}
}

// submitRescan recomputes cards off the already-fresh price snapshot after a
// recipe fetch completes. Latest-wins: a newer rescan cancels an older one.
func (a *app) submitRescan() {
	a.queue.SubmitUnique("rescan", func(taskCtx context.Context) error {
		return a.runScanCycle(taskCtx, false)
	})
}

func (a *app) runScanCycle(ctx context.Context, force bool) error {
	startTime := time.Now()
	logger.Info("Starting scan cycle")

	a.priceCache.Refresh(ctx, force)

	onAvailable := func() { a.submitRescan() }

	var cards []models.UpgradeCard
	for i := range a.families {
		family := &a.families[i]
		for j := range family.Recipes {
			cards = append(cards, a.resolver.UpgradeCards(ctx, family, &family.Recipes[j], onAvailable)...)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	logger.Info("Resolved %d upgrade cards across %d families", len(cards), len(a.families))

	if a.recipeCache.HasPending() {
		logger.Debug("Recipe fetches in flight (progress: %.0f%%), results will refine on completion",
			a.recipeCache.Progress()*100)
	}

	top := a.mon.Rank(cards, a.cfg.Monitor.MinProfit, a.cfg.Monitor.TopK)
	for i, card := range top {
		rate, known := a.salesClient.FetchHourlyRate(ctx, endItemTag(a.cfg, card))
		demand := "demand unknown"
		if known {
			demand = fmt.Sprintf("sells %.2f/hr", rate)
		}
		logger.Info("#%d %s %s→%s: profit %.0f (cost %.0f, %.1fh, %s)",
			i+1, card.Recipe.Name, card.StartRarity, card.EndRarity,
			card.Profit, card.TotalCost, card.ReducedHours, demand)
	}

	if a.cfg.Telegram.Enabled && a.telegramClient != nil {
		fresh := a.mon.FilterRecentlySent(top, a.cfg.Monitor.NotifyCooldown)
		if len(fresh) > 0 {
			if err := a.telegramClient.Send(fresh); err != nil {
				logger.Error("Failed to send Telegram notification: %v", err)
			} else {
				logger.Info("Sent Telegram notification with %d upgrades", len(fresh))
				a.mon.RecordNotified(fresh)
			}
		}
	}

	if a.cfg.Forge.Enabled {
		a.scanForge(ctx)
	}

	logger.Info("Scan cycle completed in %v", time.Since(startTime))
	return nil
}

// scanForge prices the forge recipe list against the current snapshot and
// logs the most profitable crafts.
func (a *app) scanForge(ctx context.Context) {
	settings := forge.Settings{
		Slots:           a.cfg.Forge.Slots,
		QuickForgeLevel: a.cfg.Forge.QuickForgeLevel,
		BazaarTaxPct:    a.cfg.Market.BazaarTaxPct,
		AHTaxMultiplier: a.cfg.Market.AHTaxMultiplier,
		AHTaxThresholds: a.cfg.Market.AHTaxThresholds,
		AHTaxRates:      a.cfg.Market.AHTaxRates,
	}

	results := make([]forge.Result, 0, len(a.forgeRecipes))
	for _, recipe := range a.forgeRecipes {
		sellPrice := a.priceCache.GetSellPrice(ctx, recipe.ItemID, a.cfg.Forge.InstantSell, prices.Either)
		ingredientPrices := make(map[string]models.PriceQuote, len(recipe.Ingredients))
		for _, ingredient := range recipe.Ingredients {
			ingredientPrices[ingredient.ItemID] = a.priceCache.GetBuyPrice(ctx, ingredient.ItemID, a.cfg.Forge.InstantBuy, prices.Either)
		}
		result := forge.CalculateProfit(recipe, sellPrice, ingredientPrices, settings)
		if result.SellValue > 0 && result.Profit() >= a.cfg.Forge.MinProfit {
			results = append(results, result)
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].ProfitPerHour > results[j].ProfitPerHour
	})
	if len(results) > a.cfg.Monitor.TopK {
		results = results[:a.cfg.Monitor.TopK]
	}
	for i, result := range results {
		logger.Info("Forge #%d %s: %.0f/hr (profit %.0f, %ds)",
			i+1, result.Recipe.Name, result.ProfitPerHour, result.Profit(), result.EffectiveDuration)
	}
}

// endItemTag is the composite tag of the upgraded pet, used for sale-rate
// lookups.
func endItemTag(cfg *config.Config, card models.UpgradeCard) string {
	base, _, _ := splitTag(card.Recipe.ItemTag)
	return fmt.Sprintf("%s;%d", base, cfg.RarityNumber(card.EndRarity))
}

func splitTag(tag string) (string, string, bool) {
	for i := 0; i < len(tag); i++ {
		if tag[i] == ';' {
			return tag[:i], tag[i+1:], true
		}
	}
	return tag, "", false
}
