package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete application configuration
type Config struct {
	Feeds    FeedsConfig    `mapstructure:"feeds"`
	Sales    SalesConfig    `mapstructure:"sales"`
	Recipes  RecipesConfig  `mapstructure:"recipes"`
	Kat      KatConfig      `mapstructure:"kat"`
	Market   MarketConfig   `mapstructure:"market"`
	Forge    ForgeConfig    `mapstructure:"forge"`
	Monitor  MonitorConfig  `mapstructure:"monitor"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// FeedsConfig holds the market price feed endpoints and cache behavior
type FeedsConfig struct {
	BazaarURL    string        `mapstructure:"bazaar_url"`
	LowestBinURL string        `mapstructure:"lowest_bin_url"`
	Timeout      time.Duration `mapstructure:"timeout"`
	SnapshotTTL  time.Duration `mapstructure:"snapshot_ttl"`
}

// SalesConfig holds the sold-auction history API configuration
type SalesConfig struct {
	SoldAuctionsURL   string        `mapstructure:"sold_auctions_url"` // {itemTag} and {pageSize} placeholders
	RequestsPerWindow int           `mapstructure:"requests_per_window"`
	Window            time.Duration `mapstructure:"window"`
	CacheTTL          time.Duration `mapstructure:"cache_ttl"`
	PageSizes         []int         `mapstructure:"page_sizes"`
	Timeout           time.Duration `mapstructure:"timeout"`
}

// RecipesConfig holds the crafting recipe API and cache file configuration
type RecipesConfig struct {
	RecipeURL         string        `mapstructure:"recipe_url"` // {itemTag} placeholder, tag URL-escaped
	CacheFile         string        `mapstructure:"cache_file"`
	RequestsPerWindow int           `mapstructure:"requests_per_window"`
	Window            time.Duration `mapstructure:"window"`
	Timeout           time.Duration `mapstructure:"timeout"`
}

// KatConfig holds the Kat upgrade chain definitions and time reduction tuning
type KatConfig struct {
	DataURL             string                    `mapstructure:"data_url"`
	DataFile            string                    `mapstructure:"data_file"`
	Rarities            []string                  `mapstructure:"rarities"` // ascending, index = tier number
	FlowerID            string                    `mapstructure:"flower_id"`
	BouquetID           string                    `mapstructure:"bouquet_id"`
	FlowerSkipHours     float64                   `mapstructure:"flower_skip_hours"`
	BouquetSkipHours    float64                   `mapstructure:"bouquet_skip_hours"`
	MaxFlowers          int                       `mapstructure:"max_flowers"`
	MaxBouquets         int                       `mapstructure:"max_bouquets"`
	DefaultFlowerPrice  float64                   `mapstructure:"default_flower_price"`
	DefaultBouquetPrice float64                   `mapstructure:"default_bouquet_price"`
	TargetMaxHours      float64                   `mapstructure:"target_max_hours"`
	EnableReduction     bool                      `mapstructure:"enable_reduction"`
	BazaarInstant       bool                      `mapstructure:"bazaar_instant"`
	ItemIDMappings      map[string]string         `mapstructure:"item_id_mappings"`
	NPCItemCosts        map[string]map[string]int `mapstructure:"npc_item_costs"`
	FallbackPrices      map[string]float64        `mapstructure:"fallback_prices"`
}

// MarketConfig holds the sale tax model applied to end prices
type MarketConfig struct {
	BazaarTaxPct    float64   `mapstructure:"bazaar_tax_pct"`
	AHTaxMultiplier float64   `mapstructure:"ah_tax_multiplier"`
	AHTaxThresholds []float64 `mapstructure:"ah_tax_thresholds"`
	AHTaxRates      []float64 `mapstructure:"ah_tax_rates"` // one more entry than thresholds
}

// ForgeConfig holds the forge recipe source and crafting setup
type ForgeConfig struct {
	Enabled         bool    `mapstructure:"enabled"`
	RecipesFile     string  `mapstructure:"recipes_file"`
	Slots           int     `mapstructure:"slots"`
	QuickForgeLevel int     `mapstructure:"quick_forge_level"`
	InstantBuy      bool    `mapstructure:"instant_buy"`
	InstantSell     bool    `mapstructure:"instant_sell"`
	MinProfit       float64 `mapstructure:"min_profit"`
}

// MonitorConfig holds the scan loop behavior
type MonitorConfig struct {
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	TopK           int           `mapstructure:"top_k"`
	MinProfit      float64       `mapstructure:"min_profit"`
	NotifyCooldown time.Duration `mapstructure:"notify_cooldown"`
}

// TelegramConfig holds Telegram notification configuration
type TelegramConfig struct {
	BotToken       string        `mapstructure:"bot_token"`
	ChatID         string        `mapstructure:"chat_id"`
	Enabled        bool          `mapstructure:"enabled"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)
	setDefaults(v)

	v.SetEnvPrefix("SKYPROFIT")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	// Feed defaults
	v.SetDefault("feeds.bazaar_url", "https://api.hypixel.net/v2/skyblock/bazaar")
	v.SetDefault("feeds.lowest_bin_url", "https://moulberry.codes/lowestbin.json")
	v.SetDefault("feeds.timeout", "30s")
	v.SetDefault("feeds.snapshot_ttl", "15m")

	// Sales defaults (Coflnet recommends 30 requests per 10 seconds)
	v.SetDefault("sales.sold_auctions_url", "https://sky.coflnet.com/api/auctions/tag/{itemTag}/sold?page=1&pageSize={pageSize}")
	v.SetDefault("sales.requests_per_window", 30)
	v.SetDefault("sales.window", "10s")
	v.SetDefault("sales.cache_ttl", "24h")
	v.SetDefault("sales.page_sizes", []int{500, 250, 100, 50})
	v.SetDefault("sales.timeout", "30s")

	// Recipe defaults
	v.SetDefault("recipes.recipe_url", "https://sky.coflnet.com/api/craft/recipe/{itemTag}")
	v.SetDefault("recipes.cache_file", "./data/recipe_cache.json")
	v.SetDefault("recipes.requests_per_window", 30)
	v.SetDefault("recipes.window", "10s")
	v.SetDefault("recipes.timeout", "30s")

	// Kat defaults
	v.SetDefault("kat.data_url", "https://sky.coflnet.com/api/kat/data")
	v.SetDefault("kat.data_file", "./data/kat.json")
	v.SetDefault("kat.rarities", []string{"COMMON", "UNCOMMON", "RARE", "EPIC", "LEGENDARY", "MYTHIC"})
	v.SetDefault("kat.flower_id", "KAT_FLOWER")
	v.SetDefault("kat.bouquet_id", "KAT_BOUQUET")
	v.SetDefault("kat.flower_skip_hours", 24.0)
	v.SetDefault("kat.bouquet_skip_hours", 120.0)
	v.SetDefault("kat.max_flowers", 30)
	v.SetDefault("kat.max_bouquets", 10)
	v.SetDefault("kat.default_flower_price", 100000.0)
	v.SetDefault("kat.default_bouquet_price", 1000000.0)
	v.SetDefault("kat.target_max_hours", 0.05)
	v.SetDefault("kat.enable_reduction", true)
	v.SetDefault("kat.bazaar_instant", false)
	v.SetDefault("kat.item_id_mappings", map[string]string{
		"ENCHANTED_RED_SAND_CUBE":   "ENCHANTED_RED_SAND",
		"ENCHANTED_HUGE_MUSHROOM_1": "ENCHANTED_BROWN_MUSHROOM",
		"ENCHANTED_HUGE_MUSHROOM_2": "ENCHANTED_RED_MUSHROOM",
		"END_STONE":                 "ENDSTONE",
		"RAW_PORKCHOP":              "PORK",
		"ENCHANTED_RAW_PORKCHOP":    "ENCHANTED_PORK",
		"JUNGLE_WOOD":               "JUNGLE_LOG",
		"LOG-3":                     "JUNGLE_LOG",
		"LOG-1":                     "SPRUCE_LOG",
		"RAW_RABBIT":                "RABBIT",
		"RAW_MUTTON":                "MUTTON",
		"MUTTON":                    "ENCHANTED_MUTTON",
		"ASSISTANT":                 "MOVE_JERRY",
	})
	v.SetDefault("kat.npc_item_costs", map[string]map[string]int{
		"SMALL_FROG_TREAT":  {"AGATHA_COUPON": 30},
		"MEDIUM_FROG_TREAT": {"AGATHA_COUPON": 40},
		"LARGE_FROG_TREAT":  {"AGATHA_COUPON": 50},
		"GIANT_FROG_TREAT":  {"AGATHA_COUPON": 60},
	})
	v.SetDefault("kat.fallback_prices", map[string]float64{
		"AGATHA_COUPON": 15000.0,
	})

	// Market tax defaults
	v.SetDefault("market.bazaar_tax_pct", 1.25)
	v.SetDefault("market.ah_tax_multiplier", 1.0)
	v.SetDefault("market.ah_tax_thresholds", []float64{1_000_000, 10_000_000, 100_000_000})
	v.SetDefault("market.ah_tax_rates", []float64{1.0, 2.0, 3.0, 3.5})

	// Forge defaults
	v.SetDefault("forge.enabled", false)
	v.SetDefault("forge.recipes_file", "./data/forge_recipes.json")
	v.SetDefault("forge.slots", 1)
	v.SetDefault("forge.quick_forge_level", 0)
	v.SetDefault("forge.instant_buy", true)
	v.SetDefault("forge.instant_sell", true)
	v.SetDefault("forge.min_profit", 0.0)

	// Monitor defaults
	v.SetDefault("monitor.poll_interval", "15m")
	v.SetDefault("monitor.top_k", 10)
	v.SetDefault("monitor.min_profit", 0.0)
	v.SetDefault("monitor.notify_cooldown", "1h")

	// Telegram defaults
	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay_base", "1s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	if c.Feeds.BazaarURL == "" {
		return fmt.Errorf("feeds.bazaar_url is required")
	}
	if c.Feeds.LowestBinURL == "" {
		return fmt.Errorf("feeds.lowest_bin_url is required")
	}
	if c.Feeds.SnapshotTTL < time.Minute {
		return fmt.Errorf("feeds.snapshot_ttl must be at least 1 minute")
	}

	if c.Sales.SoldAuctionsURL == "" {
		return fmt.Errorf("sales.sold_auctions_url is required")
	}
	if c.Sales.RequestsPerWindow < 1 {
		return fmt.Errorf("sales.requests_per_window must be at least 1")
	}
	if c.Sales.Window <= 0 {
		return fmt.Errorf("sales.window must be positive")
	}
	if len(c.Sales.PageSizes) == 0 {
		return fmt.Errorf("sales.page_sizes must contain at least one size")
	}
	for _, size := range c.Sales.PageSizes {
		if size < 1 {
			return fmt.Errorf("sales.page_sizes entries must be at least 1")
		}
	}

	if c.Recipes.RecipeURL == "" {
		return fmt.Errorf("recipes.recipe_url is required")
	}
	if c.Recipes.CacheFile == "" {
		return fmt.Errorf("recipes.cache_file is required")
	}
	if c.Recipes.RequestsPerWindow < 1 {
		return fmt.Errorf("recipes.requests_per_window must be at least 1")
	}
	if c.Recipes.Window <= 0 {
		return fmt.Errorf("recipes.window must be positive")
	}

	if len(c.Kat.Rarities) < 2 {
		return fmt.Errorf("kat.rarities must contain at least two tiers")
	}
	if c.Kat.MaxFlowers < 0 || c.Kat.MaxBouquets < 0 {
		return fmt.Errorf("kat.max_flowers and kat.max_bouquets must not be negative")
	}
	if c.Kat.FlowerSkipHours <= 0 || c.Kat.BouquetSkipHours <= 0 {
		return fmt.Errorf("kat.flower_skip_hours and kat.bouquet_skip_hours must be positive")
	}
	if c.Kat.TargetMaxHours < 0 {
		return fmt.Errorf("kat.target_max_hours must not be negative")
	}

	if len(c.Market.AHTaxRates) != len(c.Market.AHTaxThresholds)+1 {
		return fmt.Errorf("market.ah_tax_rates must have exactly one more entry than market.ah_tax_thresholds")
	}

	if c.Forge.Enabled {
		if c.Forge.RecipesFile == "" {
			return fmt.Errorf("forge.recipes_file is required when forge is enabled")
		}
		if c.Forge.Slots < 1 {
			return fmt.Errorf("forge.slots must be at least 1")
		}
		if c.Forge.QuickForgeLevel < 0 {
			return fmt.Errorf("forge.quick_forge_level must not be negative")
		}
	}

	if c.Monitor.PollInterval < time.Minute {
		return fmt.Errorf("monitor.poll_interval must be at least 1 minute")
	}
	if c.Monitor.TopK < 1 {
		return fmt.Errorf("monitor.top_k must be at least 1")
	}
	if c.Monitor.NotifyCooldown < 0 {
		return fmt.Errorf("monitor.notify_cooldown must not be negative")
	}

	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}

// RarityNumber returns the tier number for a rarity name, or -1 when the
// rarity is not part of the configured ladder.
func (c *Config) RarityNumber(rarity string) int {
	for i, r := range c.Kat.Rarities {
		if r == rarity {
			return i
		}
	}
	return -1
}

// NextRarity returns the rarity one tier above the given one, or "" at the top.
func (c *Config) NextRarity(rarity string) string {
	n := c.RarityNumber(rarity)
	if n < 0 || n+1 >= len(c.Kat.Rarities) {
		return ""
	}
	return c.Kat.Rarities[n+1]
}
