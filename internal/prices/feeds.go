package prices

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"skyprofit/internal/models"
)

const userAgent = "skyprofit/1.0"

// FeedClient fetches the two public market feeds: the Hypixel bazaar order
// book and the Moulberry lowest-BIN summary.
type FeedClient struct {
	bazaarURL    string
	lowestBinURL string
	httpClient   *http.Client
}

// NewFeedClient creates a feed client with the given endpoints and timeout.
func NewFeedClient(bazaarURL, lowestBinURL string, timeout time.Duration) *FeedClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &FeedClient{
		bazaarURL:    bazaarURL,
		lowestBinURL: lowestBinURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// bazaarResponse mirrors the Hypixel bazaar API payload.
type bazaarResponse struct {
	Success  bool                     `json:"success"`
	Products map[string]bazaarProduct `json:"products"`
}

type bazaarProduct struct {
	ProductID   string `json:"product_id"`
	QuickStatus struct {
		BuyPrice  float64 `json:"buyPrice"`
		SellPrice float64 `json:"sellPrice"`
	} `json:"quick_status"`
}

// FetchBazaar retrieves the bazaar order book keyed by product ID.
func (c *FeedClient) FetchBazaar(ctx context.Context) (map[string]models.OrderBookEntry, error) {
	resp, err := c.doRequest(ctx, c.bazaarURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch bazaar feed: %w", err)
	}
	defer resp.Body.Close()

	var payload bazaarResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode bazaar feed: %w", err)
	}
	if !payload.Success {
		return nil, fmt.Errorf("bazaar feed reported success=false")
	}

	entries := make(map[string]models.OrderBookEntry, len(payload.Products))
	for id, product := range payload.Products {
		entries[id] = models.OrderBookEntry{
			BuyPrice:  product.QuickStatus.BuyPrice,
			SellPrice: product.QuickStatus.SellPrice,
		}
	}
	return entries, nil
}

// FetchLowestBin retrieves the lowest-BIN price per item ID.
func (c *FeedClient) FetchLowestBin(ctx context.Context) (map[string]float64, error) {
	resp, err := c.doRequest(ctx, c.lowestBinURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch lowest-BIN feed: %w", err)
	}
	defer resp.Body.Close()

	var listings map[string]float64
	if err := json.NewDecoder(resp.Body).Decode(&listings); err != nil {
		return nil, fmt.Errorf("failed to decode lowest-BIN feed: %w", err)
	}
	return listings, nil
}

// doRequest performs an HTTP GET with retry on transient failures.
func (c *FeedClient) doRequest(ctx context.Context, url string) (*http.Response, error) {
	const maxRetries = 3
	var lastErr error

	for i := 0; i < maxRetries; i++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", userAgent)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(i+1) * time.Second):
			}
			continue
		}

		if resp.StatusCode >= 500 {
			resp.Body.Close()
			lastErr = fmt.Errorf("server error: %d", resp.StatusCode)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(i+1) * time.Second):
			}
			continue
		}

		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
		}

		return resp, nil
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}
