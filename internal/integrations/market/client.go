/**
 * @description
 * HTTP client for the external market data API.
 * Serves current prices and daily price history for tracked products;
 * marketplace-specific scraping lives behind this API, not here.
 *
 * @dependencies
 * - net/http
 * - encoding/json
 * - github.com/shopspring/decimal
 * - backend/internal/config
 */

package market

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/dealwatch-project/backend/internal/config"
	"github.com/shopspring/decimal"
)

const (
	DefaultTimeout = 10 * time.Second
)

type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

func NewClient(cfg *config.Config) *Client {
	return &Client{
		BaseURL: cfg.Market.APIURL,
		HTTPClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
}

// HistoricalPrice is one day of product price history
type HistoricalPrice struct {
	Date  time.Time       `json:"date"`
	Price decimal.Decimal `json:"price"`
}

type currentPriceResponse struct {
	Price    decimal.Decimal `json:"price"`
	Currency string          `json:"currency"`
}

// GetCurrentPrice fetches the live price for a product URL
func (c *Client) GetCurrentPrice(ctx context.Context, productURL string) (decimal.Decimal, error) {
	u, err := url.Parse(fmt.Sprintf("%s/price", c.BaseURL))
	if err != nil {
		return decimal.Zero, err
	}

	q := u.Query()
	q.Set("url", productURL)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, "GET", u.String(), nil)
	if err != nil {
		return decimal.Zero, err
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("market api request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("market api returned status %d", resp.StatusCode)
	}

	var body currentPriceResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return decimal.Zero, fmt.Errorf("failed to decode price response: %w", err)
	}

	if body.Price.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("market api returned non-positive price %s", body.Price)
	}

	return body.Price, nil
}

// GetPriceHistory fetches up to `days` of daily price history for a product
func (c *Client) GetPriceHistory(ctx context.Context, productID string, days int) ([]HistoricalPrice, error) {
	u, err := url.Parse(fmt.Sprintf("%s/history", c.BaseURL))
	if err != nil {
		return nil, err
	}

	q := u.Query()
	q.Set("product_id", productID)
	if days > 0 {
		q.Set("days", strconv.Itoa(days))
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, "GET", u.String(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("market api request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("market api returned status %d", resp.StatusCode)
	}

	var history []HistoricalPrice
	if err := json.NewDecoder(resp.Body).Decode(&history); err != nil {
		return nil, fmt.Errorf("failed to decode history response: %w", err)
	}

	return history, nil
}
