package refprice

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

const (
	DefaultCoinGeckoURL = "https://api.coingecko.com/api/v3"
	DefaultCoinID       = "hedera-hashgraph"
	DefaultTimeout      = 5 * time.Second
)

// CoinGecko queries the public simple/price endpoint.
type CoinGecko struct {
	logger  *slog.Logger
	client  *http.Client
	baseURL string
	coinID  string
}

func NewCoinGecko(baseURL, coinID string, timeout time.Duration, logger *slog.Logger) *CoinGecko {
	if baseURL == "" {
		baseURL = DefaultCoinGeckoURL
	}
	if coinID == "" {
		coinID = DefaultCoinID
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CoinGecko{
		logger:  logger.With("module", "coingecko"),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
		coinID:  coinID,
	}
}

func (c *CoinGecko) NativeAssetUSD(ctx context.Context) Price {
	usd, err := c.fetch(ctx)
	if err != nil {
		c.logger.Warn("Reference price unavailable", "coin", c.coinID, "err", err)
		return Unknown()
	}
	return Price{USD: usd, Known: true, At: time.Now().UTC(), Source: "coingecko"}
}

func (c *CoinGecko) fetch(ctx context.Context) (float64, error) {
	q := url.Values{}
	q.Set("ids", c.coinID)
	q.Set("vs_currencies", "usd")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/simple/price?"+q.Encode(), nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var body map[string]map[string]float64
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("decode: %w", err)
	}
	usd, ok := body[c.coinID]["usd"]
	if !ok {
		return 0, fmt.Errorf("no usd quote for %s", c.coinID)
	}
	if usd <= 0 {
		return 0, fmt.Errorf("non-positive usd quote %v for %s", usd, c.coinID)
	}
	return usd, nil
}
