package refprice

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

const DefaultMaxAge = 10 * time.Minute

// Quote is the price-feed message format.
type Quote struct {
	Price       float64 `json:"price"`
	LastUpdated int64   `json:"last_updated"`
}

// NATSFeed keeps the latest quote received on a price-feed subject.
type NATSFeed struct {
	logger  *slog.Logger
	maxAge  time.Duration
	now     func() time.Time
	sub     *nats.Subscription
	subject string

	mu     sync.RWMutex
	latest Price
}

func NewNATSFeed(maxAge time.Duration, logger *slog.Logger) *NATSFeed {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &NATSFeed{
		logger: logger.With("module", "price-feed"),
		maxAge: maxAge,
		now:    time.Now,
	}
}

// Subscribe starts consuming quotes from subject.
func (f *NATSFeed) Subscribe(conn *nats.Conn, subject string) error {
	sub, err := conn.Subscribe(subject, f.handlePriceFeed)
	if err != nil {
		return err
	}
	f.sub = sub
	f.subject = subject
	f.logger.Info("Subscribed to price feed", "subject", subject)
	return nil
}

func (f *NATSFeed) Close() error {
	if f.sub == nil {
		return nil
	}
	return f.sub.Unsubscribe()
}

func (f *NATSFeed) handlePriceFeed(msg *nats.Msg) {
	var quote Quote
	if err := json.Unmarshal(msg.Data, &quote); err != nil {
		f.logger.Warn("Bogus price message", "subject", msg.Subject, "err", err)
		return
	}
	if quote.Price <= 0 {
		f.logger.Warn("Ignoring non-positive price", "subject", msg.Subject, "price", quote.Price)
		return
	}

	at := time.Unix(quote.LastUpdated, 0).UTC()
	if quote.LastUpdated == 0 {
		at = f.now().UTC()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if at.Before(f.latest.At) {
		return
	}
	f.latest = Price{USD: quote.Price, Known: true, At: at, Source: "nats"}
	f.logger.Debug("Price updated", "subject", msg.Subject, "price", quote.Price, "at", at)
}

func (f *NATSFeed) NativeAssetUSD(context.Context) Price {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if !f.latest.Known || f.now().Sub(f.latest.At) > f.maxAge {
		return Unknown()
	}
	return f.latest
}

func (f *NATSFeed) GetStatus() map[string]any {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return map[string]any{
		"price_subject":    f.subject,
		"price_known":      f.latest.Known,
		"price_usd":        f.latest.USD,
		"price_updated_at": f.latest.At,
	}
}
