package refprice

import (
	"context"
	"time"
)

// Price is a USD quote of the native asset. Known is false when no source could provide one; USD is 0 then.
type Price struct {
	USD    float64   `json:"usd"`
	Known  bool      `json:"known"`
	At     time.Time `json:"at"`
	Source string    `json:"source,omitempty"`
}

func Unknown() Price {
	return Price{}
}

// Source provides the native asset USD price. It never fails: unavailability is an unknown Price.
type Source interface {
	NativeAssetUSD(ctx context.Context) Price
}

type chained []Source

// Chain asks sources in order and returns the first known price.
func Chain(sources ...Source) Source {
	filtered := make(chained, 0, len(sources))
	for _, s := range sources {
		if s != nil {
			filtered = append(filtered, s)
		}
	}
	return filtered
}

func (c chained) NativeAssetUSD(ctx context.Context) Price {
	for _, s := range c {
		if p := s.NativeAssetUSD(ctx); p.Known {
			return p
		}
	}
	return Unknown()
}

// Static always returns the same quote. Useful for offline runs and tests.
type Static float64

func (s Static) NativeAssetUSD(context.Context) Price {
	return Price{USD: float64(s), Known: true, At: time.Now().UTC(), Source: "static"}
}
