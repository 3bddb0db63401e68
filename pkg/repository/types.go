package repository

import (
	"time"
)

// Snapshot is one persisted valuation record for one token at one point in chain time.
type Snapshot struct {
	Token string `json:"token"`
	Pool  string `json:"pool"`
	RunID string `json:"run_id"`

	PriceUSD            float64 `json:"price_usd"`
	PriceNative         float64 `json:"price_native"`
	ReferencePriceUSD   float64 `json:"reference_price_usd"`
	ReferencePriceKnown bool    `json:"reference_price_known"`

	ReservesNative *float64 `json:"reserves_native,omitempty"`
	ReservesToken  *float64 `json:"reserves_token,omitempty"`

	Volume24hUSD   float64 `json:"volume_24h_usd"`
	VolumeDegraded bool    `json:"volume_degraded"`

	BlockNumber uint64    `json:"block_number"`
	BlockTime   time.Time `json:"block_time"`
	CreatedAt   time.Time `json:"created_at"`
}
