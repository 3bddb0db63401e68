package repository

import (
	"time"
)

type Snapshot struct {
	ID        uint64    `gorm:"primaryKey"`
	CreatedAt time.Time `gorm:"index:idx_snapshot_token_created,priority:2;index:idx_snapshot_created"`
	Token     string    `gorm:"size:42;index:idx_snapshot_token_created,priority:1;uniqueIndex:idx_snapshot_run,priority:1"`
	RunID     string    `gorm:"size:64;uniqueIndex:idx_snapshot_run,priority:2"`
	Pool      string    `gorm:"size:42"`

	PriceUSD            float64
	PriceNative         float64
	ReferencePriceUSD   float64
	ReferencePriceKnown bool

	ReservesNative *float64
	ReservesToken  *float64

	Volume24hUSD   float64
	VolumeDegraded bool

	BlockNumber uint64
	BlockTime   time.Time
}
