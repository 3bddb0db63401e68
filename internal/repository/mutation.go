package repository

import (
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm/clause"

	"github.com/Synternet/bondingcurve-indexer/pkg/repository"
)

func toModel(s repository.Snapshot) Snapshot {
	createdAt := s.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	return Snapshot{
		CreatedAt:           createdAt.UTC(),
		Token:               strings.ToLower(s.Token),
		RunID:               s.RunID,
		Pool:                strings.ToLower(s.Pool),
		PriceUSD:            s.PriceUSD,
		PriceNative:         s.PriceNative,
		ReferencePriceUSD:   s.ReferencePriceUSD,
		ReferencePriceKnown: s.ReferencePriceKnown,
		ReservesNative:      s.ReservesNative,
		ReservesToken:       s.ReservesToken,
		Volume24hUSD:        s.Volume24hUSD,
		VolumeDegraded:      s.VolumeDegraded,
		BlockNumber:         s.BlockNumber,
		BlockTime:           s.BlockTime.UTC(),
	}
}

func (r *Repository) SaveSnapshot(snapshot repository.Snapshot) error {
	row := toModel(snapshot)
	result := r.dbCon.Clauses(clause.OnConflict{DoNothing: true}).Model(&Snapshot{}).Create(&row)
	if result.Error != nil {
		return fmt.Errorf("%w: insert snapshot %s: %v", ErrPersistence, row.Token, result.Error)
	}
	return nil
}

// PruneSnapshots removes every snapshot created strictly before olderThan.
func (r *Repository) PruneSnapshots(olderThan time.Time) (int64, error) {
	result := r.dbCon.Where("created_at < ?", olderThan.UTC()).Delete(&Snapshot{})
	if result.Error != nil {
		return 0, fmt.Errorf("%w: prune snapshots before %s: %v", ErrPersistence, olderThan.UTC().Format(time.RFC3339), result.Error)
	}
	if result.RowsAffected > 0 {
		r.logger.Info("Pruned snapshots", "rows", result.RowsAffected, "older_than", olderThan.UTC())
	}
	return result.RowsAffected, nil
}
