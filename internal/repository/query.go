package repository

import (
	"strings"
	"time"

	"github.com/Synternet/bondingcurve-indexer/pkg/repository"
)

func fromModel(s Snapshot) repository.Snapshot {
	return repository.Snapshot{
		Token:               s.Token,
		Pool:                s.Pool,
		RunID:               s.RunID,
		PriceUSD:            s.PriceUSD,
		PriceNative:         s.PriceNative,
		ReferencePriceUSD:   s.ReferencePriceUSD,
		ReferencePriceKnown: s.ReferencePriceKnown,
		ReservesNative:      s.ReservesNative,
		ReservesToken:       s.ReservesToken,
		Volume24hUSD:        s.Volume24hUSD,
		VolumeDegraded:      s.VolumeDegraded,
		BlockNumber:         s.BlockNumber,
		BlockTime:           s.BlockTime,
		CreatedAt:           s.CreatedAt,
	}
}

// LatestSnapshot will return latest snapshot of a token.
func (r *Repository) LatestSnapshot(token string) (repository.Snapshot, bool) {
	var snapshot Snapshot
	result := r.dbCon.Model(&Snapshot{}).Order("created_at DESC, id DESC").Limit(1).Find(&snapshot, "token = ?", strings.ToLower(token))
	if result.Error != nil {
		r.logger.Error("Error fetching latest Snapshot from DB", "token", token, "err", result.Error)
		return repository.Snapshot{}, false
	}
	if result.RowsAffected == 0 {
		return repository.Snapshot{}, false
	}
	return fromModel(snapshot), true
}

// SnapshotAtOrBefore will return the nearest snapshot of a token created at or before cutoff.
func (r *Repository) SnapshotAtOrBefore(token string, cutoff time.Time) (repository.Snapshot, bool) {
	var snapshot Snapshot
	result := r.dbCon.Model(&Snapshot{}).
		Order("created_at DESC, id DESC").
		Limit(1).
		Find(&snapshot, "token = ? AND created_at <= ?", strings.ToLower(token), cutoff.UTC())
	if result.Error != nil {
		r.logger.Error("Error fetching Snapshot from DB", "token", token, "cutoff", cutoff, "err", result.Error)
		return repository.Snapshot{}, false
	}
	if result.RowsAffected == 0 {
		return repository.Snapshot{}, false
	}
	return fromModel(snapshot), true
}

func (r *Repository) SnapshotsRange(min, max time.Time, token string) ([]repository.Snapshot, error) {
	var snapshots []Snapshot
	query := "created_at >= ? AND created_at <= ? AND token = ?"
	args := []any{min.UTC(), max.UTC(), strings.ToLower(token)}
	if token == "" {
		query = "created_at >= ? AND created_at <= ?"
		args = args[:2]
	}
	result := r.dbCon.Model(&Snapshot{}).Order("created_at ASC, id ASC").Find(&snapshots, append([]any{query}, args...)...)
	if result.Error != nil {
		r.logger.Error("Error fetching Snapshots from DB", "err", result.Error)
		return nil, result.Error
	}

	ret := make([]repository.Snapshot, len(snapshots))
	for i, s := range snapshots {
		ret[i] = fromModel(s)
	}
	return ret, nil
}

func (r *Repository) CountSnapshots() (int64, error) {
	var count int64
	result := r.dbCon.Model(&Snapshot{}).Count(&count)
	return count, result.Error
}
