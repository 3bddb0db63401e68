package repository

import (
	"time"
)

type Repository interface {
	// SaveSnapshot inserts a snapshot row. Rows are never updated; a second insert
	// for the same token and run is ignored.
	SaveSnapshot(Snapshot) error

	// LatestSnapshot will return the most recently created snapshot of a token
	LatestSnapshot(token string) (Snapshot, bool)
	// SnapshotAtOrBefore will return the most recent snapshot of a token created
	// at or before cutoff
	SnapshotAtOrBefore(token string, cutoff time.Time) (Snapshot, bool)
	// SnapshotsRange will return snapshots of a token created between min and max inclusive.
	// Empty token selects all tokens.
	SnapshotsRange(min, max time.Time, token string) ([]Snapshot, error)
	CountSnapshots() (int64, error)

	// PruneSnapshots deletes every snapshot created before olderThan and returns
	// the number of deleted rows.
	PruneSnapshots(olderThan time.Time) (int64, error)

	Close() error
}
