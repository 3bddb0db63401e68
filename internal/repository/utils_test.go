package repository_test

import (
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/Synternet/bondingcurve-indexer/internal/repository"
	"github.com/Synternet/bondingcurve-indexer/internal/repository/sqlite"
	repotypes "github.com/Synternet/bondingcurve-indexer/pkg/repository"
)

const (
	tokenA = "0x00000000000000000000000000000000000000aa"
	tokenB = "0x00000000000000000000000000000000000000bb"
	poolA  = "0x0000000000000000000000000000000000000a01"
	poolB  = "0x0000000000000000000000000000000000000b01"
)

var TimestampBase = time.Unix(1706716320, 0).UTC()

func makeDB(t *testing.T) *repository.Repository {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := sqlite.New(fmt.Sprintf("file:%s?mode=memory&cache=shared", name))
	if err != nil {
		t.Fatal(err)
	}
	repo, err := repository.New(db, slog.Default())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { repo.Close() })

	return repo
}

func snapshotAt(token, pool, runID string, price float64, createdAt time.Time) repotypes.Snapshot {
	return repotypes.Snapshot{
		Token:               token,
		Pool:                pool,
		RunID:               runID,
		PriceUSD:            price,
		PriceNative:         price * 20,
		ReferencePriceUSD:   0.05,
		ReferencePriceKnown: true,
		BlockNumber:         uint64(createdAt.Unix() - TimestampBase.Unix()),
		BlockTime:           createdAt.Add(-2 * time.Second),
		CreatedAt:           createdAt,
	}
}

func addSnapshots(t *testing.T, repo *repository.Repository) {
	t.Helper()
	rows := []repotypes.Snapshot{
		snapshotAt(tokenA, poolA, "run-1", 1, TimestampBase),
		snapshotAt(tokenB, poolB, "run-1", 10, TimestampBase),
		snapshotAt(tokenA, poolA, "run-2", 2, TimestampBase.Add(time.Hour)),
		snapshotAt(tokenB, poolB, "run-2", 20, TimestampBase.Add(time.Hour)),
		snapshotAt(tokenA, poolA, "run-3", 3, TimestampBase.Add(2*time.Hour)),
	}
	for _, row := range rows {
		if err := repo.SaveSnapshot(row); err != nil {
			t.Fatal(err)
		}
	}
}

func ptr[T any](v T) *T {
	return &v
}
