package repository

import (
	"errors"
	"fmt"
	"log/slog"

	_ "github.com/lib/pq"
	"gorm.io/gorm"

	"github.com/Synternet/bondingcurve-indexer/pkg/repository"
)

var _ repository.Repository = (*Repository)(nil)

// ErrPersistence marks store write/delete failures.
var ErrPersistence = errors.New("persistence failed")

type Repository struct {
	logger *slog.Logger
	dbCon  *gorm.DB
}

func New(db *gorm.DB, logger *slog.Logger) (*Repository, error) {
	if logger == nil {
		logger = slog.Default()
	}
	ret := &Repository{
		logger: logger.With("module", "repository"),
		dbCon:  db,
	}

	// Create tables for data structures (if table already exists it will not be overwritten)
	err := db.AutoMigrate(&Snapshot{})
	if err != nil {
		return nil, fmt.Errorf("Snapshot table migrate error: %w", err)
	}
	return ret, nil
}

func (r *Repository) Close() error {
	db, err := r.dbCon.DB()
	if err != nil {
		return err
	}
	return db.Close()
}
