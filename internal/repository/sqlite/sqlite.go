package sqlite

import (
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// New opens an SQL database.
// In case in-memory DB is needed(e.g. testing), "file::memory:?cache=shared" can be used instead of a database filename.
func New(dbname string) (*gorm.DB, error) {
	dbCon, err := gorm.Open(sqlite.Open(dbname), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})

	if err != nil {
		return nil, err
	}

	// SQLite serialises writers; a single connection avoids "database is locked" under concurrent inserts.
	db, err := dbCon.DB()
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	return dbCon, nil
}
