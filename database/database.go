package database

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/formvault/formvault/config"
)

// Open connects to the SQLite file named by cfg.DBUrl and brings the schema
// up to date. Transactions take the write lock up front (_txlock=immediate)
// so concurrent publish/activate calls queue instead of deadlocking on a
// lock upgrade.
func Open(cfg config.Config) (db *sql.DB, err error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_txlock=immediate", cfg.DBUrl)
	db, err = sql.Open("sqlite3", dsn)
	if err != nil {
		return
	}

	_, err = db.Exec("PRAGMA foreign_keys = ON")
	if err != nil {
		db.Close()
		return
	}

	// db tuning options
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetConnMaxLifetime(2 * time.Hour)

	err = migrateDB(db)
	if err != nil {
		db.Close()
		return
	}

	return
}
