//go:build sqlite

package main

// sqlite support

import (
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newDialector(dsn string) gorm.Dialector {
	return &sqlite.Dialector{
		DSN: dsn,
	}
}

func configureDB(db *gorm.DB) error {
	for _, pragma := range []string{
		// checkin_requests cascade when their checkin is removed.
		"PRAGMA foreign_keys = ON",
		// push handlers and checkin workers write concurrently.
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if err := db.Exec(pragma).Error; err != nil {
			return err
		}
	}
	return nil
}
