//go:build !sqlite

package main

// mysql support

import (
	"net/url"
	"strings"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

func newDialector(dsn string) gorm.Dialector {
	return mysql.New(mysql.Config{
		DSN: mergeOptions(dsn, "charset=utf8mb4&parseTime=True&loc=Local"),
		SkipInitializeWithVersion: false,
	})
}

// mergeOptions appends the options to the DSN, skipping any option whose key
// is already present in the DSN.
func mergeOptions(dsn, options string) string {
	if options == "" {
		return dsn
	}
	base, query, _ := strings.Cut(dsn, "?")
	present, _ := url.ParseQuery(query)
	var add []string
	for _, opt := range strings.Split(options, "&") {
		key, _, _ := strings.Cut(opt, "=")
		if _, ok := present[key]; ok {
			continue
		}
		add = append(add, opt)
	}
	switch {
	case len(add) == 0:
		return dsn
	case query == "":
		return base + "?" + strings.Join(add, "&")
	default:
		return dsn + "&" + strings.Join(add, "&")
	}
}

func configureDB(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}

	// the http server and the checkin workers share the pool.
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return nil
}
