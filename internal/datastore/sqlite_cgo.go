//go:build cgo

package datastore

import (
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// sqliteDialector uses the mattn/go-sqlite3 backed driver when cgo is available.
func sqliteDialector(path string) gorm.Dialector {
	return sqlite.Open(path + "?_journal_mode=WAL&_busy_timeout=5000")
}
