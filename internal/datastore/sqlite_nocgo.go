//go:build !cgo

package datastore

import (
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

// sqliteDialector falls back to the pure Go driver for cgo-free builds.
func sqliteDialector(path string) gorm.Dialector {
	return sqlite.Open(path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
}
