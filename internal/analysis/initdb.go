package analysis

import (
	"fmt"

	"github.com/lampwatch/lampwatch/internal/conf"
	"github.com/lampwatch/lampwatch/internal/datastore"
	"github.com/lampwatch/lampwatch/internal/logger"
)

// InitDB migrates the ledger schema and, with seed, inserts the sample rows
// into empty tables. It returns the number of rows inserted.
func InitDB(settings *conf.Settings, seed bool) (int, error) {
	store := datastore.New(settings.Database)
	if err := store.Open(); err != nil {
		return 0, fmt.Errorf("failed to open detection ledger: %w", err)
	}
	defer closeQuietly(store, "ledger")

	log := GetLogger().With(logger.String("driver", settings.Database.Driver))
	if !seed {
		log.Info("ledger schema is up to date")
		return 0, nil
	}

	n, err := store.Seed()
	if err != nil {
		return 0, fmt.Errorf("failed to seed ledger: %w", err)
	}
	log.Info("ledger seeded", logger.Int("rows", n))
	return n, nil
}
