package datastore

import (
	"github.com/lampwatch/lampwatch/internal/logger"
)

// sampleHistory mirrors the rows shipped with the original history database.
var sampleHistory = []struct {
	datetime string
	image    string
	count    int
}{
	{"2025-11-12 10:00:00", "DETECTED_20251112100000_sample1.jpg", 1},
	{"2025-11-12 10:10:45", "DETECTED_20251112101045_sample3.jpg", 2},
}

// Seed inserts sample history rows and an initial "on" lamp record. Each
// table is seeded only when it is empty. It reports how many rows were added.
func (ds *DataStore) Seed() (int, error) {
	if err := ds.ready("seed"); err != nil {
		return 0, err
	}

	added := 0
	events, err := ds.CountEvents()
	if err != nil {
		return 0, err
	}
	if events == 0 {
		for _, s := range sampleHistory {
			image := s.image
			row := &HistoryEntry{
				Datetime:        s.datetime,
				CaptureImage:    &image,
				DetectionStatus: StatusForCount(s.count),
				PersonCount:     s.count,
			}
			if err := ds.DB.Create(row).Error; err != nil {
				return added, dbError(err, "seed_history")
			}
			added++
		}
	}

	lamps, err := ds.CountLampStates()
	if err != nil {
		return added, err
	}
	if lamps == 0 {
		if err := ds.AppendLampState(LampOn); err != nil {
			return added, err
		}
		added++
	}

	GetLogger().Info("ledger seeded", logger.Int("rows_added", added))
	return added, nil
}
