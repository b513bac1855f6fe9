// Package datastore is the append-only ledger of detection runs and lamp
// state changes, backed by gorm.
package datastore

import (
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/lampwatch/lampwatch/internal/conf"
	"github.com/lampwatch/lampwatch/internal/errors"
	"github.com/lampwatch/lampwatch/internal/logger"
)

// Interface abstracts the ledger so the pipeline and API can be tested with fakes.
type Interface interface {
	Open() error
	Close() error
	// AppendEvent records one pipeline run. The detection status is derived
	// from personCount so a row can never contradict its count.
	AppendEvent(imageRef *string, personCount int) (*HistoryEntry, error)
	AppendLampState(status LampState) error
	// ListEvents returns every history row, newest first.
	ListEvents() ([]HistoryEntry, error)
	// LatestLampStatus returns nil without error when no state was recorded.
	LatestLampStatus() (*LampStatus, error)
	// CurrentLampState returns LampUnknown without error when no state was recorded.
	CurrentLampState() (LampState, error)
	CountEvents() (int64, error)
	CountLampStates() (int64, error)
}

// DataStore implements Interface on top of gorm.
type DataStore struct {
	DB       *gorm.DB
	Settings conf.DatabaseSettings
	now      func() time.Time
}

// New returns an unopened store for the configured backend.
func New(settings conf.DatabaseSettings) *DataStore {
	return &DataStore{Settings: settings, now: time.Now}
}

// FromDB wraps an already opened connection. Open migrates it.
func FromDB(db *gorm.DB) *DataStore {
	return &DataStore{DB: db, now: time.Now}
}

// Open connects to the configured backend and migrates the schema.
func (ds *DataStore) Open() error {
	if ds.DB == nil {
		db, err := openDatabase(ds.Settings)
		if err != nil {
			return err
		}
		ds.DB = db
	}
	return performAutoMigration(ds.DB, ds.Settings.Driver)
}

// Close closes the underlying connection pool.
func (ds *DataStore) Close() error {
	if ds.DB == nil {
		return dbError(errors.NewStd("database connection is not initialized"), "close")
	}
	sqlDB, err := ds.DB.DB()
	if err != nil {
		return dbError(err, "close")
	}
	if err := sqlDB.Close(); err != nil {
		return dbError(err, "close")
	}
	return nil
}

func (ds *DataStore) timestamp() string {
	return ds.now().Format(DatetimeLayout)
}

func (ds *DataStore) ready(op string) error {
	if ds.DB == nil {
		return dbError(errors.NewStd("database connection is not initialized"), op)
	}
	return nil
}

func (ds *DataStore) AppendEvent(imageRef *string, personCount int) (*HistoryEntry, error) {
	if err := ds.ready("append_event"); err != nil {
		return nil, err
	}
	if personCount < 0 {
		return nil, errors.Newf("person count must not be negative, got %d", personCount).
			Component(componentName).
			Category(errors.CategoryValidation).
			Build()
	}

	entry := &HistoryEntry{
		Datetime:        ds.timestamp(),
		CaptureImage:    imageRef,
		DetectionStatus: StatusForCount(personCount),
		PersonCount:     personCount,
	}
	if err := ds.DB.Create(entry).Error; err != nil {
		return nil, dbError(err, "append_event", "person_count", personCount)
	}

	GetLogger().Debug("history row appended",
		logger.Int64("id", int64(entry.ID)),
		logger.String("status", string(entry.DetectionStatus)),
		logger.Int("person_count", personCount))
	return entry, nil
}

func (ds *DataStore) AppendLampState(status LampState) error {
	if err := ds.ready("append_lamp_state"); err != nil {
		return err
	}
	if status != LampOn && status != LampOff {
		return errors.Newf("invalid lamp state %q", status).
			Component(componentName).
			Category(errors.CategoryValidation).
			Build()
	}

	row := &LampStatus{Datetime: ds.timestamp(), Status: status}
	if err := ds.DB.Create(row).Error; err != nil {
		return dbError(err, "append_lamp_state", "status", string(status))
	}
	return nil
}

func (ds *DataStore) ListEvents() ([]HistoryEntry, error) {
	if err := ds.ready("list_events"); err != nil {
		return nil, err
	}
	entries := make([]HistoryEntry, 0)
	if err := ds.DB.Order("datetime DESC").Order("id DESC").Find(&entries).Error; err != nil {
		return nil, dbError(err, "list_events")
	}
	return entries, nil
}

func (ds *DataStore) LatestLampStatus() (*LampStatus, error) {
	if err := ds.ready("latest_lamp_status"); err != nil {
		return nil, err
	}
	var rows []LampStatus
	if err := ds.DB.Order("datetime DESC").Order("id DESC").Limit(1).Find(&rows).Error; err != nil {
		return nil, dbError(err, "latest_lamp_status")
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

func (ds *DataStore) CurrentLampState() (LampState, error) {
	latest, err := ds.LatestLampStatus()
	if err != nil {
		return LampUnknown, err
	}
	if latest == nil {
		return LampUnknown, nil
	}
	return latest.Status, nil
}

func (ds *DataStore) CountEvents() (int64, error) {
	return ds.count(&HistoryEntry{}, "count_events")
}

func (ds *DataStore) CountLampStates() (int64, error) {
	return ds.count(&LampStatus{}, "count_lamp_states")
}

func (ds *DataStore) count(model any, op string) (int64, error) {
	if err := ds.ready(op); err != nil {
		return 0, err
	}
	var n int64
	if err := ds.DB.Model(model).Count(&n).Error; err != nil {
		return 0, dbError(err, op)
	}
	return n, nil
}

func performAutoMigration(db *gorm.DB, driver string) error {
	start := time.Now()
	if err := db.AutoMigrate(&HistoryEntry{}, &LampStatus{}); err != nil {
		return dbError(fmt.Errorf("failed to auto-migrate %s database: %w", driver, err), "auto_migrate")
	}
	GetLogger().Debug("database schema migrated",
		logger.String("driver", driver),
		logger.Duration("elapsed", time.Since(start)))
	return nil
}

var _ Interface = (*DataStore)(nil)
