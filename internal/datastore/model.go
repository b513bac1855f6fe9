package datastore

// DatetimeLayout is the second-precision text format stored in datetime columns.
const DatetimeLayout = "2006-01-02 15:04:05"

// DetectionStatus is the verdict stored with every history row.
type DetectionStatus string

const (
	StatusDetected    DetectionStatus = "Detected"
	StatusNotDetected DetectionStatus = "NotDetected"
)

// StatusForCount derives the verdict from a person count.
func StatusForCount(personCount int) DetectionStatus {
	if personCount > 0 {
		return StatusDetected
	}
	return StatusNotDetected
}

// LampState is the lamp status recorded after actuation.
type LampState string

const (
	LampOn      LampState = "on"
	LampOff     LampState = "off"
	LampUnknown LampState = "UNKNOWN"
)

// HistoryEntry is one completed pipeline run. Rows are append-only.
type HistoryEntry struct {
	ID              uint            `gorm:"primaryKey;autoIncrement" json:"id"`
	Datetime        string          `gorm:"column:datetime;type:varchar(19);not null;index" json:"datetime"`
	CaptureImage    *string         `gorm:"column:capture_image;type:varchar(255)" json:"capture_image"`
	DetectionStatus DetectionStatus `gorm:"column:detection_status;type:varchar(16);not null" json:"detection_status"`
	PersonCount     int             `gorm:"column:person_count;not null;default:0" json:"person_count"`
}

// TableName keeps the historical table name.
func (HistoryEntry) TableName() string { return "history" }

// LampStatus is one lamp state change.
type LampStatus struct {
	ID       uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Datetime string    `gorm:"column:datetime;type:varchar(19);not null;index" json:"datetime"`
	Status   LampState `gorm:"column:status;type:varchar(8);not null" json:"status"`
}

func (LampStatus) TableName() string { return "status_lamp" }
