package metrics

// Namespace prefixes every lampwatch metric name.
const Namespace = "lampwatch"

// Pipeline fault kinds used as the "kind" label of the faults counter.
const (
	FaultDetection    = "detection"
	FaultImageStore   = "image_store"
	FaultLedgerEvent  = "ledger_event"
	FaultLedgerLamp   = "ledger_lamp"
	FaultActuation    = "actuation"
	FaultNotification = "notification"
)

// Pipeline verdict labels.
const (
	VerdictDetected    = "detected"
	VerdictNotDetected = "not_detected"
	VerdictRejected    = "rejected"
)
