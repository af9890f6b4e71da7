package ingest

// Result holds the outcome of a history import.
type Result struct {
	SessionsReceived int `json:"sessions_received"`
	LogsWritten      int `json:"logs_written"`
	SetsWritten      int `json:"sets_written"`
	WarmupsSkipped   int `json:"warmups_skipped"`
	RecordsUpdated   int `json:"records_updated"`

	Message string `json:"message,omitempty"`
}

// Import log statuses.
const (
	StatusRunning = "running"
	StatusSuccess = "success"
	StatusError   = "error"
)
