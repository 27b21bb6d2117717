package bus

import "time"

// Event kinds published by the importer and the urgent scanner.
const (
	ImportStarted       = "import.started"
	ImportProgress      = "import.progress"
	ImportWarning       = "import.warning"
	ImportCompleted     = "import.completed"
	ImportFailed        = "import.failed"
	ImportStatusChanged = "import.status_changed"
	AlertUrgent         = "alert.urgent"
)

// Event is a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Warning is the payload of import.warning events, from both the importer
// and the file rewriter. RunID is empty outside an import run.
type Warning struct {
	RunID   string `json:"run_id,omitempty"`
	Source  string `json:"source"`
	Message string `json:"message"`
}
