package domain

import "time"

// LogType classifies where in the instance lifecycle a line was emitted.
const (
	LogTypeSetup   = "setup"
	LogTypeRuntime = "runtime"
	LogTypeSystem  = "system"
)

// LogEntry is one demultiplexed container log line.
type LogEntry struct {
	Timestamp *time.Time
	LogType   string
	Stream    string
	Message   string
}

// LogPage is a finite tail read with a continuation hint.
type LogPage struct {
	DatabaseID  string
	ContainerID *string
	Entries     []LogEntry
	HasMore     bool
}
