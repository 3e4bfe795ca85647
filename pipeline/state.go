package pipeline

import "fmt"

// State is where a session is in its lifecycle.
type State int

const (
	Idle State = iota
	Monitoring
	Capturing
	// Stopped means the stream died on its own; StartMonitoring opens a
	// new session.
	Stopped
)

var stateNames = [...]string{"idle", "monitoring", "capturing", "stopped"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Severity tags a status message for display.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityActive
	SeverityError
)

var severityNames = [...]string{"info", "active", "error"}

func (s Severity) String() string {
	if int(s) < len(severityNames) {
		return severityNames[s]
	}
	return fmt.Sprintf("severity(%d)", int(s))
}

func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Status strings shown to the user.
const (
	StatusIdle         = "Idle"
	StatusMonitoring   = "Stopped (Monitoring)"
	StatusRecording    = "Recording..."
	StatusTranscribing = "Transcribing..."
	StatusSummarizing  = "Summarizing..."
	StatusSkipping     = "Skipping silence..."
)
