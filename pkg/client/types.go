package client

import "time"

// Readiness mirrors the bridge readiness snapshot.
type Readiness struct {
	State  string    `json:"state"`
	Reason string    `json:"reason"`
	Since  time.Time `json:"since"`
}

// BackendStatus is the supervised backend handle.
type BackendStatus struct {
	Name      string    `json:"name"`
	Command   string    `json:"command"`
	PID       int       `json:"pid"`
	State     string    `json:"state"`
	ExitCode  int       `json:"exit_code"`
	Reason    string    `json:"reason,omitempty"`
	StartedAt time.Time `json:"started_at"`
	StoppedAt time.Time `json:"stopped_at"`
}

// Status is the combined view returned by GET /status.
type Status struct {
	Readiness Readiness     `json:"readiness"`
	Backend   BackendStatus `json:"backend"`
}

// Reply is a chat or symptom answer. Fallback is set when the backend could
// not answer and canned text was returned instead.
type Reply struct {
	Response string `json:"response"`
	Fallback bool   `json:"fallback"`
}

type Notice struct {
	Kind    string    `json:"kind"`
	Message string    `json:"message"`
	Fatal   bool      `json:"fatal"`
	At      time.Time `json:"at"`
}

type HistoryRecord struct {
	ID          string    `json:"id,omitempty"`
	Type        string    `json:"type"`
	Date        time.Time `json:"date"`
	UserMessage string    `json:"userMessage"`
	AIResponse  string    `json:"aiResponse"`
}

type Medication struct {
	Name      string    `json:"name"`
	DateAdded time.Time `json:"dateAdded"`
}

type Settings struct {
	SaveHistory   bool `json:"saveHistory"`
	AnonymizeData bool `json:"anonymizeData"`
}

// SettingsUpdate changes only the non-nil fields.
type SettingsUpdate struct {
	SaveHistory   *bool `json:"saveHistory,omitempty"`
	AnonymizeData *bool `json:"anonymizeData,omitempty"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}
