package model

// WebSocket message types
const (
	WSMessageTypeState    = "state"
	WSMessageTypeStage    = "stage"
	WSMessageTypeProgress = "progress"
	WSMessageTypeComplete = "complete"
	WSMessageTypeError    = "error"
	WSMessageTypePing     = "ping"
	WSMessageTypePong     = "pong"
)

// WSMessage represents a generic WebSocket message
type WSMessage struct {
	Type string `json:"type"`
}

// WSStateMessage carries a committed project state
type WSStateMessage struct {
	Type      string     `json:"type"`
	ProjectID string     `json:"projectId"`
	Event     StateEvent `json:"event"`
}

// WSStageMessage carries a stage machine event
type WSStageMessage struct {
	Type      string     `json:"type"`
	ProjectID string     `json:"projectId"`
	Event     StageEvent `json:"event"`
}

// WSProgressMessage represents a render job progress update
type WSProgressMessage struct {
	Type        string    `json:"type"`
	JobID       string    `json:"jobId"`
	Progress    int       `json:"progress"`
	Status      JobStatus `json:"status"`
	CurrentStep string    `json:"currentStep,omitempty"`
}

// WSCompleteMessage represents render job completion
type WSCompleteMessage struct {
	Type   string      `json:"type"`
	JobID  string      `json:"jobId"`
	Result interface{} `json:"result"`
}

// WSErrorMessage represents an error
type WSErrorMessage struct {
	Type  string     `json:"type"`
	Topic string     `json:"topic"`
	Error ErrorEvent `json:"error"`
}
