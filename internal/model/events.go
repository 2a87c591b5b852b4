package model

import (
	"errors"
	"time"
)

// Stage event types
type StageEventType string

const (
	StageEntered  StageEventType = "stageEntered"
	StageExited   StageEventType = "stageExited"
	StageProgress StageEventType = "stageProgress"
	StageFailed   StageEventType = "stageFailed"
	StageCanceled StageEventType = "stageCanceled"
	StageWarning  StageEventType = "warning"
)

// StageEvent is emitted by the stage machine and the pipeline services
type StageEvent struct {
	Type      StageEventType `json:"type"`
	Stage     StageID        `json:"stage"`
	Message   string         `json:"message,omitempty"`
	Percent   float64        `json:"percent,omitempty"`
	Reason    string         `json:"reason,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// ErrorEvent is the user-facing shape of a failure
type ErrorEvent struct {
	Kind       Kind     `json:"kind"`
	Category   Category `json:"category"`
	Message    string   `json:"message"`
	Retryable  bool     `json:"retryable"`
	CausedBy   string   `json:"causedBy,omitempty"`
	Operation  string   `json:"operation,omitempty"`
	Persistent bool     `json:"persistent,omitempty"`
}

// NewErrorEvent converts err into an ErrorEvent.
func NewErrorEvent(operation string, err error) ErrorEvent {
	ev := ErrorEvent{
		Kind:      KindOf(err),
		Message:   err.Error(),
		Retryable: IsRetryable(err),
		Operation: operation,
	}
	ev.Category = ev.Kind.Category()
	var e *Error
	if errors.As(err, &e) {
		if e.Message != "" {
			ev.Message = e.Message
		}
		if e.Cause != nil {
			ev.CausedBy = e.Cause.Error()
		}
	}
	return ev
}

// StateEvent is delivered to state subscribers after every committed change
type StateEvent struct {
	Label   string        `json:"label"`
	State   *ProjectState `json:"state"`
	CanUndo bool          `json:"canUndo"`
	CanRedo bool          `json:"canRedo"`
}

// TaskFailure describes a failed task of a batch
type TaskFailure struct {
	TaskID      string `json:"taskId"`
	Fingerprint string `json:"fingerprint,omitempty"`
	Kind        Kind   `json:"kind"`
	Message     string `json:"message"`
	Retryable   bool   `json:"retryable"`
}

// CostEstimate is shown to the user before the project locks
type CostEstimate struct {
	ScriptTokens   int     `json:"scriptTokens"`
	SceneCount     int     `json:"sceneCount"`
	EstimatedShots int     `json:"estimatedShots"`
	NarrationChars int     `json:"narrationChars"`
	TextCost       float64 `json:"textCost"`
	ImageCost      float64 `json:"imageCost"`
	SpeechCost     float64 `json:"speechCost"`
	VideoCost      float64 `json:"videoCost"`
	Total          float64 `json:"total"`
	Currency       string  `json:"currency"`
}

// ProjectMetadata is the registry view of a project
type ProjectMetadata struct {
	SceneCount   int           `json:"sceneCount"`
	ShotCount    int           `json:"shotCount"`
	HasVisuals   bool          `json:"hasVisuals"`
	HasNarration bool          `json:"hasNarration"`
	HasMusic     bool          `json:"hasMusic"`
	Status       ProjectStatus `json:"status"`
}

// MetadataOf derives the registry metadata of a state.
func MetadataOf(s *ProjectState) ProjectMetadata {
	m := ProjectMetadata{
		SceneCount:   len(s.Breakdown),
		ShotCount:    len(s.Shots),
		HasNarration: len(s.NarrationSegments) > 0,
		HasMusic:     s.MusicURL != "",
		Status:       ProjectInProgress,
	}
	for _, sh := range s.Shots {
		if sh.ImageURL != "" {
			m.HasVisuals = true
			break
		}
	}
	switch {
	case s.FinalVideoURL != "":
		m.Status = ProjectCompleted
	case s.CurrentStep == StageIdea && len(s.Breakdown) == 0:
		m.Status = ProjectIdle
	}
	return m
}

// Diff returns the fields of next that differ from m, keyed by their JSON names.
func (m ProjectMetadata) Diff(next ProjectMetadata) map[string]interface{} {
	changes := make(map[string]interface{})
	if m.SceneCount != next.SceneCount {
		changes["sceneCount"] = next.SceneCount
	}
	if m.ShotCount != next.ShotCount {
		changes["shotCount"] = next.ShotCount
	}
	if m.HasVisuals != next.HasVisuals {
		changes["hasVisuals"] = next.HasVisuals
	}
	if m.HasNarration != next.HasNarration {
		changes["hasNarration"] = next.HasNarration
	}
	if m.HasMusic != next.HasMusic {
		changes["hasMusic"] = next.HasMusic
	}
	if m.Status != next.Status {
		changes["status"] = next.Status
	}
	return changes
}
