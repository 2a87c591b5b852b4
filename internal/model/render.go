package model

import "time"

// RenderClip is one entry of the render plan: a visual played for a slice of a scene
type RenderClip struct {
	SceneID        string     `json:"sceneId"`
	ShotID         string     `json:"shotId"`
	VisualSource   string     `json:"visualSource"`
	VisualKind     VisualKind `json:"visualKind"`
	SceneStart     float64    `json:"sceneStart"`
	ClipStart      float64    `json:"clipStart"`
	ClipDuration   float64    `json:"clipDuration"`
	NarrationAudio string     `json:"narrationAudio,omitempty"`
	SubtitleText   string     `json:"subtitleText,omitempty"`
}

// SubtitleCue is a timed subtitle line on the global timeline
type SubtitleCue struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// RenderOptions are the global compositor settings
type RenderOptions struct {
	Orientation        Orientation `json:"orientation"`
	TransitionType     string      `json:"transitionType"`
	TransitionDuration float64     `json:"transitionDuration"`
	SubtitleBurnIn     bool        `json:"subtitleBurnIn"`
}

// RenderPlan is the full input handed to the compositor
type RenderPlan struct {
	ProjectID     string        `json:"projectId"`
	Clips         []RenderClip  `json:"clips"`
	Subtitles     []SubtitleCue `json:"subtitles"`
	Options       RenderOptions `json:"options"`
	TotalDuration float64       `json:"totalDuration"`
}

// RenderResult is what the compositor returns. Blob is set when the output
// has no durable location yet.
type RenderResult struct {
	VideoURL string  `json:"videoUrl,omitempty"`
	Blob     []byte  `json:"blob,omitempty"`
	Duration float64 `json:"duration"`
}

// RenderStatusResponse reports a queued render job
type RenderStatusResponse struct {
	JobID       string     `json:"jobId"`
	Status      JobStatus  `json:"status"`
	Progress    int        `json:"progress"`
	CurrentStep string     `json:"currentStep,omitempty"`
	Error       *string    `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	RetryCount  int        `json:"retryCount"`
}
