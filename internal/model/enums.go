package model

// StageID names a pipeline stage
type StageID string

const (
	StageIdea       StageID = "idea"
	StageBreakdown  StageID = "breakdown"
	StageScript     StageID = "script"
	StageCharacters StageID = "characters"
	StageShots      StageID = "shots"
	StageStyle      StageID = "style"
	StageStoryboard StageID = "storyboard"
	StageNarration  StageID = "narration"
	StageAnimation  StageID = "animation"
	StageExport     StageID = "export"
)

// Stages lists every stage in pipeline order.
var Stages = []StageID{
	StageIdea, StageBreakdown, StageScript, StageCharacters, StageShots,
	StageStyle, StageStoryboard, StageNarration, StageAnimation, StageExport,
}

// Index returns the position of the stage in pipeline order, or -1.
func (s StageID) Index() int {
	for i, st := range Stages {
		if st == s {
			return i
		}
	}
	return -1
}

// Valid reports whether s is a known stage.
func (s StageID) Valid() bool {
	return s.Index() >= 0
}

// Before reports whether s comes strictly before other.
func (s StageID) Before(other StageID) bool {
	return s.Index() < other.Index()
}

// Snapshot types
type SnapshotType string

const (
	SnapshotManual     SnapshotType = "manual"
	SnapshotAuto       SnapshotType = "auto"
	SnapshotCheckpoint SnapshotType = "checkpoint"
)

func (t SnapshotType) Valid() bool {
	switch t {
	case SnapshotManual, SnapshotAuto, SnapshotCheckpoint:
		return true
	}
	return false
}

// Aspect ratios
const (
	AspectLandscape = "16:9"
	AspectPortrait  = "9:16"
	AspectSquare    = "1:1"
)

// Orientation of the rendered film
type Orientation string

const (
	OrientationLandscape Orientation = "landscape"
	OrientationPortrait  Orientation = "portrait"
	OrientationSquare    Orientation = "square"
)

// OrientationFor maps an aspect ratio to the compositor orientation.
func OrientationFor(aspectRatio string) Orientation {
	switch aspectRatio {
	case AspectPortrait:
		return OrientationPortrait
	case AspectSquare:
		return OrientationSquare
	}
	return OrientationLandscape
}

// Visual source kinds in a render plan
type VisualKind string

const (
	VisualImage VisualKind = "image"
	VisualVideo VisualKind = "video"
)

// Project status reported to the project registry
type ProjectStatus string

const (
	ProjectIdle       ProjectStatus = "idle"
	ProjectInProgress ProjectStatus = "in_progress"
	ProjectCompleted  ProjectStatus = "completed"
)
