package model

// SnapshotSchemaVersion is the persisted snapshot format version
const SnapshotSchemaVersion = 1

// SnapshotMetadata summarizes the captured state
type SnapshotMetadata struct {
	SceneCount int     `json:"sceneCount"`
	ShotCount  int     `json:"shotCount"`
	Step       StageID `json:"step"`
	SizeBytes  int64   `json:"sizeBytes"`
}

// SnapshotInfo is a snapshot without its state
type SnapshotInfo struct {
	SchemaVersion int              `json:"schemaVersion"`
	ID            string           `json:"id"`
	ProjectID     string           `json:"projectId"`
	Name          string           `json:"name"`
	Description   string           `json:"description"`
	Type          SnapshotType     `json:"type"`
	Timestamp     int64            `json:"timestamp"`
	Metadata      SnapshotMetadata `json:"metadata"`
}

// Snapshot is a durable, named copy of a project state
type Snapshot struct {
	SnapshotInfo
	State *ProjectState `json:"state"`
}

// SnapshotStats aggregates the snapshots of a project
type SnapshotStats struct {
	TotalSnapshots      int   `json:"totalSnapshots"`
	ManualSnapshots     int   `json:"manualSnapshots"`
	AutoSnapshots       int   `json:"autoSnapshots"`
	CheckpointSnapshots int   `json:"checkpointSnapshots"`
	TotalSizeBytes      int64 `json:"totalSizeBytes"`
}

// ListOptions filters a snapshot listing
type ListOptions struct {
	Type  SnapshotType
	Limit int
}
