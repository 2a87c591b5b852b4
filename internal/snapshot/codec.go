package snapshot

import (
	"encoding/json"

	"github.com/makeasinger/storystudio/internal/model"
)

// document is the persisted form; state is kept raw so listing does not
// decode whole project states
type document struct {
	model.SnapshotInfo
	State json.RawMessage `json:"state"`
}

func encode(snap *model.Snapshot, stateJSON []byte) ([]byte, error) {
	doc, err := json.Marshal(document{SnapshotInfo: snap.SnapshotInfo, State: stateJSON})
	if err != nil {
		return nil, model.WrapError(model.KindCorrupt, err, "failed to encode snapshot")
	}
	return doc, nil
}

func decodeDocument(doc []byte) (document, error) {
	var d document
	if err := json.Unmarshal(doc, &d); err != nil {
		return d, model.WrapError(model.KindCorrupt, err, "snapshot is unreadable")
	}
	if d.SchemaVersion != model.SnapshotSchemaVersion {
		return d, model.NewError(model.KindCorrupt, "snapshot %s has unsupported schema version %d", d.ID, d.SchemaVersion)
	}
	if d.ID == "" {
		return d, model.NewError(model.KindCorrupt, "snapshot has no id")
	}
	return d, nil
}

func decodeInfo(doc []byte) (model.SnapshotInfo, error) {
	d, err := decodeDocument(doc)
	return d.SnapshotInfo, err
}

func decode(doc []byte) (*model.Snapshot, error) {
	d, err := decodeDocument(doc)
	if err != nil {
		return nil, err
	}
	if len(d.State) == 0 || string(d.State) == "null" {
		return nil, model.NewError(model.KindCorrupt, "snapshot %s has no state", d.ID)
	}
	st := &model.ProjectState{}
	if err := json.Unmarshal(d.State, st); err != nil {
		return nil, model.WrapError(model.KindCorrupt, err, "snapshot %s state is unreadable", d.ID)
	}
	return &model.Snapshot{SnapshotInfo: d.SnapshotInfo, State: st}, nil
}
