package model

import (
	"encoding/json"
	"reflect"
	"strings"
)

// DialogueLine is one spoken line in a scene
type DialogueLine struct {
	Speaker string `json:"speaker" validate:"required"`
	Line    string `json:"line"`
}

// Scene is a unit of story in the breakdown and the screenplay
type Scene struct {
	ID                string         `json:"id" validate:"required"`
	SceneNumber       int            `json:"sceneNumber"`
	Heading           string         `json:"heading"`
	Action            string         `json:"action"`
	Dialogue          []DialogueLine `json:"dialogue" validate:"dive"`
	CharactersPresent []string       `json:"charactersPresent"`
}

// Screenplay is the full script aligned 1:1 with the breakdown
type Screenplay struct {
	Title  string  `json:"title"`
	Scenes []Scene `json:"scenes" validate:"dive"`
}

// CharacterProfile describes a cast member
type CharacterProfile struct {
	ID                string `json:"id" validate:"required"`
	Name              string `json:"name" validate:"required"`
	Role              string `json:"role"`
	Description       string `json:"description"`
	ReferenceImageURL string `json:"referenceImageUrl,omitempty"`
}

// ConsistencyReport compares a portrait against its character description
type ConsistencyReport struct {
	Score     float64  `json:"score" validate:"gte=0,lte=100"`
	Notes     []string `json:"notes"`
	CheckedAt int64    `json:"checkedAt"`
}

// Shot is a camera unit inside a scene
type Shot struct {
	ID          string  `json:"id" validate:"required"`
	SceneID     string  `json:"sceneId" validate:"required"`
	ShotNumber  int     `json:"shotNumber" validate:"gte=1"`
	ShotType    string  `json:"shotType"`
	CameraAngle string  `json:"cameraAngle"`
	Description string  `json:"description"`
	DurationEst float64 `json:"durationEst" validate:"gt=0,lte=60"`
	ImageURL    string  `json:"imageUrl,omitempty"`
}

// NarrationSegment is the speech audio for one scene
type NarrationSegment struct {
	SceneID      string  `json:"sceneId" validate:"required"`
	Text         string  `json:"text"`
	Duration     float64 `json:"duration" validate:"gte=0"`
	AudioBlobRef string  `json:"audioBlobRef,omitempty"`
	AudioURL     string  `json:"audioUrl,omitempty"`
}

// AnimatedShot is a motion clip derived from a shot image
type AnimatedShot struct {
	ShotID       string `json:"shotId" validate:"required"`
	VideoURL     string `json:"videoUrl" validate:"required"`
	BaseImageURL string `json:"baseImageUrl"`
}

// ProjectState is the aggregate owned by the state store.
// Fields not known to this version are kept in Extra and written back unchanged.
type ProjectState struct {
	CurrentStep        StageID                      `json:"currentStep"`
	FurthestStep       StageID                      `json:"furthestStep"`
	Topic              string                       `json:"topic"`
	Genre              string                       `json:"genre"`
	VisualStyle        string                       `json:"visualStyle"`
	AspectRatio        string                       `json:"aspectRatio"`
	ImageProvider      string                       `json:"imageProvider"`
	IsLocked           bool                         `json:"isLocked"`
	Breakdown          []Scene                      `json:"breakdown" validate:"dive"`
	Script             *Screenplay                  `json:"script"`
	Characters         []CharacterProfile           `json:"characters" validate:"dive"`
	PendingSpeakers    []string                     `json:"pendingSpeakers"`
	ConsistencyReports map[string]ConsistencyReport `json:"consistencyReports" validate:"dive"`
	Shots              []Shot                       `json:"shots" validate:"dive"`
	ScenesWithVisuals  []string                     `json:"scenesWithVisuals"`
	NarrationSegments  []NarrationSegment           `json:"narrationSegments" validate:"dive"`
	AnimatedShots      []AnimatedShot               `json:"animatedShots" validate:"dive"`
	MusicURL           string                       `json:"musicUrl,omitempty"`
	FinalVideoURL      string                       `json:"finalVideoUrl,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

// NewProjectState returns the empty state a fresh project starts from.
func NewProjectState() *ProjectState {
	return &ProjectState{
		CurrentStep:  StageIdea,
		FurthestStep: StageIdea,
	}
}

type plainProjectState ProjectState

var knownStateFields = jsonFieldNames(reflect.TypeOf(ProjectState{}))

func jsonFieldNames(t reflect.Type) map[string]bool {
	names := make(map[string]bool, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		tag := t.Field(i).Tag.Get("json")
		name, _, _ := strings.Cut(tag, ",")
		if name == "" || name == "-" {
			continue
		}
		names[name] = true
	}
	return names
}

func (s ProjectState) MarshalJSON() ([]byte, error) {
	known, err := json.Marshal(plainProjectState(s))
	if err != nil || len(s.Extra) == 0 {
		return known, err
	}
	fields := make(map[string]json.RawMessage)
	if err := json.Unmarshal(known, &fields); err != nil {
		return nil, err
	}
	for k, v := range s.Extra {
		if !knownStateFields[k] {
			fields[k] = v
		}
	}
	return json.Marshal(fields)
}

func (s *ProjectState) UnmarshalJSON(data []byte) error {
	var p plainProjectState
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	for k := range fields {
		if knownStateFields[k] {
			delete(fields, k)
		}
	}
	*s = ProjectState(p)
	s.Extra = nil
	if len(fields) > 0 {
		s.Extra = fields
	}
	return nil
}

// Clone returns a deep copy of the state.
func (s *ProjectState) Clone() *ProjectState {
	if s == nil {
		return nil
	}
	c := *s
	c.Breakdown = cloneScenes(s.Breakdown)
	if s.Script != nil {
		c.Script = &Screenplay{Title: s.Script.Title, Scenes: cloneScenes(s.Script.Scenes)}
	}
	c.Characters = cloneSlice(s.Characters)
	c.PendingSpeakers = cloneSlice(s.PendingSpeakers)
	if s.ConsistencyReports != nil {
		c.ConsistencyReports = make(map[string]ConsistencyReport, len(s.ConsistencyReports))
		for k, r := range s.ConsistencyReports {
			r.Notes = cloneSlice(r.Notes)
			c.ConsistencyReports[k] = r
		}
	}
	c.Shots = cloneSlice(s.Shots)
	c.ScenesWithVisuals = cloneSlice(s.ScenesWithVisuals)
	c.NarrationSegments = cloneSlice(s.NarrationSegments)
	c.AnimatedShots = cloneSlice(s.AnimatedShots)
	if s.Extra != nil {
		c.Extra = make(map[string]json.RawMessage, len(s.Extra))
		for k, v := range s.Extra {
			c.Extra[k] = append(json.RawMessage(nil), v...)
		}
	}
	return &c
}

func cloneScenes(in []Scene) []Scene {
	if in == nil {
		return nil
	}
	out := make([]Scene, len(in))
	for i, sc := range in {
		sc.Dialogue = cloneSlice(sc.Dialogue)
		sc.CharactersPresent = cloneSlice(sc.CharactersPresent)
		out[i] = sc
	}
	return out
}

func cloneSlice[T any](in []T) []T {
	if in == nil {
		return nil
	}
	return append(make([]T, 0, len(in)), in...)
}

// SceneIndex returns the breakdown position of the scene with id, or -1.
func (s *ProjectState) SceneIndex(id string) int {
	for i := range s.Breakdown {
		if s.Breakdown[i].ID == id {
			return i
		}
	}
	return -1
}

// ShotIndex returns the position of the shot with id, or -1.
func (s *ProjectState) ShotIndex(id string) int {
	for i := range s.Shots {
		if s.Shots[i].ID == id {
			return i
		}
	}
	return -1
}

// ShotsForScene returns the shots of a scene in shot order.
func (s *ProjectState) ShotsForScene(sceneID string) []Shot {
	var out []Shot
	for _, sh := range s.Shots {
		if sh.SceneID == sceneID {
			out = append(out, sh)
		}
	}
	return out
}

// CharacterByName looks a character up by case-insensitive name.
func (s *ProjectState) CharacterByName(name string) (CharacterProfile, bool) {
	key := NormalizeName(name)
	for _, c := range s.Characters {
		if NormalizeName(c.Name) == key {
			return c, true
		}
	}
	return CharacterProfile{}, false
}

// NarrationFor returns the narration segment of a scene.
func (s *ProjectState) NarrationFor(sceneID string) (NarrationSegment, bool) {
	for _, n := range s.NarrationSegments {
		if n.SceneID == sceneID {
			return n, true
		}
	}
	return NarrationSegment{}, false
}

// AnimationFor returns the animated clip of a shot.
func (s *ProjectState) AnimationFor(shotID string) (AnimatedShot, bool) {
	for _, a := range s.AnimatedShots {
		if a.ShotID == shotID {
			return a, true
		}
	}
	return AnimatedShot{}, false
}

// ScriptScene returns the screenplay version of the scene at index i when present,
// falling back to the breakdown scene.
func (s *ProjectState) ScriptScene(i int) Scene {
	if s.Script != nil && i < len(s.Script.Scenes) {
		return s.Script.Scenes[i]
	}
	return s.Breakdown[i]
}

// ComputeScenesWithVisuals returns the ids of scenes whose shots are all imaged,
// in breakdown order. A scene without shots qualifies vacuously.
func (s *ProjectState) ComputeScenesWithVisuals() []string {
	var out []string
	for _, sc := range s.Breakdown {
		imaged := true
		for _, sh := range s.ShotsForScene(sc.ID) {
			if sh.ImageURL == "" {
				imaged = false
				break
			}
		}
		if imaged {
			out = append(out, sc.ID)
		}
	}
	return out
}

// NormalizeName folds a character or speaker name for comparison.
// Screenplay extensions such as "(V.O.)" are dropped.
func NormalizeName(name string) string {
	if i := strings.Index(name, "("); i > 0 {
		name = name[:i]
	}
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}
