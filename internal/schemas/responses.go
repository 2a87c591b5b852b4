package schemas

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/makeasinger/storystudio/internal/model"
)

type DialogueDraft struct {
	Speaker string `json:"speaker" validate:"required"`
	Line    string `json:"line"`
}

type SceneDraft struct {
	SceneNumber       int             `json:"sceneNumber"`
	Heading           string          `json:"heading" validate:"required"`
	Action            string          `json:"action" validate:"required"`
	Dialogue          []DialogueDraft `json:"dialogue" validate:"dive"`
	CharactersPresent []string        `json:"charactersPresent"`
}

type BreakdownResponse struct {
	Scenes []SceneDraft `json:"scenes" validate:"dive"`
}

type ScreenplayResponse struct {
	Title  string       `json:"title"`
	Scenes []SceneDraft `json:"scenes" validate:"dive"`
}

type SceneResponse struct {
	Scene SceneDraft `json:"scene"`
}

type CharacterDraft struct {
	Name        string `json:"name" validate:"required"`
	Role        string `json:"role"`
	Description string `json:"description"`
}

type CastResponse struct {
	Characters []CharacterDraft `json:"characters" validate:"dive"`
}

type ShotDraft struct {
	ShotType    string  `json:"shotType"`
	CameraAngle string  `json:"cameraAngle"`
	Description string  `json:"description" validate:"required"`
	DurationEst float64 `json:"durationEst"`
}

type ShotsResponse struct {
	Shots []ShotDraft `json:"shots" validate:"dive"`
}

type ConsistencyResponse struct {
	Score float64  `json:"score"`
	Notes []string `json:"notes"`
}

var validate = validator.New()

// DecodeStrict decodes data into out, rejecting unknown fields.
func DecodeStrict(data []byte, out interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}

// Decode parses a structured provider response into T. Blank output is
// EmptyResponse; anything that does not match T is InvalidShape.
func Decode[T any](raw string) (*T, error) {
	body := stripFences(raw)
	if body == "" {
		return nil, model.NewError(model.KindEmptyResponse, "provider returned no content")
	}
	var out T
	if err := DecodeStrict([]byte(body), &out); err != nil {
		return nil, model.WrapError(model.KindInvalidShape, err, "response does not match schema")
	}
	if err := validate.Struct(&out); err != nil {
		return nil, model.WrapError(model.KindInvalidShape, err, "response failed validation")
	}
	return &out, nil
}

// stripFences removes a markdown code fence around a JSON body.
func stripFences(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
