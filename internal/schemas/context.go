package schemas

import "github.com/makeasinger/storystudio/internal/model"

// Prompt contexts sent alongside structured requests. They are serialized as
// JSON after the prompt text.

type BreakdownContext struct {
	Topic       string `json:"topic"`
	Genre       string `json:"genre"`
	VisualStyle string `json:"visualStyle,omitempty"`
}

type ScreenplayContext struct {
	Topic     string        `json:"topic"`
	Genre     string        `json:"genre"`
	Breakdown []model.Scene `json:"breakdown"`
}

type SceneRewriteContext struct {
	Scene       model.Scene `json:"scene"`
	Instruction string      `json:"instruction"`
}

type CastContext struct {
	Topic    string        `json:"topic"`
	Speakers []string      `json:"speakers"`
	Scenes   []model.Scene `json:"scenes"`
}

type ShotsContext struct {
	Scene       model.Scene `json:"scene"`
	VisualStyle string      `json:"visualStyle"`
	AspectRatio string      `json:"aspectRatio"`
}

type ConsistencyContext struct {
	Character model.CharacterProfile `json:"character"`
}
