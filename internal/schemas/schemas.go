package schemas

import (
	"encoding/json"
)

// Schema is a named JSON schema sent with a structured text request.
type Schema struct {
	Name        string
	Description string
	Definition  map[string]interface{}
}

// MarshalJSON emits the schema definition itself.
func (s *Schema) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Definition)
}

func str(desc string) map[string]interface{} {
	return map[string]interface{}{"type": "string", "description": desc}
}

func num(desc string) map[string]interface{} {
	return map[string]interface{}{"type": "number", "description": desc}
}

func array(desc string, items map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{"type": "array", "description": desc, "items": items}
}

func object(desc string, props map[string]interface{}, required ...string) map[string]interface{} {
	return map[string]interface{}{
		"type":                 "object",
		"description":          desc,
		"additionalProperties": false,
		"properties":           props,
		"required":             required,
	}
}

var dialogueSchema = object("One spoken line.", map[string]interface{}{
	"speaker": str("Name of the character speaking, in the same spelling every time."),
	"line":    str("The spoken line."),
}, "speaker", "line")

var sceneSchema = object("A scene of the story.", map[string]interface{}{
	"sceneNumber":       map[string]interface{}{"type": "integer", "description": "1-based position of the scene."},
	"heading":           str("Slug line, e.g. INT. LIGHTHOUSE - NIGHT."),
	"action":            str("What happens in the scene, in present tense prose."),
	"dialogue":          array("Dialogue lines in order. May be empty.", dialogueSchema),
	"charactersPresent": array("Names of the characters on screen.", str("Character name.")),
}, "sceneNumber", "heading", "action", "dialogue", "charactersPresent")

// Breakdown asks for an ordered outline of scenes.
var Breakdown = &Schema{
	Name:        "story_breakdown",
	Description: "Ordered list of scenes outlining the story.",
	Definition: object("Story breakdown.", map[string]interface{}{
		"scenes": array("Scenes in story order.", sceneSchema),
	}, "scenes"),
}

// Screenplay asks for the full script, one entry per breakdown scene.
var Screenplay = &Schema{
	Name:        "screenplay",
	Description: "Full screenplay aligned with the breakdown.",
	Definition: object("Screenplay.", map[string]interface{}{
		"title":  str("Title of the film."),
		"scenes": array("Exactly one scene per breakdown scene, same order.", sceneSchema),
	}, "title", "scenes"),
}

// Scene asks for a single rewritten scene.
var Scene = &Schema{
	Name:        "scene_rewrite",
	Description: "A single rewritten scene.",
	Definition: object("Scene rewrite.", map[string]interface{}{
		"scene": sceneSchema,
	}, "scene"),
}

// Cast asks for character profiles.
var Cast = &Schema{
	Name:        "cast",
	Description: "Character profiles for every speaking or named character.",
	Definition: object("Cast.", map[string]interface{}{
		"characters": array("One entry per character.", object("A character.", map[string]interface{}{
			"name":        str("Character name exactly as used in the screenplay."),
			"role":        str("Narrative role, e.g. protagonist."),
			"description": str("Visual description used for portraits: age, build, clothing, features."),
		}, "name", "role", "description")),
	}, "characters"),
}

// Shots asks for the shot list of one scene.
var Shots = &Schema{
	Name:        "shot_list",
	Description: "Camera shots covering one scene.",
	Definition: object("Shot list.", map[string]interface{}{
		"shots": array("Shots in playback order.", object("A shot.", map[string]interface{}{
			"shotType":    str("e.g. wide, medium, close-up."),
			"cameraAngle": str("e.g. eye level, low angle."),
			"description": str("What the camera sees; used as the image prompt."),
			"durationEst": num("Estimated duration in seconds, between 1 and 60."),
		}, "shotType", "cameraAngle", "description", "durationEst")),
	}, "shots"),
}

// Consistency asks for a portrait-vs-description score.
var Consistency = &Schema{
	Name:        "consistency_report",
	Description: "How well a portrait matches a character description.",
	Definition: object("Consistency report.", map[string]interface{}{
		"score": num("Match score from 0 to 100."),
		"notes": array("Human readable observations.", str("Observation.")),
	}, "score", "notes"),
}
