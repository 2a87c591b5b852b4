package stage

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/makeasinger/storystudio/internal/model"
	"github.com/makeasinger/storystudio/internal/model/modeltest"
)

func TestGateIdeaRequiresTopicAndGenre(t *testing.T) {
	s := model.NewProjectState()
	assert.True(t, model.IsKind(Gate(s, model.StageBreakdown), model.KindGatePredicateUnmet))

	s.Topic, s.Genre = "A lighthouse keeper's last night", "Drama"
	assert.NoError(t, Gate(s, model.StageBreakdown))
}

func TestGateForbidsSkippingAhead(t *testing.T) {
	s := modeltest.Scripted(3)

	err := Gate(s, model.StageShots)

	assert.True(t, model.IsKind(err, model.KindGatePredicateUnmet))
}

func TestGateAllowsBackwardJumps(t *testing.T) {
	s := modeltest.Storyboarded(2, 1)

	assert.NoError(t, Gate(s, model.StageBreakdown))
	assert.NoError(t, Gate(s, model.StageIdea))
}

func TestGateShotsNeedsLockAndCast(t *testing.T) {
	s := modeltest.Locked(2)
	assert.NoError(t, Gate(s, model.StageShots))

	s.Characters = nil
	assert.Error(t, Gate(s, model.StageShots))
}

func TestGateStoryboardNeedsStyleAndAspect(t *testing.T) {
	s := modeltest.Storyboarded(1, 1)
	s.CurrentStep = model.StageStyle
	s.AspectRatio = "4:3"

	assert.Error(t, Gate(s, model.StageStoryboard))
	s.AspectRatio = model.AspectPortrait
	assert.NoError(t, Gate(s, model.StageStoryboard))
}

func TestGateNarrationNeedsEveryImage(t *testing.T) {
	s := modeltest.Storyboarded(2, 1)
	s.Shots[0].ImageURL = "https://img/1.png"

	assert.Error(t, Gate(s, model.StageNarration))
	s.Shots[1].ImageURL = "https://img/2.png"
	assert.NoError(t, Gate(s, model.StageNarration))
}

func TestGateExportIsReentrant(t *testing.T) {
	s := modeltest.Storyboarded(1, 1)
	s.Shots[0].ImageURL = "https://img/1.png"
	s.CurrentStep = model.StageExport
	s.FurthestStep = model.StageExport
	s.AnimatedShots = []model.AnimatedShot{{ShotID: s.Shots[0].ID, VideoURL: "https://v/1.mp4"}}

	assert.NoError(t, Gate(s, model.StageExport))

	s.CurrentStep = model.StageNarration
	assert.Error(t, Gate(s, model.StageNarration))
}

func TestGeneratesOnEntry(t *testing.T) {
	assert.True(t, generatesOnEntry(model.StageIdea, model.StageBreakdown, model.StageIdea))
	assert.False(t, generatesOnEntry(model.StageIdea, model.StageBreakdown, model.StageExport))
	assert.True(t, generatesOnEntry(model.StageStyle, model.StageStoryboard, model.StageExport))
	assert.False(t, generatesOnEntry(model.StageShots, model.StageStyle, model.StageIdea))
	assert.False(t, generatesOnEntry(model.StageExport, model.StageScript, model.StageExport))
	assert.True(t, generatesOnEntry(model.StageExport, model.StageExport, model.StageExport))
}
