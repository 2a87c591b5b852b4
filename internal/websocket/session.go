package websocket

import (
	"github.com/makeasinger/storystudio/internal/model"
	"github.com/makeasinger/storystudio/internal/session"
)

// Follow relays the state, stage and error events of s to its project topic.
// The relay ends when the session closes or the returned func is called.
func (h *Hub) Follow(s *session.Session) (stop func()) {
	id := s.ID()
	offState := s.SubscribeState(func(ev model.StateEvent) {
		h.BroadcastState(id, ev)
	})
	offStage := s.SubscribeProgress(func(ev model.StageEvent) {
		h.BroadcastStage(id, ev)
	})
	offError := s.SubscribeError(func(ev model.ErrorEvent) {
		h.BroadcastError(ProjectTopic(id), ev)
	})
	return func() {
		offState()
		offStage()
		offError()
	}
}
