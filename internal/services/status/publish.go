package status

import (
	"time"

	"printguard/internal/services/watch/domain"
)

// PublishRaise pushes a failure-raised event to websocket clients
func (h *Hub) PublishRaise(ev domain.FailureEvent) {
	h.push(event{
		Type:        "failure_raised",
		EpisodeID:   ev.ID,
		SourceIndex: ev.SourceIndex,
		Label:       ev.Label,
		ClassProb:   ev.ClassProb,
		At:          ev.At,
	})
}

// PublishClear pushes a failure-cleared event to websocket clients
func (h *Hub) PublishClear(sourceIndex int, episodeID string, at time.Time) {
	h.push(event{
		Type:        "failure_cleared",
		EpisodeID:   episodeID,
		SourceIndex: sourceIndex,
		At:          at,
	})
}
