// Package domain defines the core types and ports for the watch service
package domain

import (
	"time"

	"printguard/internal/core/detection"
)

// FailureEvent is created exactly once per raise transition and handed to
// the alert, printer, history, and publish ports. Immutable after creation
type FailureEvent struct {
	ID          string        `json:"id"`
	SourceIndex int           `json:"source_index"`
	SourceURL   string        `json:"source_url"`
	ClassID     int           `json:"class_id"`
	Label       string        `json:"label"`
	Objectness  float32       `json:"objectness"`
	ClassProb   float32       `json:"class_prob"`
	Box         detection.Box `json:"box"`
	At          time.Time     `json:"at"`

	// Frame holds the image bytes that confirmed the failure so alerts can
	// attach the evidence. Kept off the wire shape
	Frame []byte `json:"-"`
}

// SourceSnapshot is a read-only copy of one source's pipeline state for the
// status API; the loop publishes a fresh copy after every tick
type SourceSnapshot struct {
	Index               int       `json:"index"`
	URL                 string    `json:"url"`
	State               string    `json:"state"`
	ConsecutiveHits     int       `json:"consecutive_hits"`
	ConsecutiveMisses   int       `json:"consecutive_misses"`
	FailureActive       bool      `json:"failure_active"`
	LastAlertAt         time.Time `json:"last_alert_at,omitzero"`
	Offline             bool      `json:"offline"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	EpisodeID           string    `json:"episode_id,omitempty"`
	LastTickAt          time.Time `json:"last_tick_at,omitzero"`
}
