package domain

import (
	"context"
	"time"

	"printguard/internal/core/detection"
	"printguard/internal/services/frames"
)

// RunnerPort is the external port for the watch loop
type RunnerPort interface {
	// Run ticks the pipeline until ctx is cancelled; the in-flight tick
	// finishes within its own deadlines before Run returns
	Run(ctx context.Context) error
}

// StatusPort exposes read-only pipeline state to the status API
type StatusPort interface {
	Snapshots() []SourceSnapshot
	Ready() bool
}

// FramePort supplies frames round-robin (implemented by frames.Cycler)
type FramePort interface {
	Next(ctx context.Context) (frames.Frame, frames.Transition, error)
	Count() int
	URL(sourceIndex int) string
	Health() []frames.SourceHealth
}

// AlertPort delivers notifications. Delivery failure never rolls back the
// detection state; implementations retry a bounded number of times and then
// report the error for logging only
type AlertPort interface {
	NotifyFailure(ctx context.Context, ev FailureEvent) error
	NotifyReminder(ctx context.Context, ev FailureEvent) error
	NotifyPaused(ctx context.Context, ev FailureEvent, action string) error
	NotifySourceOffline(ctx context.Context, sourceIndex int, url string, failures int) error
	NotifySourceRecovered(ctx context.Context, sourceIndex int, url string) error
}

// PrinterPort issues the configured action against the print controller.
// Act is idempotent per episode: a repeated call for the same episode id is
// a no-op success
type PrinterPort interface {
	Act(ctx context.Context, episodeID string) error
	ActionName() string
}

// HistoryPort persists episodes and their confirmed detections; optional
type HistoryPort interface {
	RecordRaise(ctx context.Context, ev FailureEvent) error
	RecordClear(ctx context.Context, episodeID string, at time.Time) error
	RecordDetection(ctx context.Context, episodeID string, d detection.Filtered, at time.Time) error
}

// PublishPort pushes live transitions to connected dashboards; optional
type PublishPort interface {
	PublishRaise(ev FailureEvent)
	PublishClear(sourceIndex int, episodeID string, at time.Time)
}

// Ports are dependencies injected into the watch module
type Ports struct {
	Frames  FramePort          // required
	Detect  detection.Detector // required
	Alerts  AlertPort          // required
	Printer PrinterPort        // required
	History HistoryPort        // optional
	Publish PublishPort        // optional
}
