package module

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"printguard/internal/core/detection"
	"printguard/internal/modkit"
	"printguard/internal/platform/testkit"
	"printguard/internal/services/frames"
	"printguard/internal/services/watch/domain"
)

type stubFrames struct{}

func (stubFrames) Next(context.Context) (frames.Frame, frames.Transition, error) {
	return frames.Frame{}, frames.TransitionNone, nil
}
func (stubFrames) Count() int { return 1 }
func (stubFrames) URL(int) string { return "http://cam" }
func (stubFrames) Health() []frames.SourceHealth { return []frames.SourceHealth{{URL: "http://cam"}} }

type stubDetector struct{}

func (stubDetector) Detect(context.Context, []byte) ([]detection.Detection, error) {
	return nil, nil
}

type stubAlerts struct{}

func (stubAlerts) NotifyFailure(context.Context, domain.FailureEvent) error { return nil }
func (stubAlerts) NotifyReminder(context.Context, domain.FailureEvent) error { return nil }
func (stubAlerts) NotifyPaused(context.Context, domain.FailureEvent, string) error { return nil }
func (stubAlerts) NotifySourceOffline(context.Context, int, string, int) error { return nil }
func (stubAlerts) NotifySourceRecovered(context.Context, int, string) error { return nil }

type stubPrinter struct{}

func (stubPrinter) Act(context.Context, string) error { return nil }
func (stubPrinter) ActionName() string { return "pause" }

func labelsFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "labels.txt")
	if err := os.WriteFile(path, []byte("spaghetti\n"), 0o644); err != nil {
		t.Fatalf("write labels: %v", err)
	}
	return path
}

func TestNewPanicsWithoutPorts(t *testing.T) {
	testkit.MustPanic(t, func() {
		New(modkit.Deps{}, Options{})
	})
}

func TestNewPanicsWithMissingRequiredPort(t *testing.T) {
	testkit.MustPanic(t, func() {
		New(modkit.Deps{}, Options{LabelsPath: labelsFile(t)},
			modkit.WithPorts(domain.Ports{Frames: stubFrames{}}))
	})
}

func TestNewWiresRunnerAndStatus(t *testing.T) {
	var m *Module
	testkit.MustNotPanic(t, func() {
		m = New(modkit.Deps{},
			Options{LabelsPath: labelsFile(t), Interval: time.Second},
			modkit.WithPorts(domain.Ports{
				Frames:  stubFrames{},
				Detect:  stubDetector{},
				Alerts:  stubAlerts{},
				Printer: stubPrinter{},
			}))
	})
	if m.Name() != "watch" {
		t.Errorf("name = %q", m.Name())
	}
	ports, ok := m.Ports().(Ports)
	if !ok {
		t.Fatalf("ports type = %T", m.Ports())
	}
	if ports.Runner == nil || ports.Status == nil {
		t.Fatal("runner or status port not wired")
	}
	if ports.Status.Ready() {
		t.Error("fresh module reports ready")
	}
}
