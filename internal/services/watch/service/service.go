// Package service runs the watch pipeline: fetch a frame from the next
// source, run detection, filter, feed the consolidation machine, and act on
// the verdict. One tick at a time; ticks never overlap
package service

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"printguard/internal/core/consolidate"
	"printguard/internal/core/detection"
	perr "printguard/internal/platform/errors"
	"printguard/internal/platform/logger"
	"printguard/internal/services/frames"
	"printguard/internal/services/watch/domain"
)

// Config for the watch loop
type Config struct {
	// Interval between ticks
	Interval time.Duration
	// Thresholds applied to raw detections before consolidation
	Thresholds detection.Thresholds
	// Machine bounds the evidence requirements per source
	Machine consolidate.Config
	// ReadyFile, when set, is touched after the first fully successful tick
	ReadyFile string
}

// Validate rejects loop configurations that cannot run
func (c Config) Validate() error {
	if c.Interval <= 0 {
		return perr.Configf("watch interval must be positive, got %s", c.Interval)
	}
	if c.Thresholds.Objectness < 0 || c.Thresholds.Objectness > 1 {
		return perr.Configf("objectness threshold must be in [0,1], got %g", c.Thresholds.Objectness)
	}
	if c.Thresholds.ClassProb < 0 || c.Thresholds.ClassProb > 1 {
		return perr.Configf("class prob threshold must be in [0,1], got %g", c.Thresholds.ClassProb)
	}
	return c.Machine.Validate()
}

// Service drives the detection-to-decision pipeline. It implements both
// domain.RunnerPort and domain.StatusPort
type Service struct {
	cfg    Config
	ports  domain.Ports
	labels detection.Labels
	mach   *consolidate.Machine
	log    *logger.Logger

	// episodes maps source index to the active episode's raise event
	episodes map[int]domain.FailureEvent
	// lastTick records when each source was last polled
	lastTick map[int]time.Time

	// snapshots published for the status server; the loop writes, the HTTP
	// goroutines read
	mu    sync.RWMutex
	snaps []domain.SourceSnapshot
	ready bool

	readyOnce sync.Once

	now func() time.Time
}

// New validates config and builds the service
func New(cfg Config, labels detection.Labels, ports domain.Ports) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if ports.Frames == nil || ports.Detect == nil || ports.Alerts == nil || ports.Printer == nil {
		return nil, perr.Configf("frames, detect, alerts, and printer ports are required")
	}
	if len(labels) == 0 {
		return nil, perr.Configf("label set is empty")
	}
	mach, err := consolidate.New(cfg.Machine)
	if err != nil {
		return nil, err
	}
	s := &Service{
		cfg:      cfg,
		ports:    ports,
		labels:   labels,
		mach:     mach,
		log:      logger.Named("watch"),
		episodes: make(map[int]domain.FailureEvent),
		lastTick: make(map[int]time.Time),
		now:      time.Now,
	}
	s.publishSnapshots()
	return s, nil
}

// Run ticks the pipeline until ctx is cancelled. The in-flight tick finishes
// before Run returns
func (s *Service) Run(ctx context.Context) error {
	s.log.Info().
		Int("sources", s.ports.Frames.Count()).
		Dur("interval", s.cfg.Interval).
		Str("action", s.ports.Printer.ActionName()).
		Msg("watch loop started")

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		s.tick(ctx)
		select {
		case <-ctx.Done():
			s.log.Info().Msg("watch loop stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Ready reports whether the loop has completed at least one full tick
func (s *Service) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ready
}

// Snapshots returns a copy of the latest per-source state
func (s *Service) Snapshots() []domain.SourceSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.SourceSnapshot, len(s.snaps))
	copy(out, s.snaps)
	return out
}

// tick processes exactly one source. A fetch or inference error ends the
// tick without touching belief state; reachability transitions alert even
// when the fetch failed
func (s *Service) tick(ctx context.Context) {
	defer s.publishSnapshots()

	frame, transition, err := s.ports.Frames.Next(ctx)
	idx := frame.SourceIndex
	if err != nil {
		idx = perr.SourceOf(err)
	}
	if idx >= 0 {
		s.lastTick[idx] = s.now()
	}
	s.handleTransition(ctx, transition, idx)
	if err != nil {
		if ctx.Err() == nil {
			s.log.Warn().Err(err).Int("source", perr.SourceOf(err)).Msg("frame fetch failed")
		}
		return
	}

	ctx = logger.WithSource(ctx, frame.SourceIndex)

	dets, err := s.ports.Detect.Detect(ctx, frame.Bytes)
	if err != nil {
		logger.C(ctx).Warn().Err(err).Msg("inference failed")
		return
	}

	filtered := detection.Filter(dets, s.labels, s.cfg.Thresholds)
	hit := len(filtered) > 0
	now := s.now()

	verdict := s.mach.Observe(frame.SourceIndex, hit, now)
	switch verdict {
	case consolidate.VerdictRaise:
		s.raise(ctx, frame, filtered, now)
	case consolidate.VerdictRemind:
		s.remind(ctx, frame.SourceIndex)
	case consolidate.VerdictClear:
		s.clear(ctx, frame.SourceIndex, now)
	case consolidate.VerdictNone:
		if hit && s.mach.Snapshot(frame.SourceIndex).FailureActive {
			s.recordOngoing(ctx, frame.SourceIndex, filtered, now)
		}
	}

	s.readyOnce.Do(func() {
		s.mu.Lock()
		s.ready = true
		s.mu.Unlock()
		s.touchReadyFile()
	})
}

// raise fires the once-per-episode side effects. Failures in any of them are
// logged and never roll the machine back
func (s *Service) raise(ctx context.Context, frame frames.Frame, filtered []detection.Filtered, now time.Time) {
	best, ok := detection.Best(filtered)
	if !ok {
		// Observe only raises on a hit tick, so filtered is never empty here
		return
	}
	sourceIndex := frame.SourceIndex
	ev := domain.FailureEvent{
		ID:          uuid.NewString(),
		SourceIndex: sourceIndex,
		SourceURL:   s.ports.Frames.URL(sourceIndex),
		ClassID:     best.ClassID,
		Label:       best.Label,
		Objectness:  best.Objectness,
		ClassProb:   best.ClassProb,
		Box:         best.Box,
		At:          now,
		Frame:       frame.Bytes,
	}
	s.episodes[sourceIndex] = ev

	s.log.Error().
		Str("episode_id", ev.ID).
		Int("source", sourceIndex).
		Str("label", ev.Label).
		Float32("class_prob", ev.ClassProb).
		Msg("failure confirmed")

	if err := s.ports.Alerts.NotifyFailure(ctx, ev); err != nil {
		s.log.Error().Err(err).Str("episode_id", ev.ID).Msg("failure alert undelivered")
	}
	if err := s.ports.Printer.Act(ctx, ev.ID); err != nil {
		s.log.Error().Err(err).Str("episode_id", ev.ID).Msg("printer action failed")
	} else if err := s.ports.Alerts.NotifyPaused(ctx, ev, s.ports.Printer.ActionName()); err != nil {
		s.log.Error().Err(err).Str("episode_id", ev.ID).Msg("pause alert undelivered")
	}
	if s.ports.History != nil {
		if err := s.ports.History.RecordRaise(ctx, ev); err != nil {
			s.log.Error().Err(err).Str("episode_id", ev.ID).Msg("history raise write failed")
		}
	}
	if s.ports.Publish != nil {
		s.ports.Publish.PublishRaise(ev)
	}
}

func (s *Service) remind(ctx context.Context, sourceIndex int) {
	ev, ok := s.episodes[sourceIndex]
	if !ok {
		return
	}
	if err := s.ports.Alerts.NotifyReminder(ctx, ev); err != nil {
		s.log.Error().Err(err).Str("episode_id", ev.ID).Msg("reminder alert undelivered")
	}
}

func (s *Service) clear(ctx context.Context, sourceIndex int, now time.Time) {
	ev, ok := s.episodes[sourceIndex]
	if !ok {
		return
	}
	delete(s.episodes, sourceIndex)
	s.log.Info().Str("episode_id", ev.ID).Int("source", sourceIndex).Msg("failure cleared")

	if s.ports.History != nil {
		if err := s.ports.History.RecordClear(ctx, ev.ID, now); err != nil {
			s.log.Error().Err(err).Str("episode_id", ev.ID).Msg("history clear write failed")
		}
	}
	if s.ports.Publish != nil {
		s.ports.Publish.PublishClear(sourceIndex, ev.ID, now)
	}
}

func (s *Service) recordOngoing(ctx context.Context, sourceIndex int, filtered []detection.Filtered, now time.Time) {
	if s.ports.History == nil {
		return
	}
	ev, ok := s.episodes[sourceIndex]
	if !ok {
		return
	}
	best, ok := detection.Best(filtered)
	if !ok {
		return
	}
	if err := s.ports.History.RecordDetection(ctx, ev.ID, best, now); err != nil {
		s.log.Warn().Err(err).Str("episode_id", ev.ID).Msg("history detection write failed")
	}
}

// handleTransition alerts on reachability changes. Alert failures are logged
// only; the outage bookkeeping already happened in the cycler
func (s *Service) handleTransition(ctx context.Context, tr frames.Transition, idx int) {
	if tr == frames.TransitionNone {
		return
	}
	switch tr {
	case frames.TransitionOffline:
		url := s.ports.Frames.URL(idx)
		failures := 0
		if hs := s.ports.Frames.Health(); idx >= 0 && idx < len(hs) {
			failures = hs[idx].ConsecutiveFailures
		}
		s.log.Error().Int("source", idx).Str("url", url).Msg("source offline")
		if err := s.ports.Alerts.NotifySourceOffline(ctx, idx, url, failures); err != nil {
			s.log.Error().Err(err).Int("source", idx).Msg("offline alert undelivered")
		}
	case frames.TransitionRecovered:
		s.log.Info().Int("source", idx).Msg("source recovered")
		if err := s.ports.Alerts.NotifySourceRecovered(ctx, idx, s.ports.Frames.URL(idx)); err != nil {
			s.log.Error().Err(err).Int("source", idx).Msg("recovery alert undelivered")
		}
	}
}

func (s *Service) publishSnapshots() {
	n := s.ports.Frames.Count()
	health := s.ports.Frames.Health()

	snaps := make([]domain.SourceSnapshot, n)
	for i := 0; i < n; i++ {
		ms := s.mach.Snapshot(i)
		snap := domain.SourceSnapshot{
			Index:             i,
			URL:               s.ports.Frames.URL(i),
			State:             ms.State.String(),
			ConsecutiveHits:   ms.Hits,
			ConsecutiveMisses: ms.Misses,
			FailureActive:     ms.FailureActive,
			LastAlertAt:       ms.LastAlertAt,
			EpisodeID:         s.episodes[i].ID,
			LastTickAt:        s.lastTick[i],
		}
		if i < len(health) {
			snap.Offline = health[i].Offline
			snap.ConsecutiveFailures = health[i].ConsecutiveFailures
		}
		snaps[i] = snap
	}

	s.mu.Lock()
	s.snaps = snaps
	s.mu.Unlock()
}

func (s *Service) touchReadyFile() {
	if s.cfg.ReadyFile == "" {
		return
	}
	if err := os.WriteFile(s.cfg.ReadyFile, []byte(time.Now().UTC().Format(time.RFC3339)+"\n"), 0o644); err != nil {
		s.log.Warn().Err(err).Str("path", s.cfg.ReadyFile).Msg("ready file write failed")
	} else {
		s.log.Info().Str("path", s.cfg.ReadyFile).Msg("ready file written")
	}
}
