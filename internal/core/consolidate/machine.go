// Package consolidate turns noisy single-frame detections into a stable
// per-source failure verdict.
//
// Each camera source gets an independent state machine over three states:
//
//	Idle      -> no current evidence of failure
//	Suspected -> at least one recent hit; waiting for a sustained streak
//	Confirmed -> sustained evidence; failure believed active
//
// Hit/miss policy: a miss while Suspected zeroes the hit streak (the
// confirming streak must be contiguous after the last miss) but only reverts
// to Idle once consecutive misses exceed the tolerance. Cooldown is
// per-episode: Clear wipes the alert clock so a fresh episode always raises.
//
// Fetch and inference errors must never reach Observe; an unreachable camera
// is evidence of nothing.
package consolidate

import (
	"time"

	perr "printguard/internal/platform/errors"
)

// State is the per-source belief state
type State uint8

const (
	// StateIdle means no current evidence of failure
	StateIdle State = iota
	// StateSuspected means unconfirmed recent evidence
	StateSuspected
	// StateConfirmed means sustained evidence; failure active
	StateConfirmed
)

// String implements fmt.Stringer for logs and the status API
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSuspected:
		return "suspected"
	case StateConfirmed:
		return "confirmed"
	default:
		return "unknown"
	}
}

// Verdict is what a single Observe emits; at most one per tick
type Verdict uint8

const (
	// VerdictNone means no transition of interest
	VerdictNone Verdict = iota
	// VerdictRaise means the source just entered Confirmed; alert and act once
	VerdictRaise
	// VerdictRemind means the episode is ongoing and the cooldown elapsed;
	// a reminder alert is permitted
	VerdictRemind
	// VerdictClear means the evidence lapsed; episode over, no external action
	VerdictClear
)

// Config bounds the evidence requirements
type Config struct {
	// ConfirmationCount is the consecutive hit ticks required to confirm
	ConfirmationCount int
	// MissTolerance is how many consecutive miss ticks Suspected absorbs
	// before reverting to Idle
	MissTolerance int
	// ClearCount is the consecutive miss ticks required to clear Confirmed
	ClearCount int
	// AlertCooldown gates reminder alerts within one episode; 0 disables them
	AlertCooldown time.Duration
}

// Validate rejects configurations that could never confirm or clear
func (c Config) Validate() error {
	if c.ConfirmationCount < 1 {
		return perr.Configf("confirmation count must be >= 1, got %d", c.ConfirmationCount)
	}
	if c.MissTolerance < 0 {
		return perr.Configf("miss tolerance must be >= 0, got %d", c.MissTolerance)
	}
	if c.ClearCount < 1 {
		return perr.Configf("clear count must be >= 1, got %d", c.ClearCount)
	}
	if c.AlertCooldown < 0 {
		return perr.Configf("alert cooldown must be >= 0, got %s", c.AlertCooldown)
	}
	return nil
}

// SourceState is the mutable per-source record. Owned exclusively by the
// Machine; callers only ever see copies via Snapshot
type SourceState struct {
	State         State     `json:"state"`
	Hits          int       `json:"consecutive_hits"`
	Misses        int       `json:"consecutive_misses"`
	FailureActive bool      `json:"failure_active"`
	LastAlertAt   time.Time `json:"last_alert_at,omitzero"`
}

// Machine consolidates hit/miss ticks per source. Not safe for concurrent
// use; it is owned by the single pipeline loop
type Machine struct {
	cfg    Config
	states map[int]*SourceState
}

// New builds a Machine or fails on an invalid config
func New(cfg Config) (*Machine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Machine{cfg: cfg, states: make(map[int]*SourceState)}, nil
}

func (m *Machine) state(sourceIndex int) *SourceState {
	s, ok := m.states[sourceIndex]
	if !ok {
		s = &SourceState{}
		m.states[sourceIndex] = s
	}
	return s
}

// Observe folds one tick's outcome for a source into its belief state and
// returns the transition verdict. hit means the tick produced at least one
// filtered failure-class detection
func (m *Machine) Observe(sourceIndex int, hit bool, now time.Time) Verdict {
	s := m.state(sourceIndex)

	switch s.State {
	case StateIdle:
		if !hit {
			return VerdictNone
		}
		s.State = StateSuspected
		s.Hits = 1
		s.Misses = 0
		if s.Hits >= m.cfg.ConfirmationCount {
			return m.confirm(s, now)
		}
		return VerdictNone

	case StateSuspected:
		if hit {
			s.Hits++
			s.Misses = 0
			if s.Hits >= m.cfg.ConfirmationCount {
				return m.confirm(s, now)
			}
			return VerdictNone
		}
		s.Misses++
		s.Hits = 0
		if s.Misses > m.cfg.MissTolerance {
			*s = SourceState{}
		}
		return VerdictNone

	case StateConfirmed:
		if hit {
			s.Hits++
			s.Misses = 0
			if m.cfg.AlertCooldown > 0 && now.Sub(s.LastAlertAt) >= m.cfg.AlertCooldown {
				s.LastAlertAt = now
				return VerdictRemind
			}
			return VerdictNone
		}
		s.Misses++
		s.Hits = 0
		if s.Misses >= m.cfg.ClearCount {
			// per-episode cooldown: wipe the alert clock with the episode
			*s = SourceState{}
			return VerdictClear
		}
		return VerdictNone
	}
	return VerdictNone
}

func (m *Machine) confirm(s *SourceState, now time.Time) Verdict {
	s.State = StateConfirmed
	s.FailureActive = true
	s.LastAlertAt = now
	return VerdictRaise
}

// Snapshot returns a copy of a source's state (zero value if never observed)
func (m *Machine) Snapshot(sourceIndex int) SourceState {
	if s, ok := m.states[sourceIndex]; ok {
		return *s
	}
	return SourceState{}
}

// Snapshots returns copies of all observed source states keyed by index
func (m *Machine) Snapshots() map[int]SourceState {
	out := make(map[int]SourceState, len(m.states))
	for i, s := range m.states {
		out[i] = *s
	}
	return out
}
