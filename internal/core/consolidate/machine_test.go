package consolidate

import (
	"testing"
	"time"
)

func mustMachine(t *testing.T, cfg Config) *Machine {
	t.Helper()
	m, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m
}

// observe feeds a hit/miss sequence ("h"/"m") and returns the verdicts
func observe(m *Machine, src int, seq string, start time.Time, step time.Duration) []Verdict {
	out := make([]Verdict, 0, len(seq))
	now := start
	for _, c := range seq {
		out = append(out, m.Observe(src, c == 'h', now))
		now = now.Add(step)
	}
	return out
}

func TestConfirmRequiresExactStreak(t *testing.T) {
	cfg := Config{ConfirmationCount: 3, MissTolerance: 1, ClearCount: 2}
	m := mustMachine(t, cfg)
	now := time.Now()

	if v := m.Observe(0, true, now); v != VerdictNone {
		t.Fatalf("hit 1: verdict %v, want none", v)
	}
	if v := m.Observe(0, true, now); v != VerdictNone {
		t.Fatalf("hit 2: verdict %v, want none", v)
	}
	if s := m.Snapshot(0); s.State != StateSuspected || s.Hits != 2 {
		t.Fatalf("after 2 hits: %+v", s)
	}
	if v := m.Observe(0, true, now); v != VerdictRaise {
		t.Fatalf("hit 3: verdict %v, want raise", v)
	}
	s := m.Snapshot(0)
	if s.State != StateConfirmed || !s.FailureActive {
		t.Fatalf("after confirm: %+v", s)
	}
}

func TestSingleHitNeverConfirms(t *testing.T) {
	m := mustMachine(t, Config{ConfirmationCount: 3, MissTolerance: 0, ClearCount: 1})
	for _, v := range observe(m, 0, "hmhmhm", time.Now(), time.Second) {
		if v == VerdictRaise {
			t.Fatalf("isolated hits must never confirm")
		}
	}
}

func TestConfirmationCountOne(t *testing.T) {
	m := mustMachine(t, Config{ConfirmationCount: 1, MissTolerance: 0, ClearCount: 1})
	if v := m.Observe(0, true, time.Now()); v != VerdictRaise {
		t.Fatalf("confirmation count 1 should raise on first hit, got %v", v)
	}
}

// The crux scenario: [hit, hit, miss, hit] with confirm=3, tolerance=1 ends
// Suspected with a fresh streak of 1 (the tolerated miss zeroes the streak
// but does not revert to Idle)
func TestToleratedMissResetsStreak(t *testing.T) {
	m := mustMachine(t, Config{ConfirmationCount: 3, MissTolerance: 1, ClearCount: 2})
	verdicts := observe(m, 0, "hhmh", time.Now(), time.Second)
	for i, v := range verdicts {
		if v != VerdictNone {
			t.Fatalf("tick %d: verdict %v, want none", i+1, v)
		}
	}
	s := m.Snapshot(0)
	if s.State != StateSuspected {
		t.Fatalf("state = %v, want suspected", s.State)
	}
	if s.Hits != 1 {
		t.Fatalf("hits = %d, want 1 (streak restarts after tolerated miss)", s.Hits)
	}
	if s.Misses != 0 {
		t.Fatalf("misses = %d, want 0 (hit resets miss counter)", s.Misses)
	}
}

func TestMissBeyondToleranceRevertsToIdle(t *testing.T) {
	m := mustMachine(t, Config{ConfirmationCount: 3, MissTolerance: 1, ClearCount: 2})
	observe(m, 0, "hhmm", time.Now(), time.Second)
	if s := m.Snapshot(0); s.State != StateIdle {
		t.Fatalf("two misses with tolerance 1 should revert to idle, got %+v", s)
	}
}

func TestClearRequiresExactMissCount(t *testing.T) {
	m := mustMachine(t, Config{ConfirmationCount: 2, MissTolerance: 0, ClearCount: 3})
	now := time.Now()
	observe(m, 0, "hh", now, time.Second) // confirmed

	if v := m.Observe(0, false, now); v != VerdictNone {
		t.Fatalf("miss 1 should not clear")
	}
	if v := m.Observe(0, false, now); v != VerdictNone {
		t.Fatalf("miss 2 should not clear")
	}
	// an interleaved hit resets the miss counter
	if v := m.Observe(0, true, now); v != VerdictNone {
		t.Fatalf("absorbed hit should be none")
	}
	if s := m.Snapshot(0); s.Misses != 0 {
		t.Fatalf("hit in confirmed should reset misses, got %d", s.Misses)
	}

	verdicts := observe(m, 0, "mmm", now, time.Second)
	if verdicts[0] != VerdictNone || verdicts[1] != VerdictNone || verdicts[2] != VerdictClear {
		t.Fatalf("verdicts = %v, want [none none clear]", verdicts)
	}
	if s := m.Snapshot(0); s.State != StateIdle || s.FailureActive {
		t.Fatalf("after clear: %+v", s)
	}
}

func TestExactlyOneRaisePerEpisode(t *testing.T) {
	m := mustMachine(t, Config{ConfirmationCount: 2, MissTolerance: 1, ClearCount: 2})
	raises := 0
	for _, v := range observe(m, 0, "hhhhhhhh", time.Now(), time.Second) {
		if v == VerdictRaise {
			raises++
		}
	}
	if raises != 1 {
		t.Fatalf("raises = %d, want exactly 1 while confirmed persists", raises)
	}
}

func TestReminderGatedByCooldown(t *testing.T) {
	cfg := Config{ConfirmationCount: 1, MissTolerance: 0, ClearCount: 2, AlertCooldown: 10 * time.Minute}
	m := mustMachine(t, cfg)
	now := time.Now()

	if v := m.Observe(0, true, now); v != VerdictRaise {
		t.Fatalf("want raise")
	}
	if v := m.Observe(0, true, now.Add(time.Minute)); v != VerdictNone {
		t.Fatalf("within cooldown should not remind")
	}
	if v := m.Observe(0, true, now.Add(10*time.Minute)); v != VerdictRemind {
		t.Fatalf("at cooldown boundary should remind")
	}
	// the reminder restarts the clock
	if v := m.Observe(0, true, now.Add(11*time.Minute)); v != VerdictNone {
		t.Fatalf("cooldown clock should restart after reminder")
	}
}

func TestNoReminderWhenCooldownDisabled(t *testing.T) {
	m := mustMachine(t, Config{ConfirmationCount: 1, MissTolerance: 0, ClearCount: 2})
	now := time.Now()
	m.Observe(0, true, now)
	if v := m.Observe(0, true, now.Add(24*time.Hour)); v != VerdictNone {
		t.Fatalf("cooldown 0 disables reminders, got %v", v)
	}
}

func TestNewEpisodeRaisesRegardlessOfCooldown(t *testing.T) {
	cfg := Config{ConfirmationCount: 1, MissTolerance: 0, ClearCount: 1, AlertCooldown: time.Hour}
	m := mustMachine(t, cfg)
	now := time.Now()

	if v := m.Observe(0, true, now); v != VerdictRaise {
		t.Fatalf("episode 1 should raise")
	}
	if v := m.Observe(0, false, now.Add(time.Second)); v != VerdictClear {
		t.Fatalf("episode 1 should clear")
	}
	// well inside the previous episode's cooldown window
	if v := m.Observe(0, true, now.Add(2*time.Second)); v != VerdictRaise {
		t.Fatalf("a distinct episode must always raise, got %v", v)
	}
}

func TestSourcesAreIndependent(t *testing.T) {
	m := mustMachine(t, Config{ConfirmationCount: 2, MissTolerance: 0, ClearCount: 1})
	now := time.Now()

	m.Observe(0, true, now)
	m.Observe(1, true, now)
	// source 0 confirms; source 1 misses back to idle
	if v := m.Observe(0, true, now); v != VerdictRaise {
		t.Fatalf("source 0 should confirm")
	}
	if v := m.Observe(1, false, now); v != VerdictNone {
		t.Fatalf("source 1 should quietly drop")
	}
	if s := m.Snapshot(1); s.State != StateIdle {
		t.Fatalf("source 1 state = %v, want idle", s.State)
	}
	if s := m.Snapshot(0); s.State != StateConfirmed {
		t.Fatalf("source 0 state = %v, want confirmed", s.State)
	}
}

func TestMissWhileIdleIsNoOp(t *testing.T) {
	m := mustMachine(t, Config{ConfirmationCount: 2, MissTolerance: 0, ClearCount: 1})
	before := m.Snapshot(0)
	if v := m.Observe(0, false, time.Now()); v != VerdictNone {
		t.Fatalf("miss in idle should be none")
	}
	if m.Snapshot(0) != before {
		t.Fatalf("miss in idle should not mutate state")
	}
}

func TestConfigValidate(t *testing.T) {
	bad := []Config{
		{ConfirmationCount: 0, ClearCount: 1},
		{ConfirmationCount: 1, ClearCount: 0},
		{ConfirmationCount: 1, ClearCount: 1, MissTolerance: -1},
		{ConfirmationCount: 1, ClearCount: 1, AlertCooldown: -time.Second},
	}
	for i, cfg := range bad {
		if _, err := New(cfg); err == nil {
			t.Fatalf("case %d: expected config error", i)
		}
	}
}
