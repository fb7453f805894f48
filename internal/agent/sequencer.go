package agent

import "time"

// Phase is the stage of an attack in flight.
type Phase uint8

const (
	WaitingWindup Phase = iota
	Committed
	WaitingResolution
	Done
	Cancelled
)

func (p Phase) String() string {
	switch p {
	case WaitingWindup:
		return "waiting_windup"
	case Committed:
		return "committed"
	case WaitingResolution:
		return "waiting_resolution"
	case Done:
		return "done"
	case Cancelled:
		return "cancelled"
	}
	return "unknown"
}

// Event is what a single Sequencer.Tick reports to its owner.
type Event uint8

const (
	EventNone Event = iota
	EventCommit
	EventDone
)

// Result is the outcome of one Sequencer.Tick. Applied and Stale are only
// meaningful with EventDone.
type Result struct {
	Event   Event
	Applied bool
	Stale   bool
}

// Damageable receives the damage of a resolved attack. It reports whether
// the damage landed.
type Damageable interface {
	DealDamage(amount float64, now time.Time) bool
}

// Timing parameterises one attack.
type Timing struct {
	Windup     time.Duration
	Resolution time.Duration
	Damage     float64
	StaleAfter time.Duration // damage is dropped when resolving past committedAt+StaleAfter
}

// Sequencer is a phased attack advanced by polling Tick once per host tick.
// It never sleeps: every wait is a comparison against now.
type Sequencer struct {
	timing      Timing
	target      Damageable
	phase       Phase
	started     time.Time
	committedAt time.Time
}

func NewSequencer(timing Timing, target Damageable, now time.Time) *Sequencer {
	return &Sequencer{
		timing:  timing,
		target:  target,
		phase:   WaitingWindup,
		started: now,
	}
}

func (s *Sequencer) Phase() Phase { return s.phase }

func (s *Sequencer) CommittedAt() time.Time { return s.committedAt }

// Committed reports whether the wind-up has elapsed. A committed attack can
// no longer be cancelled.
func (s *Sequencer) Committed() bool {
	return s.phase == Committed || s.phase == WaitingResolution || s.phase == Done
}

// Finished reports whether the sequencer reached a terminal phase.
func (s *Sequencer) Finished() bool { return s.phase == Done || s.phase == Cancelled }

// Cancel discards the attack if it has not committed yet. It returns false
// once the attack is committed or already finished.
func (s *Sequencer) Cancel() bool {
	if s.phase != WaitingWindup {
		return false
	}
	s.phase = Cancelled
	return true
}

// Tick advances the sequencer to now. Commit and Done are each reported
// exactly once; a cancelled or finished sequencer reports nothing.
func (s *Sequencer) Tick(now time.Time) Result {
	switch s.phase {
	case WaitingWindup:
		if now.Before(s.started.Add(s.timing.Windup)) {
			return Result{}
		}
		s.phase = Committed
		s.committedAt = now
		return Result{Event: EventCommit}

	case Committed:
		s.phase = WaitingResolution
		fallthrough

	case WaitingResolution:
		if now.Before(s.committedAt.Add(s.timing.Resolution)) {
			return Result{}
		}
		s.phase = Done
		if now.After(s.committedAt.Add(s.timing.StaleAfter)) {
			return Result{Event: EventDone, Stale: true}
		}
		applied := s.target != nil && s.target.DealDamage(s.timing.Damage, now)
		return Result{Event: EventDone, Applied: applied}
	}
	return Result{}
}
