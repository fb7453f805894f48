package state

import (
	"time"

	"mobarena-server/internal/physics"
)

type PlayerDamaged struct {
	Amount float64
	Health float64
	At     time.Time
}

type PlayerRecharged struct {
	Health float64
	Juice  float64
}

// AttackResolved is emitted once per attack that reached its resolution
// phase, whether or not the damage landed.
type AttackResolved struct {
	Agent       physics.BodyID
	Variant     string
	Damage      float64
	Applied     bool
	Stale       bool
	CommittedAt time.Time
	ResolvedAt  time.Time
}

// TargetChanged is emitted when Targets.Current changes. Target is zero
// when the player has no target.
type TargetChanged struct {
	Target physics.BodyID
}

type ProtocolDesynced struct {
	Err error
	At  time.Time
}
