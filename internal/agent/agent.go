package agent

import (
	"time"

	"go.uber.org/zap"

	"mobarena-server/internal/config"
	"mobarena-server/internal/geom"
	"mobarena-server/internal/physics"
	"mobarena-server/internal/state"
)

// Goal is what an agent is trying to do.
type Goal uint8

const (
	GoalAttack Goal = iota
	GoalIdle
)

func (g Goal) String() string {
	if g == GoalIdle {
		return "idle"
	}
	return "attack"
}

// Tuning holds the timings and scales shared by every agent.
type Tuning struct {
	HitGrace         time.Duration
	AttackCooldown   time.Duration
	StaleAfter       time.Duration
	Stun             time.Duration
	KnockbackImpulse float64
	ForceScale       float64
	Diagonal         float64
}

func DefaultTuning() Tuning {
	return TuningFrom(config.Defaults().Agents)
}

func TuningFrom(c config.AgentsConfig) Tuning {
	return Tuning{
		HitGrace:         c.HitGrace,
		AttackCooldown:   c.AttackCooldown,
		StaleAfter:       c.StaleAfter,
		Stun:             c.Stun,
		KnockbackImpulse: c.KnockbackImpulse,
		ForceScale:       c.ForceScale,
		Diagonal:         c.Diagonal,
	}
}

// CommandKind says how a Command's vector acts on the agent's body.
type CommandKind uint8

const (
	Force CommandKind = iota
	Impulse
)

// Command is the single physics action an agent emits per tick.
type Command struct {
	Kind   CommandKind
	Vector geom.Vec2
}

func (c Command) Partial() physics.Partial {
	if c.Kind == Impulse {
		return physics.WithImpulse(c.Vector)
	}
	return physics.WithForce(c.Vector)
}

// Env is what an agent can see during its tick.
type Env struct {
	Self   geom.Vec2 // agent's last mirrored position
	Player geom.Vec2 // player's last mirrored position
	World  *state.World
}

// Agent is the runtime state of one mob.
type Agent struct {
	ID      physics.BodyID
	Variant Variant
	Goal    Goal

	// Last mirrored position, kept for consumers without mirror access.
	X, Y float64

	LastHit      time.Time
	LastHitID    uint64
	LastAttacked time.Time
	AttackVector geom.Vec2
	PrevVel      geom.Vec2

	stunnedUntil time.Time
	knockedHit   uint64 // hit whose knockback was already sent
	attack       *Sequencer

	tuning Tuning
	log    *zap.Logger
}

func NewAgent(id physics.BodyID, variant Variant, goal Goal, tuning Tuning, log *zap.Logger) *Agent {
	if log == nil {
		log = zap.NewNop()
	}
	return &Agent{
		ID:      id,
		Variant: variant,
		Goal:    goal,
		tuning:  tuning,
		log:     log.With(zap.Uint32("agent", uint32(id)), zap.String("variant", variant.Name)),
	}
}

// Hit records an incoming hit. vector is the knockback direction and
// magnitude applied once on the agent's next tick. hitID must be non-zero.
func (a *Agent) Hit(hitID uint64, now time.Time, vector geom.Vec2) {
	a.LastHit = now
	a.LastHitID = hitID
	a.AttackVector = vector
	a.stunnedUntil = now.Add(a.tuning.Stun)
}

func (a *Agent) Stunned(now time.Time) bool { return now.Before(a.stunnedUntil) }

// Attacking reports whether an attack sequencer is in flight.
func (a *Agent) Attacking() bool { return a.attack != nil }

// Attack returns the in-flight sequencer, or nil.
func (a *Agent) Attack() *Sequencer { return a.attack }

// InReach reports whether target lies within the variant's attack distance.
func (a *Agent) InReach(self, target geom.Vec2) bool {
	return self.Dist(target) <= a.Variant.Threshold
}

// Tick runs one decision pass and returns exactly one command. Checks are
// ordered stun, hit grace, attack, pursue; the first that applies wins.
func (a *Agent) Tick(now time.Time, env Env) Command {
	a.X, a.Y = env.Self.X, env.Self.Y

	cmd := a.decide(now, env)
	if cmd.Kind == Force {
		a.PrevVel = cmd.Vector
	}
	return cmd
}

func (a *Agent) decide(now time.Time, env Env) Command {
	if a.Stunned(now) && a.knockedHit != a.LastHitID {
		a.knockedHit = a.LastHitID
		return Command{Kind: Impulse, Vector: a.AttackVector.Scale(a.tuning.KnockbackImpulse)}
	}
	if !a.LastHit.IsZero() && now.Sub(a.LastHit) < a.tuning.HitGrace {
		return Command{Kind: Force}
	}
	if a.Goal != GoalAttack {
		return Command{Kind: Force}
	}

	if a.InReach(env.Self, env.Player) {
		if a.attack == nil && a.canAttack(now, env.World) {
			a.attack = NewSequencer(Timing{
				Windup:     a.Variant.Windup,
				Resolution: a.Variant.Resolution,
				Damage:     a.Variant.Damage,
				StaleAfter: a.tuning.StaleAfter,
			}, env.World.Player, now)
		}
		if a.attack != nil {
			a.stepAttack(now, env.World)
		}
		return Command{Kind: Force}
	}

	if a.attack != nil {
		if !a.attack.Cancel() {
			// Committed attacks resolve even after the player stepped away.
			a.stepAttack(now, env.World)
		} else {
			a.attack = nil
		}
	}

	dir := Pursue(env.Self, env.Player, a.tuning.Diagonal, a.Variant.Force)
	return Command{Kind: Force, Vector: dir.Scale(a.tuning.ForceScale)}
}

func (a *Agent) canAttack(now time.Time, w *state.World) bool {
	if w.Player.Invincible {
		return false
	}
	return a.LastAttacked.IsZero() || now.Sub(a.LastAttacked) > a.tuning.AttackCooldown
}

func (a *Agent) stepAttack(now time.Time, w *state.World) {
	res := a.attack.Tick(now)
	switch res.Event {
	case EventCommit:
		a.LastAttacked = now
	case EventDone:
		committedAt := a.attack.CommittedAt()
		a.attack = nil
		w.Targets.ClaimLastHitBy(a.ID)
		if res.Stale {
			a.log.Warn("stale attack resolution, damage discarded",
				zap.Time("committed_at", committedAt),
				zap.Duration("late_by", now.Sub(committedAt)-a.tuning.StaleAfter),
			)
		}
		state.Emit(w.Bus, state.AttackResolved{
			Agent:       a.ID,
			Variant:     a.Variant.Name,
			Damage:      a.Variant.Damage,
			Applied:     res.Applied,
			Stale:       res.Stale,
			CommittedAt: committedAt,
			ResolvedAt:  now,
		})
	}
}

// Pursue returns the per-axis direction from self toward target. Each axis
// is a bare sign; diagonal moves are scaled by diagonal so they are no faster
// than axis-aligned ones, then everything is scaled by force.
func Pursue(self, target geom.Vec2, diagonal, force float64) geom.Vec2 {
	dir := geom.V(geom.Sign(self.X, target.X), geom.Sign(self.Y, target.Y))
	if dir.X != 0 && dir.Y != 0 {
		dir = dir.Scale(diagonal)
	}
	return dir.Scale(force)
}
