package game

import (
	"mobarena-server/internal/config"
	"mobarena-server/internal/geom"
	"mobarena-server/internal/physics"
	"mobarena-server/internal/state"
)

// Classifier keeps the player's range sets in step with mirrored distances.
// Membership changes are explicit Add/Remove calls made once per pass, so the
// sets lag the simulation by the mirror's one frame.
type Classifier struct {
	inRange     float64
	closeRange  float64
	attackRange float64
	focusRange  float64

	heading geom.Vec2 // last non-zero player movement
}

func NewClassifier(cfg config.ArenaConfig) *Classifier {
	return &Classifier{
		inRange:     cfg.InRange,
		closeRange:  cfg.CloseRange,
		attackRange: cfg.AttackRange,
		focusRange:  cfg.FocusRange,
	}
}

// Tracked is an agent's mirrored position.
type Tracked struct {
	ID  physics.BodyID
	Pos geom.Vec2
}

// Classify runs one pass over agents, which should be in id order so that
// range membership order is deterministic. player is the player's mirrored
// position and delta its movement over the last frame.
func (c *Classifier) Classify(t *state.Targets, player, delta geom.Vec2, agents []Tracked) {
	if !delta.IsZero() {
		c.heading = delta
	}
	seen := make(map[physics.BodyID]bool, len(agents))
	for _, a := range agents {
		seen[a.ID] = true
		d := player.Dist(a.Pos)
		c.place(t, state.InRange, a.ID, d <= c.inRange)
		c.place(t, state.CloseRange, a.ID, d <= c.closeRange)
		c.place(t, state.AttackRange, a.ID, d <= c.attackRange)
		c.place(t, state.Focused, a.ID, d <= c.focusRange && c.inFront(player, a.Pos))
	}
	// Drop members that are no longer tracked at all.
	for r := state.InRange; r <= state.Focused; r++ {
		for _, id := range t.Members(r) {
			if !seen[id] {
				t.Remove(r, id)
			}
		}
	}
}

func (c *Classifier) place(t *state.Targets, r state.Range, id physics.BodyID, inside bool) {
	switch {
	case inside && !t.Has(r, id):
		t.Add(r, id)
	case !inside && t.Has(r, id):
		t.Remove(r, id)
	}
}

func (c *Classifier) inFront(player, pos geom.Vec2) bool {
	if c.heading.IsZero() {
		return false
	}
	to := pos.Sub(player)
	return to.X*c.heading.X+to.Y*c.heading.Y > 0
}
