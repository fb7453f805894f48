package state

import "mobarena-server/internal/physics"

// Range classifies an agent relative to the player.
type Range uint8

const (
	InRange Range = iota
	CloseRange
	AttackRange
	Focused
	rangeCount
)

func (r Range) String() string {
	switch r {
	case InRange:
		return "in_range"
	case CloseRange:
		return "close_range"
	case AttackRange:
		return "attack_range"
	case Focused:
		return "focused"
	}
	return "unknown"
}

// Targets holds the range sets maintained by the classification pass plus
// the attribution fields updated by combat. Membership is incremental, so it
// may lag the true distances by one pass. A zero id means "none".
type Targets struct {
	sets [rangeCount][]physics.BodyID

	LastAttacked physics.BodyID
	LastHitBy    physics.BodyID

	current physics.BodyID
	bus     *Bus
}

func NewTargets(bus *Bus) *Targets {
	return &Targets{bus: bus}
}

// Add puts id into range r. Adding a member twice is a no-op.
func (t *Targets) Add(r Range, id physics.BodyID) {
	if t.Has(r, id) {
		return
	}
	t.sets[r] = append(t.sets[r], id)
	t.refresh()
}

// Remove takes id out of range r.
func (t *Targets) Remove(r Range, id physics.BodyID) {
	set := t.sets[r]
	for i, member := range set {
		if member == id {
			t.sets[r] = append(set[:i], set[i+1:]...)
			t.refresh()
			return
		}
	}
}

// Forget drops id from every range and attribution field, e.g. on despawn.
func (t *Targets) Forget(id physics.BodyID) {
	for r := Range(0); r < rangeCount; r++ {
		t.Remove(r, id)
	}
	if t.LastAttacked == id {
		t.LastAttacked = 0
	}
	if t.LastHitBy == id {
		t.LastHitBy = 0
	}
	t.refresh()
}

func (t *Targets) Has(r Range, id physics.BodyID) bool {
	for _, member := range t.sets[r] {
		if member == id {
			return true
		}
	}
	return false
}

func (t *Targets) Len(r Range) int { return len(t.sets[r]) }

// Members returns a copy of range r in insertion order.
func (t *Targets) Members(r Range) []physics.BodyID {
	out := make([]physics.BodyID, len(t.sets[r]))
	copy(out, t.sets[r])
	return out
}

// SetLastAttacked records the agent the player last struck.
func (t *Targets) SetLastAttacked(id physics.BodyID) {
	t.LastAttacked = id
	t.refresh()
}

// ClaimLastHitBy attributes the last hit to id unless the current holder is
// still in range.
func (t *Targets) ClaimLastHitBy(id physics.BodyID) bool {
	if t.LastHitBy != 0 && t.Has(InRange, t.LastHitBy) {
		return false
	}
	t.LastHitBy = id
	t.refresh()
	return true
}

// Current picks the player's target: the last attacked agent while it stays
// in range, else the last attacker within attack range, else the first agent
// in attack range, else the first focused agent.
func (t *Targets) Current() (physics.BodyID, bool) {
	if t.LastAttacked != 0 && t.Has(InRange, t.LastAttacked) {
		return t.LastAttacked, true
	}
	if attack := t.sets[AttackRange]; len(attack) > 0 {
		if t.LastHitBy != 0 && t.Has(AttackRange, t.LastHitBy) {
			return t.LastHitBy, true
		}
		return attack[0], true
	}
	if focused := t.sets[Focused]; len(focused) > 0 {
		return focused[0], true
	}
	return 0, false
}

// InCombat reports whether the player has a target or anything close.
func (t *Targets) InCombat() bool {
	_, ok := t.Current()
	return ok || len(t.sets[CloseRange]) > 0
}

func (t *Targets) refresh() {
	id, _ := t.Current()
	if id == t.current {
		return
	}
	t.current = id
	Emit(t.bus, TargetChanged{Target: id})
}
