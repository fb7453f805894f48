package game

import (
	"testing"

	"mobarena-server/internal/config"
	"mobarena-server/internal/geom"
	"mobarena-server/internal/state"
)

func newClassifier() (*Classifier, *state.Targets) {
	cfg := config.Defaults().Arena
	return NewClassifier(cfg), state.NewTargets(state.NewBus())
}

func TestClassifierRanges(t *testing.T) {
	c, targets := newClassifier()
	agents := []Tracked{
		{ID: 1, Pos: geom.V(2, 0)},  // attack range
		{ID: 2, Pos: geom.V(4, 0)},  // close range
		{ID: 3, Pos: geom.V(7, 0)},  // in range
		{ID: 4, Pos: geom.V(20, 0)}, // out of everything
	}
	c.Classify(targets, geom.V(0, 0), geom.Vec2{}, agents)

	if got := targets.Members(state.AttackRange); len(got) != 1 || got[0] != 1 {
		t.Errorf("attack range: %v", got)
	}
	if got := targets.Members(state.CloseRange); len(got) != 2 {
		t.Errorf("close range: %v", got)
	}
	if got := targets.Members(state.InRange); len(got) != 3 {
		t.Errorf("in range: %v", got)
	}
	if targets.Has(state.InRange, 4) {
		t.Error("far agent should not be in range")
	}
}

func TestClassifierFocusFollowsHeading(t *testing.T) {
	c, targets := newClassifier()
	ahead := Tracked{ID: 1, Pos: geom.V(10, 0)}
	behind := Tracked{ID: 2, Pos: geom.V(-10, 0)}

	// no heading yet
	c.Classify(targets, geom.V(0, 0), geom.Vec2{}, []Tracked{ahead, behind})
	if targets.Len(state.Focused) != 0 {
		t.Error("nothing is focused before the player moves")
	}

	c.Classify(targets, geom.V(0, 0), geom.V(0.1, 0), []Tracked{ahead, behind})
	if !targets.Has(state.Focused, 1) || targets.Has(state.Focused, 2) {
		t.Errorf("focus should follow heading: %v", targets.Members(state.Focused))
	}

	// standing still keeps the last heading
	c.Classify(targets, geom.V(0, 0), geom.Vec2{}, []Tracked{ahead, behind})
	if !targets.Has(state.Focused, 1) {
		t.Error("focus should persist while the player is still")
	}
	if id, ok := targets.Current(); !ok || id != 1 {
		t.Errorf("focused agent should be the target, got %d", id)
	}
}

func TestClassifierLeavingAndUntracked(t *testing.T) {
	c, targets := newClassifier()
	c.Classify(targets, geom.V(0, 0), geom.Vec2{}, []Tracked{{ID: 1, Pos: geom.V(1, 0)}, {ID: 2, Pos: geom.V(1, 1)}})

	c.Classify(targets, geom.V(0, 0), geom.Vec2{}, []Tracked{{ID: 1, Pos: geom.V(6, 0)}})
	if targets.Has(state.AttackRange, 1) || targets.Has(state.CloseRange, 1) {
		t.Error("agent 1 should have left the close ranges")
	}
	if !targets.Has(state.InRange, 1) {
		t.Error("agent 1 should still be in range")
	}
	for r := state.InRange; r <= state.Focused; r++ {
		if targets.Has(r, 2) {
			t.Errorf("untracked agent 2 still in %s", r)
		}
	}
}
