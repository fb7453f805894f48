package physics

import (
	"errors"
	"math/rand"
	"testing"

	"go.uber.org/zap"

	"mobarena-server/internal/geom"
)

func newTestWorld() *World {
	return NewWorld(Config{FixedDt: 1.0 / 60.0}, zap.NewNop())
}

func dynamicAt(id BodyID, x, y float64) Descriptor {
	return Descriptor{
		ID:       id,
		Type:     Dynamic,
		Position: geom.V(x, y),
		Shape:    Shape{Kind: ShapeCircle, Radius: 0.5},
		Mass:     1,
	}
}

func TestRegistryAddRemove(t *testing.T) {
	w := newTestWorld()
	id, err := w.Add(dynamicAt(7, 1, 2))
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if id != 7 {
		t.Errorf("expected id 7, got %d", id)
	}
	if !w.Has(7) || w.Len() != 1 {
		t.Error("body should be registered")
	}

	if err := w.Remove(7); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if w.Has(7) || w.Len() != 0 {
		t.Error("body should be gone after remove")
	}
}

func TestRegistryAssignsIDWhenZero(t *testing.T) {
	w := newTestWorld()
	a, _ := w.Add(dynamicAt(0, 0, 0))
	b, _ := w.Add(dynamicAt(0, 1, 0))
	if a == 0 || b == 0 || a == b {
		t.Errorf("expected distinct non-zero ids, got %d and %d", a, b)
	}
}

func TestRegistryRejectsDuplicate(t *testing.T) {
	w := newTestWorld()
	w.Add(dynamicAt(3, 0, 0))
	_, err := w.Add(dynamicAt(3, 5, 5))
	if !errors.Is(err, ErrDuplicateBody) {
		t.Errorf("expected ErrDuplicateBody, got %v", err)
	}
	if w.Len() != 1 {
		t.Errorf("duplicate add must not create a body, len=%d", w.Len())
	}
	tr, _ := w.Transform(3)
	if tr.Position.X != 0 {
		t.Error("duplicate add must not touch the existing body")
	}
}

func TestRegistryStaleReferencesAreDropped(t *testing.T) {
	w := newTestWorld()
	w.Add(dynamicAt(1, 0, 0))
	w.Remove(1)

	if err := w.Remove(1); !errors.Is(err, ErrStaleReference) {
		t.Errorf("remove: expected ErrStaleReference, got %v", err)
	}
	if err := w.Set(1, Transform{}); !errors.Is(err, ErrStaleReference) {
		t.Errorf("set: expected ErrStaleReference, got %v", err)
	}
	if err := w.Update(1, WithForce(geom.V(1, 0))); !errors.Is(err, ErrStaleReference) {
		t.Errorf("update: expected ErrStaleReference, got %v", err)
	}
	if w.Dropped() != 3 {
		t.Errorf("expected 3 dropped commands, got %d", w.Dropped())
	}
}

func TestRegistrySetOverwritesTransform(t *testing.T) {
	w := newTestWorld()
	w.Add(dynamicAt(1, 0, 0))
	w.Set(1, Transform{Position: geom.V(4, -2), Angle: 1.5})

	tr, ok := w.Transform(1)
	if !ok {
		t.Fatal("body missing")
	}
	if tr.Position.X != 4 || tr.Position.Y != -2 || tr.Angle != 1.5 {
		t.Errorf("unexpected transform %+v", tr)
	}
}

func TestRegistryImpulseChangesVelocity(t *testing.T) {
	w := newTestWorld()
	w.Add(dynamicAt(1, 0, 0))
	w.Update(1, WithImpulse(geom.V(2, 0)))

	tr, _ := w.Transform(1)
	if tr.Velocity.X <= 0 {
		t.Errorf("impulse should give positive x velocity, got %f", tr.Velocity.X)
	}
}

func TestRegistryStaticBodiesStayOutOfFrames(t *testing.T) {
	w := newTestWorld()
	w.Add(Descriptor{ID: 1, Type: Static, Shape: Shape{Kind: ShapeBox, Width: 10, Height: 1}})
	w.Add(Descriptor{ID: 2, Type: Kinematic})
	w.Add(dynamicAt(3, 0, 5))

	ids := w.DynamicIDs()
	if len(ids) != 1 || ids[0] != 3 {
		t.Errorf("expected only body 3 in dynamic order, got %v", ids)
	}
	if w.Len() != 3 {
		t.Errorf("expected 3 bodies, got %d", w.Len())
	}
}

// Random interleavings of lifecycle commands and steps never produce
// duplicate ids, and every frame matches the dynamic count.
func TestRegistryRandomLifecycle(t *testing.T) {
	w := newTestWorld()
	rng := rand.New(rand.NewSource(42))
	live := map[BodyID]bool{}
	next := BodyID(1)

	for i := 0; i < 500; i++ {
		switch rng.Intn(5) {
		case 0:
			w.Add(dynamicAt(next, rng.Float64()*10, rng.Float64()*10))
			live[next] = true
			next++
		case 1:
			id := BodyID(rng.Intn(int(next)) + 1)
			w.Remove(id)
			delete(live, id)
		case 2:
			w.Set(BodyID(rng.Intn(int(next))+1), Transform{Position: geom.V(1, 1)})
		case 3:
			w.Update(BodyID(rng.Intn(int(next))+1), WithForce(geom.V(1, 1)))
		case 4:
			res := w.Step(0, nil, nil)
			if len(res.Positions) != 2*len(live) || len(res.Angles) != len(live) {
				t.Fatalf("step %d: frame sized %d/%d for %d bodies", i, len(res.Positions), len(res.Angles), len(live))
			}
		}

		ids := w.DynamicIDs()
		seen := map[BodyID]bool{}
		for _, id := range ids {
			if seen[id] {
				t.Fatalf("duplicate id %d in registry", id)
			}
			seen[id] = true
		}
		if len(ids) != len(live) || w.Len() != len(live) {
			t.Fatalf("registry has %d bodies, expected %d", len(ids), len(live))
		}
	}
}

func TestRegistryMovedStaticBodyBlocks(t *testing.T) {
	w := newTestWorld()
	w.Add(Descriptor{ID: 1, Type: Static, Position: geom.V(20, 0), Shape: Shape{Kind: ShapeBox, Width: 1, Height: 10}})
	w.Add(dynamicAt(2, 0, 0))

	if err := w.Set(1, Transform{Position: geom.V(3, 0)}); err != nil {
		t.Fatalf("set: %v", err)
	}
	w.Update(2, WithVelocity(geom.V(10, 0)))

	var res StepResult
	for i := 0; i < 60; i++ {
		res = w.Step(0, res.Positions, res.Angles)
	}
	// wall face at x=2.5, body radius 0.5
	if res.Positions[0] > 2.4 {
		t.Errorf("body should stop at the moved wall, x=%f", res.Positions[0])
	}
}
