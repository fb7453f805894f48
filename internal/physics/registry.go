package physics

import (
	"errors"
	"fmt"
	"math"

	"github.com/jakecoffman/cp"
	"go.uber.org/zap"
)

var (
	// ErrStaleReference is returned when a command targets an id that is
	// not (or no longer) registered. The command is dropped.
	ErrStaleReference = errors.New("stale body reference")
	// ErrDuplicateBody is returned when an add-body command reuses a live id.
	ErrDuplicateBody = errors.New("duplicate body id")
)

const (
	defaultMass   = 1.0
	defaultRadius = 0.5
)

type entry struct {
	id    BodyID
	typ   BodyType
	body  *cp.Body
	shape *cp.Shape
}

// Registry owns the set of bodies in a cp.Space, keyed by BodyID. It is
// single-writer: only the simulation goroutine calls into it.
type Registry struct {
	space  *cp.Space
	log    *zap.Logger
	bodies map[BodyID]*entry
	nextID BodyID

	// dynamic holds dynamic body ids in the order they are written into
	// transform frames. It only changes on add/remove of a dynamic body.
	dynamic  []BodyID
	unsynced bool
	dropped  int
}

func newRegistry(space *cp.Space, log *zap.Logger) *Registry {
	return &Registry{
		space:  space,
		log:    log,
		bodies: make(map[BodyID]*entry),
		nextID: 1,
		// the first frame always carries the id list
		unsynced: true,
	}
}

// Add creates a body from d. A zero d.ID gets the next free id.
func (r *Registry) Add(d Descriptor) (BodyID, error) {
	id := d.ID
	if id == 0 {
		id = r.nextID
	}
	if _, ok := r.bodies[id]; ok {
		r.dropped++
		r.log.Warn("add body dropped", zap.Uint32("body", uint32(id)), zap.Error(ErrDuplicateBody))
		return 0, fmt.Errorf("add body %d: %w", id, ErrDuplicateBody)
	}
	if id >= r.nextID {
		r.nextID = id + 1
	}

	body := newBody(d)
	shape := newShape(body, d)
	r.space.AddBody(body)
	r.space.AddShape(shape)

	r.bodies[id] = &entry{id: id, typ: d.Type, body: body, shape: shape}
	if d.Type == Dynamic {
		r.dynamic = append(r.dynamic, id)
		r.unsynced = true
	}
	return id, nil
}

// Remove destroys the body with the given id.
func (r *Registry) Remove(id BodyID) error {
	e, err := r.lookup("remove", id)
	if err != nil {
		return err
	}
	r.space.RemoveShape(e.shape)
	r.space.RemoveBody(e.body)
	delete(r.bodies, id)

	if e.typ == Dynamic {
		for i, dyn := range r.dynamic {
			if dyn == id {
				r.dynamic = append(r.dynamic[:i], r.dynamic[i+1:]...)
				break
			}
		}
		r.unsynced = true
	}
	return nil
}

// Set hard-overwrites position, angle and velocity.
func (r *Registry) Set(id BodyID, t Transform) error {
	e, err := r.lookup("set", id)
	if err != nil {
		return err
	}
	e.body.SetPosition(cp.Vector{X: t.Position.X, Y: t.Position.Y})
	e.body.SetAngle(t.Angle)
	if e.typ != Static {
		e.body.SetVelocityVector(cp.Vector{X: t.Velocity.X, Y: t.Velocity.Y})
	} else {
		// static shapes are only re-indexed on insertion
		r.space.RemoveShape(e.shape)
		r.space.AddShape(e.shape)
	}
	return nil
}

// Update applies the flagged fields of p without touching the rest.
func (r *Registry) Update(id BodyID, p Partial) error {
	e, err := r.lookup("update", id)
	if err != nil {
		return err
	}
	if e.typ == Static {
		return nil
	}
	if p.Has(PartialVelocity) {
		e.body.SetVelocityVector(cp.Vector{X: p.Velocity.X, Y: p.Velocity.Y})
	}
	if p.Has(PartialAngularVelocity) {
		e.body.SetAngularVelocity(p.AngularVelocity)
	}
	if e.typ != Dynamic {
		return nil
	}
	center := e.body.Position()
	if p.Has(PartialForce) {
		e.body.ApplyForceAtWorldPoint(cp.Vector{X: p.Force.X, Y: p.Force.Y}, center)
	}
	if p.Has(PartialImpulse) {
		e.body.ApplyImpulseAtWorldPoint(cp.Vector{X: p.Impulse.X, Y: p.Impulse.Y}, center)
	}
	return nil
}

// Has reports whether id is registered.
func (r *Registry) Has(id BodyID) bool {
	_, ok := r.bodies[id]
	return ok
}

// Transform returns the current transform of id.
func (r *Registry) Transform(id BodyID) (Transform, bool) {
	e, ok := r.bodies[id]
	if !ok {
		return Transform{}, false
	}
	p := e.body.Position()
	v := e.body.Velocity()
	t := Transform{Angle: e.body.Angle()}
	t.Position.X, t.Position.Y = p.X, p.Y
	t.Velocity.X, t.Velocity.Y = v.X, v.Y
	return t, true
}

// Len returns the number of registered bodies of any type.
func (r *Registry) Len() int { return len(r.bodies) }

// DynamicIDs returns a copy of the frame iteration order.
func (r *Registry) DynamicIDs() []BodyID {
	ids := make([]BodyID, len(r.dynamic))
	copy(ids, r.dynamic)
	return ids
}

// Dropped returns how many commands were discarded as stale or duplicate.
func (r *Registry) Dropped() int { return r.dropped }

func (r *Registry) lookup(op string, id BodyID) (*entry, error) {
	e, ok := r.bodies[id]
	if !ok {
		r.dropped++
		r.log.Warn(op+" body dropped", zap.Uint32("body", uint32(id)), zap.Error(ErrStaleReference))
		return nil, fmt.Errorf("%s body %d: %w", op, id, ErrStaleReference)
	}
	return e, nil
}

func newBody(d Descriptor) *cp.Body {
	var body *cp.Body
	switch d.Type {
	case Static:
		body = cp.NewStaticBody()
	case Kinematic:
		body = cp.NewKinematicBody()
	default:
		mass := d.Mass
		if mass <= 0 {
			mass = defaultMass
		}
		moment := math.Inf(1)
		if !d.FixedRotation {
			moment = shapeMoment(mass, d.Shape)
		}
		body = cp.NewBody(mass, moment)
	}
	body.SetPosition(cp.Vector{X: d.Position.X, Y: d.Position.Y})
	body.SetAngle(d.Angle)
	if d.Type != Static {
		body.SetVelocityVector(cp.Vector{X: d.Velocity.X, Y: d.Velocity.Y})
	}
	return body
}

func shapeMoment(mass float64, s Shape) float64 {
	if s.Kind == ShapeBox {
		return cp.MomentForBox(mass, s.Width, s.Height)
	}
	return cp.MomentForCircle(mass, 0, radiusOf(s), cp.Vector{})
}

func newShape(body *cp.Body, d Descriptor) *cp.Shape {
	var shape *cp.Shape
	if d.Shape.Kind == ShapeBox {
		shape = cp.NewBox(body, d.Shape.Width, d.Shape.Height, d.Shape.Radius)
	} else {
		shape = cp.NewCircle(body, radiusOf(d.Shape), cp.Vector{})
	}
	shape.SetFriction(d.Friction)
	shape.SetElasticity(d.Elasticity)

	categories, mask := d.Categories, d.Mask
	if categories == 0 {
		categories = ^uint(0)
	}
	if mask == 0 {
		mask = ^uint(0)
	}
	shape.SetFilter(cp.NewShapeFilter(d.Group, categories, mask))
	return shape
}

func radiusOf(s Shape) float64 {
	if s.Radius > 0 {
		return s.Radius
	}
	return defaultRadius
}
