package physics

import "mobarena-server/internal/geom"

// BodyID is the stable identifier of a body. IDs are allocated by the host
// and never reused within a session.
type BodyID uint32

// BodyType selects how the solver treats a body.
type BodyType uint8

const (
	Dynamic BodyType = iota
	Kinematic
	Static
)

func (t BodyType) String() string {
	switch t {
	case Dynamic:
		return "dynamic"
	case Kinematic:
		return "kinematic"
	case Static:
		return "static"
	}
	return "unknown"
}

type ShapeKind uint8

const (
	ShapeCircle ShapeKind = iota
	ShapeBox
)

// Shape describes the collision geometry attached to a body.
type Shape struct {
	Kind   ShapeKind
	Radius float64 // circle radius, or corner rounding for boxes
	Width  float64
	Height float64
}

// Descriptor is the payload of an add-body command.
type Descriptor struct {
	ID            BodyID
	Type          BodyType
	Position      geom.Vec2
	Angle         float64
	Velocity      geom.Vec2
	FixedRotation bool
	Shape         Shape
	Mass          float64
	Friction      float64
	Elasticity    float64

	// Collision filtering, see cp.ShapeFilter.
	Group      uint
	Categories uint
	Mask       uint
}

// Transform is a hard overwrite of a body's state (respawn, teleport).
type Transform struct {
	Position geom.Vec2
	Angle    float64
	Velocity geom.Vec2
}

// PartialField marks which fields of a Partial are meaningful.
type PartialField uint8

const (
	PartialVelocity PartialField = 1 << iota
	PartialForce
	PartialImpulse
	PartialAngularVelocity
)

// Partial is a non-destructive update. Only the fields flagged in Set are
// applied; forces and impulses act at the body's center.
type Partial struct {
	Set             PartialField
	Velocity        geom.Vec2
	Force           geom.Vec2
	Impulse         geom.Vec2
	AngularVelocity float64
}

func (p Partial) Has(f PartialField) bool { return p.Set&f != 0 }

// WithForce returns a Partial applying f at the body's center for one step.
func WithForce(f geom.Vec2) Partial {
	return Partial{Set: PartialForce, Force: f}
}

// WithImpulse returns a Partial applying an instantaneous impulse.
func WithImpulse(i geom.Vec2) Partial {
	return Partial{Set: PartialImpulse, Impulse: i}
}

// WithVelocity returns a Partial replacing the linear velocity.
func WithVelocity(v geom.Vec2) Partial {
	return Partial{Set: PartialVelocity, Velocity: v}
}
