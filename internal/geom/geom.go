package geom

import "math"

// Diagonal scales each axis of a diagonal move so the combined speed does
// not exceed an axis-aligned move.
const Diagonal = 1 / math.Sqrt2

// Vec2 is a point or direction on the simulation plane.
type Vec2 struct {
	X float64 `toml:"x" yaml:"x" msgpack:"x" json:"x"`
	Y float64 `toml:"y" yaml:"y" msgpack:"y" json:"y"`
}

// V is shorthand for Vec2{x, y}.
func V(x, y float64) Vec2 { return Vec2{X: x, Y: y} }

func (v Vec2) Add(o Vec2) Vec2 {
	return Vec2{X: v.X + o.X, Y: v.Y + o.Y}
}

func (v Vec2) Sub(o Vec2) Vec2 {
	return Vec2{X: v.X - o.X, Y: v.Y - o.Y}
}

func (v Vec2) Scale(f float64) Vec2 {
	return Vec2{X: v.X * f, Y: v.Y * f}
}

func (v Vec2) Len() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y)
}

func (v Vec2) IsZero() bool {
	return v.X == 0 && v.Y == 0
}

func (v Vec2) Dist(o Vec2) float64 {
	return Distance(v.X, v.Y, o.X, o.Y)
}

func (v Vec2) DistSq(o Vec2) float64 {
	return DistanceSq(v.X, v.Y, o.X, o.Y)
}

// Clamp restricts v to [min, max]
func Clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// Distance returns the distance between two points
func Distance(x1, y1, x2, y2 float64) float64 {
	return math.Sqrt(DistanceSq(x1, y1, x2, y2))
}

// DistanceSq returns the squared distance between two points
func DistanceSq(x1, y1, x2, y2 float64) float64 {
	dx := x2 - x1
	dy := y2 - y1
	return dx*dx + dy*dy
}

// Sign returns -1, 0 or 1 for the direction from `from` toward `to`.
func Sign(from, to float64) float64 {
	switch {
	case from > to:
		return -1
	case from < to:
		return 1
	}
	return 0
}

// NormalizeAngle wraps angle to [-PI, PI]
func NormalizeAngle(a float64) float64 {
	for a > math.Pi {
		a -= 2 * math.Pi
	}
	for a < -math.Pi {
		a += 2 * math.Pi
	}
	return a
}
