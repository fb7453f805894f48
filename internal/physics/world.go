package physics

import (
	"github.com/jakecoffman/cp"
	"go.uber.org/zap"

	"mobarena-server/internal/geom"
)

// Config tunes the solver.
type Config struct {
	FixedDt    float64 // used when Step is called with dt <= 0
	Gravity    geom.Vec2
	Iterations int     // solver iteration budget per step
	Damping    float64 // fraction of velocity kept per second, (0, 1]
}

// StepResult is one step's transform data. Positions holds 2 floats and
// Angles 1 float per dynamic body, in registry order. Bodies is non-nil only
// when the dynamic set changed since the previous step.
type StepResult struct {
	Positions []float32
	Angles    []float32
	Bodies    []BodyID
}

// World wraps a cp.Space together with its Registry.
type World struct {
	*Registry
	space *cp.Space
	cfg   Config
	steps uint64
}

func NewWorld(cfg Config, log *zap.Logger) *World {
	if cfg.FixedDt <= 0 {
		cfg.FixedDt = 1.0 / 60.0
	}
	if cfg.Iterations <= 0 {
		cfg.Iterations = 10
	}
	if cfg.Damping <= 0 || cfg.Damping > 1 {
		cfg.Damping = 1
	}
	if log == nil {
		log = zap.NewNop()
	}

	space := cp.NewSpace()
	space.Iterations = uint(cfg.Iterations)
	space.SetGravity(cp.Vector{X: cfg.Gravity.X, Y: cfg.Gravity.Y})
	space.SetDamping(cfg.Damping)

	return &World{
		Registry: newRegistry(space, log),
		space:    space,
		cfg:      cfg,
	}
}

// Step advances the solver by dt and writes every dynamic body's transform
// into positions and angles. The slices are reused when their length matches
// the dynamic count, otherwise fresh ones are allocated.
func (w *World) Step(dt float64, positions, angles []float32) StepResult {
	if dt <= 0 {
		dt = w.cfg.FixedDt
	}
	w.space.Step(dt)
	w.steps++

	n := len(w.dynamic)
	if len(positions) != 2*n {
		positions = make([]float32, 2*n)
	}
	if len(angles) != n {
		angles = make([]float32, n)
	}
	for i, id := range w.dynamic {
		body := w.bodies[id].body
		p := body.Position()
		positions[2*i] = float32(p.X)
		positions[2*i+1] = float32(p.Y)
		angles[i] = float32(body.Angle())
	}

	res := StepResult{Positions: positions, Angles: angles}
	if w.unsynced {
		res.Bodies = w.DynamicIDs()
		w.unsynced = false
	}
	return res
}

// Steps returns how many times the world has been stepped.
func (w *World) Steps() uint64 { return w.steps }
