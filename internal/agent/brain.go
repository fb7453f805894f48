package agent

import (
	"sort"
	"time"

	"go.uber.org/zap"

	"mobarena-server/internal/geom"
	"mobarena-server/internal/physics"
	"mobarena-server/internal/state"
)

// Positions is the read side of the position mirror.
type Positions interface {
	Position(id physics.BodyID) (geom.Vec2, bool)
}

// Sender carries agent commands to the simulation.
type Sender interface {
	UpdateBody(id physics.BodyID, p physics.Partial) error
}

// Brain owns every agent of a session and runs their decision pass.
type Brain struct {
	agents   map[physics.BodyID]*Agent
	order    []physics.BodyID
	tuning   Tuning
	variants Variants
	log      *zap.Logger

	panics uint64
}

func NewBrain(tuning Tuning, variants Variants, log *zap.Logger) *Brain {
	if log == nil {
		log = zap.NewNop()
	}
	return &Brain{
		agents:   make(map[physics.BodyID]*Agent),
		tuning:   tuning,
		variants: variants,
		log:      log,
	}
}

// Spawn registers an agent for an existing body.
func (b *Brain) Spawn(id physics.BodyID, variant string, goal Goal) *Agent {
	a := NewAgent(id, b.variants.Get(variant), goal, b.tuning, b.log)
	if _, ok := b.agents[id]; !ok {
		b.order = append(b.order, id)
		sort.Slice(b.order, func(i, j int) bool { return b.order[i] < b.order[j] })
	}
	b.agents[id] = a
	return a
}

// Despawn forgets the agent. Any attack in flight is dropped with it.
func (b *Brain) Despawn(id physics.BodyID) bool {
	if _, ok := b.agents[id]; !ok {
		return false
	}
	delete(b.agents, id)
	for i, oid := range b.order {
		if oid == id {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
	return true
}

func (b *Brain) Get(id physics.BodyID) (*Agent, bool) {
	a, ok := b.agents[id]
	return a, ok
}

// Agents returns the agents in id order.
func (b *Brain) Agents() []*Agent {
	out := make([]*Agent, 0, len(b.order))
	for _, id := range b.order {
		out = append(out, b.agents[id])
	}
	return out
}

func (b *Brain) Len() int { return len(b.agents) }

func (b *Brain) Variants() Variants { return b.variants }

// Panics returns how many agent ticks were aborted by a panic.
func (b *Brain) Panics() uint64 { return b.panics }

// Run ticks every agent in id order and sends each resulting command. An
// agent whose body is not mirrored yet is skipped. A failing agent is logged
// and never stops the others. It returns the number of commands sent.
func (b *Brain) Run(now time.Time, w *state.World, pos Positions, out Sender) int {
	player, ok := pos.Position(w.PlayerBody)
	if !ok {
		return 0
	}
	sent := 0
	for _, id := range b.order {
		a := b.agents[id]
		self, ok := pos.Position(id)
		if !ok {
			continue
		}
		cmd, ok := b.tick(a, now, Env{Self: self, Player: player, World: w})
		if !ok {
			continue
		}
		if err := out.UpdateBody(id, cmd.Partial()); err != nil {
			b.log.Warn("agent command dropped", zap.Uint32("agent", uint32(id)), zap.Error(err))
			continue
		}
		sent++
	}
	return sent
}

func (b *Brain) tick(a *Agent, now time.Time, env Env) (cmd Command, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			b.panics++
			b.log.Error("agent tick panicked",
				zap.Uint32("agent", uint32(a.ID)),
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
			ok = false
		}
	}()
	return a.Tick(now, env), true
}
