package game

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"mobarena-server/internal/agent"
	"mobarena-server/internal/config"
	"mobarena-server/internal/geom"
	"mobarena-server/internal/journal"
	"mobarena-server/internal/mirror"
	"mobarena-server/internal/physics"
	"mobarena-server/internal/protocol"
	"mobarena-server/internal/state"
	"mobarena-server/internal/transfer"
)

const (
	maxViewersPerSession = 50
	playerRadius         = 0.5
)

var (
	ErrSessionFull    = errors.New("session is full")
	ErrSessionStopped = errors.New("session stopped")
	ErrNoTarget       = errors.New("no target in attack range")
	ErrUnknownVariant = errors.New("unknown agent variant")
)

// Broadcaster interface for sending messages to viewers
type Broadcaster interface {
	SendJSON(msg interface{})
	SendBinary(data []byte)
}

type wall struct {
	id   physics.BodyID
	pos  geom.Vec2
	size geom.Vec2
}

// control is a request from another goroutine, run on the host goroutine at
// the start of the next tick.
type control func(g *Game, now time.Time)

// Status is a copy of the session's vital signs, safe to read from any
// goroutine.
type Status struct {
	Tick    uint64
	Agents  int
	Viewers int
	Health  float64
	Target  physics.BodyID
}

// Game is one session: the host side of the simulation plus the agents and
// world state driven by it. mu guards the fields shared with connection
// goroutines; the fields from world on belong to the goroutine running Run.
type Game struct {
	id      string
	cfg     *config.Config
	log     *zap.Logger
	journal *journal.Journal

	mu       sync.Mutex
	viewers  map[string]Broadcaster
	controls []control
	input    geom.Vec2
	status   Status
	running  bool
	stop     chan struct{}

	world      *state.World
	host       *transfer.Host
	worker     *transfer.Worker
	mirror     *mirror.Mirror
	brain      *agent.Brain
	classifier *Classifier
	positions  *transfer.Buffer
	angles     *transfer.Buffer
	walls      []wall
	spawn      geom.Vec2
	tick       uint64
	now        time.Time
	hits       uint64
	panics     uint64
	decisions  uint64
}

// NewGame builds a session around a fresh physics world. Nothing runs until
// Run is called.
func NewGame(id string, cfg *config.Config, variants agent.Variants, j *journal.Journal, log *zap.Logger) *Game {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("session", id))

	world := physics.NewWorld(physics.Config{
		FixedDt:    cfg.Physics.FixedDt,
		Gravity:    geom.V(cfg.Physics.GravityX, cfg.Physics.GravityY),
		Iterations: cfg.Physics.Iterations,
		Damping:    cfg.Physics.Damping,
	}, log)
	host, worker := transfer.NewPipe(world, cfg.Physics.QueueSize, log)

	g := &Game{
		id:         id,
		cfg:        cfg,
		log:        log,
		journal:    j,
		viewers:    make(map[string]Broadcaster),
		stop:       make(chan struct{}),
		world:      state.NewWorld(),
		host:       host,
		worker:     worker,
		mirror:     mirror.New(),
		brain:      agent.NewBrain(agent.TuningFrom(cfg.Agents), variants, log),
		classifier: NewClassifier(cfg.Arena),
		positions:  transfer.NewBuffer(0),
		angles:     transfer.NewBuffer(0),
		spawn:      geom.V(cfg.Arena.PlayerX, cfg.Arena.PlayerY),
	}
	if j != nil {
		j.Attach(id, g.world.Bus)
	}
	return g
}

func (g *Game) ID() string { return g.id }

// World exposes the session's gameplay state. Only the host goroutine may
// touch it while the game runs.
func (g *Game) World() *state.World { return g.world }

// Run starts the simulation goroutine, lays out the arena and ticks at
// server.tick_rate until Stop, ctx cancellation or a protocol desync. A
// desync is returned; a requested stop returns nil.
func (g *Game) Run(ctx context.Context) error {
	g.mu.Lock()
	if g.running {
		g.mu.Unlock()
		return fmt.Errorf("session %s already running", g.id)
	}
	g.running = true
	g.mu.Unlock()

	cancel, err := g.Start(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	ticker := time.NewTicker(g.cfg.Server.TickRate)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			if err := g.Tick(now); err != nil {
				g.ended(err.Error())
				return err
			}
		case <-g.stop:
			g.ended("stopped")
			return nil
		case <-ctx.Done():
			g.ended("shutdown")
			return nil
		}
	}
}

// Start launches the simulation goroutine and spawns the arena. The returned
// cancel func stops the simulation. Run calls it; tests drive Tick or
// TickSync themselves.
func (g *Game) Start(ctx context.Context) (context.CancelFunc, error) {
	simCtx, cancel := context.WithCancel(ctx)
	go func() {
		if err := g.worker.Run(simCtx); err != nil && !errors.Is(err, context.Canceled) {
			g.log.Error("simulation stopped", zap.Error(err))
		}
	}()
	if err := g.layout(); err != nil {
		cancel()
		return nil, err
	}
	return cancel, nil
}

// Stop terminates the game loop. It may be called before Run and more than
// once.
func (g *Game) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	select {
	case <-g.stop:
	default:
		close(g.stop)
	}
}

// layout adds the player, the configured agents and the static walls.
func (g *Game) layout() error {
	id, err := g.host.AddBody(physics.Descriptor{
		Type:          physics.Dynamic,
		Position:      g.spawn,
		FixedRotation: true,
		Shape:         physics.Shape{Kind: physics.ShapeCircle, Radius: playerRadius},
		Mass:          1,
	})
	if err != nil {
		return fmt.Errorf("spawn player: %w", err)
	}
	g.world.PlayerBody = id

	for _, m := range g.cfg.Arena.Mobs {
		goal := agent.GoalAttack
		if m.Idle {
			goal = agent.GoalIdle
		}
		if _, err := g.spawnAgent(m.Variant, geom.V(m.X, m.Y), goal); err != nil {
			return err
		}
	}

	for _, w := range g.cfg.Arena.Walls {
		pos, size := geom.V(w.X, w.Y), geom.V(w.Width, w.Height)
		id, err := g.host.AddBody(physics.Descriptor{
			Type:       physics.Static,
			Position:   pos,
			Shape:      physics.Shape{Kind: physics.ShapeBox, Width: size.X, Height: size.Y},
			Friction:   0.5,
			Elasticity: 0.2,
		})
		if err != nil {
			return fmt.Errorf("spawn wall: %w", err)
		}
		g.walls = append(g.walls, wall{id: id, pos: pos, size: size})
	}
	return nil
}

func (g *Game) spawnAgent(variant string, pos geom.Vec2, goal agent.Goal) (physics.BodyID, error) {
	vs := g.brain.Variants()
	if _, ok := vs[variant]; !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownVariant, variant)
	}
	v := vs[variant]
	id, err := g.host.AddBody(physics.Descriptor{
		Type:          physics.Dynamic,
		Position:      pos,
		FixedRotation: true,
		Shape:         physics.Shape{Kind: physics.ShapeCircle, Radius: v.Radius},
		Mass:          v.Mass,
	})
	if err != nil {
		return 0, fmt.Errorf("spawn agent: %w", err)
	}
	g.brain.Spawn(id, variant, goal)
	return id, nil
}

func (g *Game) despawnAgent(id physics.BodyID) bool {
	if !g.brain.Despawn(id) {
		return false
	}
	g.world.Targets.Forget(id)
	if err := g.host.RemoveBody(id); err != nil {
		g.log.Warn("remove agent body", zap.Uint32("agent", uint32(id)), zap.Error(err))
	}
	return true
}

// Tick runs one host tick without waiting for the simulation: a frame that
// has arrived is ingested, otherwise controls and status still run but the
// agents and steering wait for the next frame.
func (g *Game) Tick(now time.Time) error {
	frame, ok, err := g.host.Poll()
	if err != nil {
		return g.desync(now, err)
	}
	if ok {
		if err := g.ingest(frame); err != nil {
			return g.desync(now, err)
		}
	}
	return g.update(now)
}

// TickSync is Tick in lockstep: it first waits for the outstanding frame.
func (g *Game) TickSync(ctx context.Context, now time.Time) error {
	if g.host.Outstanding() {
		frame, err := g.host.Await(ctx)
		if errors.Is(err, transfer.ErrClosed) || ctx.Err() != nil {
			return err
		}
		if err != nil {
			return g.desync(now, err)
		}
		if err := g.ingest(frame); err != nil {
			return g.desync(now, err)
		}
	}
	return g.update(now)
}

// ingest copies the frame into the mirror and takes its buffers back for the
// next step.
func (g *Game) ingest(f transfer.Frame) error {
	if err := g.mirror.OnFrame(f); err != nil {
		return err
	}
	g.positions, g.angles = f.Positions, f.Angles
	return nil
}

func (g *Game) update(now time.Time) error {
	g.now = now
	g.tick++

	g.world.Bus.Flush()
	g.runControls(now)
	g.checkPlayer()

	// Forces accumulate until the next step; one decision pass per frame.
	if !g.host.Outstanding() {
		g.steer()
		g.classify()
		g.brain.Run(now, g.world, g.mirror, g.host)
		g.decisions++
		g.checkPanics(now)

		if err := g.host.Step(g.cfg.Physics.FixedDt, g.positions, g.angles); err != nil {
			if errors.Is(err, transfer.ErrClosed) {
				return err
			}
			return g.desync(now, err)
		}
	}

	if every := uint64(g.cfg.Spectate.BroadcastEvery); every > 0 && g.tick%every == 0 {
		g.broadcastSnapshot()
	}
	g.updateStatus()
	return nil
}

func (g *Game) classify() {
	entry, ok := g.mirror.Get(g.world.PlayerBody)
	if !ok {
		return
	}
	agents := g.brain.Agents()
	tracked := make([]Tracked, 0, len(agents))
	for _, a := range agents {
		if pos, ok := g.mirror.Position(a.ID); ok {
			tracked = append(tracked, Tracked{ID: a.ID, Pos: pos})
		}
	}
	g.classifier.Classify(g.world.Targets, entry.Position(), entry.Delta(), tracked)
}

// steer turns the held spectator input into a force on the player body.
func (g *Game) steer() {
	g.mu.Lock()
	in := g.input
	g.mu.Unlock()
	if in.IsZero() {
		return
	}
	x, y := geom.Clamp(in.X, -1, 1), geom.Clamp(in.Y, -1, 1)
	if x != 0 && y != 0 {
		x, y = x*g.cfg.Agents.Diagonal, y*g.cfg.Agents.Diagonal
	}
	force := geom.V(x, y).Scale(g.cfg.Arena.PlayerSpeed)
	if err := g.host.UpdateBody(g.world.PlayerBody, physics.WithForce(force)); err != nil {
		g.log.Warn("steer player", zap.Error(err))
	}
}

// checkPlayer respawns a dead player at the arena spawn point.
func (g *Game) checkPlayer() {
	p := g.world.Player
	if p.Alive() {
		return
	}
	g.log.Info("player down, respawning", zap.Uint64("tick", g.tick))
	p.Health = p.MaxHealth
	p.Juice = state.MaxJuice
	g.world.Targets.LastHitBy = 0
	g.world.Targets.SetLastAttacked(0)
	err := g.host.SetBody(g.world.PlayerBody, physics.Transform{Position: g.spawn})
	if err != nil {
		g.log.Warn("respawn player", zap.Error(err))
	}
}

func (g *Game) checkPanics(now time.Time) {
	n := g.brain.Panics()
	if n == g.panics {
		return
	}
	if g.journal != nil {
		g.journal.RecordDiagnostic(g.id, journal.DiagAgentPanic,
			fmt.Sprintf("%d agent ticks panicked", n-g.panics), now)
	}
	g.panics = n
}

// desync surfaces a broken step/frame exchange. The session cannot recover
// from it: the body set would have to be rebuilt.
func (g *Game) desync(now time.Time, err error) error {
	g.log.Error("protocol desync", zap.Uint64("tick", g.tick), zap.Error(err))
	state.Emit(g.world.Bus, state.ProtocolDesynced{Err: err, At: now})
	g.world.Bus.Flush()
	if !errors.Is(err, transfer.ErrProtocolDesync) {
		err = fmt.Errorf("%w: %w", transfer.ErrProtocolDesync, err)
	}
	return fmt.Errorf("session %s: %w", g.id, err)
}

// ended tells viewers the session is over.
func (g *Game) ended(reason string) {
	if g.journal != nil {
		g.journal.RecordDiagnostic(g.id, journal.DiagSessionFinished, reason, time.Now())
	}
	msg := protocol.Envelope{T: protocol.MsgEnded, Data: protocol.EndedMsg{SID: g.id, Reason: reason}}
	for _, v := range g.viewerList() {
		v.SendJSON(msg)
	}
}

func (g *Game) runControls(now time.Time) {
	g.mu.Lock()
	pending := g.controls
	g.controls = nil
	g.mu.Unlock()
	for _, c := range pending {
		c(g, now)
	}
}

func (g *Game) enqueue(c control) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	select {
	case <-g.stop:
		return ErrSessionStopped
	default:
	}
	g.controls = append(g.controls, c)
	return nil
}

// AddViewer subscribes b to snapshots. The arena layout is sent from the
// game loop on the next tick.
func (g *Game) AddViewer(id string, b Broadcaster) error {
	g.mu.Lock()
	if len(g.viewers) >= maxViewersPerSession {
		g.mu.Unlock()
		return ErrSessionFull
	}
	g.viewers[id] = b
	g.mu.Unlock()
	return g.enqueue(func(g *Game, now time.Time) {
		b.SendJSON(protocol.Envelope{T: protocol.MsgWelcome, Data: g.arena()})
	})
}

func (g *Game) RemoveViewer(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.viewers, id)
}

func (g *Game) ViewerCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.viewers)
}

// HandleInput sets the steering axes held until the next input.
func (g *Game) HandleInput(in protocol.InputMsg) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.input = geom.V(in.X, in.Y)
}

// Strike makes the player hit its current target on the next tick. The
// target is knocked back along the line from the player. result, when not
// nil, receives the outcome.
func (g *Game) Strike(result func(physics.BodyID, error)) error {
	return g.enqueue(func(g *Game, now time.Time) {
		id, err := g.strike(now)
		if result != nil {
			result(id, err)
		}
	})
}

func (g *Game) strike(now time.Time) (physics.BodyID, error) {
	id, ok := g.world.Targets.Current()
	if !ok || !g.world.Targets.Has(state.AttackRange, id) {
		return 0, ErrNoTarget
	}
	a, ok := g.brain.Get(id)
	if !ok {
		return 0, ErrNoTarget
	}
	player, ok1 := g.mirror.Position(g.world.PlayerBody)
	target, ok2 := g.mirror.Position(id)
	if !ok1 || !ok2 {
		return 0, ErrNoTarget
	}
	dir := target.Sub(player)
	if l := dir.Len(); l > 0 {
		dir = dir.Scale(1 / l)
	}
	g.hits++
	a.Hit(g.hits, now, dir)
	g.world.Targets.SetLastAttacked(id)
	return id, nil
}

// Recharge spends juice to heal the player on the next tick.
func (g *Game) Recharge(result func(error)) error {
	return g.enqueue(func(g *Game, now time.Time) {
		err := g.world.Player.Recharge()
		if result != nil {
			result(err)
		}
	})
}

// SpawnAgent adds an agent of the given variant on the next tick.
func (g *Game) SpawnAgent(variant string, pos geom.Vec2, idle bool, result func(physics.BodyID, error)) error {
	return g.enqueue(func(g *Game, now time.Time) {
		goal := agent.GoalAttack
		if idle {
			goal = agent.GoalIdle
		}
		id, err := g.spawnAgent(variant, pos, goal)
		if result != nil {
			result(id, err)
		}
	})
}

// DespawnAgent removes an agent and its body on the next tick.
func (g *Game) DespawnAgent(id physics.BodyID, result func(bool)) error {
	return g.enqueue(func(g *Game, now time.Time) {
		ok := g.despawnAgent(id)
		if result != nil {
			result(ok)
		}
	})
}

// Status returns the state recorded at the end of the last tick.
func (g *Game) Status() Status {
	g.mu.Lock()
	defer g.mu.Unlock()
	s := g.status
	s.Viewers = len(g.viewers)
	return s
}

func (g *Game) updateStatus() {
	target, _ := g.world.Targets.Current()
	g.mu.Lock()
	g.status = Status{
		Tick:   g.tick,
		Agents: g.brain.Len(),
		Health: g.world.Player.Health,
		Target: target,
	}
	g.mu.Unlock()
}

func (g *Game) viewerList() []Broadcaster {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Broadcaster, 0, len(g.viewers))
	for _, v := range g.viewers {
		out = append(out, v)
	}
	return out
}

func (g *Game) broadcastSnapshot() {
	viewers := g.viewerList()
	if len(viewers) == 0 {
		return
	}
	data, err := EncodeSnapshot(g.snapshot())
	if err != nil {
		g.log.Error("encode snapshot", zap.Error(err))
		return
	}
	for _, v := range viewers {
		v.SendBinary(data)
	}
}

func (g *Game) arena() Arena {
	a := Arena{
		Session: g.id,
		Player:  uint32(g.world.PlayerBody),
		Walls:   wallViews(g.walls),
	}
	for _, ag := range g.brain.Agents() {
		a.Agents = append(a.Agents, AgentInfo{ID: uint32(ag.ID), Variant: ag.Variant.Name, Radius: ag.Variant.Radius})
	}
	return a
}
