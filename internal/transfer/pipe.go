package transfer

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"mobarena-server/internal/physics"
)

var (
	// ErrStepOutstanding is returned when the host tries to pipeline a
	// second Step before receiving the Frame for the first.
	ErrStepOutstanding = errors.New("step already outstanding")
	// ErrProtocolDesync marks a broken step/frame exchange. The session
	// must be rebuilt; it is never patched over.
	ErrProtocolDesync = errors.New("protocol desync")
	// ErrClosed is returned once the simulation goroutine has stopped.
	ErrClosed = errors.New("simulation closed")
	// ErrIDAllocated is returned when an explicit body id was already
	// handed out, even if that body has since been removed.
	ErrIDAllocated = errors.New("body id already allocated")
)

// NewPipe wires a Host and a Worker around world. queueSize bounds the
// command channel. The world must only be touched by the Worker afterwards.
func NewPipe(world *physics.World, queueSize int, log *zap.Logger) (*Host, *Worker) {
	if queueSize <= 0 {
		queueSize = 256
	}
	if log == nil {
		log = zap.NewNop()
	}
	in := make(chan Command, queueSize)
	// one frame in flight at most
	out := make(chan Frame, 1)
	done := make(chan struct{})

	w := &Worker{
		world: world,
		in:    in,
		out:   out,
		done:  done,
		log:   log.Named("sim"),
	}
	h := &Host{
		in:     in,
		out:    out,
		done:   done,
		nextID: 1,
		log:    log.Named("host"),
	}
	return h, w
}

// Host is the host-side endpoint. It is not safe for concurrent use; only
// the host goroutine calls it.
type Host struct {
	in   chan<- Command
	out  <-chan Frame
	done <-chan struct{}
	log  *zap.Logger

	seq         uint64
	outstanding bool
	nextID      physics.BodyID
}

// AddBody enqueues creation of a body and returns its id. A zero d.ID gets
// a fresh id from the host allocator, which never hands out an id twice. An
// explicit d.ID must be above every id allocated so far.
func (h *Host) AddBody(d physics.Descriptor) (physics.BodyID, error) {
	switch {
	case d.ID == 0:
		d.ID = h.nextID
	case d.ID < h.nextID:
		return 0, fmt.Errorf("add body %d: %w", d.ID, ErrIDAllocated)
	}
	h.nextID = d.ID + 1
	return d.ID, h.send(AddBody{Descriptor: d})
}

func (h *Host) RemoveBody(id physics.BodyID) error {
	return h.send(RemoveBody{ID: id})
}

func (h *Host) SetBody(id physics.BodyID, t physics.Transform) error {
	return h.send(SetBody{ID: id, Transform: t})
}

func (h *Host) UpdateBody(id physics.BodyID, p physics.Partial) error {
	return h.send(UpdateBody{ID: id, Partial: p})
}

// Step transfers positions and angles to the simulation and requests one
// step. Both handles are detached on return. Reusing a handle that was
// already sent is a transfer violation.
func (h *Host) Step(dt float64, positions, angles *Buffer) error {
	if h.outstanding {
		return ErrStepOutstanding
	}
	pos, err := positions.Transfer()
	if err != nil {
		return fmt.Errorf("step positions: %w: %w", ErrProtocolDesync, err)
	}
	ang, err := angles.Transfer()
	if err != nil {
		return fmt.Errorf("step angles: %w: %w", ErrProtocolDesync, err)
	}
	h.seq++
	if err := h.send(Step{Seq: h.seq, Dt: dt, Positions: pos, Angles: ang}); err != nil {
		return err
	}
	h.outstanding = true
	return nil
}

// Outstanding reports whether a Step is waiting for its Frame.
func (h *Host) Outstanding() bool { return h.outstanding }

// Poll returns the pending Frame if one has arrived. It never blocks.
func (h *Host) Poll() (Frame, bool, error) {
	select {
	case f := <-h.out:
		return f, true, h.accept(f)
	default:
		return Frame{}, false, nil
	}
}

// Await blocks until the pending Frame arrives.
func (h *Host) Await(ctx context.Context) (Frame, error) {
	if !h.outstanding {
		return Frame{}, fmt.Errorf("await: %w: no step outstanding", ErrProtocolDesync)
	}
	select {
	case f := <-h.out:
		return f, h.accept(f)
	case <-h.done:
		return Frame{}, ErrClosed
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}
}

func (h *Host) accept(f Frame) error {
	if !h.outstanding {
		h.log.Error("frame without outstanding step", zap.Uint64("seq", f.Seq))
		return fmt.Errorf("frame %d: %w: no step outstanding", f.Seq, ErrProtocolDesync)
	}
	h.outstanding = false
	if f.Err != nil {
		return f.Err
	}
	if f.Seq != h.seq {
		return fmt.Errorf("frame %d for step %d: %w", f.Seq, h.seq, ErrProtocolDesync)
	}
	if f.Positions.Detached() || f.Angles.Detached() {
		return fmt.Errorf("frame %d: %w: %w", f.Seq, ErrProtocolDesync, ErrDetached)
	}
	if f.Positions.Len() != 2*f.Angles.Len() {
		return fmt.Errorf("frame %d: %w: %d positions for %d angles", f.Seq, ErrProtocolDesync, f.Positions.Len(), f.Angles.Len())
	}
	return nil
}

func (h *Host) send(c Command) error {
	select {
	case <-h.done:
		return ErrClosed
	default:
	}
	select {
	case h.in <- c:
		return nil
	case <-h.done:
		return ErrClosed
	}
}

// Worker owns the physics world and runs on its own goroutine.
type Worker struct {
	world *physics.World
	in    <-chan Command
	out   chan<- Frame
	done  chan struct{}
	log   *zap.Logger
}

// Run processes commands in arrival order until ctx is cancelled.
// Lifecycle commands queued before a Step are applied before it executes.
func (w *Worker) Run(ctx context.Context) error {
	defer close(w.done)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case c := <-w.in:
			if step, ok := c.(Step); ok {
				if err := w.step(ctx, step); err != nil {
					return err
				}
				continue
			}
			w.apply(c)
		}
	}
}

// apply never fails the worker: stale references are dropped and logged
// by the registry because delivery races removal.
func (w *Worker) apply(c Command) {
	switch c := c.(type) {
	// The registry logs and counts rejected commands; the pipe drops them.
	case AddBody:
		_, _ = w.world.Add(c.Descriptor)
	case RemoveBody:
		_ = w.world.Remove(c.ID)
	case SetBody:
		_ = w.world.Set(c.ID, c.Transform)
	case UpdateBody:
		_ = w.world.Update(c.ID, c.Partial)
	default:
		w.log.Warn("unknown command", zap.String("type", fmt.Sprintf("%T", c)))
	}
}

func (w *Worker) step(ctx context.Context, s Step) error {
	frame := Frame{Seq: s.Seq}

	positions, perr := s.Positions.take()
	angles, aerr := s.Angles.take()
	if err := errors.Join(perr, aerr); err != nil {
		w.log.Error("step with detached buffer", zap.Uint64("seq", s.Seq), zap.Error(err))
		frame.Err = fmt.Errorf("step %d: %w: %w", s.Seq, ErrProtocolDesync, err)
	} else {
		res := w.world.Step(s.Dt, positions, angles)
		frame.Positions = Wrap(res.Positions)
		frame.Angles = Wrap(res.Angles)
		frame.Bodies = res.Bodies
	}

	select {
	case w.out <- frame:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
