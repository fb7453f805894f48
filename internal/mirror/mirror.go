// Package mirror keeps the host's read-only copy of the last transform
// frame received from the simulation.
package mirror

import (
	"fmt"

	"mobarena-server/internal/geom"
	"mobarena-server/internal/physics"
	"mobarena-server/internal/transfer"
)

// Entry is the cached transform of one body. PrevX/PrevY hold the values
// from the frame before, for one-frame deltas.
type Entry struct {
	X, Y         float64
	Angle        float64
	PrevX, PrevY float64
}

func (e Entry) Position() geom.Vec2 { return geom.V(e.X, e.Y) }

// Delta returns the movement since the previous frame.
func (e Entry) Delta() geom.Vec2 { return geom.V(e.X-e.PrevX, e.Y-e.PrevY) }

type cached struct {
	Entry
	seen bool
}

// Mirror is single-writer: only the host goroutine ingests frames, and reads
// happen on the same goroutine between ingests.
type Mirror struct {
	slots   []physics.BodyID // frame slot i -> body id
	entries map[physics.BodyID]*cached
	frames  uint64
}

func New() *Mirror {
	return &Mirror{entries: make(map[physics.BodyID]*cached)}
}

// OnFrame ingests f. The slot table is rebuilt only when f carries an id
// list; otherwise the buffer sizes must match the current table. Values are
// copied out, so the caller keeps ownership of f's buffers.
func (m *Mirror) OnFrame(f transfer.Frame) error {
	positions, err := f.Positions.Data()
	if err != nil {
		return fmt.Errorf("mirror positions: %w: %w", transfer.ErrProtocolDesync, err)
	}
	angles, err := f.Angles.Data()
	if err != nil {
		return fmt.Errorf("mirror angles: %w: %w", transfer.ErrProtocolDesync, err)
	}

	if f.Bodies != nil {
		m.resync(f.Bodies)
	}
	if len(angles) != len(m.slots) || len(positions) != 2*len(m.slots) {
		return fmt.Errorf("frame %d has %d slots, mirror expects %d: %w",
			f.Seq, len(angles), len(m.slots), transfer.ErrProtocolDesync)
	}

	for i, id := range m.slots {
		e := m.entries[id]
		x := float64(positions[2*i])
		y := float64(positions[2*i+1])
		if e.seen {
			e.PrevX, e.PrevY = e.X, e.Y
		} else {
			e.PrevX, e.PrevY = x, y
			e.seen = true
		}
		e.X, e.Y = x, y
		e.Angle = float64(angles[i])
	}
	m.frames++
	return nil
}

// resync replaces the slot table and drops entries for ids that left.
func (m *Mirror) resync(ids []physics.BodyID) {
	keep := make(map[physics.BodyID]struct{}, len(ids))
	m.slots = m.slots[:0]
	for _, id := range ids {
		keep[id] = struct{}{}
		m.slots = append(m.slots, id)
		if _, ok := m.entries[id]; !ok {
			m.entries[id] = &cached{}
		}
	}
	for id := range m.entries {
		if _, ok := keep[id]; !ok {
			delete(m.entries, id)
		}
	}
}

// Get returns the cached entry for id.
func (m *Mirror) Get(id physics.BodyID) (Entry, bool) {
	e, ok := m.entries[id]
	if !ok || !e.seen {
		return Entry{}, false
	}
	return e.Entry, true
}

// Position returns the last known position of id.
func (m *Mirror) Position(id physics.BodyID) (geom.Vec2, bool) {
	e, ok := m.Get(id)
	return e.Position(), ok
}

// IDs returns the body ids in frame slot order.
func (m *Mirror) IDs() []physics.BodyID {
	ids := make([]physics.BodyID, len(m.slots))
	copy(ids, m.slots)
	return ids
}

func (m *Mirror) Len() int { return len(m.slots) }

// Frames returns how many frames have been ingested.
func (m *Mirror) Frames() uint64 { return m.frames }
