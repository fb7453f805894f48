package state

import "mobarena-server/internal/physics"

// World is the host-side gameplay state handed to each subsystem. It is
// owned by the host goroutine; observers subscribe through Bus.
type World struct {
	Player     *Player
	Targets    *Targets
	Bus        *Bus
	PlayerBody physics.BodyID
}

func NewWorld() *World {
	bus := NewBus()
	return &World{
		Player:  NewPlayer(bus),
		Targets: NewTargets(bus),
		Bus:     bus,
	}
}
