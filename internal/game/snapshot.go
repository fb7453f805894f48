package game

import "github.com/vmihailenco/msgpack/v5"

// PlayerView is the player as seen by spectators.
type PlayerView struct {
	ID         uint32  `msgpack:"id" json:"id"`
	X          float64 `msgpack:"x" json:"x"`
	Y          float64 `msgpack:"y" json:"y"`
	Angle      float64 `msgpack:"r" json:"r"`
	Health     float64 `msgpack:"hp" json:"hp"`
	MaxHealth  float64 `msgpack:"mhp" json:"mhp"`
	Juice      float64 `msgpack:"j" json:"j"`
	Energy     float64 `msgpack:"e" json:"e"`
	Invincible bool    `msgpack:"inv,omitempty" json:"inv,omitempty"`
}

// AgentView is one agent as seen by spectators.
type AgentView struct {
	ID      uint32  `msgpack:"id" json:"id"`
	Variant string  `msgpack:"v" json:"v"`
	X       float64 `msgpack:"x" json:"x"`
	Y       float64 `msgpack:"y" json:"y"`
	Angle   float64 `msgpack:"r" json:"r"`
	DX      float64 `msgpack:"dx" json:"dx"`
	DY      float64 `msgpack:"dy" json:"dy"`
	Phase   string  `msgpack:"ph,omitempty" json:"ph,omitempty"`
	Stunned bool    `msgpack:"st,omitempty" json:"st,omitempty"`
}

// WallView is a static wall, sent once on join.
type WallView struct {
	X      float64 `msgpack:"x" json:"x"`
	Y      float64 `msgpack:"y" json:"y"`
	Width  float64 `msgpack:"w" json:"w"`
	Height float64 `msgpack:"h" json:"h"`
}

// Snapshot is the per-broadcast render feed, encoded with msgpack.
type Snapshot struct {
	Session string      `msgpack:"sid"`
	Tick    uint64      `msgpack:"tick"`
	Player  PlayerView  `msgpack:"p"`
	Agents  []AgentView `msgpack:"a"`
	Target  uint32      `msgpack:"tg,omitempty"`
}

// Arena is the static layout sent to a viewer when it joins.
type Arena struct {
	Session string      `json:"sid"`
	Player  uint32      `json:"player"`
	Walls   []WallView  `json:"walls"`
	Agents  []AgentInfo `json:"agents"`
}

type AgentInfo struct {
	ID      uint32  `json:"id"`
	Variant string  `json:"v"`
	Radius  float64 `json:"rad"`
}

func EncodeSnapshot(s *Snapshot) ([]byte, error) {
	return msgpack.Marshal(s)
}

func DecodeSnapshot(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := msgpack.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (g *Game) snapshot() *Snapshot {
	s := &Snapshot{
		Session: g.id,
		Tick:    g.tick,
		Agents:  make([]AgentView, 0, g.brain.Len()),
	}

	p := g.world.Player
	s.Player = PlayerView{
		ID:         uint32(g.world.PlayerBody),
		Health:     p.Health,
		MaxHealth:  p.MaxHealth,
		Juice:      p.Juice,
		Energy:     p.Energy,
		Invincible: p.Invincible,
	}
	if e, ok := g.mirror.Get(g.world.PlayerBody); ok {
		s.Player.X, s.Player.Y, s.Player.Angle = e.X, e.Y, e.Angle
	}

	now := g.now
	for _, a := range g.brain.Agents() {
		e, ok := g.mirror.Get(a.ID)
		if !ok {
			continue
		}
		d := e.Delta()
		v := AgentView{
			ID:      uint32(a.ID),
			Variant: a.Variant.Name,
			X:       e.X,
			Y:       e.Y,
			Angle:   e.Angle,
			DX:      d.X,
			DY:      d.Y,
			Stunned: a.Stunned(now),
		}
		if seq := a.Attack(); seq != nil {
			v.Phase = seq.Phase().String()
		}
		s.Agents = append(s.Agents, v)
	}
	if id, ok := g.world.Targets.Current(); ok {
		s.Target = uint32(id)
	}
	return s
}

func wallViews(walls []wall) []WallView {
	out := make([]WallView, len(walls))
	for i, w := range walls {
		out[i] = WallView{X: w.pos.X, Y: w.pos.Y, Width: w.size.X, Height: w.size.Y}
	}
	return out
}
