package state

import (
	"errors"
	"time"
)

const (
	DefaultMaxHealth  = 4
	MaxJuice          = 100
	MaxEnergy         = 100
	JuiceRechargeCost = 50
)

var (
	ErrFullHealth = errors.New("player health already full")
	ErrNoJuice    = errors.New("not enough juice to recharge")
)

// Player is the damageable player character. Health is counted in hearts
// and may hold halves.
type Player struct {
	MaxHealth   float64
	Health      float64
	LastDamaged time.Time

	Juice  float64
	Energy float64

	Invincible    bool
	PreRecharging bool
	Recharging    bool

	bus *Bus
}

func NewPlayer(bus *Bus) *Player {
	return &Player{
		MaxHealth: DefaultMaxHealth,
		Health:    DefaultMaxHealth,
		Juice:     MaxJuice,
		Energy:    MaxEnergy,
		bus:       bus,
	}
}

// DealDamage subtracts amount from health, flooring at zero. It returns
// false and leaves the player untouched while invincible.
func (p *Player) DealDamage(amount float64, now time.Time) bool {
	if p.Invincible {
		return false
	}
	p.Health -= amount
	if p.Health < 0 {
		p.Health = 0
	}
	p.LastDamaged = now
	p.PreRecharging = false
	Emit(p.bus, PlayerDamaged{Amount: amount, Health: p.Health, At: now})
	return true
}

func (p *Player) Alive() bool { return p.Health > 0 }

func (p *Player) HasFullHealth() bool { return p.Health >= p.MaxHealth }

// CanRecharge reports whether a recharge is affordable, and with
// checkHealth also whether it would heal anything.
func (p *Player) CanRecharge(checkHealth bool) bool {
	valid := p.Juice >= JuiceRechargeCost
	if checkHealth {
		return valid && !p.HasFullHealth()
	}
	return valid
}

// Recharge spends juice to restore one heart.
func (p *Player) Recharge() error {
	if p.HasFullHealth() {
		return ErrFullHealth
	}
	if !p.CanRecharge(true) {
		return ErrNoJuice
	}
	p.Juice -= JuiceRechargeCost
	if p.Juice < 0 {
		p.Juice = 0
	}
	p.Health++
	if p.Health > p.MaxHealth {
		p.Health = p.MaxHealth
	}
	Emit(p.bus, PlayerRecharged{Health: p.Health, Juice: p.Juice})
	return nil
}

// IncreaseJuice adds juice up to MaxJuice.
func (p *Player) IncreaseJuice(juice float64) {
	if p.Juice >= MaxJuice {
		return
	}
	p.Juice += juice
	if p.Juice > MaxJuice {
		p.Juice = MaxJuice
	}
}
