package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Server   ServerConfig   `toml:"server"`
	Logging  LoggingConfig  `toml:"logging"`
	Physics  PhysicsConfig  `toml:"physics"`
	Agents   AgentsConfig   `toml:"agents"`
	Arena    ArenaConfig    `toml:"arena"`
	Journal  JournalConfig  `toml:"journal"`
	Spectate SpectateConfig `toml:"spectate"`
}

type ServerConfig struct {
	Addr      string        `toml:"addr"`
	TickRate  time.Duration `toml:"tick_rate"` // host tick period
	ClientDir string        `toml:"client_dir"`
	Sessions  int           `toml:"sessions"` // sessions created at boot
}

type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // "json" or "console"
}

type PhysicsConfig struct {
	FixedDt    float64 `toml:"fixed_dt"` // seconds, used when a STEP carries no dt
	GravityX   float64 `toml:"gravity_x"`
	GravityY   float64 `toml:"gravity_y"`
	Iterations int     `toml:"iterations"`
	Damping    float64 `toml:"damping"` // fraction of velocity kept per second
	QueueSize  int     `toml:"queue_size"`
}

type AgentsConfig struct {
	HitGrace         time.Duration `toml:"hit_grace"`
	AttackCooldown   time.Duration `toml:"attack_cooldown"`
	StaleAfter       time.Duration `toml:"stale_after"`
	Stun             time.Duration `toml:"stun"`
	KnockbackImpulse float64       `toml:"knockback_impulse"`
	ForceScale       float64       `toml:"force_scale"`
	Diagonal         float64       `toml:"diagonal"`
	VariantsFile     string        `toml:"variants_file"` // optional YAML override
}

type ArenaConfig struct {
	PlayerX     float64     `toml:"player_x"`
	PlayerY     float64     `toml:"player_y"`
	PlayerSpeed float64     `toml:"player_speed"` // force applied per unit of input
	InRange     float64     `toml:"in_range"`
	CloseRange  float64     `toml:"close_range"`
	AttackRange float64     `toml:"attack_range"`
	FocusRange  float64     `toml:"focus_range"`
	Mobs        []MobSpawn  `toml:"mobs"`
	Walls       []WallSpawn `toml:"walls"`
}

type MobSpawn struct {
	Variant string  `toml:"variant"`
	X       float64 `toml:"x"`
	Y       float64 `toml:"y"`
	Idle    bool    `toml:"idle"`
}

type WallSpawn struct {
	X      float64 `toml:"x"`
	Y      float64 `toml:"y"`
	Width  float64 `toml:"width"`
	Height float64 `toml:"height"`
}

type JournalConfig struct {
	Path          string        `toml:"path"` // empty disables the journal
	QueueSize     int           `toml:"queue_size"`
	BatchSize     int           `toml:"batch_size"`
	FlushInterval time.Duration `toml:"flush_interval"`
}

type SpectateConfig struct {
	Enabled        bool          `toml:"enabled"`
	PublicURL      string        `toml:"public_url"`
	BroadcastEvery int           `toml:"broadcast_every"` // ticks between snapshots
	MaxConns       int           `toml:"max_conns"`
	MaxConnsPerIP  int           `toml:"max_conns_per_ip"`
	TokenTTL       time.Duration `toml:"token_ttl"`
	RequireToken   bool          `toml:"require_token"`
	OperatorHash   string        `toml:"operator_hash"` // bcrypt hash of the operator password
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg := Defaults()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.TickRate <= 0 {
		return fmt.Errorf("server.tick_rate must be positive")
	}
	if c.Physics.FixedDt <= 0 {
		return fmt.Errorf("physics.fixed_dt must be positive")
	}
	if c.Physics.Iterations <= 0 {
		return fmt.Errorf("physics.iterations must be positive")
	}
	if c.Agents.Diagonal <= 0 || c.Agents.Diagonal >= 1 {
		return fmt.Errorf("agents.diagonal must be in (0, 1)")
	}
	if c.Spectate.BroadcastEvery <= 0 {
		c.Spectate.BroadcastEvery = 1
	}
	return nil
}

// Defaults returns the built-in configuration used when a key is absent.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:     ":8080",
			TickRate: time.Second / 60,
			Sessions: 1,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Physics: PhysicsConfig{
			FixedDt:    1.0 / 60.0,
			Iterations: 10,
			Damping:    0.1,
			QueueSize:  256,
		},
		Agents: AgentsConfig{
			HitGrace:         500 * time.Millisecond,
			AttackCooldown:   1500 * time.Millisecond,
			StaleAfter:       300 * time.Millisecond,
			Stun:             150 * time.Millisecond,
			KnockbackImpulse: 150,
			ForceScale:       300,
			Diagonal:         0.7071067811865476,
		},
		Arena: ArenaConfig{
			PlayerSpeed: 300,
			InRange:     8,
			CloseRange:  5,
			AttackRange: 2.5,
			FocusRange:  12,
			Mobs: []MobSpawn{
				{Variant: "default", X: 10, Y: 0},
				{Variant: "default", X: -10, Y: 4},
				{Variant: "large", X: 0, Y: 14},
			},
			Walls: []WallSpawn{
				{X: 0, Y: -25, Width: 50, Height: 1},
				{X: 0, Y: 25, Width: 50, Height: 1},
				{X: -25, Y: 0, Width: 1, Height: 50},
				{X: 25, Y: 0, Width: 1, Height: 50},
			},
		},
		Journal: JournalConfig{
			QueueSize:     1024,
			BatchSize:     64,
			FlushInterval: 2 * time.Second,
		},
		Spectate: SpectateConfig{
			Enabled:        true,
			BroadcastEvery: 2,
			MaxConns:       200,
			MaxConnsPerIP:  5,
			TokenTTL:       12 * time.Hour,
		},
	}
}
