// Package cell is a minimal controllable combat cell used as the simulated entity.
package cell

import "github.com/danmuck/cellsync/internal/protocol"

const (
	MaxHealth             = 100
	DefaultShieldDuration = 2.0
	// AutoDropCooldown applies when a shield times out on its own.
	AutoDropCooldown = 0.3
)

type Vec2 struct {
	X float32
	Y float32
}

// Physics are the arena rules applied by Update.
type Physics struct {
	MaxSpeed       float32
	Drag           float32
	Width          float32
	Height         float32
	AttackDuration float32
}

func DefaultPhysics() Physics {
	return Physics{
		MaxSpeed:       6,
		Drag:           0.96,
		Width:          800,
		Height:         600,
		AttackDuration: 0.5,
	}
}

type Cell struct {
	ID int

	pos         Vec2
	vel         Vec2
	acc         Vec2
	facingRight bool

	health     float32
	attacking  bool
	attackTime float32

	shielding      bool
	shieldTime     float32
	shieldDuration float32
	shieldCooldown float32

	aggression float32
}

func New(id int, pos Vec2, aggression float32) *Cell {
	return &Cell{
		ID:             id,
		pos:            pos,
		facingRight:    true,
		health:         MaxHealth,
		shieldDuration: DefaultShieldDuration,
		aggression:     clamp01(aggression),
	}
}

func (c *Cell) MoveUp(step float32)    { c.acc.Y -= step }
func (c *Cell) MoveDown(step float32)  { c.acc.Y += step }
func (c *Cell) MoveLeft(step float32)  { c.acc.X -= step; c.facingRight = false }
func (c *Cell) MoveRight(step float32) { c.acc.X += step; c.facingRight = true }

// Attack starts an attack unless one is already running.
func (c *Cell) Attack() {
	if c.attacking {
		return
	}
	c.attacking = true
	c.attackTime = 0
}

func (c *Cell) IsShielding() bool     { return c.shielding }
func (c *Cell) CanToggleShield() bool { return c.shieldCooldown <= 0 }

// ToggleShield raises or lowers the shield. Lowering starts the cooldown and cancels any attack.
func (c *Cell) ToggleShield(cooldown float32) {
	c.shielding = !c.shielding
	if c.shielding {
		c.shieldTime = 0
		return
	}
	c.shieldCooldown = cooldown
	c.attacking = false
	c.attackTime = 0
}

func (c *Cell) IncreaseAggression(amount float32) { c.aggression = clamp01(c.aggression + amount) }
func (c *Cell) DecreaseAggression(amount float32) { c.aggression = clamp01(c.aggression - amount) }

func (c *Cell) TakeDamage(amount float32) {
	c.health -= amount
	if c.health < 0 {
		c.health = 0
	}
}

func (c *Cell) Position() Vec2      { return c.pos }
func (c *Cell) Velocity() Vec2      { return c.vel }
func (c *Cell) Health() float32     { return c.health }
func (c *Cell) IsAlive() bool       { return c.health > 0 }
func (c *Cell) IsAttacking() bool   { return c.attacking }
func (c *Cell) AttackTime() float32 { return c.attackTime }
func (c *Cell) Aggression() float32 { return c.aggression }
func (c *Cell) FacingRight() bool   { return c.facingRight }

func (c *Cell) SetShieldDuration(d float32) {
	if d > 0 {
		c.shieldDuration = d
	}
}

// Update advances one tick: movement, attack animation, then shield timers.
func (c *Cell) Update(dt float32, p Physics) {
	c.integrate(p)

	if c.attacking && p.AttackDuration > 0 {
		c.attackTime += dt / p.AttackDuration
		if c.attackTime >= 1 {
			c.attacking = false
			c.attackTime = 0
		}
	}

	if c.shieldCooldown > 0 {
		c.shieldCooldown -= dt
		if c.shieldCooldown < 0 {
			c.shieldCooldown = 0
		}
	}
	if c.shielding {
		c.shieldTime += dt
		if c.shieldTime >= c.shieldDuration {
			c.shielding = false
			c.shieldTime = 0
			c.shieldCooldown = AutoDropCooldown
		}
	} else {
		c.shieldTime = 0
	}
}

func (c *Cell) integrate(p Physics) {
	c.vel.X = clamp(c.vel.X+c.acc.X, -p.MaxSpeed, p.MaxSpeed)
	c.vel.Y = clamp(c.vel.Y+c.acc.Y, -p.MaxSpeed, p.MaxSpeed)
	c.pos.X += c.vel.X
	c.pos.Y += c.vel.Y
	c.vel.X *= p.Drag
	c.vel.Y *= p.Drag

	// bounce off the arena edges at half speed
	if c.pos.X < 0 {
		c.pos.X = 0
		c.vel.X *= -0.5
	} else if c.pos.X > p.Width {
		c.pos.X = p.Width
		c.vel.X *= -0.5
	}
	if c.pos.Y < 0 {
		c.pos.Y = 0
		c.vel.Y *= -0.5
	} else if c.pos.Y > p.Height {
		c.pos.Y = p.Height
		c.vel.Y *= -0.5
	}

	if c.vel.X > 1 {
		c.facingRight = true
	} else if c.vel.X < -1 {
		c.facingRight = false
	}
	c.acc = Vec2{}
}

// Snapshot captures the full observable state. Sequence is left for the sender to stamp.
func (c *Cell) Snapshot() protocol.StateSnapshot {
	return protocol.StateSnapshot{
		PosX:            c.pos.X,
		PosY:            c.pos.Y,
		VelX:            c.vel.X,
		VelY:            c.vel.Y,
		Health:          c.health,
		AttackTime:      c.attackTime,
		AggressionLevel: c.aggression,
		FacingRight:     c.facingRight,
		Attacking:       c.attacking,
		Shielding:       c.shielding,
	}
}

// ApplySnapshot overwrites the cell with an authoritative remote state.
func (c *Cell) ApplySnapshot(s protocol.StateSnapshot) {
	c.pos = Vec2{X: s.PosX, Y: s.PosY}
	c.vel = Vec2{X: s.VelX, Y: s.VelY}
	c.acc = Vec2{}
	c.health = s.Health
	c.attackTime = s.AttackTime
	c.attacking = s.Attacking
	c.aggression = s.AggressionLevel
	c.facingRight = s.FacingRight
	if s.Shielding && !c.shielding {
		c.shieldTime = 0
	}
	c.shielding = s.Shielding
}

func clamp(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clamp01(v float32) float32 {
	return clamp(v, 0, 1)
}
