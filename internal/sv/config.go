// Package sv is the server half of the synchronization layer: it builds a
// frame per client per tick, delta-compresses it against what the client
// last acknowledged, and schedules it with the client's reliable and
// unreliable traffic.
package sv

import (
	"time"

	"github.com/themuffinator/q2repro-test-sub001/internal/proto"
)

const (
	DefaultTickRate   = 10
	DefaultMaxClients = 16
	// DefaultRate is the client bandwidth budget in bytes per second.
	DefaultRate = 25000
	MinRate     = 1000
	MaxRate     = 1 << 20

	// DefaultReliableLimit bounds the bytes queued for reliable delivery
	// before the client is dropped.
	DefaultReliableLimit = 1 << 16
	// DefaultUnreliableLimit bounds unreliable bytes queued within a tick.
	DefaultUnreliableLimit = 4096
)

// Config holds server settings.
type Config struct {
	TickRate        int
	MaxClients      int
	DefaultRate     int
	ReliableLimit   int
	UnreliableLimit int
	// Profile is the best profile offered to clients.
	Profile proto.Profile
	Level   string
}

// DefaultConfig returns the stock settings.
func DefaultConfig() Config {
	return Config{
		TickRate:        DefaultTickRate,
		MaxClients:      DefaultMaxClients,
		DefaultRate:     DefaultRate,
		ReliableLimit:   DefaultReliableLimit,
		UnreliableLimit: DefaultUnreliableLimit,
		Profile:         proto.ProfileExtended,
		Level:           "base1",
	}
}

// TickDuration is the wall time of one tick.
func (c Config) TickDuration() time.Duration {
	return time.Second / time.Duration(c.TickRate)
}

func (c *Config) normalize() {
	d := DefaultConfig()
	if c.TickRate <= 0 {
		c.TickRate = d.TickRate
	}
	if c.MaxClients <= 0 {
		c.MaxClients = d.MaxClients
	}
	if c.DefaultRate <= 0 {
		c.DefaultRate = d.DefaultRate
	}
	if c.ReliableLimit <= 0 {
		c.ReliableLimit = d.ReliableLimit
	}
	if c.UnreliableLimit <= 0 {
		c.UnreliableLimit = d.UnreliableLimit
	}
	if !c.Profile.Valid() {
		c.Profile = d.Profile
	}
	if c.Level == "" {
		c.Level = d.Level
	}
}

// ClampRate bounds a client-requested rate.
func ClampRate(rate int) int {
	switch {
	case rate <= 0:
		return DefaultRate
	case rate < MinRate:
		return MinRate
	case rate > MaxRate:
		return MaxRate
	}
	return rate
}
