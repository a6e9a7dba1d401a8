package sim

import (
	"log/slog"

	"github.com/themuffinator/q2repro-test-sub001/internal/sv"
)

// Legacy is a world built for the older game API: it never produces
// extended-range state, and the server pins its clients to the legacy
// profile.
type Legacy struct {
	*World
}

// NewLegacy returns a legacy-variant world.
func NewLegacy(cfg Config, log *slog.Logger) *Legacy {
	if cfg.MaxEntities > 1024 {
		cfg.MaxEntities = 1024
	}
	w := NewWorld(cfg, log)
	w.legacy = true
	return &Legacy{World: w}
}

// Variant reports the legacy game API.
func (l *Legacy) Variant() sv.GameVariant { return sv.GameLegacy }
