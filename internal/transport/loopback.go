package transport

import (
	"math/rand"
	"sync"
)

// LinkConfig shapes a loopback link.
type LinkConfig struct {
	Loss    float64 // probability a packet is dropped
	Reorder float64 // probability a packet swaps with the next one
	Seed    int64
}

// Endpoint is one side of a loopback link.
type Endpoint struct {
	link *Link
	peer *Endpoint
	mu   sync.Mutex
	in   [][]byte
	held []byte // delayed for reordering
}

// Link connects two endpoints in memory, optionally losing and reordering
// packets. It is used by tests and the headless soak client.
type Link struct {
	cfg  LinkConfig
	mu   sync.Mutex
	rng  *rand.Rand
	A, B *Endpoint
}

// NewLink returns a connected pair of endpoints.
func NewLink(cfg LinkConfig) *Link {
	l := &Link{cfg: cfg, rng: rand.New(rand.NewSource(cfg.Seed))}
	l.A = &Endpoint{link: l}
	l.B = &Endpoint{link: l}
	l.A.peer, l.B.peer = l.B, l.A
	return l
}

func (l *Link) roll(p float64) bool {
	if p <= 0 {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rng.Float64() < p
}

// Send delivers p to the peer's inbox.
func (e *Endpoint) Send(p []byte) error {
	if e.link.roll(e.link.cfg.Loss) {
		return nil
	}
	pkt := append([]byte(nil), p...)
	dst := e.peer
	dst.mu.Lock()
	defer dst.mu.Unlock()
	if dst.held == nil && e.link.roll(e.link.cfg.Reorder) {
		dst.held = pkt
		return nil
	}
	dst.in = append(dst.in, pkt)
	if dst.held != nil {
		dst.in = append(dst.in, dst.held)
		dst.held = nil
	}
	return nil
}

// Recv pops the oldest delivered packet.
func (e *Endpoint) Recv() ([]byte, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.in) == 0 {
		return nil, false
	}
	p := e.in[0]
	e.in = e.in[1:]
	return p, true
}

// Flush releases any packet held back for reordering.
func (e *Endpoint) Flush() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.held != nil {
		e.in = append(e.in, e.held)
		e.held = nil
	}
}
