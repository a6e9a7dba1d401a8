package sv

import (
	"github.com/themuffinator/q2repro-test-sub001/internal/transport"
)

// reliableBlockMax bounds the reliable bytes put in one packet. Legacy
// channels keep half the packet for the frame.
func (c *Connection) reliableBlockMax() int {
	if c.netchan.Variant() == transport.VariantFragmenting {
		return c.netchan.MaxReliable()
	}
	return (transport.MTU - 8) / 2
}

// sendClient runs the per-tick transmission for c: reliable reservation,
// rate check, frame assembly, unreliable repacking and hand-off to the
// channel.
func (s *Server) sendClient(c *Connection) {
	if c.state == StateZombie {
		return
	}

	next := 0
	if c.netchan.CanSendReliable() {
		next = c.reliable.PeekBlock(c.reliableBlockMax())
	}
	reserved := c.netchan.Reserved(next)
	budget := c.netchan.PacketBudget(reserved)

	var block []byte
	if next > 0 {
		block = c.reliable.PopBlock(c.reliableBlockMax())
		s.rec.ReliableBytes(len(block))
	}

	var payload []byte
	suppressed := false
	if c.state == StateActive {
		if c.rateDrop(s.tick, s.cfg.TickRate) {
			suppressed = true
			s.rec.FrameSuppressed()
			c.log.Debug("frame suppressed by rate", "rate", c.rate, "frame", s.tick, "count", c.suppressCount)
		} else if frame := s.writeFrame(c, budget); frame != nil {
			payload = append(payload, frame...)
		}
	}

	if suppressed {
		_, lost := c.unreliable.Pack(0)
		s.countUnreliableLoss(c, lost)
	} else {
		extra, dropped := c.unreliable.Pack(budget - len(payload))
		s.countUnreliableLoss(c, dropped)
		payload = append(payload, extra...)
	}
	c.unreliable.Clear()

	if len(block) == 0 && len(payload) == 0 && (suppressed || reserved == 0) && c.state == StateActive {
		return
	}
	if err := c.netchan.Transmit(block, payload); err != nil {
		s.dropClient(c, "transmit: "+err.Error())
		return
	}
	size := len(block) + len(payload)
	if !suppressed && c.state == StateActive {
		c.frameSizes[int(s.tick)%len(c.frameSizes)] = size
		if len(payload) > 0 {
			c.stats.FramesSent++
			s.rec.FrameSent(size)
		}
	}
	c.stats.BytesSent += uint64(size)
}
