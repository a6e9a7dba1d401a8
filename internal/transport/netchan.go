// Package transport implements the sequenced datagram channel frames travel
// on: unreliable payloads plus one reliable block at a time, resent until
// the peer acknowledges it.
package transport

import (
	"encoding/binary"
	"errors"
)

// Datagram sends one packet. Implementations must not block.
type Datagram interface {
	Send(p []byte) error
}

// DatagramFunc adapts a function to Datagram.
type DatagramFunc func(p []byte) error

func (f DatagramFunc) Send(p []byte) error { return f(p) }

// Variant selects the channel flavor negotiated with the peer.
type Variant uint8

const (
	// VariantLegacy packets never exceed the MTU.
	VariantLegacy Variant = iota
	// VariantFragmenting splits oversize packets into MTU-sized fragments.
	VariantFragmenting
)

const (
	// MTU is the largest datagram put on the wire.
	MTU = 1400
	// MaxMessage bounds a fragmented packet.
	MaxMessage = 32768

	headerLen   = 8
	fragHeader  = 2
	reliableHdr = 2

	bitReliable = 1 << 31
	bitFragment = 1 << 30
	seqMask     = bitFragment - 1
	fragMore    = 1 << 15
)

var (
	// ErrReliableBusy is returned when a new reliable block is offered
	// while the previous one is unacknowledged.
	ErrReliableBusy = errors.New("reliable block in flight")
	// ErrTooLarge is returned for payloads the variant cannot carry.
	ErrTooLarge = errors.New("packet too large")
)

// Stats are per-channel counters.
type Stats struct {
	PacketsOut   uint64
	PacketsIn    uint64
	BytesOut     uint64
	Dropped      uint64 // sequence gaps seen on receive
	Stale        uint64 // duplicate or out of order packets discarded
	Resent       uint64 // reliable retransmissions
	FragmentsOut uint64
}

// Netchan is one end of a sequenced channel. It is not safe for concurrent
// use; the server drives it from the tick goroutine.
type Netchan struct {
	out     Datagram
	variant Variant

	outgoingSeq uint32
	incomingSeq uint32
	incomingAck uint32

	// reliable parity bits
	reliableSeq         bool
	incomingReliableSeq bool
	incomingReliableAck bool

	lastReliableSeq uint32
	inflight        []byte

	fragSeq uint32
	fragBuf []byte

	stats Stats
}

// NewNetchan returns a channel writing packets to out.
func NewNetchan(out Datagram, v Variant) *Netchan {
	return &Netchan{out: out, variant: v, outgoingSeq: 1}
}

// Variant returns the channel flavor.
func (c *Netchan) Variant() Variant { return c.variant }

// Stats returns a copy of the counters.
func (c *Netchan) Stats() Stats { return c.stats }

// OutgoingSequence is the sequence the next Transmit will use.
func (c *Netchan) OutgoingSequence() uint32 { return c.outgoingSeq }

// IncomingAcknowledged is the newest own sequence the peer has seen.
func (c *Netchan) IncomingAcknowledged() uint32 { return c.incomingAck }

// CanSendReliable reports whether a new reliable block may be offered.
func (c *Netchan) CanSendReliable() bool { return len(c.inflight) == 0 }

// MaxReliable is the largest reliable block Transmit accepts.
func (c *Netchan) MaxReliable() int {
	if c.variant == VariantFragmenting {
		return MaxMessage - headerLen - reliableHdr
	}
	return MTU - headerLen - reliableHdr
}

// resendPending reports whether the peer has shown it missed the in-flight
// block.
func (c *Netchan) resendPending() bool {
	return len(c.inflight) > 0 &&
		c.incomingAck > c.lastReliableSeq &&
		c.incomingReliableAck != c.reliableSeq
}

// Reserved returns the bytes the next Transmit spends on reliable data when
// next is the size of the block the caller would offer.
func (c *Netchan) Reserved(next int) int {
	switch {
	case c.resendPending():
		return reliableHdr + len(c.inflight)
	case c.CanSendReliable() && next > 0:
		return reliableHdr + next
	}
	return 0
}

// PacketBudget returns the payload bytes available for unreliable data
// after reserving reserved bytes of reliable data.
func (c *Netchan) PacketBudget(reserved int) int {
	limit := MTU
	if c.variant == VariantFragmenting {
		limit = MaxMessage
	}
	n := limit - headerLen - reserved
	if n < 0 {
		return 0
	}
	return n
}

// Transmit sends one packet. reliable may be non-empty only when
// CanSendReliable is true; a previously sent block is resent automatically
// when the peer missed it.
func (c *Netchan) Transmit(reliable, unreliable []byte) error {
	if len(reliable) > 0 && !c.CanSendReliable() {
		return ErrReliableBusy
	}
	if len(reliable) > c.MaxReliable() {
		return ErrTooLarge
	}
	sendReliable := false
	if c.resendPending() {
		sendReliable = true
		c.stats.Resent++
	}
	if len(c.inflight) == 0 && len(reliable) > 0 {
		c.inflight = append(c.inflight[:0], reliable...)
		c.reliableSeq = !c.reliableSeq
		sendReliable = true
	}

	w1 := c.outgoingSeq
	if sendReliable {
		w1 |= bitReliable
	}
	w2 := c.incomingSeq
	if c.incomingReliableSeq {
		w2 |= bitReliable
	}
	pkt := make([]byte, 0, headerLen+reliableHdr+len(c.inflight)+len(unreliable))
	pkt = binary.LittleEndian.AppendUint32(pkt, w1)
	pkt = binary.LittleEndian.AppendUint32(pkt, w2)
	if sendReliable {
		pkt = binary.LittleEndian.AppendUint16(pkt, uint16(len(c.inflight)))
		pkt = append(pkt, c.inflight...)
		c.lastReliableSeq = c.outgoingSeq
	}
	limit := MTU
	if c.variant == VariantFragmenting {
		limit = MaxMessage
	}
	if len(pkt)+len(unreliable) <= limit {
		pkt = append(pkt, unreliable...)
	}
	c.outgoingSeq++

	if len(pkt) <= MTU {
		return c.send(pkt)
	}
	return c.sendFragments(pkt)
}

func (c *Netchan) send(pkt []byte) error {
	c.stats.PacketsOut++
	c.stats.BytesOut += uint64(len(pkt))
	return c.out.Send(pkt)
}

func (c *Netchan) sendFragments(pkt []byte) error {
	w1 := binary.LittleEndian.Uint32(pkt[0:4]) | bitFragment
	w2 := binary.LittleEndian.Uint32(pkt[4:8])
	body := pkt[headerLen:]
	chunk := MTU - headerLen - fragHeader
	for off := 0; off < len(body); off += chunk {
		end := off + chunk
		more := uint16(fragMore)
		if end >= len(body) {
			end = len(body)
			more = 0
		}
		frag := make([]byte, 0, headerLen+fragHeader+end-off)
		frag = binary.LittleEndian.AppendUint32(frag, w1)
		frag = binary.LittleEndian.AppendUint32(frag, w2)
		frag = binary.LittleEndian.AppendUint16(frag, uint16(off/chunk)|more)
		frag = append(frag, body[off:end]...)
		c.stats.FragmentsOut++
		if err := c.send(frag); err != nil {
			return err
		}
	}
	return nil
}

// Process accepts one received packet. ok is false for packets that were
// stale, duplicated or an incomplete fragment; they carry nothing to parse.
func (c *Netchan) Process(pkt []byte) (reliable, unreliable []byte, ok bool) {
	if len(pkt) < headerLen {
		return nil, nil, false
	}
	w1 := binary.LittleEndian.Uint32(pkt[0:4])
	w2 := binary.LittleEndian.Uint32(pkt[4:8])
	seq := w1 & seqMask
	body := pkt[headerLen:]

	if seq <= c.incomingSeq {
		c.stats.Stale++
		return nil, nil, false
	}
	if w1&bitFragment != 0 {
		if c.variant != VariantFragmenting || len(body) < fragHeader {
			return nil, nil, false
		}
		fh := binary.LittleEndian.Uint16(body)
		body = body[fragHeader:]
		if seq != c.fragSeq {
			c.fragSeq = seq
			c.fragBuf = c.fragBuf[:0]
			if fh&^fragMore != 0 {
				// started mid-packet; wait for the next one
				c.fragSeq = 0
				return nil, nil, false
			}
		}
		chunk := MTU - headerLen - fragHeader
		if int(fh&^fragMore)*chunk != len(c.fragBuf) || len(c.fragBuf)+len(body) > MaxMessage {
			c.fragSeq = 0
			c.fragBuf = c.fragBuf[:0]
			return nil, nil, false
		}
		c.fragBuf = append(c.fragBuf, body...)
		if fh&fragMore != 0 {
			return nil, nil, false
		}
		body = c.fragBuf
		c.fragSeq = 0
	}

	if gap := seq - c.incomingSeq - 1; gap > 0 {
		c.stats.Dropped += uint64(gap)
	}
	c.stats.PacketsIn++
	c.incomingSeq = seq
	c.incomingAck = w2 &^ bitReliable
	c.incomingReliableAck = w2&bitReliable != 0
	if c.incomingReliableAck == c.reliableSeq {
		c.inflight = c.inflight[:0]
	}

	if w1&bitReliable != 0 {
		if len(body) < reliableHdr {
			return nil, nil, false
		}
		n := int(binary.LittleEndian.Uint16(body))
		if len(body) < reliableHdr+n {
			return nil, nil, false
		}
		c.incomingReliableSeq = !c.incomingReliableSeq
		reliable = body[reliableHdr : reliableHdr+n]
		body = body[reliableHdr+n:]
	}
	return reliable, body, true
}
