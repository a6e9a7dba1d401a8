package cl

import (
	"github.com/themuffinator/q2repro-test-sub001/internal/msg"
	"github.com/themuffinator/q2repro-test-sub001/internal/proto"
	"github.com/themuffinator/q2repro-test-sub001/internal/transport"
)

// Conn runs a Client over a netchan. Every received packet is parsed in
// full; SendCommands answers with the frame acknowledgment and whatever
// reliable commands are waiting.
type Conn struct {
	client  *Client
	netchan *transport.Netchan
	pending *msg.Buffer
	out     *msg.Buffer
	begun   bool
	resync  bool

	// signon the begin was sent for
	spawnCount int32
}

// NewConn wraps client, sending on out.
func NewConn(client *Client, out transport.Datagram, v transport.Variant) *Conn {
	return &Conn{
		client:  client,
		netchan: transport.NewNetchan(out, v),
		pending: msg.NewBuffer(0),
		out:     msg.NewBuffer(transport.MTU),
	}
}

// Client returns the decoder.
func (c *Conn) Client() *Client { return c.client }

// Netchan returns the channel.
func (c *Conn) Netchan() *transport.Netchan { return c.netchan }

// Begun reports whether the begin command was queued for the current
// signon.
func (c *Conn) Begun() bool { return c.begun }

// Receive parses one packet from the server.
func (c *Conn) Receive(pkt []byte) error {
	reliable, unreliable, ok := c.netchan.Process(pkt)
	if !ok {
		return nil
	}
	if err := c.client.ParseMessage(reliable); err != nil {
		return err
	}
	if err := c.client.ParseMessage(unreliable); err != nil {
		return err
	}
	if c.client.SpawnCount() != c.spawnCount {
		// a level change restarts the signon
		c.begun = false
		c.spawnCount = c.client.SpawnCount()
	}
	if c.client.BaselinesDone() && !c.begun {
		WriteBegin(c.pending, c.spawnCount)
		c.begun = true
	}
	return nil
}

// Settings queues a settings change.
func (c *Conn) Settings(s proto.Settings, rate int) {
	WriteSettings(c.pending, s, rate)
}

// Resync asks for a full frame on the next send.
func (c *Conn) Resync() {
	c.resync = true
}

// SendCommands transmits one packet carrying the acknowledgment and, when
// the channel allows, the queued reliable commands.
func (c *Conn) SendCommands() error {
	c.out.Reset()
	switch {
	case c.resync:
		WriteAck(c.out, proto.NoDelta)
		c.resync = false
	case c.client.lastFrame != proto.NoDelta:
		WriteAck(c.out, c.client.AckFrame())
	}
	var reliable []byte
	if c.netchan.CanSendReliable() && c.pending.Len() > 0 {
		reliable = append(reliable, c.pending.Bytes()...)
		c.pending.Reset()
	}
	return c.netchan.Transmit(reliable, c.out.Bytes())
}

// Disconnect sends the disconnect command unreliably, three times over.
func (c *Conn) Disconnect() error {
	c.out.Reset()
	WriteDisconnect(c.out)
	for i := 0; i < 3; i++ {
		if err := c.netchan.Transmit(nil, c.out.Bytes()); err != nil {
			return err
		}
	}
	return nil
}
