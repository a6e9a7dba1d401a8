package gateway

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/themuffinator/q2repro-test-sub001/internal/proto"
	"github.com/themuffinator/q2repro-test-sub001/internal/sv"
	"github.com/themuffinator/q2repro-test-sub001/internal/transport"
)

// maxPacketsPerSec bounds inbound messages; a client sends about one per
// received packet.
const maxPacketsPerSec = 250

// Client is one websocket connection.
type Client struct {
	hub         *Hub
	ws          *transport.WebSocket
	ip          string
	addr        string
	conn        *sv.Connection
	connectedAt time.Time
	log         *slog.Logger

	msgCount   int
	msgResetAt time.Time
}

func newClient(h *Hub, conn *websocket.Conn, ip, addr string) *Client {
	return &Client{
		hub:  h,
		ws:   transport.NewWebSocket(conn),
		ip:   ip,
		addr: addr,
		log:  h.log.With("addr", addr),
	}
}

// Connection returns the server connection, nil before the handshake.
func (c *Client) Connection() *sv.Connection { return c.conn }

// serve runs the handshake and then the read loop. It owns the websocket
// until it returns.
func (c *Client) serve() {
	defer c.hub.trackDisconnect(c.ip)
	go c.ws.WritePump()

	if err := c.handshake(); err != nil {
		c.log.Info("connect refused", "err", err)
		if data, e := EncodeControl(MsgReject, Reject{Reason: err.Error()}); e == nil {
			c.ws.SendControl(data)
		}
		c.ws.Close()
		<-c.ws.Done()
		return
	}

	c.hub.sessions.add(c)
	defer c.hub.sessions.remove(c)

	go func() {
		select {
		case <-c.conn.Done():
			// the server dropped us; its disconnect notice is already queued
			c.ws.Close()
		case <-c.ws.Done():
		}
	}()

	c.readLoop()
	c.hub.srv.Drop(c.conn, sv.ReasonDisconnected)
	c.ws.Close()
	<-c.ws.Done()
}

func (c *Client) handshake() error {
	c.ws.Deadline(time.Now().Add(c.hub.cfg.HandshakeTimeout))
	kind, data, err := c.ws.Read()
	if err != nil {
		return fmt.Errorf("read connect: %w", err)
	}
	if kind != transport.KindControl {
		return errors.New("expected connect request")
	}
	env, err := DecodeControl(data)
	if err != nil {
		return err
	}
	if env.T != MsgConnect {
		return fmt.Errorf("expected %s, got %q", MsgConnect, env.T)
	}
	var req ConnectRequest
	if err := env.Decode(&req); err != nil {
		return err
	}

	claims, err := c.hub.auth.Admit(req.Name, req.Token, req.Password, req.profile(), c.ip)
	if err != nil {
		return err
	}
	conn, err := c.hub.srv.Connect(sv.ConnectRequest{
		Name:     claims.Name,
		Addr:     c.addr,
		Profile:  claims.Profile,
		Settings: proto.Settings(req.Settings),
		Rate:     req.Rate,
		Variant:  req.variant(),
	}, c.ws)
	if err != nil {
		return err
	}
	c.conn = conn
	c.connectedAt = time.Now().UTC()
	c.log = c.log.With("conn", conn.ID.String())

	cfg := c.hub.srv.Config()
	sd, err := EncodeControl(MsgServerData, ServerData{
		Profile:   uint8(conn.Profile()),
		PlayerNum: conn.PlayerNum(),
		TickRate:  cfg.TickRate,
		MaxEdicts: conn.Profile().Limits().MaxEdicts,
		Level:     cfg.Level,
		SessionID: conn.ID.String(),
		Name:      conn.Name,
	})
	if err != nil {
		c.hub.srv.Drop(conn, err.Error())
		return err
	}
	if err := c.ws.SendControl(sd); err != nil {
		c.hub.srv.Drop(conn, sv.ReasonDisconnected)
		return err
	}
	c.ws.Open()
	c.ws.StartReading()
	return nil
}

func (c *Client) readLoop() {
	for {
		kind, data, err := c.ws.Read()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug("websocket read", "err", err)
			}
			return
		}

		now := time.Now()
		if now.After(c.msgResetAt) {
			c.msgCount = 0
			c.msgResetAt = now.Add(time.Second)
		}
		c.msgCount++
		if c.msgCount > maxPacketsPerSec {
			c.log.Warn("message rate exceeded")
			c.hub.srv.Drop(c.conn, sv.ReasonKicked)
			return
		}

		if kind != transport.KindPacket {
			c.log.Debug("control message after handshake ignored")
			continue
		}
		c.hub.srv.Deliver(c.conn, data)
		select {
		case <-c.conn.Done():
			return
		default:
		}
	}
}
