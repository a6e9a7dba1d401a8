package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/themuffinator/q2repro-test-sub001/internal/cl"
	"github.com/themuffinator/q2repro-test-sub001/internal/proto"
	"github.com/themuffinator/q2repro-test-sub001/internal/transport"
)

const (
	dialTimeout = 10 * time.Second
	// commandPeriod keeps acknowledgments and reliable commands moving
	// when no packets arrive.
	commandPeriod = 100 * time.Millisecond
)

// RejectError is returned by Dial when the server refuses the connection.
type RejectError struct {
	Reason string
}

func (e *RejectError) Error() string { return "connection refused: " + e.Reason }

// DialConfig configures Dial.
type DialConfig struct {
	Request  ConnectRequest
	Handlers cl.Handlers
	Header   http.Header
	Logger   *slog.Logger
}

// Remote is a client session on a websocket.
type Remote struct {
	ws   *transport.WebSocket
	conn *cl.Conn
	data ServerData
	log  *slog.Logger
}

// Dial connects to a gateway at url and completes the handshake.
func Dial(ctx context.Context, url string, cfg DialConfig) (*Remote, error) {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	dctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	wsConn, _, err := websocket.DefaultDialer.DialContext(dctx, url, cfg.Header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	ws := transport.NewWebSocket(wsConn)
	go ws.WritePump()

	fail := func(err error) (*Remote, error) {
		ws.Close()
		<-ws.Done()
		return nil, err
	}

	req, err := EncodeControl(MsgConnect, cfg.Request)
	if err != nil {
		return fail(err)
	}
	if err := ws.SendControl(req); err != nil {
		return fail(err)
	}
	deadline, _ := dctx.Deadline()
	ws.Deadline(deadline)

	kind, payload, err := ws.Read()
	if err != nil {
		return fail(fmt.Errorf("read handshake: %w", err))
	}
	if kind != transport.KindControl {
		return fail(errors.New("expected server data"))
	}
	env, err := DecodeControl(payload)
	if err != nil {
		return fail(err)
	}
	var sd ServerData
	switch env.T {
	case MsgServerData:
		if err := env.Decode(&sd); err != nil {
			return fail(err)
		}
	case MsgReject:
		var rj Reject
		if err := env.Decode(&rj); err != nil {
			return fail(err)
		}
		return fail(&RejectError{Reason: rj.Reason})
	default:
		return fail(fmt.Errorf("unexpected control message %q", env.T))
	}

	profile := proto.Profile(sd.Profile)
	if !profile.Valid() {
		return fail(fmt.Errorf("server chose unknown %s", profile))
	}
	log = log.With("session", sd.SessionID, "profile", profile.String())
	client := cl.New(profile, sd.PlayerNum, cl.WithLogger(log), cl.WithHandlers(cfg.Handlers))
	r := &Remote{
		ws:   ws,
		conn: cl.NewConn(client, ws, cfg.Request.variant()),
		data: sd,
		log:  log,
	}
	ws.Open()
	ws.StartReading()
	return r, nil
}

// ServerData returns the handshake reply.
func (r *Remote) ServerData() ServerData { return r.data }

// Client returns the decoder. It is only safe to use from handlers or after
// Run returns.
func (r *Remote) Client() *cl.Client { return r.conn.Client() }

// Run decodes packets until ctx ends, the server disconnects or the
// connection fails. Handlers are called from this goroutine.
func (r *Remote) Run(ctx context.Context) error {
	packets := make(chan []byte, 64)
	errc := make(chan error, 1)
	stop := make(chan struct{})
	defer close(stop)

	go func() {
		for {
			kind, p, err := r.ws.Read()
			if err != nil {
				errc <- err
				return
			}
			if kind != transport.KindPacket {
				continue
			}
			select {
			case packets <- p:
			case <-stop:
				return
			}
		}
	}()

	ticker := time.NewTicker(commandPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.conn.Disconnect()
			r.close()
			return ctx.Err()

		case p := <-packets:
			before := r.conn.Client().Stats().FramesParsed
			if err := r.conn.Receive(p); err != nil {
				var de *cl.DisconnectError
				if !errors.As(err, &de) {
					r.conn.Disconnect()
				}
				r.close()
				return err
			}
			if r.conn.Client().Stats().FramesParsed != before {
				r.send()
			}

		case <-ticker.C:
			r.send()

		case err := <-errc:
			r.close()
			return fmt.Errorf("connection lost: %w", err)
		}
	}
}

func (r *Remote) send() {
	if err := r.conn.SendCommands(); err != nil {
		r.log.Debug("send commands", "err", err)
	}
}

func (r *Remote) close() {
	r.ws.Close()
	<-r.ws.Done()
}
