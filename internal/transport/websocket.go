package transport

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Every websocket message starts with a kind byte.
const (
	KindControl byte = 0x01
	KindPacket  byte = 0x02
)

const (
	writeWait   = 10 * time.Second
	pongWait    = 60 * time.Second
	pingPeriod  = (pongWait * 9) / 10
	sendBufSize = 256
	// maxWSMessage leaves room for the kind byte on a full fragment.
	maxWSMessage = MTU + 64
)

// ErrClosed is returned by sends on a closed WebSocket.
var ErrClosed = errors.New("websocket closed")

// WebSocket carries netchan packets and control messages over one
// websocket connection. Outgoing messages are queued and written by
// WritePump; Send never blocks and drops when the queue is full, which the
// netchan treats like datagram loss.
type WebSocket struct {
	conn *websocket.Conn
	send chan []byte

	mu     sync.Mutex
	closed bool
	done   chan struct{}

	// packets are dropped until the handshake has been queued
	open    atomic.Bool
	dropped atomic.Uint64
}

var _ Datagram = (*WebSocket)(nil)

// NewWebSocket wraps conn. Packets are held back until Open is called.
func NewWebSocket(conn *websocket.Conn) *WebSocket {
	conn.SetReadLimit(maxWSMessage)
	return &WebSocket{
		conn: conn,
		send: make(chan []byte, sendBufSize),
		done: make(chan struct{}),
	}
}

// Open lets packets through.
func (w *WebSocket) Open() { w.open.Store(true) }

// Dropped counts messages discarded because the queue was full or the
// carrier was not open yet.
func (w *WebSocket) Dropped() uint64 { return w.dropped.Load() }

// Done is closed when the carrier shuts down.
func (w *WebSocket) Done() <-chan struct{} { return w.done }

// Send queues a netchan packet.
func (w *WebSocket) Send(p []byte) error {
	if !w.open.Load() {
		w.dropped.Add(1)
		return nil
	}
	return w.enqueue(KindPacket, p)
}

// SendControl queues a control message. Control messages are sent even
// before Open.
func (w *WebSocket) SendControl(p []byte) error {
	return w.enqueue(KindControl, p)
}

func (w *WebSocket) enqueue(kind byte, p []byte) error {
	m := make([]byte, len(p)+1)
	m[0] = kind
	copy(m[1:], p)

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	select {
	case w.send <- m:
	default:
		w.dropped.Add(1)
	}
	return nil
}

// Close flushes what is queued and closes the connection. It is safe to
// call more than once.
func (w *WebSocket) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.closed = true
	close(w.send)
}

// Read returns the next message split into its kind and payload. Ping
// deadlines are extended on every pong.
func (w *WebSocket) Read() (byte, []byte, error) {
	for {
		typ, m, err := w.conn.ReadMessage()
		if err != nil {
			return 0, nil, err
		}
		if typ != websocket.BinaryMessage || len(m) == 0 {
			continue
		}
		switch m[0] {
		case KindControl, KindPacket:
			return m[0], m[1:], nil
		}
		return 0, nil, fmt.Errorf("unknown message kind %#x", m[0])
	}
}

// Deadline bounds the next Read.
func (w *WebSocket) Deadline(t time.Time) {
	w.conn.SetReadDeadline(t)
}

// StartReading arms the read deadline and pong handler.
func (w *WebSocket) StartReading() {
	w.conn.SetReadDeadline(time.Now().Add(pongWait))
	w.conn.SetPongHandler(func(string) error {
		w.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
}

// WritePump writes queued messages and pings until Close, then sends a
// close frame and closes the connection.
func (w *WebSocket) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		w.conn.Close()
		close(w.done)
	}()

	for {
		select {
		case m, ok := <-w.send:
			w.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				w.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := w.conn.WriteMessage(websocket.BinaryMessage, m); err != nil {
				w.Close()
				w.drain()
				return
			}

		case <-ticker.C:
			w.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := w.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				w.Close()
				w.drain()
				return
			}
		}
	}
}

func (w *WebSocket) drain() {
	for range w.send {
	}
}
