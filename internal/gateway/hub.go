// Package gateway puts the synchronization server on the network: a
// websocket endpoint that runs the connect handshake and then carries
// netchan packets, plus the HTTP status, token and metrics routes.
package gateway

import (
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/themuffinator/q2repro-test-sub001/internal/auth"
	"github.com/themuffinator/q2repro-test-sub001/internal/sv"
)

const (
	defaultConnsPerIP       = 5
	defaultTotalConns       = 1000
	defaultHandshakeTimeout = 10 * time.Second
)

// Config holds gateway settings.
type Config struct {
	MaxConnsPerIP    int
	MaxTotalConns    int
	HandshakeTimeout time.Duration
	// PublicURL is the websocket URL advertised by /connect.png. Empty
	// means it is derived from the request.
	PublicURL string
	// Gatherer backs /metrics; nil means prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer
}

// Hub admits websocket clients into a server and keeps per-address
// connection counts.
type Hub struct {
	cfg      Config
	srv      *sv.Server
	auth     *auth.Auth
	log      *slog.Logger
	sessions *Sessions

	connMu     sync.Mutex
	ipConns    map[string]int
	totalConns int
}

// NewHub returns a hub feeding srv. A nil logger means slog.Default().
func NewHub(srv *sv.Server, a *auth.Auth, cfg Config, log *slog.Logger) *Hub {
	if cfg.MaxConnsPerIP <= 0 {
		cfg.MaxConnsPerIP = defaultConnsPerIP
	}
	if cfg.MaxTotalConns <= 0 {
		cfg.MaxTotalConns = defaultTotalConns
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		cfg:      cfg,
		srv:      srv,
		auth:     a,
		log:      log.With("component", "gateway"),
		sessions: NewSessions(),
		ipConns:  make(map[string]int),
	}
}

// Sessions returns the live session registry.
func (h *Hub) Sessions() *Sessions { return h.sessions }

// CanAccept reports whether ip may open another connection.
func (h *Hub) CanAccept(ip string) bool {
	h.connMu.Lock()
	defer h.connMu.Unlock()
	if h.totalConns >= h.cfg.MaxTotalConns {
		return false
	}
	return h.ipConns[ip] < h.cfg.MaxConnsPerIP
}

func (h *Hub) trackConnect(ip string) {
	h.connMu.Lock()
	defer h.connMu.Unlock()
	h.ipConns[ip]++
	h.totalConns++
}

func (h *Hub) trackDisconnect(ip string) {
	h.connMu.Lock()
	defer h.connMu.Unlock()
	h.ipConns[ip]--
	if h.ipConns[ip] <= 0 {
		delete(h.ipConns, ip)
	}
	h.totalConns--
}

// TotalConns returns the tracked websocket count, handshaking included.
func (h *Hub) TotalConns() int {
	h.connMu.Lock()
	defer h.connMu.Unlock()
	return h.totalConns
}
