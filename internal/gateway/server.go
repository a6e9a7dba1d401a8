package gateway

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/skip2/go-qrcode"

	"github.com/themuffinator/q2repro-test-sub001/internal/auth"
	"github.com/themuffinator/q2repro-test-sub001/internal/proto"
)

const qrSize = 256

var upgrader = websocket.Upgrader{
	ReadBufferSize:  2048,
	WriteBufferSize: 2048,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true // non-browser clients send no Origin
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return u.Host == r.Host
	},
}

func extractIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Routes returns the HTTP handler.
func (h *Hub) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/ws", h.serveWS)
	r.Post("/auth", h.serveAuth)
	r.Get("/status", h.serveStatus)
	r.Get("/sessions/{id}", h.serveSession)
	r.Get("/connect.png", h.serveQR)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(h.cfg.Gatherer, promhttp.HandlerOpts{}))
	return r
}

func (h *Hub) serveWS(w http.ResponseWriter, r *http.Request) {
	ip := extractIP(r)
	if !h.CanAccept(ip) {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}
	h.trackConnect(ip)
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.trackDisconnect(ip)
		h.log.Debug("upgrade", "err", err)
		return
	}
	go newClient(h, conn, ip, r.RemoteAddr).serve()
}

// AuthRequest is the body of POST /auth.
type AuthRequest struct {
	Name     string `json:"name"`
	Password string `json:"password"`
	Profile  string `json:"profile"`
}

// AuthResponse is the reply to POST /auth.
type AuthResponse struct {
	Token string `json:"token,omitempty"`
	Error string `json:"error,omitempty"`
}

func (h *Hub) serveAuth(w http.ResponseWriter, r *http.Request) {
	var req AuthRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, AuthResponse{Error: "bad request"})
		return
	}
	profile := proto.ProfileExtended
	if req.Profile != "" {
		p, err := proto.ParseProfile(req.Profile)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, AuthResponse{Error: err.Error()})
			return
		}
		profile = p
	}
	tok, err := h.auth.Login(req.Name, req.Password, profile, extractIP(r))
	switch {
	case errors.Is(err, auth.ErrRateLimited):
		writeJSON(w, http.StatusTooManyRequests, AuthResponse{Error: err.Error()})
	case errors.Is(err, auth.ErrBadPassword):
		writeJSON(w, http.StatusUnauthorized, AuthResponse{Error: err.Error()})
	case err != nil:
		writeJSON(w, http.StatusBadRequest, AuthResponse{Error: err.Error()})
	default:
		writeJSON(w, http.StatusOK, AuthResponse{Token: tok})
	}
}

// Status is the body of GET /status.
type Status struct {
	Level      string        `json:"level"`
	Tick       int32         `json:"tick"`
	TickRate   int           `json:"tickrate"`
	MaxClients int           `json:"max_clients"`
	Profile    string        `json:"profile"`
	Password   bool          `json:"password"`
	Sessions   []SessionView `json:"sessions"`
}

func (h *Hub) serveStatus(w http.ResponseWriter, r *http.Request) {
	cfg := h.srv.Config()
	writeJSON(w, http.StatusOK, Status{
		Level:      cfg.Level,
		Tick:       h.srv.Tick(),
		TickRate:   cfg.TickRate,
		MaxClients: cfg.MaxClients,
		Profile:    cfg.Profile.String(),
		Password:   h.auth.PasswordRequired(),
		Sessions:   h.sessions.List(h.srv.Status()),
	})
}

func (h *Hub) serveSession(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "bad session id", http.StatusBadRequest)
		return
	}
	for _, v := range h.sessions.List(h.srv.Status()) {
		if v.ID == id.String() {
			writeJSON(w, http.StatusOK, v)
			return
		}
	}
	http.NotFound(w, r)
}

func (h *Hub) serveQR(w http.ResponseWriter, r *http.Request) {
	target := h.cfg.PublicURL
	if target == "" {
		scheme := "ws"
		if r.TLS != nil {
			scheme = "wss"
		}
		target = scheme + "://" + r.Host + "/ws"
	}
	png, err := qrcode.Encode(target, qrcode.Medium, qrSize)
	if err != nil {
		http.Error(w, "qr encode failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-cache")
	w.Write(png)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
