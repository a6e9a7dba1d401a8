package gateway

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/themuffinator/q2repro-test-sub001/internal/sv"
)

// Sessions indexes the clients that completed the handshake.
type Sessions struct {
	mu   sync.RWMutex
	byID map[uuid.UUID]*Client
}

// NewSessions returns an empty registry.
func NewSessions() *Sessions {
	return &Sessions{byID: make(map[uuid.UUID]*Client)}
}

func (s *Sessions) add(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[c.conn.ID] = c
}

func (s *Sessions) remove(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.byID[c.conn.ID] == c {
		delete(s.byID, c.conn.ID)
	}
}

// Get returns a client by session id.
func (s *Sessions) Get(id uuid.UUID) *Client {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byID[id]
}

// Len returns the number of sessions.
func (s *Sessions) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

// SessionView is the JSON form of one session.
type SessionView struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	Addr             string    `json:"addr"`
	Profile          string    `json:"profile"`
	Slot             int       `json:"slot"`
	State            string    `json:"state"`
	Rate             int       `json:"rate"`
	ConnectedAt      time.Time `json:"connected_at"`
	FramesSent       uint64    `json:"frames_sent"`
	FramesSuppressed uint64    `json:"frames_suppressed"`
	FullFrames       uint64    `json:"full_frames"`
	EntityOverflow   uint64    `json:"entity_overflow"`
	BytesSent        uint64    `json:"bytes_sent"`
	QueueDropped     uint64    `json:"queue_dropped"`
}

// List joins the server's connection status with the registry, ordered by
// slot. Connections made without the gateway have no transport fields.
func (s *Sessions) List(status []sv.ConnStatus) []SessionView {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]SessionView, 0, len(status))
	for _, st := range status {
		v := SessionView{
			ID:               st.ID.String(),
			Name:             st.Name,
			Addr:             st.Addr,
			Profile:          st.Profile.String(),
			Slot:             st.Slot,
			State:            st.State.String(),
			Rate:             st.Rate,
			FramesSent:       st.Stats.FramesSent,
			FramesSuppressed: st.Stats.FramesSuppressed,
			FullFrames:       st.Stats.FullFrames,
			EntityOverflow:   st.Stats.EntityOverflow,
			BytesSent:        st.Stats.BytesSent,
		}
		if c := s.byID[st.ID]; c != nil {
			v.ConnectedAt = c.connectedAt
			v.QueueDropped = c.ws.Dropped()
		}
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slot < out[j].Slot })
	return out
}
