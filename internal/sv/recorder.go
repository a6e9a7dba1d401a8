package sv

import (
	"github.com/google/uuid"
	"github.com/themuffinator/q2repro-test-sub001/internal/proto"
)

// Recorder receives per-tick counters. The metrics package provides the
// Prometheus implementation.
type Recorder interface {
	FrameSent(bytes int)
	FrameSuppressed()
	EntityOverflow(dropped int)
	FrameTruncated(omitted int)
	UnreliableDropped(cat Category, n int)
	ReliableBytes(n int)
	Connections(n int)
	ClientDropped(reason string)
}

type nopRecorder struct{}

func (nopRecorder) FrameSent(int)                   {}
func (nopRecorder) FrameSuppressed()                {}
func (nopRecorder) EntityOverflow(int)              {}
func (nopRecorder) FrameTruncated(int)              {}
func (nopRecorder) UnreliableDropped(Category, int) {}
func (nopRecorder) ReliableBytes(int)               {}
func (nopRecorder) Connections(int)                 {}
func (nopRecorder) ClientDropped(string)            {}

// SessionInfo describes a connection to observers.
type SessionInfo struct {
	ID      uuid.UUID
	Name    string
	Addr    string
	Profile proto.Profile
	Slot    int
}

// Observer is told about connection lifecycle events. Calls are made from
// the tick goroutine and must not block.
type Observer interface {
	ClientConnected(info SessionInfo)
	ClientDropped(info SessionInfo, reason string, stats ConnStats)
}
