package cl

import (
	"github.com/themuffinator/q2repro-test-sub001/internal/msg"
	"github.com/themuffinator/q2repro-test-sub001/internal/proto"
)

// WriteAck acknowledges frame; NoDelta asks for a full frame.
func WriteAck(b *msg.Buffer, frame int32) {
	b.WriteUint8(uint8(proto.ClcAck))
	b.WriteInt32(frame)
}

// WriteBegin tells the server the baselines of signon spawnCount are
// loaded.
func WriteBegin(b *msg.Buffer, spawnCount int32) {
	b.WriteUint8(uint8(proto.ClcBegin))
	b.WriteInt32(spawnCount)
}

// WriteSettings sends the client's settings and rate. A zero rate keeps
// the current one.
func WriteSettings(b *msg.Buffer, s proto.Settings, rate int) {
	b.WriteUint8(uint8(proto.ClcSettings))
	b.WriteUint8(uint8(s))
	b.WriteUint32(uint32(rate))
}

// WriteDisconnect ends the connection.
func WriteDisconnect(b *msg.Buffer) {
	b.WriteUint8(uint8(proto.ClcDisconnect))
}
