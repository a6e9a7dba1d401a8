package gateway

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/themuffinator/q2repro-test-sub001/internal/proto"
	"github.com/themuffinator/q2repro-test-sub001/internal/transport"
)

// Control message types. Everything after the handshake travels as netchan
// packets; acknowledgments and client settings are netchan commands.
const (
	MsgConnect    = "connect"
	MsgServerData = "serverdata"
	MsgReject     = "reject"
)

// Envelope wraps every control message with a type field.
type Envelope struct {
	T string             `msgpack:"t"`
	D msgpack.RawMessage `msgpack:"d,omitempty"`
}

// ConnectRequest is the first message a client sends.
type ConnectRequest struct {
	Name     string `msgpack:"name"`
	Token    string `msgpack:"token,omitempty"`
	Password string `msgpack:"pass,omitempty"`
	Profile  uint8  `msgpack:"profile"`
	Rate     int    `msgpack:"rate"`
	Settings uint8  `msgpack:"settings"`
	// Fragmenting asks for the fragmenting netchan variant.
	Fragmenting bool `msgpack:"frag"`
}

// ServerData answers an accepted ConnectRequest.
type ServerData struct {
	Profile   uint8  `msgpack:"profile"`
	PlayerNum int32  `msgpack:"player"`
	TickRate  int    `msgpack:"tickrate"`
	MaxEdicts int    `msgpack:"maxedicts"`
	Level     string `msgpack:"level"`
	SessionID string `msgpack:"sid"`
	Name      string `msgpack:"name"`
}

// Reject answers a refused ConnectRequest.
type Reject struct {
	Reason string `msgpack:"reason"`
}

func (r ConnectRequest) variant() transport.Variant {
	if r.Fragmenting {
		return transport.VariantFragmenting
	}
	return transport.VariantLegacy
}

func (r ConnectRequest) profile() proto.Profile {
	p := proto.Profile(r.Profile)
	if !p.Valid() {
		return proto.ProfileExtended
	}
	return p
}

// EncodeControl marshals v inside an envelope of type t.
func EncodeControl(t string, v any) ([]byte, error) {
	d, err := msgpack.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", t, err)
	}
	return msgpack.Marshal(&Envelope{T: t, D: d})
}

// DecodeControl unmarshals an envelope.
func DecodeControl(data []byte) (Envelope, error) {
	var env Envelope
	if err := msgpack.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	return env, nil
}

// Decode unmarshals the envelope payload into v.
func (e Envelope) Decode(v any) error {
	if err := msgpack.Unmarshal(e.D, v); err != nil {
		return fmt.Errorf("decode %s: %w", e.T, err)
	}
	return nil
}
