// Package envelope frames every WebSocket message of the sync protocol:
//
//	kind:u8 | codec:u8 | payload
//
// The kind separates the transform channel, client state updates, resync
// requests, snapshots and ticks carried by one connection. Payloads at or
// above a threshold may be compressed; receivers always honor the codec byte.
package envelope

import (
	"errors"
	"fmt"
)

type Kind uint8

const (
	// client -> server
	KindTransform     Kind = 0x01
	KindSetState      Kind = 0x02
	KindSetComponents Kind = 0x03
	KindResync        Kind = 0x04

	// server -> client
	KindSnapshot Kind = 0x10
	KindTick     Kind = 0x11
)

func (k Kind) String() string {
	switch k {
	case KindTransform:
		return "transform"
	case KindSetState:
		return "set_state"
	case KindSetComponents:
		return "set_components"
	case KindResync:
		return "resync"
	case KindSnapshot:
		return "snapshot"
	case KindTick:
		return "tick"
	default:
		return fmt.Sprintf("kind(%#x)", uint8(k))
	}
}

// HeaderLen is the size of the kind and codec bytes.
const HeaderLen = 2

// MaxPayloadBytes bounds decompressed payloads.
const MaxPayloadBytes = 8 * 1024 * 1024

var (
	ErrShortEnvelope   = errors.New("envelope: message shorter than header")
	ErrPayloadTooLarge = errors.New("envelope: payload too large")
)

// Packer wraps payloads, compressing those at or above Threshold bytes with
// Codec. A zero-value Packer never compresses.
type Packer struct {
	Codec     Codec
	Threshold int
}

func (p Packer) Pack(kind Kind, payload []byte) ([]byte, error) {
	codec := CodecNone
	body := payload
	if p.Codec != CodecNone && p.Threshold > 0 && len(payload) >= p.Threshold {
		compressed, err := compress(p.Codec, payload)
		switch {
		case errors.Is(err, errIncompressible):
		case err != nil:
			return nil, err
		case len(compressed) < len(payload):
			codec = p.Codec
			body = compressed
		}
	}
	out := make([]byte, HeaderLen+len(body))
	out[0] = byte(kind)
	out[1] = byte(codec)
	copy(out[HeaderLen:], body)
	return out, nil
}

// Pack wraps an uncompressed payload.
func Pack(kind Kind, payload []byte) []byte {
	out, _ := Packer{}.Pack(kind, payload)
	return out
}

// Unpack splits a message into its kind and decompressed payload.
func Unpack(msg []byte) (Kind, []byte, error) {
	if len(msg) < HeaderLen {
		return 0, nil, ErrShortEnvelope
	}
	kind := Kind(msg[0])
	codec := Codec(msg[1])
	payload, err := decompress(codec, msg[HeaderLen:], MaxPayloadBytes)
	if err != nil {
		return kind, nil, err
	}
	return kind, payload, nil
}
