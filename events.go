package worldsync

import (
	"fmt"

	"worldsync/wire"
)

type sendModeKind uint8

const (
	sendBroadcast sendModeKind = iota
	sendBroadcastExcept
	sendDirect
)

// SendMode selects the recipients of a server event. ServerClientID
// may appear as a target: Direct(ServerClientID) delivers only to the
// server's own event queue and never reaches a transport, while
// BroadcastExcept(ServerClientID) reaches every remote client but
// skips the local queue.
type SendMode struct {
	kind   sendModeKind
	client ClientID
}

// Broadcast delivers to every connected client and, on a listen
// server, to the server's own queue.
func Broadcast() SendMode { return SendMode{kind: sendBroadcast} }

// BroadcastExcept delivers to every connected client but excluded.
func BroadcastExcept(excluded ClientID) SendMode {
	return SendMode{kind: sendBroadcastExcept, client: excluded}
}

// Direct delivers to a single client.
func Direct(client ClientID) SendMode {
	return SendMode{kind: sendDirect, client: client}
}

func (m SendMode) String() string {
	switch m.kind {
	case sendBroadcast:
		return "broadcast"
	case sendBroadcastExcept:
		return fmt.Sprintf("broadcast_except(%d)", m.client)
	case sendDirect:
		return fmt.Sprintf("direct(%d)", m.client)
	}
	return fmt.Sprintf("send_mode(%d)", m.kind)
}

// ToClients pairs a server event with its recipients.
type ToClients[T any] struct {
	Mode  SendMode
	Event T
}

// FromClient pairs a client event with its sender. Events the server
// emits for itself carry ServerClientID.
type FromClient[T any] struct {
	Client ClientID
	Event  T
}

// eventPtr ties an event's value type to a pointer implementing the
// wire codec.
type eventPtr[T any] interface {
	*T
	wire.Value
}

// mappedEventPtr additionally requires entity mapping support.
type mappedEventPtr[T any] interface {
	*T
	wire.Value
	EntityMapper
}

// EventEncoder serializes an event with access to the component type
// registry, letting payloads carry polymorphic registered types.
type EventEncoder[T any] func(rules *ReplicationRules, w *wire.Writer, event *T) error

// EventDecoder is the matching deserialization strategy.
type EventDecoder[T any] func(rules *ReplicationRules, r *wire.Reader) (T, error)

// Server events travel wrapped in an envelope: mode tag, target id
// for the targeted modes, then the payload.
func encodeEnvelope(mode SendMode, payload []byte) []byte {
	var w wire.Writer
	w.Uint8(uint8(mode.kind))
	if mode.kind != sendBroadcast {
		w.Uint64(uint64(mode.client))
	}
	w.Bytes32(payload)
	return append([]byte(nil), w.Bytes()...)
}

func decodeEnvelope(ch ChannelID, frame []byte) (SendMode, []byte, error) {
	r := wire.NewReader(frame)
	kind, err := r.Uint8()
	if err != nil {
		return SendMode{}, nil, &DecodeError{Channel: ch, Reason: "envelope mode", Err: err}
	}
	mode := SendMode{kind: sendModeKind(kind)}
	switch mode.kind {
	case sendBroadcast:
	case sendBroadcastExcept, sendDirect:
		id, err := r.Uint64()
		if err != nil {
			return SendMode{}, nil, &DecodeError{Channel: ch, Reason: "envelope target", Err: err}
		}
		mode.client = ClientID(id)
	default:
		return SendMode{}, nil, &DecodeError{Channel: ch, Reason: fmt.Sprintf("unknown send mode %d", kind)}
	}
	payload, err := r.Bytes32()
	if err != nil {
		return SendMode{}, nil, &DecodeError{Channel: ch, Reason: "envelope payload", Err: err}
	}
	if err := r.Finish(); err != nil {
		return SendMode{}, nil, &DecodeError{Channel: ch, Reason: "envelope", Err: err}
	}
	return mode, payload, nil
}
