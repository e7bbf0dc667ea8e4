package worldsync

import (
	"fmt"

	"worldsync/wire"
)

func eventName[T any]() string {
	var probe T
	return fmt.Sprintf("%T", probe)
}

// ClientEvent is the typed handle for one client→server event channel.
// The same handle serves both roles: clients Emit, the server Drains,
// and a listen server uses EmitLocal to participate as a player
// without touching the transport.
type ClientEvent[T any] struct {
	channel ChannelID
	name    string
	encode  func(w *wire.Writer, event *T) error
	decode  func(r *wire.Reader) (T, error)
	remap   func(event *T, m Mapper) error
}

// RegisterClientEvent allocates a client→server channel for T.
// Registration order fixes the channel id, so peers must register
// events in the same order.
func RegisterClientEvent[T any, PT eventPtr[T]](p *Protocol, t SendType) *ClientEvent[T] {
	p.mustBeOpen()
	return &ClientEvent[T]{
		channel: p.channels.CreateClientChannel(t),
		name:    eventName[T](),
		encode:  encodeWith[T, PT](),
		decode:  decodeWith[T, PT](),
	}
}

// RegisterMappedClientEvent is RegisterClientEvent for payloads that
// carry entity ids. Emit rewrites the ids from local to server ids
// before encoding, because only the client owns the pairing.
func RegisterMappedClientEvent[T any, PT mappedEventPtr[T]](p *Protocol, t SendType) *ClientEvent[T] {
	ev := RegisterClientEvent[T, PT](p, t)
	ev.remap = remapWith[T, PT]()
	return ev
}

// RegisterClientReflectEvent registers T with caller-supplied codec
// strategies that may consult the component type registry, for
// payloads whose concrete content is only known at runtime. If *T
// implements EntityMapper its ids are rewritten like a mapped event.
func RegisterClientReflectEvent[T any](p *Protocol, t SendType, enc EventEncoder[T], dec EventDecoder[T]) *ClientEvent[T] {
	p.mustBeOpen()
	ev := &ClientEvent[T]{
		channel: p.channels.CreateClientChannel(t),
		name:    eventName[T](),
		encode:  encodeStrategy(p.rules, enc),
		decode:  decodeStrategy(p.rules, dec),
	}
	ev.remap = detectRemap[T]()
	return ev
}

// Emit sends event to the server. Payloads carrying entity ids are
// rewritten on a copy; an id the server never replicated returns
// UnmappedEntityError and nothing is sent.
func (e *ClientEvent[T]) Emit(c *Client, event T) error {
	if e.remap != nil {
		if err := e.remap(&event, c.entities.ServerView()); err != nil {
			return err
		}
	}
	var w wire.Writer
	if err := e.encode(&w, &event); err != nil {
		return fmt.Errorf("worldsync: encode %s: %w", e.name, err)
	}
	return c.sendFrame(e.channel, append([]byte(nil), w.Bytes()...))
}

// EmitLocal queues event on the server itself, wrapped as FromClient
// with ServerClientID, so handler code cannot tell a listen server's
// own input from a remote client's.
func (e *ClientEvent[T]) EmitLocal(s *Server, event T) {
	s.queueLocalFromClient(e.channel, FromClient[T]{Client: ServerClientID, Event: event})
}

// Drain returns every event received on this channel since the last
// call, remote senders first in arrival order, then local emissions.
// Frames that fail to decode are dropped, logged and counted against
// the sender; they never abort the drain.
func (e *ClientEvent[T]) Drain(s *Server) []FromClient[T] {
	frames := s.takeClientFrames(e.channel)
	local := s.takeLocalFromClient(e.channel)
	if len(frames) == 0 && len(local) == 0 {
		return nil
	}
	out := make([]FromClient[T], 0, len(frames)+len(local))
	for _, f := range frames {
		ev, err := e.decode(wire.NewReader(f.payload))
		if err != nil {
			s.noteClientFailure(f.from, e.channel, e.name, err)
			continue
		}
		out = append(out, FromClient[T]{Client: f.from, Event: ev})
	}
	for _, v := range local {
		out = append(out, v.(FromClient[T]))
	}
	return out
}

// Channel returns the channel id the event was registered under.
func (e *ClientEvent[T]) Channel() ChannelID { return e.channel }

func encodeWith[T any, PT eventPtr[T]]() func(*wire.Writer, *T) error {
	return func(w *wire.Writer, event *T) error {
		PT(event).EncodeWire(w)
		return nil
	}
}

func decodeWith[T any, PT eventPtr[T]]() func(*wire.Reader) (T, error) {
	return func(r *wire.Reader) (T, error) {
		var event T
		if err := PT(&event).DecodeWire(r); err != nil {
			return event, err
		}
		return event, r.Finish()
	}
}

func remapWith[T any, PT mappedEventPtr[T]]() func(*T, Mapper) error {
	return func(event *T, m Mapper) error {
		return PT(event).MapEntities(m)
	}
}

func encodeStrategy[T any](rules *ReplicationRules, enc EventEncoder[T]) func(*wire.Writer, *T) error {
	return func(w *wire.Writer, event *T) error {
		return enc(rules, w, event)
	}
}

func decodeStrategy[T any](rules *ReplicationRules, dec EventDecoder[T]) func(*wire.Reader) (T, error) {
	return func(r *wire.Reader) (T, error) {
		event, err := dec(rules, r)
		if err != nil {
			return event, err
		}
		return event, r.Finish()
	}
}

func detectRemap[T any]() func(*T, Mapper) error {
	var probe T
	if _, ok := any(&probe).(EntityMapper); !ok {
		return nil
	}
	return func(event *T, m Mapper) error {
		return any(event).(EntityMapper).MapEntities(m)
	}
}
