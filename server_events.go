package worldsync

import (
	"errors"
	"fmt"

	"worldsync/wire"
)

// ServerEvent is the typed handle for one server→client event channel.
// The server Sends with an explicit SendMode, remote clients Receive,
// and a listen server Drains the deliveries addressed to itself.
type ServerEvent[T any] struct {
	channel ChannelID
	name    string
	encode  func(w *wire.Writer, event *T) error
	decode  func(r *wire.Reader) (T, error)
	remap   func(event *T, m Mapper) error
}

// RegisterServerEvent allocates a server→client channel for T.
func RegisterServerEvent[T any, PT eventPtr[T]](p *Protocol, t SendType) *ServerEvent[T] {
	p.mustBeOpen()
	return &ServerEvent[T]{
		channel: p.channels.CreateServerChannel(t),
		name:    eventName[T](),
		encode:  encodeWith[T, PT](),
		decode:  decodeWith[T, PT](),
	}
}

// RegisterMappedServerEvent is RegisterServerEvent for payloads that
// carry entity ids. Receive rewrites the ids from server to local ids
// right after decoding; an id whose spawn has not arrived yet defers
// the event for a few ticks instead of dropping it.
func RegisterMappedServerEvent[T any, PT mappedEventPtr[T]](p *Protocol, t SendType) *ServerEvent[T] {
	ev := RegisterServerEvent[T, PT](p, t)
	ev.remap = remapWith[T, PT]()
	return ev
}

// RegisterServerReflectEvent registers T with caller-supplied codec
// strategies over the component type registry. If *T implements
// EntityMapper its ids are rewritten like a mapped event.
func RegisterServerReflectEvent[T any](p *Protocol, t SendType, enc EventEncoder[T], dec EventDecoder[T]) *ServerEvent[T] {
	p.mustBeOpen()
	ev := &ServerEvent[T]{
		channel: p.channels.CreateServerChannel(t),
		name:    eventName[T](),
		encode:  encodeStrategy(p.rules, enc),
		decode:  decodeStrategy(p.rules, dec),
	}
	ev.remap = detectRemap[T]()
	return ev
}

// Send delivers the event according to msg.Mode. Remote recipients get
// the encoded envelope; whenever the mode includes the server itself,
// the value is queued locally and never encoded. With no transport
// attached only the local deliveries happen, which is how a
// single-player session reuses unchanged event handlers.
func (e *ServerEvent[T]) Send(s *Server, msg ToClients[T]) error {
	frame, err := e.envelope(s, msg)
	if err != nil {
		return err
	}
	switch msg.Mode.kind {
	case sendBroadcast:
		s.broadcastFrame(e.channel, frame)
		s.queueLocalServerEvent(e.channel, msg.Event)
	case sendBroadcastExcept:
		if msg.Mode.client == ServerClientID {
			s.broadcastFrame(e.channel, frame)
		} else {
			s.broadcastExceptFrame(msg.Mode.client, e.channel, frame)
			s.queueLocalServerEvent(e.channel, msg.Event)
		}
	case sendDirect:
		if msg.Mode.client == ServerClientID {
			s.queueLocalServerEvent(e.channel, msg.Event)
		} else {
			s.sendFrameTo(msg.Mode.client, e.channel, frame)
		}
	default:
		return fmt.Errorf("worldsync: send %s: unknown send mode %d", e.name, msg.Mode.kind)
	}
	return nil
}

// envelope encodes the event unless no remote peer can receive it.
func (e *ServerEvent[T]) envelope(s *Server, msg ToClients[T]) ([]byte, error) {
	if s.transport == nil {
		return nil, nil
	}
	if msg.Mode.kind == sendDirect && msg.Mode.client == ServerClientID {
		return nil, nil
	}
	var w wire.Writer
	if err := e.encode(&w, &msg.Event); err != nil {
		return nil, fmt.Errorf("worldsync: encode %s: %w", e.name, err)
	}
	return encodeEnvelope(msg.Mode, w.Bytes()), nil
}

// Drain returns the events the server delivered to itself since the
// last call.
func (e *ServerEvent[T]) Drain(s *Server) []T {
	local := s.takeLocalServerEvents(e.channel)
	if len(local) == 0 {
		return nil
	}
	out := make([]T, 0, len(local))
	for _, v := range local {
		out = append(out, v.(T))
	}
	return out
}

// Receive returns the events delivered to this client since the last
// call, deferred events that resolved first, then fresh arrivals.
// Frames that fail to decode are dropped, logged and counted; mapped
// events referencing entities the client has not spawned yet are
// retried on later calls until their budget runs out.
func (e *ServerEvent[T]) Receive(c *Client) []T {
	var out []T
	for _, d := range c.takeDeferred(e.channel) {
		ev, status := e.consume(c, d.payload)
		switch status {
		case eventReady:
			out = append(out, ev)
		case eventUnmapped:
			if d.remaining <= 1 {
				c.noteFailure(e.channel, e.name, errDeferralExhausted)
				continue
			}
			c.pushDeferred(e.channel, d.payload, d.remaining-1)
		}
	}
	for _, frame := range c.takeFrames(e.channel) {
		_, payload, err := decodeEnvelope(e.channel, frame)
		if err != nil {
			c.noteFailure(e.channel, e.name, err)
			continue
		}
		payload = append([]byte(nil), payload...)
		ev, status := e.consume(c, payload)
		switch status {
		case eventReady:
			out = append(out, ev)
		case eventUnmapped:
			c.pushDeferred(e.channel, payload, c.cfg.EventRetryTicks)
		}
	}
	return out
}

// Channel returns the channel id the event was registered under.
func (e *ServerEvent[T]) Channel() ChannelID { return e.channel }

type eventStatus uint8

const (
	eventReady eventStatus = iota
	eventDropped
	eventUnmapped
)

var errDeferralExhausted = errors.New("worldsync: entity mapping never arrived")

// consume decodes and, for mapped payloads, rewrites one event. The
// payload is re-decoded on every retry so a partially rewritten value
// is never kept.
func (e *ServerEvent[T]) consume(c *Client, payload []byte) (T, eventStatus) {
	ev, err := e.decode(wire.NewReader(payload))
	if err != nil {
		c.noteFailure(e.channel, e.name, err)
		return ev, eventDropped
	}
	if e.remap != nil {
		if err := e.remap(&ev, c.entities.LocalView()); err != nil {
			var unmapped UnmappedEntityError
			if errors.As(err, &unmapped) {
				return ev, eventUnmapped
			}
			c.noteFailure(e.channel, e.name, err)
			return ev, eventDropped
		}
	}
	return ev, eventReady
}
