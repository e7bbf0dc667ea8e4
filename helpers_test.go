package worldsync

import (
	"sort"

	"worldsync/wire"
)

// testWorld backs the in-package tests. It satisfies both session world
// interfaces so one fixture can stand on either end.
type testWorld struct {
	next    EntityID
	comps   map[EntityID]map[ComponentType]Component
	flagged map[EntityID]bool
}

func newTestWorld() *testWorld {
	return &testWorld{
		comps:   make(map[EntityID]map[ComponentType]Component),
		flagged: make(map[EntityID]bool),
	}
}

func (w *testWorld) spawn(replicated bool) EntityID {
	w.next++
	id := w.next
	w.comps[id] = make(map[ComponentType]Component)
	if replicated {
		w.flagged[id] = true
	}
	return id
}

func (w *testWorld) set(id EntityID, c Component) { w.comps[id][c.Kind()] = c }

func (w *testWorld) despawn(id EntityID) {
	delete(w.comps, id)
	delete(w.flagged, id)
}

func (w *testWorld) ReplicatedEntities() []EntityID {
	out := make([]EntityID, 0, len(w.flagged))
	for id := range w.flagged {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (w *testWorld) HasComponent(id EntityID, kind ComponentType) bool {
	_, ok := w.comps[id][kind]
	return ok
}

func (w *testWorld) Component(id EntityID, kind ComponentType) (Component, bool) {
	c, ok := w.comps[id][kind]
	return c, ok
}

func (w *testWorld) SpawnEntity() EntityID { return w.spawn(false) }

func (w *testWorld) DespawnEntity(id EntityID) { w.despawn(id) }

func (w *testWorld) ApplyComponent(id EntityID, c Component) {
	if _, ok := w.comps[id]; !ok {
		w.comps[id] = make(map[ComponentType]Component)
	}
	w.comps[id][c.Kind()] = c
}

func (w *testWorld) RemoveComponent(id EntityID, kind ComponentType) {
	if comps, ok := w.comps[id]; ok {
		delete(comps, kind)
	}
}

type vec struct{ X, Y int32 }

func (v *vec) Kind() ComponentType { return "vec" }

func (v *vec) EncodeWire(w *wire.Writer) {
	w.Int32(v.X)
	w.Int32(v.Y)
}

func (v *vec) DecodeWire(r *wire.Reader) error {
	var err error
	if v.X, err = r.Int32(); err != nil {
		return err
	}
	v.Y, err = r.Int32()
	return err
}

type label struct{ Text string }

func (l *label) Kind() ComponentType { return "label" }

func (l *label) EncodeWire(w *wire.Writer) { w.String(l.Text) }

func (l *label) DecodeWire(r *wire.Reader) error {
	var err error
	l.Text, err = r.String()
	return err
}

// shadow suppresses label replication on entities that carry it. It is
// deliberately not registered itself.
type shadow struct{}

func (s *shadow) Kind() ComponentType { return "shadow" }

func (s *shadow) EncodeWire(w *wire.Writer) {}

func (s *shadow) DecodeWire(r *wire.Reader) error { return nil }

type anchor struct{ Target EntityID }

func (a *anchor) Kind() ComponentType { return "anchor" }

func (a *anchor) EncodeWire(w *wire.Writer) { w.Uint64(uint64(a.Target)) }

func (a *anchor) DecodeWire(r *wire.Reader) error {
	v, err := r.Uint64()
	a.Target = EntityID(v)
	return err
}

func (a *anchor) MapEntities(m Mapper) error {
	target, err := m.MapEntity(a.Target)
	if err != nil {
		return err
	}
	a.Target = target
	return nil
}

func registerTestKinds(p *Protocol) {
	Replicate[vec](p)
	Replicate[label](p)
	Replicate[anchor](p)
	NotReplicateIfPresent[label, shadow](p)
}

func newTestRules() *ReplicationRules {
	p := NewProtocol()
	registerTestKinds(p)
	return p.rules
}

// stubServerTransport records outbound frames per client and feeds
// preloaded inbound frames, for driving a Server without a network.
type stubServerTransport struct {
	clients []ClientID
	events  []ConnEvent
	inbound map[ChannelID][]clientFrame
	sent    map[ClientID]map[ChannelID][][]byte
}

func newStubServerTransport(clients ...ClientID) *stubServerTransport {
	st := &stubServerTransport{
		clients: clients,
		inbound: make(map[ChannelID][]clientFrame),
		sent:    make(map[ClientID]map[ChannelID][][]byte),
	}
	for _, id := range clients {
		st.events = append(st.events, ConnEvent{Client: id, Kind: ClientConnected})
	}
	return st
}

func (s *stubServerTransport) push(from ClientID, ch ChannelID, frame []byte) {
	s.inbound[ch] = append(s.inbound[ch], clientFrame{from: from, payload: frame})
}

func (s *stubServerTransport) PollEvents() []ConnEvent {
	events := s.events
	s.events = nil
	return events
}

func (s *stubServerTransport) Send(to ClientID, ch ChannelID, frame []byte) {
	if s.sent[to] == nil {
		s.sent[to] = make(map[ChannelID][][]byte)
	}
	s.sent[to][ch] = append(s.sent[to][ch], frame)
}

func (s *stubServerTransport) Broadcast(ch ChannelID, frame []byte) {
	for _, id := range s.clients {
		s.Send(id, ch, frame)
	}
}

func (s *stubServerTransport) BroadcastExcept(except ClientID, ch ChannelID, frame []byte) {
	for _, id := range s.clients {
		if id == except {
			continue
		}
		s.Send(id, ch, frame)
	}
}

func (s *stubServerTransport) TryReceive(ch ChannelID) (ClientID, []byte, bool) {
	q := s.inbound[ch]
	if len(q) == 0 {
		return 0, nil, false
	}
	f := q[0]
	s.inbound[ch] = q[1:]
	return f.from, f.payload, true
}

// stubClientTransport mirrors stubServerTransport for the client end.
type stubClientTransport struct {
	connected bool
	inbound   map[ChannelID][][]byte
	sent      map[ChannelID][][]byte
}

func newStubClientTransport() *stubClientTransport {
	return &stubClientTransport{
		connected: true,
		inbound:   make(map[ChannelID][][]byte),
		sent:      make(map[ChannelID][][]byte),
	}
}

func (s *stubClientTransport) push(ch ChannelID, frame []byte) {
	s.inbound[ch] = append(s.inbound[ch], frame)
}

func (s *stubClientTransport) Connected() bool { return s.connected }

func (s *stubClientTransport) Send(ch ChannelID, frame []byte) {
	s.sent[ch] = append(s.sent[ch], frame)
}

func (s *stubClientTransport) TryReceive(ch ChannelID) ([]byte, bool) {
	q := s.inbound[ch]
	if len(q) == 0 {
		return nil, false
	}
	frame := q[0]
	s.inbound[ch] = q[1:]
	return frame, true
}

var (
	_ ServerTransport = (*stubServerTransport)(nil)
	_ ClientTransport = (*stubClientTransport)(nil)
)
