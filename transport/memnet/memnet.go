// Package memnet is an in-process transport for tests and
// single-binary demos. Frames queue in memory and arrive in send
// order; unreliable channels can be told to lose frames
// deterministically so loss handling is testable without a flaky
// network.
package memnet

import (
	"sync"

	"worldsync"
)

type inFrame struct {
	from    worldsync.ClientID
	payload []byte
}

type dropKey struct {
	client worldsync.ClientID
	ch     worldsync.ChannelID
}

// Network owns both ends of the transport. Obtain the server side once
// with ServerTransport and attach clients with Connect.
type Network struct {
	mu         sync.Mutex
	serverCh   []worldsync.SendType
	clientCh   []worldsync.SendType
	nextID     worldsync.ClientID
	conns      map[worldsync.ClientID]*Conn
	toServer   map[worldsync.ChannelID][]inFrame
	events     []worldsync.ConnEvent
	dropServer map[dropKey]int
	dropClient map[dropKey]int
}

// New builds a network for the given finalized channel table.
func New(channels *worldsync.NetworkChannels) *Network {
	return &Network{
		serverCh:   channels.ServerChannels(),
		clientCh:   channels.ClientChannels(),
		nextID:     1,
		conns:      make(map[worldsync.ClientID]*Conn),
		toServer:   make(map[worldsync.ChannelID][]inFrame),
		dropServer: make(map[dropKey]int),
		dropClient: make(map[dropKey]int),
	}
}

// ServerTransport returns the server end.
func (n *Network) ServerTransport() worldsync.ServerTransport {
	return serverSide{n}
}

// Connect attaches a new client and queues its connection event for
// the server.
func (n *Network) Connect() *Conn {
	n.mu.Lock()
	defer n.mu.Unlock()
	id := n.nextID
	n.nextID++
	c := &Conn{
		net:       n,
		id:        id,
		queues:    make(map[worldsync.ChannelID][][]byte),
		connected: true,
	}
	n.conns[id] = c
	n.events = append(n.events, worldsync.ConnEvent{Client: id, Kind: worldsync.ClientConnected})
	return c
}

// Disconnect detaches a client and queues its disconnection event.
// Frames already queued stay deliverable.
func (n *Network) Disconnect(id worldsync.ClientID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	c, ok := n.conns[id]
	if !ok {
		return
	}
	c.connected = false
	delete(n.conns, id)
	n.events = append(n.events, worldsync.ConnEvent{Client: id, Kind: worldsync.ClientDisconnected})
}

// DropServerFrames arranges for the next count frames sent to client
// on ch to be lost. The call is ignored for reliable channels; losing
// frames there would violate the channel's contract.
func (n *Network) DropServerFrames(client worldsync.ClientID, ch worldsync.ChannelID, count int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if int(ch) >= len(n.serverCh) || n.serverCh[ch].Policy != worldsync.Unreliable {
		return
	}
	n.dropServer[dropKey{client: client, ch: ch}] += count
}

// DropClientFrames is DropServerFrames for the client→server
// direction.
func (n *Network) DropClientFrames(client worldsync.ClientID, ch worldsync.ChannelID, count int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if int(ch) >= len(n.clientCh) || n.clientCh[ch].Policy != worldsync.Unreliable {
		return
	}
	n.dropClient[dropKey{client: client, ch: ch}] += count
}

func consumeDrop(m map[dropKey]int, key dropKey) bool {
	if m[key] <= 0 {
		return false
	}
	m[key]--
	return true
}

type serverSide struct {
	n *Network
}

func (s serverSide) PollEvents() []worldsync.ConnEvent {
	s.n.mu.Lock()
	defer s.n.mu.Unlock()
	events := s.n.events
	s.n.events = nil
	return events
}

func (s serverSide) Send(to worldsync.ClientID, ch worldsync.ChannelID, frame []byte) {
	s.n.mu.Lock()
	defer s.n.mu.Unlock()
	s.n.deliver(to, ch, frame)
}

func (s serverSide) Broadcast(ch worldsync.ChannelID, frame []byte) {
	s.n.mu.Lock()
	defer s.n.mu.Unlock()
	for id := range s.n.conns {
		s.n.deliver(id, ch, frame)
	}
}

func (s serverSide) BroadcastExcept(except worldsync.ClientID, ch worldsync.ChannelID, frame []byte) {
	s.n.mu.Lock()
	defer s.n.mu.Unlock()
	for id := range s.n.conns {
		if id == except {
			continue
		}
		s.n.deliver(id, ch, frame)
	}
}

func (s serverSide) TryReceive(ch worldsync.ChannelID) (worldsync.ClientID, []byte, bool) {
	s.n.mu.Lock()
	defer s.n.mu.Unlock()
	q := s.n.toServer[ch]
	if len(q) == 0 {
		return 0, nil, false
	}
	f := q[0]
	s.n.toServer[ch] = q[1:]
	return f.from, f.payload, true
}

// deliver queues frame for one client, honoring pending drops. Callers
// hold n.mu.
func (n *Network) deliver(to worldsync.ClientID, ch worldsync.ChannelID, frame []byte) {
	c, ok := n.conns[to]
	if !ok {
		return
	}
	if consumeDrop(n.dropServer, dropKey{client: to, ch: ch}) {
		return
	}
	c.queues[ch] = append(c.queues[ch], append([]byte(nil), frame...))
}

// Conn is one client's end of the network.
type Conn struct {
	net       *Network
	id        worldsync.ClientID
	queues    map[worldsync.ChannelID][][]byte
	connected bool
}

// ID returns the client id the network assigned at Connect.
func (c *Conn) ID() worldsync.ClientID { return c.id }

func (c *Conn) Connected() bool {
	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	return c.connected
}

func (c *Conn) Send(ch worldsync.ChannelID, frame []byte) {
	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	if !c.connected {
		return
	}
	if consumeDrop(c.net.dropClient, dropKey{client: c.id, ch: ch}) {
		return
	}
	payload := append([]byte(nil), frame...)
	c.net.toServer[ch] = append(c.net.toServer[ch], inFrame{from: c.id, payload: payload})
}

func (c *Conn) TryReceive(ch worldsync.ChannelID) ([]byte, bool) {
	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	q := c.queues[ch]
	if len(q) == 0 {
		return nil, false
	}
	frame := q[0]
	c.queues[ch] = q[1:]
	return frame, true
}

// Close disconnects the client.
func (c *Conn) Close() {
	c.net.Disconnect(c.id)
}

var (
	_ worldsync.ServerTransport = serverSide{}
	_ worldsync.ClientTransport = (*Conn)(nil)
)
