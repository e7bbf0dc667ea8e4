package ws

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"worldsync"
	"worldsync/telemetry"
)

// ServerConfig tunes the listening side. Zero fields use the package
// defaults.
type ServerConfig struct {
	Logger telemetry.Logger
	// WriteWait bounds each frame write.
	WriteWait time.Duration
	// IdleTimeout disconnects clients that sent nothing for this
	// long. The sync client sends an ack every Advance, so any live
	// client chatters constantly.
	IdleTimeout time.Duration
	// MaxQueuedFrames bounds each inbound channel queue; overflow
	// drops the oldest frame.
	MaxQueuedFrames int
}

type inFrame struct {
	from    worldsync.ClientID
	payload []byte
}

type serverConn struct {
	id       worldsync.ClientID
	ws       *websocket.Conn
	writeMu  sync.Mutex
	lastSeen time.Time
}

// Server accepts websocket clients and exposes them as a
// worldsync.ServerTransport. Reader goroutines feed per-channel
// queues; the sync session drains them from its own goroutine.
type Server struct {
	upgrader       websocket.Upgrader
	log            telemetry.Logger
	writeWait      time.Duration
	idleTimeout    time.Duration
	maxQueued      int
	serverChannels int
	clientChannels int

	mu     sync.Mutex
	conns  map[worldsync.ClientID]*serverConn
	queues map[worldsync.ChannelID][]inFrame
	events []worldsync.ConnEvent
	nextID worldsync.ClientID
	closed bool
}

// NewServer builds a transport for the given finalized channel table.
func NewServer(channels *worldsync.NetworkChannels, cfg ServerConfig) *Server {
	if cfg.Logger == nil {
		cfg.Logger = telemetry.NopLogger()
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = defaultWriteWait
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}
	if cfg.MaxQueuedFrames <= 0 {
		cfg.MaxQueuedFrames = defaultMaxQueuedFrames
	}
	return &Server{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		log:            cfg.Logger,
		writeWait:      cfg.WriteWait,
		idleTimeout:    cfg.IdleTimeout,
		maxQueued:      cfg.MaxQueuedFrames,
		serverChannels: len(channels.ServerChannels()),
		clientChannels: len(channels.ClientChannels()),
		conns:          make(map[worldsync.ClientID]*serverConn),
		queues:         make(map[worldsync.ChannelID][]inFrame),
		nextID:         1,
	}
}

// Handler returns the http.Handler that upgrades connections.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.log.Printf("upgrade failed: %v", err)
			return
		}
		sc, ok := s.register(conn)
		if !ok {
			conn.Close()
			return
		}
		if err := s.writeConn(sc, encodeHello(hello{
			version:        ProtocolVersion,
			client:         sc.id,
			serverChannels: uint8(s.serverChannels),
			clientChannels: uint8(s.clientChannels),
		})); err != nil {
			s.drop(sc, "handshake write")
			return
		}
		go s.readLoop(sc)
	})
}

func (s *Server) register(conn *websocket.Conn) (*serverConn, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, false
	}
	sc := &serverConn{id: s.nextID, ws: conn, lastSeen: time.Now()}
	s.nextID++
	s.conns[sc.id] = sc
	s.events = append(s.events, worldsync.ConnEvent{Client: sc.id, Kind: worldsync.ClientConnected})
	return sc, true
}

func (s *Server) readLoop(sc *serverConn) {
	defer s.drop(sc, "read loop ended")
	for {
		sc.ws.SetReadDeadline(time.Now().Add(s.idleTimeout))
		msgType, data, err := sc.ws.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.BinaryMessage || len(data) < 1 {
			s.log.Printf("discarding malformed message from client %d", sc.id)
			continue
		}
		ch := worldsync.ChannelID(data[0])
		if int(ch) >= s.clientChannels {
			s.log.Printf("discarding frame on unknown channel %d from client %d", ch, sc.id)
			continue
		}
		payload := append([]byte(nil), data[1:]...)
		s.mu.Lock()
		sc.lastSeen = time.Now()
		q := s.queues[ch]
		if len(q) >= s.maxQueued {
			q = q[1:]
		}
		s.queues[ch] = append(q, inFrame{from: sc.id, payload: payload})
		s.mu.Unlock()
	}
}

// drop removes the connection once; later calls for the same conn are
// no-ops so a write failure and the reader exit cannot double-report.
func (s *Server) drop(sc *serverConn, reason string) {
	s.mu.Lock()
	_, present := s.conns[sc.id]
	if present {
		delete(s.conns, sc.id)
		s.events = append(s.events, worldsync.ConnEvent{Client: sc.id, Kind: worldsync.ClientDisconnected})
	}
	s.mu.Unlock()
	if present {
		s.log.Printf("client %d dropped: %s", sc.id, reason)
	}
	sc.ws.Close()
}

// PollEvents also prunes clients whose last frame is older than the
// idle timeout, mirroring the read deadline for connections that stall
// without erroring.
func (s *Server) PollEvents() []worldsync.ConnEvent {
	s.mu.Lock()
	var stale []*serverConn
	cutoff := time.Now().Add(-s.idleTimeout)
	for _, sc := range s.conns {
		if sc.lastSeen.Before(cutoff) {
			stale = append(stale, sc)
		}
	}
	events := s.events
	s.events = nil
	s.mu.Unlock()

	for _, sc := range stale {
		s.drop(sc, "idle timeout")
	}
	if len(stale) > 0 {
		s.mu.Lock()
		events = append(events, s.events...)
		s.events = nil
		s.mu.Unlock()
	}
	return events
}

func (s *Server) Send(to worldsync.ClientID, ch worldsync.ChannelID, frame []byte) {
	s.mu.Lock()
	sc := s.conns[to]
	s.mu.Unlock()
	if sc == nil {
		return
	}
	if err := s.writeConn(sc, encodeFrame(ch, frame)); err != nil {
		s.drop(sc, "write failed")
	}
}

func (s *Server) Broadcast(ch worldsync.ChannelID, frame []byte) {
	s.fanOut(ch, frame, nil)
}

func (s *Server) BroadcastExcept(except worldsync.ClientID, ch worldsync.ChannelID, frame []byte) {
	s.fanOut(ch, frame, &except)
}

func (s *Server) fanOut(ch worldsync.ChannelID, frame []byte, except *worldsync.ClientID) {
	s.mu.Lock()
	targets := make([]*serverConn, 0, len(s.conns))
	for id, sc := range s.conns {
		if except != nil && id == *except {
			continue
		}
		targets = append(targets, sc)
	}
	s.mu.Unlock()

	msg := encodeFrame(ch, frame)
	for _, sc := range targets {
		if err := s.writeConn(sc, msg); err != nil {
			s.drop(sc, "write failed")
		}
	}
}

func (s *Server) writeConn(sc *serverConn, msg []byte) error {
	sc.writeMu.Lock()
	defer sc.writeMu.Unlock()
	sc.ws.SetWriteDeadline(time.Now().Add(s.writeWait))
	return sc.ws.WriteMessage(websocket.BinaryMessage, msg)
}

func (s *Server) TryReceive(ch worldsync.ChannelID) (worldsync.ClientID, []byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := s.queues[ch]
	if len(q) == 0 {
		return 0, nil, false
	}
	f := q[0]
	s.queues[ch] = q[1:]
	return f.from, f.payload, true
}

// Close disconnects every client and refuses new ones.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	conns := make([]*serverConn, 0, len(s.conns))
	for _, sc := range s.conns {
		conns = append(conns, sc)
	}
	s.mu.Unlock()
	for _, sc := range conns {
		s.drop(sc, "server closed")
	}
}

var _ worldsync.ServerTransport = (*Server)(nil)
