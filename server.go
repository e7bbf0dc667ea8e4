package worldsync

import (
	"fmt"
	"sort"

	"worldsync/telemetry"
	"worldsync/wire"
)

type clientFrame struct {
	from    ClientID
	payload []byte
}

type clientState struct {
	ackedTick Tick
	hasAck    bool
	policy    failurePolicy
	reported  bool
}

// Server is the authoritative session. One instance owns one world;
// all methods must be called from a single goroutine. A nil transport
// makes a local-only session: replication idles and events flow
// through the local queues, so a single-player build runs the exact
// same handler code as a dedicated server.
type Server struct {
	proto     *Protocol
	world     ServerWorld
	transport ServerTransport
	cfg       Config
	log       telemetry.Logger
	counters  *telemetry.Counters

	history *history
	clients map[ClientID]*clientState
	tick    Tick

	clientFrames      map[ChannelID][]clientFrame
	localFromClient   map[ChannelID][]any
	localServerEvents map[ChannelID][]any
}

// NewServer builds a server session over a finalized protocol.
func NewServer(p *Protocol, world ServerWorld, transport ServerTransport, cfg Config) *Server {
	if !p.Finalized() {
		panic("worldsync: NewServer requires a finalized protocol")
	}
	cfg = cfg.withDefaults()
	return &Server{
		proto:             p,
		world:             world,
		transport:         transport,
		cfg:               cfg,
		log:               cfg.Logger,
		counters:          &telemetry.Counters{},
		history:           newHistory(cfg.HistoryCapacity, cfg.HistoryMaxAge, nil),
		clients:           make(map[ClientID]*clientState),
		clientFrames:      make(map[ChannelID][]clientFrame),
		localFromClient:   make(map[ChannelID][]any),
		localServerEvents: make(map[ChannelID][]any),
	}
}

// Advance runs one replication tick: connection bookkeeping, a full
// receive drain, one world snapshot, then a diff to every client
// against its acknowledged baseline. Ticks start at 1 and must
// strictly increase.
func (s *Server) Advance(tick Tick) error {
	if tick == 0 {
		return fmt.Errorf("worldsync: tick 0 is reserved")
	}
	if tick <= s.tick {
		return fmt.Errorf("worldsync: tick %d does not advance past %d", tick, s.tick)
	}

	s.pollConnections()
	s.drainReceive()

	snap := captureSnapshot(s.proto.rules, s.world, tick)
	expired, over := s.history.record(snap)
	if n := expired + over; n > 0 {
		s.counters.HistoryEvictions.Add(uint64(n))
	}
	s.tick = tick

	if s.transport != nil && len(s.clients) > 0 {
		s.sendDiffs(snap)
	}
	s.counters.Publish(s.cfg.Metrics)
	return nil
}

func (s *Server) pollConnections() {
	if s.transport == nil {
		return
	}
	for _, ev := range s.transport.PollEvents() {
		switch ev.Kind {
		case ClientConnected:
			if _, ok := s.clients[ev.Client]; ok {
				continue
			}
			s.clients[ev.Client] = &clientState{
				policy: newFailurePolicy(s.cfg.FailureThreshold, s.cfg.FailureMinSamples),
			}
			s.log.Printf("client %d connected", ev.Client)
		case ClientDisconnected:
			if _, ok := s.clients[ev.Client]; !ok {
				continue
			}
			delete(s.clients, ev.Client)
			s.log.Printf("client %d disconnected", ev.Client)
		}
	}
}

// drainReceive empties every inbound queue before the tick's diffs are
// computed, so an event sent before an ack never reorders around it.
func (s *Server) drainReceive() {
	if s.transport == nil {
		return
	}
	channels := len(s.proto.channels.client)
	for i := 0; i < channels; i++ {
		ch := ChannelID(i)
		for {
			from, frame, ok := s.transport.TryReceive(ch)
			if !ok {
				break
			}
			st := s.clients[from]
			if st == nil {
				// Frame raced a disconnect.
				continue
			}
			st.policy.noteMessage()
			if ch == AckChannel {
				s.handleAck(from, st, frame)
				continue
			}
			q := s.clientFrames[ch]
			if len(q) >= s.cfg.MaxQueuedEvents {
				q = q[1:]
				s.counters.EventOverflows.Add(1)
			}
			s.clientFrames[ch] = append(q, clientFrame{from: from, payload: frame})
		}
	}
}

func (s *Server) handleAck(from ClientID, st *clientState, frame []byte) {
	r := wire.NewReader(frame)
	v, err := r.Uint64()
	if err == nil {
		err = r.Finish()
	}
	if err != nil {
		s.counters.AcksRejected.Add(1)
		s.noteClientFailure(from, AckChannel, "ack", err)
		return
	}
	acked := Tick(v)
	if acked == 0 || acked > s.tick {
		s.counters.AcksRejected.Add(1)
		s.noteClientFailure(from, AckChannel, "ack", fmt.Errorf("tick %d was never sent", acked))
		return
	}
	if st.hasAck && acked <= st.ackedTick {
		return
	}
	st.ackedTick = acked
	st.hasAck = true
	s.counters.AcksAccepted.Add(1)
}

// sendDiffs encodes one diff per distinct baseline and fans the frames
// out. Clients acknowledging the same tick share the encoded frame.
func (s *Server) sendDiffs(snap *worldSnapshot) {
	// Baseline tick 0 keys the full resync frame.
	memo := make(map[Tick][]byte)

	ids := make([]ClientID, 0, len(s.clients))
	for id := range s.clients {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		st := s.clients[id]
		var base *worldSnapshot
		var baseTick Tick
		if st.hasAck {
			if b, ok := s.history.lookup(st.ackedTick); ok {
				base, baseTick = b, st.ackedTick
			} else {
				s.counters.BaselineMisses.Add(1)
			}
		}
		frame, ok := memo[baseTick]
		if !ok {
			diff := computeDiff(s.proto.rules, base, snap)
			frame = encodeDiff(s.proto.rules, &diff)
			memo[baseTick] = frame
		}
		s.transport.Send(id, ReplicationChannel, frame)
		s.counters.DiffsSent.Add(1)
		s.counters.DiffBytes.Add(uint64(len(frame)))
		if base == nil {
			s.counters.Resyncs.Add(1)
		}
		if s.cfg.Sink != nil {
			if err := s.cfg.Sink.RecordDiff(snap.tick, id, base == nil, frame); err != nil {
				s.log.Printf("diff sink: %v", err)
			}
		}
	}
}

func (s *Server) noteClientFailure(from ClientID, ch ChannelID, what string, err error) {
	s.counters.DecodeFailures.Add(1)
	s.log.Printf("dropping %s frame from client %d on channel %d: %v", what, from, ch, err)
	st := s.clients[from]
	if st == nil {
		return
	}
	st.policy.noteFailure(fmt.Sprintf("%s: %v", what, err))
	if tripped, reasons := st.policy.poisoned(); tripped && !st.reported {
		st.reported = true
		s.log.Printf("client %d poisoned: %v", from, reasons)
	}
}

func (s *Server) takeClientFrames(ch ChannelID) []clientFrame {
	frames := s.clientFrames[ch]
	if frames == nil {
		return nil
	}
	delete(s.clientFrames, ch)
	return frames
}

func (s *Server) takeLocalFromClient(ch ChannelID) []any {
	q := s.localFromClient[ch]
	if q == nil {
		return nil
	}
	delete(s.localFromClient, ch)
	return q
}

func (s *Server) queueLocalFromClient(ch ChannelID, v any) {
	q := s.localFromClient[ch]
	if len(q) >= s.cfg.MaxQueuedEvents {
		q = q[1:]
		s.counters.EventOverflows.Add(1)
	}
	s.localFromClient[ch] = append(q, v)
}

func (s *Server) takeLocalServerEvents(ch ChannelID) []any {
	q := s.localServerEvents[ch]
	if q == nil {
		return nil
	}
	delete(s.localServerEvents, ch)
	return q
}

func (s *Server) queueLocalServerEvent(ch ChannelID, v any) {
	q := s.localServerEvents[ch]
	if len(q) >= s.cfg.MaxQueuedEvents {
		q = q[1:]
		s.counters.EventOverflows.Add(1)
	}
	s.localServerEvents[ch] = append(q, v)
}

func (s *Server) broadcastFrame(ch ChannelID, frame []byte) {
	if s.transport == nil || frame == nil {
		return
	}
	s.transport.Broadcast(ch, frame)
	s.counters.EventsSent.Add(1)
	s.counters.EventBytes.Add(uint64(len(frame)))
}

func (s *Server) broadcastExceptFrame(except ClientID, ch ChannelID, frame []byte) {
	if s.transport == nil || frame == nil {
		return
	}
	s.transport.BroadcastExcept(except, ch, frame)
	s.counters.EventsSent.Add(1)
	s.counters.EventBytes.Add(uint64(len(frame)))
}

func (s *Server) sendFrameTo(to ClientID, ch ChannelID, frame []byte) {
	if s.transport == nil || frame == nil {
		return
	}
	s.transport.Send(to, ch, frame)
	s.counters.EventsSent.Add(1)
	s.counters.EventBytes.Add(uint64(len(frame)))
}

// Tick returns the last advanced tick, 0 before the first Advance.
func (s *Server) Tick() Tick { return s.tick }

// Authority reports whether this session owns the world. It is always
// true on a Server and exists so shared handler code can branch the
// same way on either session type.
func (s *Server) Authority() bool { return true }

// Clients lists the connected clients in ascending id order.
func (s *Server) Clients() []ClientID {
	ids := make([]ClientID, 0, len(s.clients))
	for id := range s.clients {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Counters exposes the session's telemetry counters.
func (s *Server) Counters() *telemetry.Counters { return s.counters }

// ClientDiagnostics is one client's replication status.
type ClientDiagnostics struct {
	Client    ClientID
	AckedTick Tick
	HasAck    bool
	Poisoned  bool
	Reasons   []string
}

// Diagnostics reports every connected client's status in ascending id
// order, for debug endpoints and eviction decisions.
func (s *Server) Diagnostics() []ClientDiagnostics {
	out := make([]ClientDiagnostics, 0, len(s.clients))
	for _, id := range s.Clients() {
		st := s.clients[id]
		tripped, reasons := st.policy.poisoned()
		out = append(out, ClientDiagnostics{
			Client:    id,
			AckedTick: st.ackedTick,
			HasAck:    st.hasAck,
			Poisoned:  tripped,
			Reasons:   reasons,
		})
	}
	return out
}
