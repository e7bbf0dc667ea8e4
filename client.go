package worldsync

import (
	"fmt"
	"sort"

	"worldsync/telemetry"
	"worldsync/wire"
)

type deferredEvent struct {
	payload   []byte
	remaining int
}

// decoded diff records, materialized before any world mutation so a
// frame that fails mid-decode never half-applies.
type spawnOp struct {
	server     EntityID
	components []Component
}

type updateOp struct {
	server     EntityID
	components []Component
	removed    []ComponentType
}

type diffOps struct {
	spawns  []spawnOp
	updates []updateOp
}

// Client is the replica session. One instance mirrors one server world
// into a local world; all methods must be called from a single
// goroutine.
type Client struct {
	proto     *Protocol
	world     ClientWorld
	transport ClientTransport
	cfg       Config
	log       telemetry.Logger
	counters  *telemetry.Counters

	entities *EntityMap
	tick     Tick
	hasTick  bool

	frames   map[ChannelID][][]byte
	deferred map[ChannelID][]deferredEvent
	policy   failurePolicy
	reported bool
}

// NewClient builds a client session over a finalized protocol.
func NewClient(p *Protocol, world ClientWorld, transport ClientTransport, cfg Config) *Client {
	if !p.Finalized() {
		panic("worldsync: NewClient requires a finalized protocol")
	}
	if transport == nil {
		panic("worldsync: NewClient requires a transport")
	}
	cfg = cfg.withDefaults()
	return &Client{
		proto:     p,
		world:     world,
		transport: transport,
		cfg:       cfg,
		log:       cfg.Logger,
		counters:  &telemetry.Counters{},
		entities:  NewEntityMap(world.SpawnEntity),
		frames:    make(map[ChannelID][][]byte),
		deferred:  make(map[ChannelID][]deferredEvent),
		policy:    newFailurePolicy(cfg.FailureThreshold, cfg.FailureMinSamples),
	}
}

// Advance drains the transport: replication diffs are applied to the
// world in arrival order, event frames are queued for their typed
// handles, and the last applied tick is acknowledged. Malformed frames
// are dropped and counted; Advance only returns an error once the
// session is poisoned or the transport is down.
func (c *Client) Advance() error {
	if !c.transport.Connected() {
		return ErrNotConnected
	}

	for {
		frame, ok := c.transport.TryReceive(ReplicationChannel)
		if !ok {
			break
		}
		c.policy.noteMessage()
		c.applyFrame(frame)
	}
	c.collectEventFrames()

	if c.hasTick {
		var w wire.Writer
		w.Uint64(uint64(c.tick))
		c.transport.Send(AckChannel, append([]byte(nil), w.Bytes()...))
		c.counters.AcksSent.Add(1)
	}
	c.counters.Publish(c.cfg.Metrics)

	if tripped, reasons := c.policy.poisoned(); tripped {
		if !c.reported {
			c.reported = true
			c.log.Printf("session poisoned: %v", reasons)
		}
		return fmt.Errorf("%w: %v", ErrSessionPoisoned, reasons)
	}
	return nil
}

func (c *Client) applyFrame(frame []byte) {
	diff, err := decodeDiff(c.proto.rules, frame)
	if err != nil {
		c.noteFailure(ReplicationChannel, "diff", err)
		return
	}
	if c.hasTick && diff.Tick <= c.tick {
		c.counters.StaleDiffs.Add(1)
		return
	}
	ops, err := c.materialize(&diff)
	if err != nil {
		c.noteFailure(ReplicationChannel, "diff", err)
		return
	}
	c.apply(&diff, ops)
	c.tick = diff.Tick
	c.hasTick = true
}

// materialize decodes every component in the diff up front. A diff
// with any undecodable component is rejected whole; the baseline then
// stays unacknowledged and the server's next frame heals the gap.
func (c *Client) materialize(d *WorldDiff) (diffOps, error) {
	var ops diffOps
	for _, rec := range d.Spawns {
		op := spawnOp{server: rec.Entity}
		for _, change := range rec.Components {
			comp, err := c.decodeComponent(change)
			if err != nil {
				return diffOps{}, err
			}
			op.components = append(op.components, comp)
		}
		ops.spawns = append(ops.spawns, op)
	}
	for _, rec := range d.Updates {
		op := updateOp{server: rec.Entity, removed: rec.Removed}
		for _, change := range rec.Changed {
			comp, err := c.decodeComponent(change)
			if err != nil {
				return diffOps{}, err
			}
			op.components = append(op.components, comp)
		}
		ops.updates = append(ops.updates, op)
	}
	return ops, nil
}

func (c *Client) decodeComponent(change ComponentChange) (Component, error) {
	comp, ok := c.proto.rules.NewComponent(change.Kind)
	if !ok {
		return nil, &DecodeError{Channel: ReplicationChannel, Reason: fmt.Sprintf("unregistered component %q", change.Kind)}
	}
	r := wire.NewReader(change.Data)
	if err := comp.DecodeWire(r); err != nil {
		return nil, &DecodeError{Channel: ReplicationChannel, Reason: string(change.Kind), Err: err}
	}
	if err := r.Finish(); err != nil {
		return nil, &DecodeError{Channel: ReplicationChannel, Reason: string(change.Kind), Err: err}
	}
	return comp, nil
}

// apply mutates the world in record class order: spawns, updates,
// despawns. Spawn records reserve local entities before components are
// rewritten, so components may reference entities spawned later in the
// same diff.
func (c *Client) apply(d *WorldDiff, ops diffOps) {
	if d.Resync {
		c.reconcile(ops.spawns)
	}
	for _, op := range ops.spawns {
		local := c.entities.Resolve(op.server)
		for _, comp := range op.components {
			c.applyComponent(local, comp)
		}
	}
	for _, op := range ops.updates {
		local, ok := c.entities.Translate(op.server)
		if !ok {
			c.counters.UnknownEntities.Add(1)
			c.noteFailure(ReplicationChannel, "update", fmt.Errorf("entity %d was never spawned", op.server))
			continue
		}
		for _, comp := range op.components {
			c.applyComponent(local, comp)
		}
		for _, kind := range op.removed {
			c.world.RemoveComponent(local, kind)
		}
	}
	for _, server := range d.Despawns {
		local, ok := c.entities.Translate(server)
		if !ok {
			c.counters.UnknownEntities.Add(1)
			continue
		}
		c.world.DespawnEntity(local)
		c.entities.Release(server)
	}
}

func (c *Client) applyComponent(local EntityID, comp Component) {
	if mapper, ok := comp.(EntityMapper); ok {
		if err := mapper.MapEntities(c.entities.ReservingView()); err != nil {
			c.noteFailure(ReplicationChannel, string(comp.Kind()), err)
			return
		}
	}
	c.world.ApplyComponent(local, comp)
}

// reconcile drops every mapped entity a resync no longer carries. The
// resync is the complete world, so anything missing from it despawned
// while this client had no usable baseline.
func (c *Client) reconcile(spawns []spawnOp) {
	present := make(map[EntityID]bool, len(spawns))
	for _, op := range spawns {
		present[op.server] = true
	}
	var gone []EntityID
	for server := range c.entities.toLocal {
		if !present[server] {
			gone = append(gone, server)
		}
	}
	sort.Slice(gone, func(i, j int) bool { return gone[i] < gone[j] })
	for _, server := range gone {
		local, _ := c.entities.Translate(server)
		c.world.DespawnEntity(local)
		c.entities.Release(server)
	}
}

func (c *Client) collectEventFrames() {
	channels := len(c.proto.channels.server)
	for i := int(ReplicationChannel) + 1; i < channels; i++ {
		ch := ChannelID(i)
		for {
			frame, ok := c.transport.TryReceive(ch)
			if !ok {
				break
			}
			c.policy.noteMessage()
			q := c.frames[ch]
			if len(q) >= c.cfg.MaxQueuedEvents {
				q = q[1:]
				c.counters.EventOverflows.Add(1)
			}
			c.frames[ch] = append(q, frame)
		}
	}
}

func (c *Client) takeFrames(ch ChannelID) [][]byte {
	frames := c.frames[ch]
	if frames == nil {
		return nil
	}
	delete(c.frames, ch)
	return frames
}

func (c *Client) takeDeferred(ch ChannelID) []deferredEvent {
	q := c.deferred[ch]
	if q == nil {
		return nil
	}
	delete(c.deferred, ch)
	return q
}

func (c *Client) pushDeferred(ch ChannelID, payload []byte, remaining int) {
	c.counters.EventsDeferred.Add(1)
	c.deferred[ch] = append(c.deferred[ch], deferredEvent{payload: payload, remaining: remaining})
}

func (c *Client) sendFrame(ch ChannelID, frame []byte) error {
	if !c.transport.Connected() {
		return ErrNotConnected
	}
	c.transport.Send(ch, frame)
	c.counters.EventsSent.Add(1)
	c.counters.EventBytes.Add(uint64(len(frame)))
	return nil
}

func (c *Client) noteFailure(ch ChannelID, what string, err error) {
	c.counters.DecodeFailures.Add(1)
	c.log.Printf("dropping %s frame on channel %d: %v", what, ch, err)
	c.policy.noteFailure(fmt.Sprintf("%s: %v", what, err))
}

// Entities exposes the server↔local pairing, e.g. for custom event
// payloads or debug views.
func (c *Client) Entities() *EntityMap { return c.entities }

// Tick returns the last applied server tick; ok is false before the
// first diff lands.
func (c *Client) Tick() (Tick, bool) { return c.tick, c.hasTick }

// Connected reports the transport's connection state.
func (c *Client) Connected() bool { return c.transport.Connected() }

// Authority reports whether this session owns the world; on a Client
// it is always false.
func (c *Client) Authority() bool { return false }

// Counters exposes the session's telemetry counters.
func (c *Client) Counters() *telemetry.Counters { return c.counters }
