package worldsync_test

import (
	"fmt"
	"testing"

	"worldsync"
	"worldsync/transport/memnet"
	"worldsync/wire"
	"worldsync/worldmem"
)

type pos struct{ X, Y int32 }

func (p *pos) Kind() worldsync.ComponentType { return "pos" }

func (p *pos) EncodeWire(w *wire.Writer) {
	w.Int32(p.X)
	w.Int32(p.Y)
}

func (p *pos) DecodeWire(r *wire.Reader) error {
	var err error
	if p.X, err = r.Int32(); err != nil {
		return err
	}
	p.Y, err = r.Int32()
	return err
}

type health struct{ HP uint32 }

func (h *health) Kind() worldsync.ComponentType { return "health" }

func (h *health) EncodeWire(w *wire.Writer) { w.Uint32(h.HP) }

func (h *health) DecodeWire(r *wire.Reader) error {
	var err error
	h.HP, err = r.Uint32()
	return err
}

// cloak suppresses health replication. It is never registered, so it
// also proves markers themselves stay off the wire.
type cloak struct{}

func (c *cloak) Kind() worldsync.ComponentType { return "cloak" }

func (c *cloak) EncodeWire(w *wire.Writer) {}

func (c *cloak) DecodeWire(r *wire.Reader) error { return nil }

type owner struct{ Holder worldsync.EntityID }

func (o *owner) Kind() worldsync.ComponentType { return "owner" }

func (o *owner) EncodeWire(w *wire.Writer) { w.Uint64(uint64(o.Holder)) }

func (o *owner) DecodeWire(r *wire.Reader) error {
	v, err := r.Uint64()
	o.Holder = worldsync.EntityID(v)
	return err
}

func (o *owner) MapEntities(m worldsync.Mapper) error {
	holder, err := m.MapEntity(o.Holder)
	if err != nil {
		return err
	}
	o.Holder = holder
	return nil
}

type ping struct{ Seq uint32 }

func (p *ping) EncodeWire(w *wire.Writer) { w.Uint32(p.Seq) }

func (p *ping) DecodeWire(r *wire.Reader) error {
	var err error
	p.Seq, err = r.Uint32()
	return err
}

type interact struct{ Target worldsync.EntityID }

func (i *interact) EncodeWire(w *wire.Writer) { w.Uint64(uint64(i.Target)) }

func (i *interact) DecodeWire(r *wire.Reader) error {
	v, err := r.Uint64()
	i.Target = worldsync.EntityID(v)
	return err
}

func (i *interact) MapEntities(m worldsync.Mapper) error {
	target, err := m.MapEntity(i.Target)
	if err != nil {
		return err
	}
	i.Target = target
	return nil
}

type alert struct{ Code uint32 }

func (a *alert) EncodeWire(w *wire.Writer) { w.Uint32(a.Code) }

func (a *alert) DecodeWire(r *wire.Reader) error {
	var err error
	a.Code, err = r.Uint32()
	return err
}

type bomb struct {
	Target worldsync.EntityID
	Fuse   uint32
}

func (b *bomb) EncodeWire(w *wire.Writer) {
	w.Uint64(uint64(b.Target))
	w.Uint32(b.Fuse)
}

func (b *bomb) DecodeWire(r *wire.Reader) error {
	v, err := r.Uint64()
	if err != nil {
		return err
	}
	b.Target = worldsync.EntityID(v)
	b.Fuse, err = r.Uint32()
	return err
}

func (b *bomb) MapEntities(m worldsync.Mapper) error {
	target, err := m.MapEntity(b.Target)
	if err != nil {
		return err
	}
	b.Target = target
	return nil
}

// notice carries any registered component, encoded through the type
// registry.
type notice struct{ Comp worldsync.Component }

func encodeNotice(rules *worldsync.ReplicationRules, w *wire.Writer, ev *notice) error {
	if !rules.Registered(ev.Comp.Kind()) {
		return fmt.Errorf("component %q not registered", ev.Comp.Kind())
	}
	w.String(string(ev.Comp.Kind()))
	ev.Comp.EncodeWire(w)
	return nil
}

func decodeNotice(rules *worldsync.ReplicationRules, r *wire.Reader) (notice, error) {
	kind, err := r.String()
	if err != nil {
		return notice{}, err
	}
	comp, ok := rules.NewComponent(worldsync.ComponentType(kind))
	if !ok {
		return notice{}, fmt.Errorf("unknown component %q", kind)
	}
	if err := comp.DecodeWire(r); err != nil {
		return notice{}, err
	}
	return notice{Comp: comp}, nil
}

// protoBundle is one protocol registration, shared by every session in
// a test. Registration order here is the wire contract, so tests that
// build several bundles rely on this function being the single source
// of that order.
type protoBundle struct {
	proto    *worldsync.Protocol
	ping     *worldsync.ClientEvent[ping]
	interact *worldsync.ClientEvent[interact]
	alert    *worldsync.ServerEvent[alert]
	bomb     *worldsync.ServerEvent[bomb]
	notice   *worldsync.ServerEvent[notice]
}

func newBundle() *protoBundle {
	p := worldsync.NewProtocol()
	worldsync.Replicate[pos](p)
	worldsync.Replicate[health](p)
	worldsync.Replicate[owner](p)
	worldsync.RegisterParentSync(p)
	worldsync.NotReplicateIfPresent[health, cloak](p)
	b := &protoBundle{
		proto:    p,
		ping:     worldsync.RegisterClientEvent[ping](p, worldsync.ReliableDefault()),
		interact: worldsync.RegisterMappedClientEvent[interact](p, worldsync.ReliableDefault()),
		alert:    worldsync.RegisterServerEvent[alert](p, worldsync.ReliableDefault()),
		bomb:     worldsync.RegisterMappedServerEvent[bomb](p, worldsync.ReliableDefault()),
		notice:   worldsync.RegisterServerReflectEvent[notice](p, worldsync.ReliableDefault(), encodeNotice, decodeNotice),
	}
	p.Finalize()
	return b
}

// rig wires a server world to an in-process network.
type rig struct {
	bundle *protoBundle
	net    *memnet.Network
	server *worldsync.Server
	sworld *worldmem.World
	tick   worldsync.Tick
}

func newRig(t *testing.T, cfg worldsync.Config) *rig {
	t.Helper()
	b := newBundle()
	net := memnet.New(b.proto.Channels())
	sworld := worldmem.New()
	return &rig{
		bundle: b,
		net:    net,
		server: worldsync.NewServer(b.proto, sworld, net.ServerTransport(), cfg),
		sworld: sworld,
	}
}

func (r *rig) addClient(t *testing.T, cfg worldsync.Config) (*worldsync.Client, *worldmem.World, *memnet.Conn) {
	t.Helper()
	conn := r.net.Connect()
	w := worldmem.New()
	return worldsync.NewClient(r.bundle.proto, w, conn, cfg), w, conn
}

// step advances the server by one tick.
func (r *rig) step(t *testing.T) worldsync.Tick {
	t.Helper()
	r.tick++
	if err := r.server.Advance(r.tick); err != nil {
		t.Fatalf("server advance to tick %d: %v", r.tick, err)
	}
	return r.tick
}

func pump(t *testing.T, c *worldsync.Client) {
	t.Helper()
	if err := c.Advance(); err != nil {
		t.Fatalf("client advance: %v", err)
	}
}
