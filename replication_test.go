package worldsync_test

import (
	"errors"
	"testing"

	"worldsync"
	"worldsync/worldmem"
)

func TestFirstSyncConvergesOnFreshClient(t *testing.T) {
	r := newRig(t, worldsync.Config{})
	e1 := r.sworld.SpawnReplicated()
	r.sworld.Set(e1, &pos{X: 1, Y: 2})
	r.sworld.Set(e1, &health{HP: 10})
	e2 := r.sworld.SpawnReplicated()
	r.sworld.Set(e2, &pos{X: 3, Y: 4})

	client, cworld, _ := r.addClient(t, worldsync.Config{})
	// Local-only entities shift the client's id space so server and
	// client ids cannot accidentally line up.
	cworld.Spawn()
	cworld.Spawn()
	cworld.Spawn()

	if !r.server.Authority() {
		t.Fatalf("expected server to report authority")
	}
	if client.Authority() {
		t.Fatalf("expected client to report no authority")
	}

	r.step(t)
	pump(t, client)

	tick, ok := client.Tick()
	if !ok || tick != 1 {
		t.Fatalf("expected client at tick 1, got %d (ok=%v)", tick, ok)
	}
	l1, ok := client.Entities().Translate(e1)
	if !ok {
		t.Fatalf("expected entity %d to be mapped", e1)
	}
	if l1 == e1 {
		t.Fatalf("expected local id to diverge from server id %d", e1)
	}
	comp, ok := cworld.Get(l1, "pos")
	if !ok {
		t.Fatalf("expected pos on local entity %d", l1)
	}
	if p := comp.(*pos); p.X != 1 || p.Y != 2 {
		t.Fatalf("expected pos {1 2}, got {%d %d}", p.X, p.Y)
	}
	comp, ok = cworld.Get(l1, "health")
	if !ok {
		t.Fatalf("expected health on local entity %d", l1)
	}
	if h := comp.(*health); h.HP != 10 {
		t.Fatalf("expected health 10, got %d", h.HP)
	}
	l2, ok := client.Entities().Translate(e2)
	if !ok {
		t.Fatalf("expected entity %d to be mapped", e2)
	}
	if _, ok := cworld.Get(l2, "pos"); !ok {
		t.Fatalf("expected pos on local entity %d", l2)
	}
	if got := r.server.Counters().Resyncs.Load(); got != 1 {
		t.Fatalf("expected 1 resync, got %d", got)
	}
}

func TestAckedClientsReceiveDeltasAndEmptyTicks(t *testing.T) {
	r := newRig(t, worldsync.Config{})
	e1 := r.sworld.SpawnReplicated()
	r.sworld.Set(e1, &pos{X: 1, Y: 1})

	client, cworld, _ := r.addClient(t, worldsync.Config{})
	r.step(t)
	pump(t, client)

	r.sworld.Set(e1, &pos{X: 5, Y: 1})
	r.step(t)
	pump(t, client)

	l1, _ := client.Entities().Translate(e1)
	comp, _ := cworld.Get(l1, "pos")
	if p := comp.(*pos); p.X != 5 {
		t.Fatalf("expected delta to move X to 5, got %d", p.X)
	}
	if got := r.server.Counters().Resyncs.Load(); got != 1 {
		t.Fatalf("expected only the first frame to resync, got %d", got)
	}

	// A tick with no world changes still sends a frame so the client
	// tick advances.
	r.step(t)
	pump(t, client)
	tick, _ := client.Tick()
	if tick != 3 {
		t.Fatalf("expected empty diff to advance client to tick 3, got %d", tick)
	}
	if got := r.server.Counters().DiffsSent.Load(); got != 3 {
		t.Fatalf("expected 3 diffs sent, got %d", got)
	}
	if got := r.server.Counters().AcksAccepted.Load(); got != 2 {
		t.Fatalf("expected 2 acks accepted, got %d", got)
	}
}

func TestTwoClientsConvergeFromDifferentBaselines(t *testing.T) {
	r := newRig(t, worldsync.Config{})
	e1 := r.sworld.SpawnReplicated()
	r.sworld.Set(e1, &pos{X: 1, Y: 1})
	r.sworld.Set(e1, &health{HP: 5})

	c1, w1, _ := r.addClient(t, worldsync.Config{})
	r.step(t)
	pump(t, c1)

	// The second client joins a tick later, so tick 2 resyncs it while
	// the first takes a delta against tick 1.
	e2 := r.sworld.SpawnReplicated()
	r.sworld.Set(e2, &pos{X: 2, Y: 2})
	c2, w2, _ := r.addClient(t, worldsync.Config{})
	r.step(t)
	pump(t, c1)
	pump(t, c2)

	// One tick mixing update, despawn and a marker-suppressed spawn.
	r.sworld.Set(e1, &pos{X: 10, Y: 1})
	r.sworld.Despawn(e2)
	e3 := r.sworld.SpawnReplicated()
	r.sworld.Set(e3, &pos{X: 3, Y: 3})
	r.sworld.Set(e3, &health{HP: 9})
	r.sworld.Set(e3, &cloak{})
	r.step(t)
	pump(t, c1)
	pump(t, c2)

	check := func(name string, c *worldsync.Client, w *worldmem.World) {
		t.Helper()
		tick, _ := c.Tick()
		if tick != 3 {
			t.Fatalf("%s: expected tick 3, got %d", name, tick)
		}
		l1, ok := c.Entities().Translate(e1)
		if !ok {
			t.Fatalf("%s: expected entity %d mapped", name, e1)
		}
		comp, _ := w.Get(l1, "pos")
		if p := comp.(*pos); p.X != 10 {
			t.Fatalf("%s: expected X 10 on entity %d, got %d", name, l1, p.X)
		}
		comp, ok = w.Get(l1, "health")
		if !ok {
			t.Fatalf("%s: expected health to survive on entity %d", name, l1)
		}
		if h := comp.(*health); h.HP != 5 {
			t.Fatalf("%s: expected health 5, got %d", name, h.HP)
		}
		if _, ok := c.Entities().Translate(e2); ok {
			t.Fatalf("%s: expected mapping for despawned %d released", name, e2)
		}
		l3, ok := c.Entities().Translate(e3)
		if !ok {
			t.Fatalf("%s: expected entity %d mapped", name, e3)
		}
		comp, _ = w.Get(l3, "pos")
		if p := comp.(*pos); p.X != 3 || p.Y != 3 {
			t.Fatalf("%s: expected pos {3 3}, got {%d %d}", name, p.X, p.Y)
		}
		if _, ok := w.Get(l3, "health"); ok {
			t.Fatalf("%s: expected marker to suppress health on entity %d", name, l3)
		}
		if got := len(w.Entities()); got != 2 {
			t.Fatalf("%s: expected 2 live entities, got %d", name, got)
		}
	}
	check("first client", c1, w1)
	check("late client", c2, w2)

	if got := r.server.Counters().Resyncs.Load(); got != 2 {
		t.Fatalf("expected one resync per join, got %d", got)
	}
	if got := r.server.Counters().DiffsSent.Load(); got != 5 {
		t.Fatalf("expected 5 diffs sent, got %d", got)
	}
}

func TestLostDiffHealsThroughUnchangedBaseline(t *testing.T) {
	r := newRig(t, worldsync.Config{})
	e1 := r.sworld.SpawnReplicated()
	r.sworld.Set(e1, &pos{X: 1, Y: 1})

	client, cworld, conn := r.addClient(t, worldsync.Config{})
	r.step(t)
	pump(t, client)

	r.sworld.Set(e1, &pos{X: 2, Y: 1})
	r.net.DropServerFrames(conn.ID(), worldsync.ReplicationChannel, 1)
	r.step(t)
	pump(t, client)

	tick, _ := client.Tick()
	if tick != 1 {
		t.Fatalf("expected client stuck at tick 1 after the loss, got %d", tick)
	}

	// The client keeps acking tick 1, so the next diff is computed
	// against the same baseline and carries the change again.
	r.sworld.Set(e1, &pos{X: 3, Y: 1})
	r.step(t)
	pump(t, client)

	tick, _ = client.Tick()
	if tick != 3 {
		t.Fatalf("expected client to reach tick 3, got %d", tick)
	}
	l1, _ := client.Entities().Translate(e1)
	comp, _ := cworld.Get(l1, "pos")
	if p := comp.(*pos); p.X != 3 {
		t.Fatalf("expected X 3 after recovery, got %d", p.X)
	}
	if got := r.server.Counters().Resyncs.Load(); got != 1 {
		t.Fatalf("expected recovery without a resync, got %d resyncs", got)
	}
	if got := r.server.Counters().AcksRejected.Load(); got != 0 {
		t.Fatalf("expected repeated acks to be tolerated, got %d rejections", got)
	}
}

func TestEvictedBaselineForcesResyncAndReconcile(t *testing.T) {
	r := newRig(t, worldsync.Config{HistoryCapacity: 2})
	e1 := r.sworld.SpawnReplicated()
	r.sworld.Set(e1, &pos{X: 1, Y: 1})
	e2 := r.sworld.SpawnReplicated()
	r.sworld.Set(e2, &pos{X: 2, Y: 2})

	client, cworld, _ := r.addClient(t, worldsync.Config{})
	r.step(t)
	pump(t, client)
	le2, ok := client.Entities().Translate(e2)
	if !ok {
		t.Fatalf("expected entity %d mapped after first sync", e2)
	}

	// The client stalls while the server keeps ticking past the
	// history window.
	r.step(t)
	r.sworld.Despawn(e2)
	e3 := r.sworld.SpawnReplicated()
	r.sworld.Set(e3, &pos{X: 3, Y: 3})
	r.step(t)
	r.step(t)

	pump(t, client)

	tick, _ := client.Tick()
	if tick != 4 {
		t.Fatalf("expected client at tick 4, got %d", tick)
	}
	if got := r.server.Counters().BaselineMisses.Load(); got != 2 {
		t.Fatalf("expected 2 baseline misses, got %d", got)
	}
	if got := r.server.Counters().Resyncs.Load(); got != 3 {
		t.Fatalf("expected 3 resyncs (initial plus two evictions), got %d", got)
	}
	if got := r.server.Counters().HistoryEvictions.Load(); got != 2 {
		t.Fatalf("expected 2 history evictions, got %d", got)
	}

	// Reconcile dropped the entity the resync no longer carries.
	if _, ok := client.Entities().Translate(e2); ok {
		t.Fatalf("expected mapping for despawned entity %d to be released", e2)
	}
	if cworld.Alive(le2) {
		t.Fatalf("expected local entity %d despawned by reconcile", le2)
	}
	l3, ok := client.Entities().Translate(e3)
	if !ok {
		t.Fatalf("expected entity %d mapped after resync", e3)
	}
	comp, _ := cworld.Get(l3, "pos")
	if p := comp.(*pos); p.X != 3 || p.Y != 3 {
		t.Fatalf("expected pos {3 3}, got {%d %d}", p.X, p.Y)
	}
	if got := len(cworld.Entities()); got != 2 {
		t.Fatalf("expected 2 live entities after reconcile, got %d", got)
	}
	if got := client.Counters().StaleDiffs.Load(); got != 0 {
		t.Fatalf("expected no stale diffs, got %d", got)
	}
}

func TestComponentRemovalAndDespawnReachClient(t *testing.T) {
	r := newRig(t, worldsync.Config{})
	e1 := r.sworld.SpawnReplicated()
	r.sworld.Set(e1, &pos{X: 1, Y: 1})
	r.sworld.Set(e1, &health{HP: 3})

	client, cworld, _ := r.addClient(t, worldsync.Config{})
	r.step(t)
	pump(t, client)
	l1, _ := client.Entities().Translate(e1)

	r.sworld.Remove(e1, "health")
	r.step(t)
	pump(t, client)
	if _, ok := cworld.Get(l1, "health"); ok {
		t.Fatalf("expected health removed from local entity %d", l1)
	}
	if _, ok := cworld.Get(l1, "pos"); !ok {
		t.Fatalf("expected pos to survive the removal")
	}

	r.sworld.Despawn(e1)
	r.step(t)
	pump(t, client)
	if cworld.Alive(l1) {
		t.Fatalf("expected local entity %d despawned", l1)
	}
	if _, ok := client.Entities().Translate(e1); ok {
		t.Fatalf("expected mapping for %d released after despawn", e1)
	}
}

func TestExclusionMarkerControlsReplication(t *testing.T) {
	r := newRig(t, worldsync.Config{})
	e1 := r.sworld.SpawnReplicated()
	r.sworld.Set(e1, &pos{X: 1, Y: 1})
	r.sworld.Set(e1, &health{HP: 7})
	r.sworld.Set(e1, &cloak{})

	client, cworld, _ := r.addClient(t, worldsync.Config{})
	r.step(t)
	pump(t, client)
	l1, _ := client.Entities().Translate(e1)
	if _, ok := cworld.Get(l1, "health"); ok {
		t.Fatalf("expected cloak to suppress health replication")
	}
	if _, ok := cworld.Get(l1, "pos"); !ok {
		t.Fatalf("expected pos to replicate despite the marker")
	}

	// Dropping the marker surfaces the component as an update.
	r.sworld.Remove(e1, "cloak")
	r.step(t)
	pump(t, client)
	comp, ok := cworld.Get(l1, "health")
	if !ok {
		t.Fatalf("expected health to appear once the marker is gone")
	}
	if h := comp.(*health); h.HP != 7 {
		t.Fatalf("expected health 7, got %d", h.HP)
	}

	// Restoring the marker removes it again.
	r.sworld.Set(e1, &cloak{})
	r.step(t)
	pump(t, client)
	if _, ok := cworld.Get(l1, "health"); ok {
		t.Fatalf("expected health removed once the marker returns")
	}
}

func TestParentLinkRemapsAcrossForwardReference(t *testing.T) {
	r := newRig(t, worldsync.Config{})
	// The child spawns first so its link names a server id that only
	// appears later in the same diff.
	child := r.sworld.SpawnReplicated()
	parent := r.sworld.SpawnReplicated()
	r.sworld.Set(child, &pos{X: 1, Y: 1})
	r.sworld.Set(parent, &pos{X: 2, Y: 2})
	r.sworld.Set(child, &worldsync.ChildOf{Parent: parent})

	client, cworld, _ := r.addClient(t, worldsync.Config{})
	cworld.Spawn()
	cworld.Spawn()
	cworld.Spawn()

	r.step(t)
	pump(t, client)

	lchild, ok := client.Entities().Translate(child)
	if !ok {
		t.Fatalf("expected child %d mapped", child)
	}
	lparent, ok := client.Entities().Translate(parent)
	if !ok {
		t.Fatalf("expected parent %d mapped", parent)
	}
	comp, ok := cworld.Get(lchild, worldsync.ChildOfKind)
	if !ok {
		t.Fatalf("expected child link on local entity %d", lchild)
	}
	link := comp.(*worldsync.ChildOf)
	if link.Parent != lparent {
		t.Fatalf("expected link to local parent %d, got %d", lparent, link.Parent)
	}
	if link.Parent == parent {
		t.Fatalf("expected link rewritten away from server id %d", parent)
	}
}

func TestReconnectBuildsFreshSession(t *testing.T) {
	r := newRig(t, worldsync.Config{})
	e1 := r.sworld.SpawnReplicated()
	r.sworld.Set(e1, &pos{X: 9, Y: 9})

	c1, _, conn1 := r.addClient(t, worldsync.Config{})
	r.step(t)
	pump(t, c1)

	conn1.Close()
	if err := c1.Advance(); !errors.Is(err, worldsync.ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected after close, got %v", err)
	}

	c2, w2, conn2 := r.addClient(t, worldsync.Config{})
	r.step(t)
	pump(t, c2)

	clients := r.server.Clients()
	if len(clients) != 1 || clients[0] != conn2.ID() {
		t.Fatalf("expected only client %d connected, got %v", conn2.ID(), clients)
	}
	l1, ok := c2.Entities().Translate(e1)
	if !ok {
		t.Fatalf("expected fresh client to map entity %d", e1)
	}
	comp, _ := w2.Get(l1, "pos")
	if p := comp.(*pos); p.X != 9 {
		t.Fatalf("expected fresh client to resync pos, got X %d", p.X)
	}
}
