package worldsync

import (
	"bytes"
	"fmt"
	"sort"

	"worldsync/wire"
)

// ComponentChange carries one component's encoded value inside a diff.
type ComponentChange struct {
	Kind ComponentType
	Data []byte
}

// SpawnRecord introduces an entity and its full component set.
type SpawnRecord struct {
	Entity     EntityID
	Components []ComponentChange
}

// UpdateRecord carries the changed and removed components of an
// already replicated entity.
type UpdateRecord struct {
	Entity  EntityID
	Changed []ComponentChange
	Removed []ComponentType
}

// WorldDiff is everything that changed between a client's baseline
// tick and Tick. Records are sorted by entity id and are applied in
// class order: spawns, then updates, then despawns. A Resync diff
// carries the complete world as spawn records and tells the client to
// drop whatever state its baseline had.
type WorldDiff struct {
	Tick     Tick
	Resync   bool
	Spawns   []SpawnRecord
	Updates  []UpdateRecord
	Despawns []EntityID
}

// Empty reports whether the diff carries no changes. Empty diffs are
// still sent so the client's acknowledged tick keeps advancing in an
// idle world.
func (d *WorldDiff) Empty() bool {
	return !d.Resync && len(d.Spawns) == 0 && len(d.Updates) == 0 && len(d.Despawns) == 0
}

// snapshotComponent is one encoded component inside a snapshot, keyed
// by the kind's wire id. Snapshots store encodings rather than values
// so the differ can compare ticks byte for byte.
type snapshotComponent struct {
	id   uint16
	data []byte
}

type snapshotEntity struct {
	id    EntityID
	comps []snapshotComponent
}

// worldSnapshot is the encoded replicated state of one tick, entities
// sorted by id and components by wire id.
type worldSnapshot struct {
	tick     Tick
	entities []snapshotEntity
}

// captureSnapshot encodes every replicated component of every flagged
// entity. An entity whose component is suppressed by an exclusion
// marker simply omits that component; if all of its components are
// suppressed it is still replicated, as an entity with no components.
func captureSnapshot(rules *ReplicationRules, world ServerWorld, tick Tick) *worldSnapshot {
	ids := append([]EntityID(nil), world.ReplicatedEntities()...)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	snap := &worldSnapshot{tick: tick, entities: make([]snapshotEntity, 0, len(ids))}
	var w wire.Writer
	for i, id := range ids {
		if i > 0 && ids[i-1] == id {
			continue
		}
		ent := snapshotEntity{id: id}
		for _, rule := range rules.ordered {
			if !world.HasComponent(id, rule.kind) {
				continue
			}
			if excludedByMarker(world, id, rule) {
				continue
			}
			comp, ok := world.Component(id, rule.kind)
			if !ok {
				continue
			}
			w.Reset()
			comp.EncodeWire(&w)
			data := append([]byte(nil), w.Bytes()...)
			ent.comps = append(ent.comps, snapshotComponent{id: rule.id, data: data})
		}
		snap.entities = append(snap.entities, ent)
	}
	return snap
}

func excludedByMarker(world ServerWorld, id EntityID, rule *replicationRule) bool {
	for _, marker := range rule.excluded {
		if world.HasComponent(id, marker) {
			return true
		}
	}
	return false
}

// computeDiff walks two snapshots and emits the change records that
// turn base into cur. A nil base produces a resync diff carrying the
// whole of cur.
func computeDiff(rules *ReplicationRules, base, cur *worldSnapshot) WorldDiff {
	diff := WorldDiff{Tick: cur.tick}
	if base == nil {
		diff.Resync = true
		for _, ent := range cur.entities {
			diff.Spawns = append(diff.Spawns, spawnRecord(rules, ent))
		}
		return diff
	}

	bi, ci := 0, 0
	for bi < len(base.entities) || ci < len(cur.entities) {
		switch {
		case bi == len(base.entities) || (ci < len(cur.entities) && cur.entities[ci].id < base.entities[bi].id):
			diff.Spawns = append(diff.Spawns, spawnRecord(rules, cur.entities[ci]))
			ci++
		case ci == len(cur.entities) || base.entities[bi].id < cur.entities[ci].id:
			diff.Despawns = append(diff.Despawns, base.entities[bi].id)
			bi++
		default:
			if upd, ok := updateRecord(rules, base.entities[bi], cur.entities[ci]); ok {
				diff.Updates = append(diff.Updates, upd)
			}
			bi++
			ci++
		}
	}
	return diff
}

func spawnRecord(rules *ReplicationRules, ent snapshotEntity) SpawnRecord {
	rec := SpawnRecord{Entity: ent.id}
	for _, c := range ent.comps {
		rec.Components = append(rec.Components, ComponentChange{Kind: kindByID(rules, c.id), Data: c.data})
	}
	return rec
}

func updateRecord(rules *ReplicationRules, base, cur snapshotEntity) (UpdateRecord, bool) {
	upd := UpdateRecord{Entity: cur.id}
	bi, ci := 0, 0
	for bi < len(base.comps) || ci < len(cur.comps) {
		switch {
		case bi == len(base.comps) || (ci < len(cur.comps) && cur.comps[ci].id < base.comps[bi].id):
			c := cur.comps[ci]
			upd.Changed = append(upd.Changed, ComponentChange{Kind: kindByID(rules, c.id), Data: c.data})
			ci++
		case ci == len(cur.comps) || base.comps[bi].id < cur.comps[ci].id:
			upd.Removed = append(upd.Removed, kindByID(rules, base.comps[bi].id))
			bi++
		default:
			if !bytes.Equal(base.comps[bi].data, cur.comps[ci].data) {
				c := cur.comps[ci]
				upd.Changed = append(upd.Changed, ComponentChange{Kind: kindByID(rules, c.id), Data: c.data})
			}
			bi++
			ci++
		}
	}
	if len(upd.Changed) == 0 && len(upd.Removed) == 0 {
		return UpdateRecord{}, false
	}
	return upd, true
}

func kindByID(rules *ReplicationRules, id uint16) ComponentType {
	rule, ok := rules.ruleByID(id)
	if !ok {
		panic(fmt.Sprintf("worldsync: snapshot references unregistered component id %d", id))
	}
	return rule.kind
}

const diffResyncFlag = 1 << 0

// encodeDiff lays a diff out as: tick, flags, then the three record
// classes each behind a count. Component kinds travel as their wire
// ids.
func encodeDiff(rules *ReplicationRules, d *WorldDiff) []byte {
	var w wire.Writer
	w.Uint64(uint64(d.Tick))
	var flags uint8
	if d.Resync {
		flags |= diffResyncFlag
	}
	w.Uint8(flags)

	w.Uint32(uint32(len(d.Spawns)))
	for _, rec := range d.Spawns {
		w.Uint64(uint64(rec.Entity))
		w.Uint16(uint16(len(rec.Components)))
		for _, c := range rec.Components {
			w.Uint16(wireID(rules, c.Kind))
			w.Bytes32(c.Data)
		}
	}

	w.Uint32(uint32(len(d.Updates)))
	for _, rec := range d.Updates {
		w.Uint64(uint64(rec.Entity))
		w.Uint16(uint16(len(rec.Changed)))
		for _, c := range rec.Changed {
			w.Uint16(wireID(rules, c.Kind))
			w.Bytes32(c.Data)
		}
		w.Uint16(uint16(len(rec.Removed)))
		for _, kind := range rec.Removed {
			w.Uint16(wireID(rules, kind))
		}
	}

	w.Uint32(uint32(len(d.Despawns)))
	for _, id := range d.Despawns {
		w.Uint64(uint64(id))
	}
	return append([]byte(nil), w.Bytes()...)
}

func wireID(rules *ReplicationRules, kind ComponentType) uint16 {
	rule, ok := rules.byKind[kind]
	if !ok {
		panic(fmt.Sprintf("worldsync: encoding unregistered component %q", kind))
	}
	return rule.id
}

// decodeDiff parses a replication frame. Errors wrap the wire
// sentinels so callers can classify truncation against unknown ids.
func decodeDiff(rules *ReplicationRules, frame []byte) (WorldDiff, error) {
	r := wire.NewReader(frame)
	var d WorldDiff

	tick, err := r.Uint64()
	if err != nil {
		return d, replicationDecodeError("tick", err)
	}
	d.Tick = Tick(tick)
	flags, err := r.Uint8()
	if err != nil {
		return d, replicationDecodeError("flags", err)
	}
	d.Resync = flags&diffResyncFlag != 0

	nSpawns, err := r.Uint32()
	if err != nil {
		return d, replicationDecodeError("spawn count", err)
	}
	for i := uint32(0); i < nSpawns; i++ {
		rec := SpawnRecord{}
		if rec.Entity, err = readEntity(r); err != nil {
			return d, replicationDecodeError("spawn entity", err)
		}
		if rec.Components, err = readChanges(rules, r); err != nil {
			return d, err
		}
		d.Spawns = append(d.Spawns, rec)
	}

	nUpdates, err := r.Uint32()
	if err != nil {
		return d, replicationDecodeError("update count", err)
	}
	for i := uint32(0); i < nUpdates; i++ {
		rec := UpdateRecord{}
		if rec.Entity, err = readEntity(r); err != nil {
			return d, replicationDecodeError("update entity", err)
		}
		if rec.Changed, err = readChanges(rules, r); err != nil {
			return d, err
		}
		nRemoved, err := r.Uint16()
		if err != nil {
			return d, replicationDecodeError("removed count", err)
		}
		for j := uint16(0); j < nRemoved; j++ {
			id, err := r.Uint16()
			if err != nil {
				return d, replicationDecodeError("removed id", err)
			}
			rule, ok := rules.ruleByID(id)
			if !ok {
				return d, replicationDecodeError(fmt.Sprintf("unknown component id %d", id), nil)
			}
			rec.Removed = append(rec.Removed, rule.kind)
		}
		d.Updates = append(d.Updates, rec)
	}

	nDespawns, err := r.Uint32()
	if err != nil {
		return d, replicationDecodeError("despawn count", err)
	}
	for i := uint32(0); i < nDespawns; i++ {
		id, err := readEntity(r)
		if err != nil {
			return d, replicationDecodeError("despawn entity", err)
		}
		d.Despawns = append(d.Despawns, id)
	}

	if err := r.Finish(); err != nil {
		return d, replicationDecodeError("frame", err)
	}
	return d, nil
}

func readEntity(r *wire.Reader) (EntityID, error) {
	v, err := r.Uint64()
	return EntityID(v), err
}

func readChanges(rules *ReplicationRules, r *wire.Reader) ([]ComponentChange, error) {
	n, err := r.Uint16()
	if err != nil {
		return nil, replicationDecodeError("component count", err)
	}
	var out []ComponentChange
	for i := uint16(0); i < n; i++ {
		id, err := r.Uint16()
		if err != nil {
			return nil, replicationDecodeError("component id", err)
		}
		rule, ok := rules.ruleByID(id)
		if !ok {
			return nil, replicationDecodeError(fmt.Sprintf("unknown component id %d", id), nil)
		}
		data, err := r.Bytes32()
		if err != nil {
			return nil, replicationDecodeError("component data", err)
		}
		out = append(out, ComponentChange{Kind: rule.kind, Data: append([]byte(nil), data...)})
	}
	return out, nil
}

func replicationDecodeError(reason string, err error) error {
	return &DecodeError{Channel: ReplicationChannel, Reason: reason, Err: err}
}
