package worldsync

import "fmt"

// EntityMap pairs server entity ids with local ones on a client. The
// pairing is a bijection: each server id maps to exactly one local id
// and back. Components and events carrying entity ids are rewritten
// through one of the map's views, never through the map directly, so
// the payload code stays direction-agnostic.
type EntityMap struct {
	toLocal  map[EntityID]EntityID
	toServer map[EntityID]EntityID
	alloc    func() EntityID
}

// NewEntityMap returns an empty map. alloc reserves a fresh local
// entity when Resolve meets an unknown server id; a client session
// wires it to its world's SpawnEntity. alloc may be nil for maps that
// only Insert explicit pairs.
func NewEntityMap(alloc func() EntityID) *EntityMap {
	return &EntityMap{
		toLocal:  make(map[EntityID]EntityID),
		toServer: make(map[EntityID]EntityID),
		alloc:    alloc,
	}
}

// Insert records the pair (server, local). Re-inserting an existing
// pair is a no-op; pairing either id with a different partner would
// break the bijection and panics.
func (m *EntityMap) Insert(server, local EntityID) {
	if cur, ok := m.toLocal[server]; ok {
		if cur == local {
			return
		}
		panic(fmt.Sprintf("worldsync: server entity %d already mapped to %d", server, cur))
	}
	if cur, ok := m.toServer[local]; ok {
		panic(fmt.Sprintf("worldsync: local entity %d already mapped to %d", local, cur))
	}
	m.toLocal[server] = local
	m.toServer[local] = server
}

// Resolve returns the local id paired with server, reserving a fresh
// local entity for ids seen for the first time. It requires an alloc
// function.
func (m *EntityMap) Resolve(server EntityID) EntityID {
	if local, ok := m.toLocal[server]; ok {
		return local
	}
	if m.alloc == nil {
		panic("worldsync: Resolve on EntityMap without an allocator")
	}
	local := m.alloc()
	m.Insert(server, local)
	return local
}

// Translate returns the local id paired with server, if any.
func (m *EntityMap) Translate(server EntityID) (EntityID, bool) {
	local, ok := m.toLocal[server]
	return local, ok
}

// TranslateToServer returns the server id paired with local, if any.
func (m *EntityMap) TranslateToServer(local EntityID) (EntityID, bool) {
	server, ok := m.toServer[local]
	return server, ok
}

// Release removes the pairing for server. Releasing an unknown id is a
// no-op.
func (m *EntityMap) Release(server EntityID) {
	local, ok := m.toLocal[server]
	if !ok {
		return
	}
	delete(m.toLocal, server)
	delete(m.toServer, local)
}

// Len returns the number of pairs.
func (m *EntityMap) Len() int { return len(m.toLocal) }

// ReservingView maps server ids to local ids, reserving local entities
// for unknown ids. Component payloads are rewritten through it while a
// diff is applied, so forward references inside one diff resolve.
func (m *EntityMap) ReservingView() Mapper { return reservingView{m} }

// LocalView maps server ids to local ids and fails with
// UnmappedEntityError for unknown ids. Inbound event payloads are
// rewritten through it.
func (m *EntityMap) LocalView() Mapper { return localView{m} }

// ServerView maps local ids back to server ids and fails with
// UnmappedEntityError for ids the server never replicated. Outbound
// event payloads are rewritten through it before encoding.
func (m *EntityMap) ServerView() Mapper { return serverView{m} }

type reservingView struct{ m *EntityMap }

func (v reservingView) MapEntity(id EntityID) (EntityID, error) {
	return v.m.Resolve(id), nil
}

type localView struct{ m *EntityMap }

func (v localView) MapEntity(id EntityID) (EntityID, error) {
	local, ok := v.m.Translate(id)
	if !ok {
		return 0, UnmappedEntityError{Entity: id}
	}
	return local, nil
}

type serverView struct{ m *EntityMap }

func (v serverView) MapEntity(id EntityID) (EntityID, error) {
	server, ok := v.m.TranslateToServer(id)
	if !ok {
		return 0, UnmappedEntityError{Entity: id}
	}
	return server, nil
}
