// Package worldmem provides a map-backed world that satisfies both
// session world interfaces. It backs the tests and the demo binary and
// suits embedders that have no entity storage of their own. Like the
// sessions themselves it is confined to one goroutine.
package worldmem

import (
	"sort"

	"worldsync"
)

// World stores entities and their components in memory.
type World struct {
	nextID     worldsync.EntityID
	components map[worldsync.EntityID]map[worldsync.ComponentType]worldsync.Component
	replicated map[worldsync.EntityID]bool
}

func New() *World {
	return &World{
		components: make(map[worldsync.EntityID]map[worldsync.ComponentType]worldsync.Component),
		replicated: make(map[worldsync.EntityID]bool),
	}
}

// Spawn creates an entity that does not replicate.
func (w *World) Spawn() worldsync.EntityID {
	w.nextID++
	id := w.nextID
	w.components[id] = make(map[worldsync.ComponentType]worldsync.Component)
	return id
}

// SpawnReplicated creates an entity flagged for replication.
func (w *World) SpawnReplicated() worldsync.EntityID {
	id := w.Spawn()
	w.replicated[id] = true
	return id
}

// SetReplicated flags or unflags an entity for replication. Unflagging
// shows up to clients as a despawn on the next tick.
func (w *World) SetReplicated(id worldsync.EntityID, on bool) {
	if _, ok := w.components[id]; !ok {
		return
	}
	if on {
		w.replicated[id] = true
		return
	}
	delete(w.replicated, id)
}

// Despawn removes the entity and its components.
func (w *World) Despawn(id worldsync.EntityID) {
	delete(w.components, id)
	delete(w.replicated, id)
}

// Set stores component on the entity, replacing any previous value of
// the same kind.
func (w *World) Set(id worldsync.EntityID, component worldsync.Component) {
	comps, ok := w.components[id]
	if !ok {
		return
	}
	comps[component.Kind()] = component
}

// Get returns the entity's component of the given kind.
func (w *World) Get(id worldsync.EntityID, kind worldsync.ComponentType) (worldsync.Component, bool) {
	comps, ok := w.components[id]
	if !ok {
		return nil, false
	}
	c, ok := comps[kind]
	return c, ok
}

// Remove drops the entity's component of the given kind.
func (w *World) Remove(id worldsync.EntityID, kind worldsync.ComponentType) {
	if comps, ok := w.components[id]; ok {
		delete(comps, kind)
	}
}

// Alive reports whether the entity exists.
func (w *World) Alive(id worldsync.EntityID) bool {
	_, ok := w.components[id]
	return ok
}

// Entities lists every entity in ascending id order.
func (w *World) Entities() []worldsync.EntityID {
	out := make([]worldsync.EntityID, 0, len(w.components))
	for id := range w.components {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ReplicatedEntities lists every replication-flagged entity in
// ascending id order.
func (w *World) ReplicatedEntities() []worldsync.EntityID {
	out := make([]worldsync.EntityID, 0, len(w.replicated))
	for id := range w.replicated {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (w *World) HasComponent(id worldsync.EntityID, kind worldsync.ComponentType) bool {
	_, ok := w.Get(id, kind)
	return ok
}

func (w *World) Component(id worldsync.EntityID, kind worldsync.ComponentType) (worldsync.Component, bool) {
	return w.Get(id, kind)
}

func (w *World) SpawnEntity() worldsync.EntityID { return w.Spawn() }

func (w *World) DespawnEntity(id worldsync.EntityID) { w.Despawn(id) }

func (w *World) ApplyComponent(id worldsync.EntityID, component worldsync.Component) {
	w.Set(id, component)
}

func (w *World) RemoveComponent(id worldsync.EntityID, kind worldsync.ComponentType) {
	w.Remove(id, kind)
}

var (
	_ worldsync.ServerWorld = (*World)(nil)
	_ worldsync.ClientWorld = (*World)(nil)
)
