package worldsync

// ServerWorld is what the replication side needs from a game world.
// ReplicatedEntities enumerates every entity currently flagged for
// replication; flagging and unflagging an entity is how the world
// starts and stops replicating it. Component reads are only performed
// inside Server.Advance, from the session goroutine.
type ServerWorld interface {
	ReplicatedEntities() []EntityID
	HasComponent(entity EntityID, kind ComponentType) bool
	Component(entity EntityID, kind ComponentType) (Component, bool)
}

// ClientWorld is what diff application needs from a game world. The
// Client calls SpawnEntity both for explicit spawn records and to
// reserve a local entity the first time a component references a
// server id it has not seen yet.
type ClientWorld interface {
	SpawnEntity() EntityID
	DespawnEntity(entity EntityID)
	ApplyComponent(entity EntityID, component Component)
	RemoveComponent(entity EntityID, kind ComponentType)
}
