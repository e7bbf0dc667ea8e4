package worldsync

import "worldsync/wire"

// Component is the capability a type needs to replicate. Kind must be
// unique across the protocol and stable between peers; EncodeWire must
// be deterministic because the differ compares encodings byte for
// byte.
type Component interface {
	wire.Value
	Kind() ComponentType
}

// Mapper is a single-direction view of an EntityMap handed to
// MapEntities. Component payloads receive a reserving view that never
// fails; event payloads receive a strict view that returns
// UnmappedEntityError for unknown ids.
type Mapper interface {
	MapEntity(id EntityID) (EntityID, error)
}

// EntityMapper is implemented by payloads that carry entity ids.
// MapEntities must rewrite every carried id through m and return the
// first error unchanged, leaving the payload otherwise intact.
type EntityMapper interface {
	MapEntities(m Mapper) error
}
