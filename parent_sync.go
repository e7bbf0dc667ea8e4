package worldsync

import "worldsync/wire"

// ChildOfKind is the component kind RegisterParentSync replicates.
const ChildOfKind ComponentType = "child_of"

// ChildOf replicates an entity hierarchy edge. The parent id is
// rewritten through the entity map like any other carried id, and the
// reserving rewrite means a child may arrive before its parent's spawn
// record, even inside the same diff.
type ChildOf struct {
	Parent EntityID
}

func (c *ChildOf) Kind() ComponentType { return ChildOfKind }

func (c *ChildOf) EncodeWire(w *wire.Writer) {
	w.Uint64(uint64(c.Parent))
}

func (c *ChildOf) DecodeWire(r *wire.Reader) error {
	v, err := r.Uint64()
	if err != nil {
		return err
	}
	c.Parent = EntityID(v)
	return nil
}

func (c *ChildOf) MapEntities(m Mapper) error {
	parent, err := m.MapEntity(c.Parent)
	if err != nil {
		return err
	}
	c.Parent = parent
	return nil
}

// RegisterParentSync registers the ChildOf component so entity
// hierarchies replicate alongside the rest of the world.
func RegisterParentSync(p *Protocol) {
	Replicate[ChildOf](p)
}
