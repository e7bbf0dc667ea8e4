package main

import (
	"worldsync"
	"worldsync/wire"
)

// Position is where a box sits on the board.
type Position struct {
	X, Y float64
}

func (p *Position) Kind() worldsync.ComponentType { return "position" }

func (p *Position) EncodeWire(w *wire.Writer) {
	w.Float64(p.X)
	w.Float64(p.Y)
}

func (p *Position) DecodeWire(r *wire.Reader) error {
	var err error
	if p.X, err = r.Float64(); err != nil {
		return err
	}
	p.Y, err = r.Float64()
	return err
}

// Color is a box's paint.
type Color struct {
	R, G, B uint8
}

func (c *Color) Kind() worldsync.ComponentType { return "color" }

func (c *Color) EncodeWire(w *wire.Writer) {
	w.Uint8(c.R)
	w.Uint8(c.G)
	w.Uint8(c.B)
}

func (c *Color) DecodeWire(r *wire.Reader) error {
	var err error
	if c.R, err = r.Uint8(); err != nil {
		return err
	}
	if c.G, err = r.Uint8(); err != nil {
		return err
	}
	c.B, err = r.Uint8()
	return err
}

// Frozen marks a box whose position stays hidden from clients.
type Frozen struct{}

func (f *Frozen) Kind() worldsync.ComponentType { return "frozen" }

func (f *Frozen) EncodeWire(w *wire.Writer) {}

func (f *Frozen) DecodeWire(r *wire.Reader) error { return nil }

// MoveBox is the client's push input.
type MoveBox struct {
	Box    worldsync.EntityID
	DX, DY float64
}

func (m *MoveBox) EncodeWire(w *wire.Writer) {
	w.Uint64(uint64(m.Box))
	w.Float64(m.DX)
	w.Float64(m.DY)
}

func (m *MoveBox) DecodeWire(r *wire.Reader) error {
	box, err := r.Uint64()
	if err != nil {
		return err
	}
	m.Box = worldsync.EntityID(box)
	if m.DX, err = r.Float64(); err != nil {
		return err
	}
	m.DY, err = r.Float64()
	return err
}

func (m *MoveBox) MapEntities(mapper worldsync.Mapper) error {
	box, err := mapper.MapEntity(m.Box)
	if err != nil {
		return err
	}
	m.Box = box
	return nil
}

// Scored announces a box crossing the edge of the board.
type Scored struct {
	Box    worldsync.EntityID
	Points uint32
}

func (s *Scored) EncodeWire(w *wire.Writer) {
	w.Uint64(uint64(s.Box))
	w.Uint32(s.Points)
}

func (s *Scored) DecodeWire(r *wire.Reader) error {
	box, err := r.Uint64()
	if err != nil {
		return err
	}
	s.Box = worldsync.EntityID(box)
	s.Points, err = r.Uint32()
	return err
}

func (s *Scored) MapEntities(mapper worldsync.Mapper) error {
	box, err := mapper.MapEntity(s.Box)
	if err != nil {
		return err
	}
	s.Box = box
	return nil
}

// buildProtocol is run identically by every mode; registration order
// is part of the wire contract.
func buildProtocol() (*worldsync.Protocol, *worldsync.ClientEvent[MoveBox], *worldsync.ServerEvent[Scored]) {
	p := worldsync.NewProtocol()
	worldsync.Replicate[Position](p)
	worldsync.Replicate[Color](p)
	worldsync.Replicate[Frozen](p)
	worldsync.NotReplicateIfPresent[Position, Frozen](p)
	worldsync.RegisterParentSync(p)
	move := worldsync.RegisterMappedClientEvent[MoveBox](p, worldsync.ReliableDefault())
	scored := worldsync.RegisterMappedServerEvent[Scored](p, worldsync.ReliableDefault())
	p.Finalize()
	return p, move, scored
}
