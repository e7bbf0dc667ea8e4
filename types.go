package worldsync

// Tick counts fixed-timestep simulation steps on the server. Ticks
// start at 1 and strictly increase; tick 0 is reserved to mean "no
// tick yet" in acknowledgements and baselines.
type Tick uint64

// EntityID identifies an entity inside one world. Server worlds and
// client worlds each issue their own ids; an EntityMap pairs them.
type EntityID uint64

// ClientID identifies a connected client for the lifetime of its
// connection. Transports assign ids starting at 1; a reconnecting
// client receives a fresh id and is treated as brand new.
type ClientID uint64

// ServerClientID is the pseudo client id a listen server uses for
// itself. Events targeted at it never reach a transport; they are
// delivered locally.
const ServerClientID ClientID = 0

// ChannelID names one event channel within one direction. Each
// direction has its own id space, assigned sequentially during
// registration, so both peers must register channels in the same
// order.
type ChannelID uint8

// ReplicationChannel is the reserved server→client channel carrying
// world diffs.
const ReplicationChannel ChannelID = 0

// AckChannel is the reserved client→server channel carrying tick
// acknowledgements.
const AckChannel ChannelID = 0

// ComponentType names a replicated component kind, e.g. "position".
// The name appears in logs and replay tooling; on the wire components
// travel under their registration index instead.
type ComponentType string
