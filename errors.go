package worldsync

import (
	"errors"
	"fmt"
)

// ErrSessionPoisoned reports that a session crossed its failure
// threshold for malformed or unmappable remote data. The embedder
// should close the underlying connection; the session itself keeps
// dropping the bad frames either way.
var ErrSessionPoisoned = errors.New("worldsync: session poisoned by repeated bad frames")

// ErrNotConnected reports an operation that needs a live transport
// connection.
var ErrNotConnected = errors.New("worldsync: transport not connected")

// UnmappedEntityError reports an entity reference that has no pairing
// in the EntityMap yet. For inbound events this is recoverable: the
// event is retried for a few ticks in case the spawn that introduces
// the entity is still in flight.
type UnmappedEntityError struct {
	Entity EntityID
}

func (e UnmappedEntityError) Error() string {
	return fmt.Sprintf("worldsync: entity %d has no mapping", e.Entity)
}

// DecodeError reports a frame that could not be decoded. It wraps the
// underlying cause, typically one of the wire package sentinels or an
// unknown-id condition.
type DecodeError struct {
	Channel ChannelID
	Reason  string
	Err     error
}

func (e *DecodeError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("worldsync: decode channel %d: %s", e.Channel, e.Reason)
	}
	return fmt.Sprintf("worldsync: decode channel %d: %s: %v", e.Channel, e.Reason, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }
