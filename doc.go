// Package worldsync replicates server world state to connected clients
// and carries typed events in both directions.
//
// A Protocol describes everything both peers must agree on: which
// components replicate, which event channels exist, and how payloads
// are encoded. Both sides run the same registration code, finalize the
// protocol, and hand it to a Server or Client session together with a
// world and a transport.
//
// Each server tick the Server snapshots every replicated entity,
// records the snapshot in a bounded history, and sends every client a
// diff against the last tick that client acknowledged. Clients apply
// diffs through an entity map that pairs server entity ids with local
// ones, then acknowledge the applied tick. A client whose baseline has
// aged out of the history receives a full resync instead of a delta.
//
// Sessions are single-threaded: all methods on a Server or Client must
// be called from one goroutine. Transports are internally synchronized
// and may move frames on their own goroutines.
package worldsync
