package worldsync

import "fmt"

// ConnEventKind classifies a connection notification.
type ConnEventKind uint8

const (
	ClientConnected ConnEventKind = iota + 1
	ClientDisconnected
)

func (k ConnEventKind) String() string {
	switch k {
	case ClientConnected:
		return "connected"
	case ClientDisconnected:
		return "disconnected"
	}
	return fmt.Sprintf("conn_event(%d)", uint8(k))
}

// ConnEvent is a connection notification surfaced to the server
// session. A reconnecting client appears as a fresh id; ids are never
// reused within a transport's lifetime.
type ConnEvent struct {
	Client ClientID
	Kind   ConnEventKind
}

// ServerTransport moves frames between a server session and its
// clients. Implementations are internally synchronized and may run
// their own goroutines; every method is non-blocking from the session
// goroutine's point of view. Delivery guarantees per channel follow
// the SendTypes the protocol registered.
type ServerTransport interface {
	// PollEvents returns and clears the connection notifications
	// gathered since the last call.
	PollEvents() []ConnEvent
	// Send queues frame for one client. Frames for unknown clients
	// are dropped.
	Send(to ClientID, ch ChannelID, frame []byte)
	// Broadcast queues frame for every connected client.
	Broadcast(ch ChannelID, frame []byte)
	// BroadcastExcept queues frame for every connected client but
	// except.
	BroadcastExcept(except ClientID, ch ChannelID, frame []byte)
	// TryReceive pops the next inbound frame on ch, reporting which
	// client sent it. ok is false when the queue is empty.
	TryReceive(ch ChannelID) (from ClientID, frame []byte, ok bool)
}

// ClientTransport is the client side counterpart.
type ClientTransport interface {
	// Connected reports whether the transport currently has a live
	// connection to the server.
	Connected() bool
	// Send queues frame for the server.
	Send(ch ChannelID, frame []byte)
	// TryReceive pops the next inbound frame on ch.
	TryReceive(ch ChannelID) (frame []byte, ok bool)
}
