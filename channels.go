package worldsync

import (
	"fmt"
	"time"
)

// SendPolicy selects the delivery guarantee of an event channel.
type SendPolicy uint8

const (
	// Unreliable frames may be lost or reordered.
	Unreliable SendPolicy = iota
	// ReliableUnordered frames all arrive, in any order.
	ReliableUnordered
	// ReliableOrdered frames all arrive, in send order.
	ReliableOrdered
)

func (p SendPolicy) String() string {
	switch p {
	case Unreliable:
		return "unreliable"
	case ReliableUnordered:
		return "reliable_unordered"
	case ReliableOrdered:
		return "reliable_ordered"
	}
	return fmt.Sprintf("send_policy(%d)", uint8(p))
}

// SendType is a channel's delivery configuration. Resend is the retry
// cadence a transport should use for reliable frames awaiting
// acknowledgement; transports with native reliability ignore it.
type SendType struct {
	Policy SendPolicy
	Resend time.Duration
}

// ReliableDefault is the send type used for the reserved channels and
// a reasonable choice for most event channels.
func ReliableDefault() SendType {
	return SendType{Policy: ReliableOrdered, Resend: 300 * time.Millisecond}
}

// NetworkChannels allocates channel ids for both directions. Channel 0
// of each direction is reserved: server→client 0 carries replication
// diffs, client→server 0 carries tick acknowledgements. Both run
// unreliable because the ack/baseline protocol already tolerates loss.
// Ids are handed out sequentially, so registration order is part of
// the protocol contract between peers.
type NetworkChannels struct {
	server []SendType
	client []SendType
	frozen bool
}

func newNetworkChannels() *NetworkChannels {
	reserved := SendType{Policy: Unreliable}
	return &NetworkChannels{
		server: []SendType{reserved},
		client: []SendType{reserved},
	}
}

// CreateServerChannel allocates the next server→client channel.
func (c *NetworkChannels) CreateServerChannel(t SendType) ChannelID {
	return c.create(&c.server, t)
}

// CreateClientChannel allocates the next client→server channel.
func (c *NetworkChannels) CreateClientChannel(t SendType) ChannelID {
	return c.create(&c.client, t)
}

func (c *NetworkChannels) create(dir *[]SendType, t SendType) ChannelID {
	if c.frozen {
		panic("worldsync: channel registered after Finalize")
	}
	if len(*dir) > 0xff {
		panic("worldsync: channel id space exhausted")
	}
	id := ChannelID(len(*dir))
	*dir = append(*dir, t)
	return id
}

// ServerChannels returns the send types of every server→client
// channel, indexed by ChannelID. Transports use this to configure
// delivery.
func (c *NetworkChannels) ServerChannels() []SendType {
	out := make([]SendType, len(c.server))
	copy(out, c.server)
	return out
}

// ClientChannels returns the send types of every client→server
// channel, indexed by ChannelID.
func (c *NetworkChannels) ClientChannels() []SendType {
	out := make([]SendType, len(c.client))
	copy(out, c.client)
	return out
}

func (c *NetworkChannels) freeze() { c.frozen = true }
