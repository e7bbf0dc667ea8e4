package worldsync

// componentPtr ties a component's value type to its pointer type so
// registration can produce addressable instances for DecodeWire.
type componentPtr[C any] interface {
	*C
	Component
}

// Protocol is the shared contract between server and client: the
// replication rules, the channel table and the event codecs. Both
// peers must build it with the same registration calls in the same
// order, then Finalize it. A finalized protocol is immutable and safe
// to share between sessions and goroutines.
type Protocol struct {
	rules    *ReplicationRules
	channels *NetworkChannels
	frozen   bool
}

// NewProtocol returns an empty protocol with the reserved replication
// and acknowledgement channels already allocated.
func NewProtocol() *Protocol {
	return &Protocol{
		rules:    newReplicationRules(),
		channels: newNetworkChannels(),
	}
}

// Rules exposes the component registry, including placeholder
// construction for reflect-style event codecs.
func (p *Protocol) Rules() *ReplicationRules { return p.rules }

// Channels exposes the channel table. Transports read it to configure
// delivery per channel.
func (p *Protocol) Channels() *NetworkChannels { return p.channels }

// Finalize freezes the protocol. Registration after Finalize panics,
// and sessions refuse a protocol that has not been finalized. It
// returns p for chaining.
func (p *Protocol) Finalize() *Protocol {
	p.frozen = true
	p.rules.freeze()
	p.channels.freeze()
	return p
}

// Finalized reports whether Finalize has been called.
func (p *Protocol) Finalized() bool { return p.frozen }

func (p *Protocol) mustBeOpen() {
	if p.frozen {
		panic("worldsync: registration after Finalize")
	}
}

// Replicate registers component kind C for replication and adds it to
// the type registry used for decoding. Registering the same type twice
// is a no-op; a second type claiming an already registered kind string
// panics. Registration order determines the kind's wire id, so it must
// match between peers.
func Replicate[C any, PT componentPtr[C]](p *Protocol) {
	p.mustBeOpen()
	var probe C
	kind := PT(&probe).Kind()
	p.rules.replicate(kind, func() Component {
		var c C
		return PT(&c)
	})
}

// NotReplicateIfPresent suppresses replication of C on any entity that
// also carries marker M. C must already be registered; registering the
// same exclusion twice is a no-op. M itself replicates only if it is
// separately registered.
func NotReplicateIfPresent[C, M any, PC componentPtr[C], PM componentPtr[M]](p *Protocol) {
	p.mustBeOpen()
	var c C
	var m M
	p.rules.excludeWhen(PC(&c).Kind(), PM(&m).Kind())
}
