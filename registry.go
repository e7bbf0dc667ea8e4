package worldsync

import (
	"fmt"
	"reflect"
)

// replicationRule is one registered component kind. The wire id is the
// kind's registration index; peers that register kinds in the same
// order agree on ids without exchanging a schema.
type replicationRule struct {
	kind     ComponentType
	id       uint16
	factory  func() Component
	excluded []ComponentType
}

// ReplicationRules holds every registered component kind, its decode
// factory and its exclusion markers. It doubles as the runtime type
// registry: reflect-style event codecs look kinds up here to produce
// placeholder instances for decoding. Rules are mutable during setup
// only; Protocol.Finalize freezes them before any session starts.
type ReplicationRules struct {
	byKind  map[ComponentType]*replicationRule
	ordered []*replicationRule
	frozen  bool
}

func newReplicationRules() *ReplicationRules {
	return &ReplicationRules{byKind: make(map[ComponentType]*replicationRule)}
}

func (r *ReplicationRules) replicate(kind ComponentType, factory func() Component) {
	if r.frozen {
		panic("worldsync: component registered after Finalize")
	}
	if existing, ok := r.byKind[kind]; ok {
		if reflect.TypeOf(existing.factory()) != reflect.TypeOf(factory()) {
			panic(fmt.Sprintf("worldsync: component kind %q already registered by another type", kind))
		}
		return
	}
	if len(r.ordered) > 0xffff {
		panic("worldsync: component id space exhausted")
	}
	rule := &replicationRule{kind: kind, id: uint16(len(r.ordered)), factory: factory}
	r.byKind[kind] = rule
	r.ordered = append(r.ordered, rule)
}

func (r *ReplicationRules) excludeWhen(kind, marker ComponentType) {
	if r.frozen {
		panic("worldsync: exclusion registered after Finalize")
	}
	rule, ok := r.byKind[kind]
	if !ok {
		panic(fmt.Sprintf("worldsync: exclusion for unregistered component %q", kind))
	}
	for _, m := range rule.excluded {
		if m == marker {
			return
		}
	}
	rule.excluded = append(rule.excluded, marker)
}

// NewComponent returns a fresh zero instance of the registered kind,
// ready for DecodeWire. The second result is false for unknown kinds.
func (r *ReplicationRules) NewComponent(kind ComponentType) (Component, bool) {
	rule, ok := r.byKind[kind]
	if !ok {
		return nil, false
	}
	return rule.factory(), true
}

// Kinds lists every registered kind in registration order.
func (r *ReplicationRules) Kinds() []ComponentType {
	out := make([]ComponentType, len(r.ordered))
	for i, rule := range r.ordered {
		out[i] = rule.kind
	}
	return out
}

// Registered reports whether kind has been registered.
func (r *ReplicationRules) Registered(kind ComponentType) bool {
	_, ok := r.byKind[kind]
	return ok
}

func (r *ReplicationRules) ruleByID(id uint16) (*replicationRule, bool) {
	if int(id) >= len(r.ordered) {
		return nil, false
	}
	return r.ordered[id], true
}

func (r *ReplicationRules) freeze() { r.frozen = true }
