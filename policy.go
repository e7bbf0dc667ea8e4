package worldsync

import "math"

const policyReasonLimit = 8

// failurePolicy decides when a peer's stream of frames is bad enough
// to call the session poisoned. It trips once failures reach the
// configured rate per ten thousand messages, after a minimum sample
// count so a single early fault does not condemn a fresh connection.
// A threshold of zero disables the policy.
type failurePolicy struct {
	threshold  uint64
	minSamples uint64

	messages uint64
	failures uint64
	tripped  bool
	reasons  []string
}

func newFailurePolicy(threshold, minSamples uint64) failurePolicy {
	return failurePolicy{threshold: threshold, minSamples: minSamples}
}

// noteMessage counts one inbound frame, halving both counters near
// overflow so the ratio survives arbitrarily long sessions.
func (p *failurePolicy) noteMessage() {
	if p.messages == math.MaxUint64 {
		p.messages /= 2
		p.failures /= 2
	}
	p.messages++
}

// noteFailure counts one dropped frame and keeps its reason for the
// eventual report.
func (p *failurePolicy) noteFailure(reason string) {
	if p.failures < math.MaxUint64 {
		p.failures++
	}
	if len(p.reasons) < policyReasonLimit {
		p.reasons = append(p.reasons, reason)
	}
	p.evaluate()
}

func (p *failurePolicy) evaluate() {
	if p.tripped || p.threshold == 0 || p.failures == 0 {
		return
	}
	if p.messages < p.minSamples {
		return
	}
	if p.failures*10_000 >= p.messages*p.threshold {
		p.tripped = true
	}
}

// poisoned reports whether the policy has tripped, with the recorded
// reasons. The trip is sticky for the life of the session.
func (p *failurePolicy) poisoned() (bool, []string) {
	return p.tripped, p.reasons
}
