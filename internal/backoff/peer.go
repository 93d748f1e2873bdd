package backoff

import "strings"

// Peer transfer limits for slskd downloads.
const (
	MaxPeerCandidates = 5
	MaxAbortRequeues  = 3
)

// PeerAction is what the acquirer does after observing a transfer state.
type PeerAction int

const (
	PeerWait PeerAction = iota
	PeerDone
	PeerRequeue
	PeerFail
)

var terminalPeerStates = []string{"failed", "cancelled", "rejected", "errored", "timedout"}

var retryMarkers = []string{"aborted", "rejected", "cancelled", "failed", "timed out", "timeout", "queued"}

// PeerPolicy decides how one Soulseek transfer proceeds across polls.
// Each download owns its own policy.
type PeerPolicy struct {
	aborts    int
	lastState string
}

// Observe maps one poll of the transfer list to an action. found is false
// when the file is missing from the peer's transfer list.
func (p *PeerPolicy) Observe(state string, found bool) PeerAction {
	if !found {
		// Only a transfer we saw leave the queue is worth re-enqueueing.
		if p.lastState != "" && !strings.Contains(strings.ToLower(p.lastState), "queue") {
			p.lastState = ""
			return PeerRequeue
		}
		return PeerWait
	}

	lower := strings.ToLower(state)
	p.lastState = state
	for _, s := range terminalPeerStates {
		if strings.Contains(lower, s) {
			return PeerFail
		}
	}
	if strings.Contains(lower, "aborted") {
		p.aborts++
		if p.aborts > MaxAbortRequeues {
			return PeerFail
		}
		p.lastState = ""
		return PeerRequeue
	}
	if strings.HasPrefix(lower, "completed") || lower == "succeeded" {
		if strings.Contains(lower, "error") {
			return PeerFail
		}
		return PeerDone
	}
	return PeerWait
}

// Aborts reports how many aborts the transfer has seen.
func (p *PeerPolicy) Aborts() int {
	return p.aborts
}

// RetryablePeerError reports whether a failed transfer is worth retrying
// with a different candidate.
func RetryablePeerError(msg string) bool {
	lower := strings.ToLower(msg)
	for _, m := range retryMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}
