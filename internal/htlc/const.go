package htlc

// Network delay parameters. Every inter-hop latency in the protocol below
// is a draw from Gamma(GammaAlpha, GammaBeta) unless a fixed constant
// applies (RoutingLatency, OfflineLatency, or the fixed 10ms retry).
const (
	GammaAlpha = 6.40
	GammaBeta  = 4.35

	// RoutingLatency is the fixed time a node takes to run find-path on
	// its own device before emitting SENDPAYMENT.
	RoutingLatency = 500

	// OfflineLatency is how long a node waits for a TCP retransmission
	// timeout before giving up on an unresponsive peer. Nodes are never
	// flagged offline in the current model, so the branch that uses this
	// stays dormant until an offline-probability knob exists (see
	// handlers.go).
	OfflineLatency = 3000

	// FindPathRetryMs is the fixed delay before a FINDPATH retry, used by
	// ReceiveFail and the withdrawal-resume paths.
	FindPathRetryMs = 10
)
