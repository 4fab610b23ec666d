// Package protocol owns the wire contract shared by Host and Peer.
//
// Ownership boundary:
// - message envelope (type tag + fixed payload)
// - input and state snapshot codecs
// - snapshot sequencing rules
//
// Sub-packages:
// - schema: message type tags and implied payload lengths
// - frame: stream framing primitives
// - session: timeouts, backoff and the receive queue
package protocol
