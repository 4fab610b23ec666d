// Package session owns Host<->Peer session transport helpers.
//
// Ownership boundary:
// - connect/read/write timeouts and heartbeat cadence
// - retry/backoff primitives for outbound connects
// - the receive-side queue handed from the network goroutine to the tick loop
package session
