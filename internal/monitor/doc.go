// Package monitor detects misbehaving peers from their inbound traffic.
//
// Every inbound message is fed to Observe on the receive goroutine. A peer
// that keeps sending too fast or too large first gets a warning, and if it
// keeps going its transport is asked to pace outbound traffic. Sustained
// normal traffic decays the record back to a clean state.
package monitor
