// Package realtime manages the persistent channel between the chat widget and
// the assistant backend.
//
// A Manager owns one event loop goroutine. Public methods post work to the
// loop and return immediately; transport, timer and listener callbacks are
// all applied from that loop, one at a time, in arrival order.
package realtime
