// Package dispatch reconciles events pushed by the dispatch service with the
// driver's local view.
//
// Reduce is a pure function from (cached requests, lifecycle state, event)
// to a Delta. The Router applies deltas one event at a time in arrival
// order: it mutates the ActiveRideSet, submits lifecycle events, resolves
// the pending bid and publishes notices. Stale or out-of-state events are
// logged and dropped, never surfaced.
package dispatch
