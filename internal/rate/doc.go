// Package rate implements the per-route request throttle on top of Redis.
//
// # Window semantics
//
// Fixed-window counters: INCR + PEXPIRE on first hit, executed as one script.
// Key layout (see internal/keys):
//   - {identity}:{route}_attempts    request counter, TTL = window
//   - {identity}:penalty_end{route}  penalty expiry as decimal Unix seconds
//
// # Split of responsibilities
//
// Check is the request-path read. It never writes and never locks.
// Record is the worker-path update and assumes the caller holds the
// per-pair distributed lock.
package rate
