// Package internal groups the building blocks behind goGuard.Engine.
//
// # Sub-packages
//
//   - keys: Redis key layout shared by every component
//   - rate: fixed-window request counters and penalties
//   - lock: Redis mutex wrapper (bsm/redislock)
//   - lockout: failed-login counter and progressive account lockout
//   - tokens: jti registry and token issue/verify/revoke
//   - service: process wiring shared by the cmd binaries
//
// Nothing here appears in the public API.
package internal
