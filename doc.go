// Package goGuard protects a credential-issuing API from brute force and
// abuse. It combines per-route request throttling, progressive account
// lockout after repeated failed logins, and signed tokens that stay valid
// only while their id is registered in Redis.
//
// The request path stays cheap: [Engine.AdmissionCheck] is a single Redis
// read, and [Engine.Admit] then publishes an "identity,route" event. Counting
// and penalties happen in the rate limit worker ([Engine.RateLimitConsumer]),
// which serializes each pair with a distributed lock. Wrong passwords publish
// a user id that the lockout worker ([Engine.LockoutConsumer]) applies to the
// failure counter and the user row.
//
// # Architecture boundaries
//
// goGuard is the public surface: [Engine], [Builder], [Config] and value
// types. Redis key layout, the token registry encoding, the lock and the
// lockout policy live under internal/. Broker adapters live under queue/,
// user stores under store/, HTTP adapters under middleware/.
//
// # What this package must NOT do
//
//   - Count requests on the admission path.
//   - Accept a token whose id is missing from the registry, or one presented
//     from another IP address or user agent.
//   - Drop a worker event because of an infrastructure failure. Such events
//     are requeued; only malformed events and unknown users are dead-lettered.
package goGuard
