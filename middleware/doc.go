// Package middleware exposes net/http adapters for goGuard.Engine.
//
// # Adapters
//
//   - [Admission] rejects penalized identities with 429 and publishes a
//     request event for admitted ones.
//   - [Guard] requires a bearer access token bound to the caller's IP and
//     user agent.
//
// Both write JSON errors of the form {"detail": "..."} through [WriteError].
//
// # Architecture boundaries
//
// This package translates HTTP semantics into Engine calls. Counting,
// penalties and token checks all happen in the Engine.
package middleware
