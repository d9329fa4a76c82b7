// Package lockout implements progressive account lockout driven by failed
// login events.
//
// A failure counter lives in Redis under login_attempts:{user_id} with a
// one hour TTL from the first failure. Lockout state lives on the user row
// and is only ever changed inside a row-locked transaction provided by the
// caller's Store.
package lockout
