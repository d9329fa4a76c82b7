// Package keys builds the Redis key names shared by the admission path,
// the workers and the token registry. Any process that reads or writes a
// counter must derive its key here so that all instances agree.
package keys

// Attempts returns the per-window request counter key for identity on route.
func Attempts(identity, route string) string {
	return identity + ":" + route + "_attempts"
}

// PenaltyEnd returns the key holding the penalty expiry for identity on route.
func PenaltyEnd(identity, route string) string {
	return identity + ":penalty_end" + route
}

// RateLock returns the distributed lock key guarding the counters of identity on route.
func RateLock(identity, route string) string {
	return identity + ":" + route + "_lock"
}

// LoginFailures returns the failed-login counter key for userID.
func LoginFailures(userID string) string {
	return "login_attempts:" + userID
}

// UserLock returns the distributed lock key guarding the failure counter of userID.
func UserLock(userID string) string {
	return "Lock_" + userID
}

// ActiveToken returns the registry key for a token id of the given type.
func ActiveToken(jti, tokenType string) string {
	return "jti_" + jti + "_" + tokenType
}

// DeliveryAttempts returns the redelivery counter key for a queue message id.
func DeliveryAttempts(messageID string) string {
	return "delivery_attempts:" + messageID
}
