// Package tokens implements the lifecycle of registry-backed, session-bound
// tokens.
//
// Every issued token id is stored under jti_{jti}_{token_type} with a TTL
// equal to the token lifetime. Verification requires a valid signature, a
// live registry entry and an exact match of the request IP and user agent
// against both the signed claims and the registered entry.
package tokens
