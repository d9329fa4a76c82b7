// Package jwt signs and parses the access and refresh tokens issued by the
// guard. Revocation and session binding are enforced one layer up, against
// the active token registry.
package jwt
