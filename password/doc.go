// Package password verifies and produces password hashes.
//
// # Formats
//
// Argon2id hashes use the PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// Bcrypt hashes use the usual $2a$, $2b$ or $2y$ prefixes. [Multi] picks the
// verifier from the prefix, so a user table may hold both.
//
// [Argon2.NeedsUpgrade] and [Bcrypt.NeedsUpgrade] report hashes made with
// other parameters so the caller can re-hash after a successful login.
//
// This package never stores passwords and never logs them.
package password
