// Package tokens issues and verifies opaque refresh tokens. Only the
// SHA-256 of a token is ever persisted; the plaintext exists once, in the
// Issue return value. Revocation is a tombstone on the stored record, so
// a revoked token stays deniable until cleanup removes the row well after
// expiry.
package tokens
