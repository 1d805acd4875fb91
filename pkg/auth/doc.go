// Package auth owns accounts and login. Passwords are bcrypt hashes,
// access tokens are short-lived HS256 JWTs, and sessions are refresh
// tokens issued through pkg/tokens. Five failed logins lock the account
// for fifteen minutes; a password change revokes every live session.
package auth
