// Package auth provides user account management and token verification
// for Ember Gateway.
//
// It covers three concerns:
//   - Password hashing and verification (Argon2id, PHC string format)
//   - JWT access token issuance and stateless verification
//   - The SQLite-backed user repository behind the REST layer
//
// The gateway core consumes only the Verifier: a stateless check that a
// bearer token presented during user_auth identifies a live account.
package auth
