// Package database manages the SQLite connection and schema migrations
// for Ember Gateway.
//
// SQLite is the relational store behind user accounts, devices, binding
// tokens, configuration snapshots and command audit records. The database
// is opened in WAL mode with a single writer connection; migrations are
// embedded into the binary and applied at startup.
package database
