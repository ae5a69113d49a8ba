// Package device provides the device directory and per-device
// configuration snapshots.
//
// The directory maps hardware IDs to owning user accounts and aliases.
// Rows are created as a side effect of a successful device_auth handshake
// and removed when a user unbinds a device through the REST layer. The
// gateway core reads the directory to resolve message routing; it never
// creates rows outside the pairing transaction.
package device
