// Package gateway implements the real-time connection core: a registry of
// live WebSocket connections keyed by device hardware ID or user ID, the
// authentication handshake that promotes an anonymous socket into one of
// those two identity classes, per-connection heartbeat supervision, and the
// message router that moves telemetry up and commands down.
//
// The gateway holds no durable state of its own. Pairing tokens, device
// ownership, configuration snapshots, and telemetry all live behind small
// collaborator interfaces; the gateway only decides where each frame goes.
//
// Delivery is at-most-once and best-effort: a frame for an offline peer is
// dropped, never queued or retried. Identity ownership is
// last-writer-wins: a new successful authentication under an already
// registered key forcibly terminates the older connection.
package gateway
