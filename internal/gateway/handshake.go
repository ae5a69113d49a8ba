package gateway

import (
	"context"
	"errors"

	"github.com/emberhome/ember-gateway/internal/device"
)

// handleAuthFrame processes the first frame of an unauthenticated
// connection. Anything other than the three auth types is a protocol
// violation and closes the socket with no reply.
func (c *Conn) handleAuthFrame(ctx context.Context, env Envelope) {
	switch env.Type {
	case TypeDeviceAuth:
		c.handleDeviceAuth(ctx, env)
	case TypeDeviceReconnect:
		c.handleDeviceReconnect(ctx, env)
	case TypeUserAuth:
		c.handleUserAuth(env)
	default:
		c.logger.Warn("client sent non-auth frame before authenticating, closing", "type", env.Type)
		c.Close()
	}
}

// handleDeviceAuth pairs a device with the account that issued its binding
// token. Token consumption and the device upsert happen in one transaction
// behind the binder; any failure fails closed with a silent disconnect, so
// an unverified peer learns nothing.
func (c *Conn) handleDeviceAuth(ctx context.Context, env Envelope) {
	var p AuthPayload
	if err := env.decode(&p); err != nil || p.UniqueHardwareID == "" || p.Token == "" {
		c.logger.Warn("device auth failed: missing hardware id or token")
		c.Close()
		return
	}

	ownerID, err := c.gw.binder.BindDevice(ctx, p.Token, p.UniqueHardwareID, defaultAlias(p.UniqueHardwareID))
	if err != nil {
		c.logger.Warn("device auth failed", "hardware_id", p.UniqueHardwareID, "error", err)
		c.Close()
		return
	}

	if !c.promoteDevice(p.UniqueHardwareID, ownerID) {
		return
	}
	c.logger.Info("device authenticated", "hardware_id", p.UniqueHardwareID)
	c.send(TypeAuthSuccess, nil, "Authentication successful.") //nolint:errcheck // peer may already be gone
}

// handleDeviceReconnect re-admits a device that already holds a hardware
// identity, without a token. A device that has been unbound from its
// account gets an explicit device_unbound reply so its firmware stops
// retrying; the connection itself is left unauthenticated and the auth
// deadline collects it.
func (c *Conn) handleDeviceReconnect(ctx context.Context, env Envelope) {
	var p AuthPayload
	if err := env.decode(&p); err != nil || p.UniqueHardwareID == "" {
		c.logger.Warn("device reconnect failed: missing hardware id")
		c.Close()
		return
	}

	ownerID, err := c.gw.directory.FindOwner(ctx, p.UniqueHardwareID)
	if err != nil {
		if errors.Is(err, device.ErrNotFound) {
			c.logger.Warn("device reconnect failed: device not registered", "hardware_id", p.UniqueHardwareID)
			c.send(TypeDeviceUnbound, nil, "Device not registered.") //nolint:errcheck // peer may already be gone
			return
		}
		c.logger.Error("device reconnect lookup failed", "hardware_id", p.UniqueHardwareID, "error", err)
		c.Close()
		return
	}

	if !c.promoteDevice(p.UniqueHardwareID, ownerID) {
		return
	}
	c.logger.Info("device reconnected", "hardware_id", p.UniqueHardwareID)

	// Prime the device with its current configuration so it resumes with
	// correct settings without a second round trip. A fetch failure only
	// costs the snapshot, not the session.
	payload := AuthSuccessPayload{UniqueHardwareID: p.UniqueHardwareID}
	cfg, err := c.gw.configs.GetConfig(ctx, p.UniqueHardwareID)
	if err != nil {
		c.logger.Error("fetching device config on reconnect failed", "hardware_id", p.UniqueHardwareID, "error", err)
	} else {
		payload.Config = cfg
	}
	c.send(TypeAuthSuccess, payload, "") //nolint:errcheck // peer may already be gone
}

// handleUserAuth verifies a user's bearer token. Unlike device auth, a
// failure is answered with an explicit auth_failure before closing: users
// get actionable UI feedback, devices do not need to parse error text.
func (c *Conn) handleUserAuth(env Envelope) {
	var p AuthPayload
	if err := env.decode(&p); err != nil || p.Token == "" {
		c.logger.Warn("user auth failed: missing token")
		c.Close()
		return
	}

	identity, err := c.gw.verifier.Verify(p.Token)
	if err != nil {
		c.logger.Warn("user auth failed: invalid token")
		c.send(TypeAuthFailure, nil, "Invalid or expired token.") //nolint:errcheck // closing anyway
		c.Close()
		return
	}

	if !c.promoteUser(identity.UserID) {
		return
	}
	c.logger.Info("user authenticated", "user_id", identity.UserID)
	c.send(TypeAuthSuccess, nil, "User authentication successful.") //nolint:errcheck // peer may already be gone
}

// defaultAlias derives the alias a freshly paired device starts with.
func defaultAlias(hardwareID string) string {
	short := hardwareID
	if len(short) > 5 {
		short = short[:5]
	}
	return "New Device " + short
}
