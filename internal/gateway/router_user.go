package gateway

import (
	"context"
	"encoding/json"
)

// handleUserFrame dispatches a frame from an authenticated user. Unknown
// types are logged and otherwise ignored.
func (c *Conn) handleUserFrame(ctx context.Context, env Envelope) {
	switch env.Type {
	case TypeSetEndpointState:
		c.handleSetEndpointState(ctx, env)
	case TypeQueryEndpointState:
		c.handleQueryEndpointState(ctx, env)
	default:
		c.logger.Warn("unhandled message type from user", "type", env.Type, "user_id", c.userID)
	}
}

// handleSetEndpointState relays a user command to the target device. The
// command is audited whether or not the device is reachable; an audit
// failure is logged but never blocks the relay. An offline device means
// the command is dropped silently, with no acknowledgment to the sender.
func (c *Conn) handleSetEndpointState(ctx context.Context, env Envelope) {
	var p CommandPayload
	if err := env.decode(&p); err != nil || p.UniqueHardwareID == "" || len(p.Command) == 0 {
		c.logger.Warn("set endpoint state without target or command", "user_id", c.userID)
		return
	}

	if err := c.gw.telemetry.RecordCommand(ctx, p.UniqueHardwareID, c.userID, commandState(p.Command)); err != nil {
		c.logger.Error("recording command audit failed", "hardware_id", p.UniqueHardwareID, "error", err)
	}

	deviceConn, ok := c.gw.registry.Device(p.UniqueHardwareID)
	if !ok {
		c.logger.Debug("device not connected, dropping command", "hardware_id", p.UniqueHardwareID, "user_id", c.userID)
		return
	}

	// The command bytes are relayed untouched so fields this gateway does
	// not understand still reach the device.
	forward := CommandPayload{UniqueHardwareID: p.UniqueHardwareID, Command: p.Command}
	if err := deviceConn.send(TypeSetEndpointState, forward, ""); err != nil {
		c.logger.Warn("forwarding command failed", "hardware_id", p.UniqueHardwareID, "error", err)
	}
}

// handleQueryEndpointState asks one device, or every device the user owns,
// to report its state. Online devices answer for themselves via the normal
// endpoint_state path; for an offline device the gateway answers on its
// behalf with a synthesized error state.
func (c *Conn) handleQueryEndpointState(ctx context.Context, env Envelope) {
	var p QueryPayload
	if len(env.Payload) > 0 {
		if err := env.decode(&p); err != nil {
			c.logger.Warn("malformed endpoint state query", "user_id", c.userID)
			return
		}
	}

	if p.UniqueHardwareID != "" {
		c.queryDevice(p.UniqueHardwareID)
		return
	}

	hardwareIDs, err := c.gw.directory.ListDevices(ctx, c.userID)
	if err != nil {
		c.logger.Error("listing devices for state query failed", "user_id", c.userID, "error", err)
		return
	}
	for _, hardwareID := range hardwareIDs {
		c.queryDevice(hardwareID)
	}
}

// queryDevice applies the online/offline branching for a single device.
func (c *Conn) queryDevice(hardwareID string) {
	deviceConn, ok := c.gw.registry.Device(hardwareID)
	if ok {
		query := QueryPayload{UniqueHardwareID: hardwareID}
		if err := deviceConn.send(TypeQueryEndpointState, query, ""); err != nil {
			c.logger.Warn("forwarding state query failed", "hardware_id", hardwareID, "error", err)
		}
		return
	}

	reply := StatePayload{UniqueHardwareID: hardwareID, State: StateError}
	if err := c.send(TypeEndpointState, reply, ""); err != nil {
		c.logger.Warn("replying offline state failed", "hardware_id", hardwareID, "error", err)
	}
}

// commandState extracts the requested relay state for the audit trail.
// Commands are opaque beyond this field.
func commandState(raw json.RawMessage) string {
	var cmd Command
	if err := json.Unmarshal(raw, &cmd); err != nil || cmd.State == nil {
		return "unknown"
	}
	if *cmd.State {
		return StateOn
	}
	return StateOff
}
