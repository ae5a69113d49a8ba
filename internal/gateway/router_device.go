package gateway

import "context"

// handleDeviceFrame dispatches a frame from an authenticated device.
// Unknown types are logged and otherwise ignored; post-auth violations are
// never fatal to the connection.
func (c *Conn) handleDeviceFrame(ctx context.Context, env Envelope) {
	switch env.Type {
	case TypeDataReport:
		c.handleDataReport(ctx, env)
	case TypeEndpointState:
		c.handleEndpointState(ctx, env)
	default:
		c.logger.Warn("unhandled message type from device", "type", env.Type, "hardware_id", c.HardwareID())
	}
}

// handleDataReport persists whichever sensor readings the report carries.
// Devices report opportunistically, so any subset of readings is normal;
// only an entirely missing sensor object is worth a log line. Each present
// reading is recorded independently; telemetry failures never touch the
// connection.
func (c *Conn) handleDataReport(_ context.Context, env Envelope) {
	var p DataReportPayload
	if err := env.decode(&p); err != nil || p.Sensor == nil {
		c.logger.Warn("data report without sensor data", "hardware_id", c.HardwareID())
		return
	}

	hardwareID := c.HardwareID()
	s := p.Sensor

	if s.TempHumi != nil {
		c.gw.telemetry.RecordTempHumi(hardwareID, s.TempHumi.Temperature, s.TempHumi.Humidity)
	}
	if s.PIR != nil {
		c.gw.telemetry.RecordPresence(hardwareID, "pir", s.PIR.State)
		c.gw.publishPresence(hardwareID, "pir", s.PIR.State)
	}
	if s.Radar != nil {
		c.gw.telemetry.RecordPresence(hardwareID, "radar", s.Radar.State)
		c.gw.publishPresence(hardwareID, "radar", s.Radar.State)
	}
	if s.Sound != nil {
		c.gw.telemetry.RecordSoundEvent(hardwareID)
	}
}

// handleEndpointState forwards a device's actual relay state (manual
// toggle or local automation) to its owning user. An offline user simply
// misses the update: delivery is at-most-once, never queued.
func (c *Conn) handleEndpointState(ctx context.Context, env Envelope) {
	var p StatePayload
	if err := env.decode(&p); err != nil || p.State == "" {
		c.logger.Warn("endpoint state without state value", "hardware_id", c.HardwareID())
		return
	}

	hardwareID := c.HardwareID()

	// Resolve ownership fresh rather than trusting the value cached at
	// auth time: the device may have been re-bound while connected.
	ownerID, err := c.gw.directory.FindOwner(ctx, hardwareID)
	if err != nil {
		c.logger.Error("resolving owner for endpoint state failed", "hardware_id", hardwareID, "error", err)
		return
	}

	c.gw.publishState(hardwareID, p.State)

	userConn, ok := c.gw.registry.User(ownerID)
	if !ok {
		c.logger.Debug("owner not connected, dropping state update", "hardware_id", hardwareID, "user_id", ownerID)
		return
	}
	payload := StatePayload{UniqueHardwareID: hardwareID, State: p.State}
	if err := userConn.send(TypeEndpointState, payload, ""); err != nil {
		c.logger.Warn("forwarding endpoint state failed", "hardware_id", hardwareID, "error", err)
	}
}
