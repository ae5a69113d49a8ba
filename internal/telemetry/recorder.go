package telemetry

import (
	"context"
	"fmt"
)

// Store is what the gateway's message router records telemetry through.
type Store interface {
	// RecordTempHumi stores a temperature/humidity reading for a device.
	RecordTempHumi(hardwareID string, temperature, humidity float64)

	// RecordPresence stores a presence-sensor transition. sensor is the
	// reporting sensor kind ("pir" or "radar").
	RecordPresence(hardwareID, sensor string, detected bool)

	// RecordSoundEvent stores a sound-detection event.
	RecordSoundEvent(hardwareID string)

	// RecordCommand appends a user command to the durable audit trail.
	RecordCommand(ctx context.Context, hardwareID, userID, state string) error
}

// SensorWriter is the slice of the InfluxDB client the Recorder needs.
// Writes are fire-and-forget; the client batches internally.
type SensorWriter interface {
	WriteTempHumi(hardwareID string, temperature, humidity float64)
	WritePresence(hardwareID, sensor string, detected bool)
	WriteSoundEvent(hardwareID string)
}

// Recorder routes sensor readings to InfluxDB and commands to SQLite.
type Recorder struct {
	sensors SensorWriter // nil when InfluxDB is disabled
	audit   AuditRepository
}

// NewRecorder creates a Recorder. sensors may be nil, in which case
// sensor readings are silently dropped.
func NewRecorder(sensors SensorWriter, audit AuditRepository) *Recorder {
	return &Recorder{sensors: sensors, audit: audit}
}

// RecordTempHumi stores a temperature/humidity reading.
func (r *Recorder) RecordTempHumi(hardwareID string, temperature, humidity float64) {
	if r.sensors == nil {
		return
	}
	r.sensors.WriteTempHumi(hardwareID, temperature, humidity)
}

// RecordPresence stores a presence-sensor transition.
func (r *Recorder) RecordPresence(hardwareID, sensor string, detected bool) {
	if r.sensors == nil {
		return
	}
	r.sensors.WritePresence(hardwareID, sensor, detected)
}

// RecordSoundEvent stores a sound-detection event.
func (r *Recorder) RecordSoundEvent(hardwareID string) {
	if r.sensors == nil {
		return
	}
	r.sensors.WriteSoundEvent(hardwareID)
}

// RecordCommand appends a user command to the audit trail. Commands are
// audited whether or not the target device was reachable.
func (r *Recorder) RecordCommand(ctx context.Context, hardwareID, userID, state string) error {
	rec := &CommandRecord{
		HardwareID: hardwareID,
		UserID:     userID,
		State:      state,
	}
	if err := r.audit.Append(ctx, rec); err != nil {
		return fmt.Errorf("recording command: %w", err)
	}
	return nil
}
