package device

import (
	"encoding/json"
	"errors"
	"time"
)

// Device is a directory entry: a physical endpoint bound to a user account.
type Device struct {
	HardwareID string    `json:"unique_hardware_id"`
	UserID     string    `json:"-"`
	Alias      string    `json:"alias,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// ConfigSnapshot is the device-side behaviour configuration. The gateway
// stores and relays it; the fields are opaque to message routing.
type ConfigSnapshot struct {
	AutomationMode string          `json:"automation_mode"`
	PresenceMode   string          `json:"presence_mode"`
	SensorOffDelay int             `json:"sensor_off_delay"`
	TimerSchedule  json.RawMessage `json:"timer_schedule,omitempty"`
	MQTTSettings   json.RawMessage `json:"mqtt,omitempty"`
}

// Domain errors for the device package.
var (
	// ErrNotFound is returned when a hardware ID has no directory entry.
	ErrNotFound = errors.New("device: not found")
)
