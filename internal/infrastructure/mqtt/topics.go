package mqtt

import "fmt"

// Topic prefixes for the ember-gateway broker namespace.
//
// All device topics use the flat scheme: ember/{category}/{hardware_id}.
const (
	// TopicPrefix is the base for all gateway topics.
	TopicPrefix = "ember"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "ember/system"
)

// Topics provides builders for ember-gateway MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
type Topics struct{}

// DeviceState returns the topic for endpoint state reports from a device.
//
// Example: ember/state/esp32-a1b2c3
func (Topics) DeviceState(hardwareID string) string {
	return fmt.Sprintf("%s/state/%s", TopicPrefix, hardwareID)
}

// DevicePresence returns the topic for presence-sensor events from a device.
//
// Example: ember/presence/esp32-a1b2c3
func (Topics) DevicePresence(hardwareID string) string {
	return fmt.Sprintf("%s/presence/%s", TopicPrefix, hardwareID)
}

// DeviceCommand returns the topic external systems publish commands on.
//
// Example: ember/command/esp32-a1b2c3
func (Topics) DeviceCommand(hardwareID string) string {
	return fmt.Sprintf("%s/command/%s", TopicPrefix, hardwareID)
}

// AllDeviceCommands returns the wildcard pattern matching every device's
// command topic. The gateway subscribes to this on startup.
func (Topics) AllDeviceCommands() string {
	return fmt.Sprintf("%s/command/+", TopicPrefix)
}

// SystemStatus returns the topic for the gateway's online/offline status.
// The LWT message is published here on unexpected disconnect.
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// HardwareIDFromTopic extracts the trailing hardware ID segment from a
// device topic. Returns "" if the topic has no such segment.
func HardwareIDFromTopic(topic string) string {
	for i := len(topic) - 1; i >= 0; i-- {
		if topic[i] == '/' {
			return topic[i+1:]
		}
	}
	return ""
}
