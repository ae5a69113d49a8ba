package mqtt

import "testing"

func TestTopicBuilders(t *testing.T) {
	topics := Topics{}

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"device state", topics.DeviceState("esp32-a1b2c3"), "ember/state/esp32-a1b2c3"},
		{"device presence", topics.DevicePresence("esp32-a1b2c3"), "ember/presence/esp32-a1b2c3"},
		{"device command", topics.DeviceCommand("esp32-a1b2c3"), "ember/command/esp32-a1b2c3"},
		{"all commands", topics.AllDeviceCommands(), "ember/command/+"},
		{"system status", topics.SystemStatus(), "ember/system/status"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestHardwareIDFromTopic(t *testing.T) {
	if got := HardwareIDFromTopic("ember/command/esp32-a1b2c3"); got != "esp32-a1b2c3" {
		t.Errorf("got %q, want %q", got, "esp32-a1b2c3")
	}
	if got := HardwareIDFromTopic("no-separator"); got != "" {
		t.Errorf("got %q, want empty", got)
	}
}
