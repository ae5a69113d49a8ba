package gateway

import (
	"encoding/json"
	"errors"

	"github.com/emberhome/ember-gateway/internal/device"
)

// Frame type discriminators. The set is closed; an unknown type is a
// protocol violation before authentication and a logged no-op after it.
const (
	TypeDeviceAuth         = "device_auth"
	TypeDeviceReconnect    = "device_reconnect"
	TypeUserAuth           = "user_auth"
	TypeAuthSuccess        = "auth_success"
	TypeAuthFailure        = "auth_failure"
	TypeDeviceUnbound      = "device_unbound"
	TypeDataReport         = "data_report"
	TypeEndpointState      = "endpoint_state"
	TypeSetEndpointState   = "set_endpoint_state"
	TypeQueryEndpointState = "query_endpoint_state"
	TypeSetConfig          = "set_config"
)

// Endpoint relay states carried in endpoint_state frames. StateError is
// synthesized by the gateway for devices that cannot answer for themselves.
const (
	StateOn    = "on"
	StateOff   = "off"
	StateError = "error"
)

// Envelope is the wire frame: one JSON object per message. Payload shape
// depends on Type; device-origin and user-origin frames reuse several type
// names with different payload shapes, so payloads are decoded per identity
// class, not globally.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Message string          `json:"message,omitempty"`
}

var errMissingPayload = errors.New("missing payload")

// decode unmarshals the payload into v. Frames whose handlers require a
// payload use this and treat failure as a malformed frame.
func (e Envelope) decode(v any) error {
	if len(e.Payload) == 0 {
		return errMissingPayload
	}
	return json.Unmarshal(e.Payload, v)
}

// AuthPayload carries device_auth, device_reconnect, and user_auth
// credentials. Which fields are required depends on the frame type.
type AuthPayload struct {
	UniqueHardwareID string `json:"uniqueHardwareId,omitempty"`
	Token            string `json:"token,omitempty"`
}

// AuthSuccessPayload is sent to a reconnecting device so it resumes with
// its current configuration without a second round trip.
type AuthSuccessPayload struct {
	UniqueHardwareID string                 `json:"uniqueHardwareId,omitempty"`
	Config           *device.ConfigSnapshot `json:"config,omitempty"`
}

// StatePayload reports an endpoint relay state, either from the device
// itself or synthesized by the gateway.
type StatePayload struct {
	UniqueHardwareID string `json:"uniqueHardwareId,omitempty"`
	State            string `json:"state,omitempty"`
}

// Command is the decoded shape of a user command, used for auditing.
// The raw bytes are forwarded to the device untouched.
type Command struct {
	Type  string `json:"type"`
	State *bool  `json:"state,omitempty"`
	Data  *bool  `json:"data,omitempty"`
}

// CommandPayload carries a set_endpoint_state request. Command stays raw
// so unknown fields survive the relay verbatim.
type CommandPayload struct {
	UniqueHardwareID string          `json:"uniqueHardwareId"`
	Command          json.RawMessage `json:"command,omitempty"`
}

// QueryPayload carries a query_endpoint_state request. An absent hardware
// ID means "query every device the requesting user owns".
type QueryPayload struct {
	UniqueHardwareID string `json:"uniqueHardwareId,omitempty"`
}

// TempHumiReading is a combined temperature/humidity sample.
type TempHumiReading struct {
	Temperature float64 `json:"temperature"`
	Humidity    float64 `json:"humidity"`
}

// PresenceReading is a PIR or radar occupancy sample.
type PresenceReading struct {
	State bool `json:"state"`
}

// SoundReading marks a sound-detection event; the event itself carries no
// data beyond its arrival time.
type SoundReading struct{}

// SensorReport is the opportunistic sensor bundle inside a data_report.
// Devices send whichever readings they have; every field is optional.
type SensorReport struct {
	TempHumi *TempHumiReading `json:"temp_humi,omitempty"`
	PIR      *PresenceReading `json:"pir,omitempty"`
	Radar    *PresenceReading `json:"radar,omitempty"`
	Sound    *SoundReading    `json:"sound,omitempty"`
}

// DataReportPayload wraps a SensorReport.
type DataReportPayload struct {
	Sensor *SensorReport `json:"sensor,omitempty"`
}

// envelope builds an Envelope with a marshalled payload. payload may be
// nil for frames that carry only a type and message.
func envelope(msgType string, payload any, message string) (Envelope, error) {
	env := Envelope{Type: msgType, Message: message}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, err
		}
		env.Payload = raw
	}
	return env, nil
}
