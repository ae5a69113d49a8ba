// Package telemetry records what the device fleet reports and what users
// command. Sensor readings (temperature, humidity, presence, sound) go to
// InfluxDB as time-series points; user commands go to the SQLite
// command_audit table so there is a durable trail of who switched what.
//
// The Recorder degrades gracefully: with no InfluxDB client configured,
// sensor readings are dropped while command auditing keeps working.
package telemetry
