// Package influxdb provides the time-series backend for sensor telemetry.
//
// Every reading a device sends in a data_report (temperature/humidity,
// PIR, radar, sound events) lands here as an independent timestamped
// point. Writes are non-blocking and batched; failures surface through an
// async error callback and never propagate to the message router.
package influxdb
