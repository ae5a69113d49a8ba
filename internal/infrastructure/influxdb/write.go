package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteTempHumi records a combined temperature/humidity reading.
//
// The write is non-blocking; the point is batched and sent asynchronously.
func (c *Client) WriteTempHumi(hardwareID string, temperature, humidity float64) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"temp_humi",
		map[string]string{
			"hardware_id": hardwareID,
		},
		map[string]interface{}{
			"temperature": temperature,
			"humidity":    humidity,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePresence records a boolean presence reading from a motion sensor.
// The sensor tag distinguishes the source ("pir" or "radar").
func (c *Client) WritePresence(hardwareID, sensor string, detected bool) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"presence",
		map[string]string{
			"hardware_id": hardwareID,
			"sensor":      sensor,
		},
		map[string]interface{}{
			"detected": detected,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteSoundEvent records a sound trigger event. Sound reports carry no
// value, only the fact that the device heard something.
func (c *Client) WriteSoundEvent(hardwareID string) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"sound_events",
		map[string]string{
			"hardware_id": hardwareID,
		},
		map[string]interface{}{
			"triggered": true,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, time.Now()))
}
