package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// measurementDeviceCommand holds one point per HTTP call made to the device.
const measurementDeviceCommand = "device_command"

// CommandSample is one device control call as seen by the executor.
type CommandSample struct {
	Device   string
	Step     string
	Value    int
	HasValue bool
	OK       bool
	Duration time.Duration
	Time     time.Time
}

// WriteDeviceCommand records a device control call.
//
// The write is non-blocking; data is batched and sent asynchronously.
// Tags are the device address and the step (setpattern, setspeed, start,
// stop). Fields are ok, duration_ms and, for steps that carry one, value.
//
// Example:
//
//	client.WriteDeviceCommand(influxdb.CommandSample{
//	    Device: "192.168.1.50", Step: "setspeed", Value: 60, HasValue: true,
//	    OK: true, Duration: 12 * time.Millisecond, Time: time.Now(),
//	})
func (c *Client) WriteDeviceCommand(s CommandSample) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(commandPoint(s))
}

// commandPoint converts a sample into a line protocol point.
func commandPoint(s CommandSample) *write.Point {
	fields := map[string]interface{}{
		"ok":          s.OK,
		"duration_ms": float64(s.Duration) / float64(time.Millisecond),
	}
	if s.HasValue {
		fields["value"] = s.Value
	}

	ts := s.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	return write.NewPoint(
		measurementDeviceCommand,
		map[string]string{
			"device": s.Device,
			"step":   s.Step,
		},
		fields,
		ts,
	)
}
