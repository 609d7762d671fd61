// Package influxdb provides InfluxDB connectivity for the OpenHandy bridge.
//
// It wraps the official influxdb-client-go v2 library for connection
// management, device command telemetry and health monitoring.
//
// # Purpose
//
// Every HTTP call the bridge makes to the device becomes one point in the
// device_command measurement, so command latency and failure rates can be
// graphed per device and per step.
//
// # Usage
//
//	cfg := config.InfluxDBConfig{
//	    Enabled: true,
//	    URL:     "http://localhost:8086",
//	    Token:   "your-token",
//	    Org:     "handybridge",
//	    Bucket:  "telemetry",
//	}
//
//	client, err := influxdb.Connect(ctx, cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.WriteDeviceCommand(influxdb.CommandSample{Device: "192.168.1.50", Step: "start", OK: true})
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// The underlying write API uses non-blocking batched writes.
//
// # Error Handling
//
// Write operations are non-blocking and batch errors are delivered via a
// callback. Connection and health check errors are returned directly.
package influxdb
