// Package mqtt provides MQTT client connectivity for the OpenHandy bridge.
//
// This package manages:
//   - Connection to a Mosquitto broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Last Will and Testament (LWT) for offline detection
//   - Connection health monitoring
//
// # Architecture
//
// MQTT is an optional status surface. The bridge publishes its retained
// state snapshot, the discovered device and every matched action under a
// configurable prefix; home automation dashboards subscribe to them.
//
//	Bridge → MQTT Broker → Dashboards
//
// The client itself only owns the availability topic:
//
//	{prefix}/availability   retained, "online" on connect, LWT "offline"
//
// # Security Considerations
//
//   - TLS should be enabled when the broker is not on localhost (cfg.Broker.TLS=true)
//   - Anonymous access is only for local development
//   - Message payloads are not encrypted beyond TLS transport
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if errors.Is(err, mqtt.ErrDisabled) {
//	    // run without MQTT
//	}
//	defer client.Close()
//
//	client.Publish("handybridge/status", snapshot, 1, true)
package mqtt
