// Package device drives the discovered device over its HTTP control API.
//
// Every action invocation becomes an ordered sequence of GET requests to
// /api/motion on the device:
//
//	action=setpattern&mode=<0|1|2>   always; unknown stroke types use 0
//	action=setspeed&sp=<10..100>     only for an integer speed, clamped
//	action=start | action=stop       only for those two motion states
//
// The pattern and speed calls are each followed by a short debounce pause.
// Responses are not inspected; only transport failures are reported, and
// they never abort the rest of the sequence.
//
// Usage:
//
//	exec := device.NewExecutor(device.Options{Logger: log})
//	exec.Execute(ctx, "10.20.0.101", map[string]string{
//	    "motion_state": "start",
//	    "stroke_type":  "bounce",
//	    "speed":        "50",
//	})
package device
