// Package discovery listens for device announcements on UDP.
//
// Devices broadcast plain-text packets such as:
//
//	OPENHANDY_DISCOVERY ip=10.20.0.101 host=openhandy tcode=2000 dport=5390
//
// The listener accepts the first packet carrying the configured prefix and
// reports its address (the ip= field, or the sender when absent). Everything
// after that is ignored for the rest of the process lifetime.
package discovery
