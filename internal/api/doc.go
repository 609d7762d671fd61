// Package api implements the read-only HTTP status API for the OpenHandy bridge.
//
// This package provides:
//   - REST endpoints for health, bridge status, hub counters and action history
//   - A WebSocket stream pushing the bridge snapshot whenever it changes
//   - Middleware stack (request ID, logging, recovery)
//
// # Endpoints
//
//	GET /api/v1/health    {"status":"ok"|"degraded","version":...,"components":{...}}
//	GET /api/v1/status    bridge snapshot
//	GET /api/v1/hub       hub connection counters (404 when not wired)
//	GET /api/v1/actions   action history, ?limit=&offset=&action=&session_id=
//	GET /api/v1/ws        WebSocket; subscribe to "bridge.status"
//
// # Graceful Degradation
//
// Without an action history store /actions returns an empty page rather
// than an error, so dashboards need no special casing.
//
// # Security
//
// The API is read-only and has no authentication. Bind it to localhost or a
// trusted network.
package api
