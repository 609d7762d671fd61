package main

import (
	"context"

	"github.com/nerrad567/openhandy-bridge/internal/audit"
	"github.com/nerrad567/openhandy-bridge/internal/bridge"
	"github.com/nerrad567/openhandy-bridge/internal/device"
	"github.com/nerrad567/openhandy-bridge/internal/hub"
	"github.com/nerrad567/openhandy-bridge/internal/infrastructure/influxdb"
)

// hubLink forwards bridge output to the hub manager, which is created after
// the bridge because the manager reports its events to the bridge.
type hubLink struct {
	manager *hub.Manager
}

// Send implements bridge.Sender.
func (l *hubLink) Send(batch []any) {
	if l.manager == nil {
		return
	}
	l.manager.Send(batch)
}

// actionHistory stores bridge action records in the audit repository.
type actionHistory struct {
	repo audit.Repository
}

// RecordAction implements bridge.ActionHistory.
func (h *actionHistory) RecordAction(ctx context.Context, rec bridge.ActionRecord) error {
	return h.repo.Create(ctx, &audit.ActionLog{
		Action:    rec.Action,
		SessionID: rec.SessionID,
		Device:    rec.Device,
		Arguments: rec.Arguments,
		CreatedAt: rec.Timestamp,
	})
}

// commandTelemetry writes executor step results to InfluxDB.
type commandTelemetry struct {
	client *influxdb.Client
}

// RecordStep implements device.Recorder.
func (c *commandTelemetry) RecordStep(r device.StepResult) {
	c.client.WriteDeviceCommand(influxdb.CommandSample{
		Device:   r.Device,
		Step:     r.Step,
		Value:    r.Value,
		HasValue: r.HasValue,
		OK:       r.OK,
		Duration: r.Duration,
		Time:     r.Time,
	})
}
