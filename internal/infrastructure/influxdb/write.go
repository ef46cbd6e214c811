package influxdb

import (
	"context"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/mqttlightbulb/internal/light"
)

// lightStateMeasurement is the measurement every light state point is written to.
const lightStateMeasurement = "light_state"

// RecordStateChange queues one light_state point for the change.
//
// It implements light.Recorder. The write is non-blocking and never
// returns an error; failures are logged when the batch is sent.
// Changes are dropped after Close.
func (c *Client) RecordStateChange(_ context.Context, change light.StateChange) error {
	if !c.IsConnected() {
		return nil
	}

	c.writeAPI.WritePoint(lightStatePoint(change))
	return nil
}

// lightStatePoint converts a change into a point.
//
// Tags are low cardinality (accessory, field, origin); the full state
// snapshot goes into fields so each point can be graphed on its own.
func lightStatePoint(change light.StateChange) *write.Point {
	at := change.Time
	if at.IsZero() {
		at = time.Now()
	}

	return write.NewPoint(
		lightStateMeasurement,
		map[string]string{
			"accessory": change.Accessory,
			"field":     change.Field,
			"origin":    change.Origin.String(),
		},
		map[string]interface{}{
			"on":         change.State.On,
			"hue":        change.State.Hue,
			"saturation": change.State.Saturation,
			"brightness": change.State.Brightness,
		},
		at,
	)
}
