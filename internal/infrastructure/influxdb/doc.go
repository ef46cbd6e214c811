// Package influxdb provides optional InfluxDB telemetry for mqttlightbulb.
//
// It wraps the official influxdb-client-go v2 library for connection
// management, batched non-blocking writes and health monitoring.
//
// Every accepted light state change becomes one point:
//
//	light_state,accessory=Desk\ Lamp,field=hsb,origin=device on=true,hue=120,saturation=50,brightness=75
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB, log.Component("influxdb"))
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
// The client implements light.Recorder, so it can be passed straight to
// light.NewBridge (alone or inside light.Recorders).
package influxdb
