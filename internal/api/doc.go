// Package api provides the optional read-only HTTP status API for mqttlightbulb.
//
// It exposes accessory state, MQTT connectivity and recorded state history
// to scripts and dashboards. Nothing here can change a light; writes go
// through HomeKit or MQTT only.
//
// Routes:
//
//	GET /api/v1/health
//	GET /api/v1/accessories
//	GET /api/v1/accessories/{name}/state
//	GET /api/v1/accessories/{name}/history?limit=50
//
// The server follows the same lifecycle pattern as other components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
package api
