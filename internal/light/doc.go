// Package light keeps one lightbulb's state in sync between MQTT and HomeKit.
//
// A Bridge owns the LightState (on, hue, saturation, brightness) of a single
// accessory. Messages arriving on the getOn and getHsb topics update the
// state and are pushed to the HomeKit characteristics. Writes made by a
// HomeKit controller update the state and are published to setOn or setHsb.
// A controller write whose publish fails is rolled back, and HomeKit is given
// the previous value again.
//
// Every write carries an Origin. Device-originated writes are never published
// back, so a status message from the device cannot loop through HomeKit and
// return to the device as a command.
//
// # Wire format
//
//	getOn   "On" turns the light on, anything else turns it off
//	getHsb  {"HSBColor":"359,50,100", ...}   (Tasmota RESULT message)
//	setOn   "On" | "Off"
//	setHsb  "359,50,100,"                   (trailing comma kept for the firmware)
//
// # Usage
//
//	bridge, err := light.NewBridge(light.BridgeOptions{
//	    Name:            "Desk Lamp",
//	    Topics:          light.Topics{GetOn: "stat/desk/POWER", SetOn: "cmnd/desk/POWER",
//	                                  GetHSB: "stat/desk/RESULT", SetHSB: "cmnd/desk/HSBColor"},
//	    MQTTClient:      client,
//	    Characteristics: bulb,
//	    Logger:          logger,
//	})
//	if err != nil {
//	    return err
//	}
//	bulb.Bind(bridge)
//	return bridge.Start(ctx)
package light
