// Package config handles loading and validating mqttlightbulb configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - Broker passwords and the InfluxDB token should be set via environment variables
//   - The config file should have restricted permissions (0600)
//   - The default HomeKit PIN (031-45-154) should be changed before pairing
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Accessories[0].Name)
//
// Example accessory entry:
//
//	accessories:
//	  - name: "Desk Lamp"
//	    url: "mqtt://192.168.1.10:1883"
//	    username: "homekit"
//	    caption: "Desk"
//	    retain: false
//	    topics:
//	      getOn: "stat/sonoff/POWER"
//	      setOn: "cmnd/sonoff/POWER"
//	      getHsb: "stat/sonoff/RESULT"
//	      setHsb: "cmnd/sonoff/HSBColor"
package config
