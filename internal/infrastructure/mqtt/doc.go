// Package mqtt provides the broker connection used by each lightbulb accessory.
//
// This package manages:
//   - Connection to the broker named in the accessory URL, retried every second
//   - Fire-and-forget publishing (callers never wait for the broker)
//   - Subscriptions that survive reconnects
//   - Last Will and Testament (LWT) registration
//
// # Connection model
//
// Connect returns as soon as the paho client is started. The first
// connection attempt, and every reconnect after a loss, run in paho's own
// goroutines. Subscriptions are recorded locally and (re)applied each time
// the connection comes up, so a bridge can subscribe before the broker is
// reachable.
//
// # Broker URLs
//
//	mqtt://host:1883   -> tcp://host:1883
//	mqtts://host:8883  -> ssl://host:8883
//	host:1883          -> tcp://host:1883
//	ws://host:9001/mqtt is passed through unchanged
//
// # Usage
//
//	client, err := mqtt.Connect(acc, cfg.MQTT, logger)
//	if err != nil {
//	    return err // only for an unusable URL
//	}
//	defer client.Close()
//
//	client.Subscribe("stat/sonoff/POWER", 0, func(topic string, payload []byte) error {
//	    return nil
//	})
//	client.Publish("cmnd/sonoff/POWER", []byte("On"), 0, false)
package mqtt
