package mqtt

import (
	"fmt"
)

// Subscribe registers a handler for messages on the specified topic filter.
//
// The subscription is recorded even while disconnected and is applied each
// time the connection comes up. When already connected it is sent at once
// without waiting for the SUBACK.
//
// Parameters:
//   - topic: The topic filter to subscribe to (+ and # allowed)
//   - qos: Maximum QoS level for received messages (0, 1, or 2)
//   - handler: Callback function invoked for each message
//
// Returns:
//   - error: Validation errors only
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	if err := ValidateSubscribeTopic(topic); err != nil {
		return err
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if handler == nil {
		return fmt.Errorf("%w: handler cannot be nil", ErrSubscribeFailed)
	}

	sub := subscription{
		topic:   topic,
		qos:     qos,
		handler: handler,
	}

	c.subMu.Lock()
	c.subscriptions[topic] = sub
	c.subMu.Unlock()

	if c.IsConnected() {
		c.subscribe(sub)
	}

	return nil
}

// subscribe sends a SUBSCRIBE for sub without blocking.
func (c *Client) subscribe(sub subscription) {
	token := c.client.Subscribe(sub.topic, sub.qos, c.wrapHandler(sub.handler))
	c.watchToken(token, "subscribe", sub.topic)
}

// Unsubscribe removes a subscription so it is not restored on reconnect.
//
// Parameters:
//   - topic: The exact topic filter that was subscribed to
//
// Returns:
//   - error: ErrInvalidTopic for an empty topic
func (c *Client) Unsubscribe(topic string) error {
	if topic == "" {
		return fmt.Errorf("%w: empty", ErrInvalidTopic)
	}

	c.subMu.Lock()
	delete(c.subscriptions, topic)
	c.subMu.Unlock()

	if c.IsConnected() {
		token := c.client.Unsubscribe(topic)
		c.watchToken(token, "unsubscribe", topic)
	}

	return nil
}
