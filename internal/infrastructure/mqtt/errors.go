package mqtt

import "errors"

// Domain-specific errors for MQTT operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNotConnected is returned when publishing while the broker connection is down.
	ErrNotConnected = errors.New("mqtt: client not connected")

	// ErrInvalidBrokerURL is returned when the accessory URL cannot be turned into a broker address.
	ErrInvalidBrokerURL = errors.New("mqtt: invalid broker url")

	// ErrPublishFailed is returned when a publish cannot be handed to the client.
	ErrPublishFailed = errors.New("mqtt: publish failed")

	// ErrSubscribeFailed is returned when a subscription is rejected locally.
	ErrSubscribeFailed = errors.New("mqtt: subscribe failed")

	// ErrInvalidQoS is returned when an invalid QoS level is specified.
	// Valid QoS levels are 0, 1, or 2.
	ErrInvalidQoS = errors.New("mqtt: invalid QoS level (must be 0, 1, or 2)")

	// ErrInvalidTopic is returned when a topic is empty or misuses wildcards.
	ErrInvalidTopic = errors.New("mqtt: invalid topic")
)
