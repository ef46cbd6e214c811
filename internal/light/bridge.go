package light

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/mqttlightbulb/internal/infrastructure/mqtt"
)

// recordTimeout bounds a single Recorder call.
const recordTimeout = 5 * time.Second

// Bridge synchronises one lightbulb between MQTT and HomeKit.
//
// Thread Safety: All methods are safe for concurrent use. paho delivers
// messages on its own goroutine while HAP calls setters from HTTP handlers.
// mu guards state and is never held across network I/O; publishMu keeps
// host publishes in the order their state changes were made.
type Bridge struct {
	name     string
	topics   Topics
	retain   bool
	qos      byte
	mqtt     MQTTClient
	host     Characteristics
	recorder Recorder // Optional

	mu        sync.Mutex
	state     LightState
	publishMu sync.Mutex

	// Shutdown coordination
	stopOnce  sync.Once
	ctx       context.Context
	ctxCancel context.CancelFunc

	logger Logger
}

// MQTTClient is the interface for MQTT operations.
// This allows mocking in tests; main adapts *mqtt.Client to it.
type MQTTClient interface {
	// Publish hands a message to the transport. It may block for up to
	// the transport's write timeout.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// Subscribe registers a handler for a topic filter. The subscription
	// must survive reconnects.
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error

	// Unsubscribe removes a subscription.
	Unsubscribe(topic string) error

	// IsConnected returns true if connected to the broker.
	IsConnected() bool
}

// Characteristics receives device-originated values for the HomeKit side.
// *homekit.Lightbulb implements it.
type Characteristics interface {
	UpdateOn(on bool)
	UpdateHue(hue float64)
	UpdateSaturation(saturation float64)
	UpdateBrightness(brightness float64)
}

// StateChange describes one accepted write.
type StateChange struct {
	Accessory string
	Field     string // FieldOn, FieldHue, FieldSaturation, FieldBrightness or FieldHSB
	Origin    Origin
	State     LightState // state after the write
	Time      time.Time
}

// Recorder stores state changes. It is write-only; nothing is read back
// into a Bridge.
type Recorder interface {
	RecordStateChange(ctx context.Context, change StateChange) error
}

// Recorders fans one change out to several recorders.
type Recorders []Recorder

// RecordStateChange calls every recorder and joins their errors.
func (rs Recorders) RecordStateChange(ctx context.Context, change StateChange) error {
	var errs []error
	for _, r := range rs {
		if err := r.RecordStateChange(ctx, change); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// BridgeOptions holds configuration for creating a bridge.
type BridgeOptions struct {
	// Name identifies the accessory in logs and recorded changes.
	Name string

	// Topics are the four MQTT topics. All are required.
	Topics Topics

	// Retain is the retain flag for setOn/setHsb publishes.
	Retain bool

	// QoS is used for subscriptions and publishes.
	QoS byte

	// MQTTClient is the accessory's broker connection.
	MQTTClient MQTTClient

	// Characteristics is the HomeKit side of the accessory.
	Characteristics Characteristics

	// Recorder is optional. If nil, changes are not recorded.
	Recorder Recorder

	// Logger is optional structured logger.
	Logger Logger
}

// NewBridge creates a bridge with the zero LightState (off, 0, 0, 0).
// Call Start() to subscribe.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.MQTTClient == nil {
		return nil, fmt.Errorf("%w: MQTT client is required", ErrInvalidOptions)
	}
	if opts.Characteristics == nil {
		return nil, fmt.Errorf("%w: characteristics are required", ErrInvalidOptions)
	}
	if err := opts.Topics.validate(); err != nil {
		return nil, err
	}
	if opts.QoS > 2 {
		return nil, fmt.Errorf("%w: qos %d", ErrInvalidOptions, opts.QoS)
	}

	ctx, ctxCancel := context.WithCancel(context.Background())

	return &Bridge{
		name:      opts.Name,
		topics:    opts.Topics,
		retain:    opts.Retain,
		qos:       opts.QoS,
		mqtt:      opts.MQTTClient,
		host:      opts.Characteristics,
		recorder:  opts.Recorder, // May be nil (optional)
		ctx:       ctx,
		ctxCancel: ctxCancel,
		logger:    opts.Logger,
	}, nil
}

// Start subscribes to the getOn and getHsb topics. It does not wait for
// the broker; the transport applies the subscriptions once connected.
func (b *Bridge) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("starting bridge: %w", err)
	}

	for _, topic := range []string{b.topics.GetOn, b.topics.GetHSB} {
		if err := b.mqtt.Subscribe(topic, b.qos, b.handleMQTTMessage); err != nil {
			return fmt.Errorf("subscribe to %s: %w", topic, err)
		}
		b.logDebug("subscribed", "topic", topic)
	}

	b.logInfo("light bridge started",
		"get_on", b.topics.GetOn,
		"get_hsb", b.topics.GetHSB)
	return nil
}

// Stop unsubscribes and cancels pending recorder calls. Safe to call more than once.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		b.ctxCancel()

		for _, topic := range []string{b.topics.GetOn, b.topics.GetHSB} {
			if err := b.mqtt.Unsubscribe(topic); err != nil {
				b.logWarn("unsubscribe failed", "topic", topic, "error", err)
			}
		}

		b.logInfo("light bridge stopped")
	})
}

// handleMQTTMessage is the subscription callback.
func (b *Bridge) handleMQTTMessage(topic string, payload []byte) {
	// Errors are already logged by HandleMessage.
	_ = b.HandleMessage(topic, payload) //nolint:errcheck
}

// HandleMessage applies one inbound message.
//
// getOn takes precedence when a topic matches both subscriptions. Topics
// matching neither are ignored.
//
// Returns:
//   - error: ErrMalformedPayload for an unusable getHsb payload; state is unchanged
func (b *Bridge) HandleMessage(topic string, payload []byte) error {
	switch {
	case mqtt.TopicMatches(b.topics.GetOn, topic):
		b.applyPower(ParsePower(payload))
		return nil

	case mqtt.TopicMatches(b.topics.GetHSB, topic):
		hsb, err := ParseHSBStatus(payload)
		if err != nil {
			b.logWarn("malformed HSBColor result",
				"topic", topic,
				"payload", string(payload),
				"error", err)
			return err
		}
		b.applyHSB(hsb)
		return nil

	default:
		return nil
	}
}

// applyPower handles a getOn message.
func (b *Bridge) applyPower(on bool) {
	b.mu.Lock()
	b.state.On = on
	snapshot := b.state
	b.mu.Unlock()

	b.host.UpdateOn(on)
	b.record(FieldOn, OriginDevice, snapshot)
	b.logDebug("power from device", "on", on)
}

// applyHSB handles a getHsb message. On is derived from the new brightness.
func (b *Bridge) applyHSB(hsb HSB) {
	b.mu.Lock()
	b.state.Hue = hsb.Hue
	b.state.Saturation = hsb.Saturation
	b.state.Brightness = hsb.Brightness
	b.state.On = hsb.Brightness > 0
	snapshot := b.state
	b.mu.Unlock()

	b.host.UpdateOn(snapshot.On)
	b.host.UpdateHue(snapshot.Hue)
	b.host.UpdateSaturation(snapshot.Saturation)
	b.host.UpdateBrightness(snapshot.Brightness)
	b.record(FieldHSB, OriginDevice, snapshot)
	b.logDebug("colour from device", "hsb", hsb.String(), "on", snapshot.On)
}

// =============================================================================
// Host-facing accessors
// =============================================================================

// Name returns the accessory name.
func (b *Bridge) Name() string {
	return b.name
}

// Topics returns the accessory topics.
func (b *Bridge) Topics() Topics {
	return b.topics
}

// Connected reports whether the accessory's broker connection is up.
func (b *Bridge) Connected() bool {
	return b.mqtt.IsConnected()
}

// State returns a snapshot of the current state.
func (b *Bridge) State() LightState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// On returns the current power state.
func (b *Bridge) On() bool {
	return b.State().On
}

// Hue returns the current hue (0-360).
func (b *Bridge) Hue() float64 {
	return b.State().Hue
}

// Saturation returns the current saturation (0-100).
func (b *Bridge) Saturation() float64 {
	return b.State().Saturation
}

// Brightness returns the current brightness (0-100).
func (b *Bridge) Brightness() float64 {
	return b.State().Brightness
}

// SetOn writes the power state. Host writes publish "On"/"Off" to setOn;
// device writes are pushed to HomeKit instead.
func (b *Bridge) SetOn(on bool, origin Origin) {
	b.write(FieldOn, origin, func(s *LightState) { s.On = on })
}

// SetHue writes the hue. Host writes publish the full triple to setHsb.
func (b *Bridge) SetHue(hue float64, origin Origin) {
	b.write(FieldHue, origin, func(s *LightState) { s.Hue = hue })
}

// SetSaturation writes the saturation. Host writes publish the full triple to setHsb.
func (b *Bridge) SetSaturation(saturation float64, origin Origin) {
	b.write(FieldSaturation, origin, func(s *LightState) { s.Saturation = saturation })
}

// SetBrightness writes the brightness. Host writes publish the full triple to setHsb.
func (b *Bridge) SetBrightness(brightness float64, origin Origin) {
	b.write(FieldBrightness, origin, func(s *LightState) { s.Brightness = brightness })
}

// write applies one field. Device writes go to HomeKit. Host writes are
// published outside mu, one at a time; when the publish fails the field
// is restored and HomeKit is given the restored value.
func (b *Bridge) write(field string, origin Origin, apply func(*LightState)) {
	if origin == OriginDevice {
		b.mu.Lock()
		apply(&b.state)
		snapshot := b.state
		b.mu.Unlock()

		b.pushField(field, snapshot)
		b.record(field, origin, snapshot)
		return
	}

	b.publishMu.Lock()
	defer b.publishMu.Unlock()

	b.mu.Lock()
	previous := b.state
	apply(&b.state)
	snapshot := b.state
	b.mu.Unlock()

	topic, payload := b.command(field, snapshot)
	if err := b.mqtt.Publish(topic, []byte(payload), b.qos, b.retain); err != nil {
		b.logWarn("publish failed, keeping previous value",
			"topic", topic,
			"payload", payload,
			"error", err)

		b.mu.Lock()
		// A device update that landed meanwhile wins.
		if sameField(b.state, snapshot, field) {
			restoreField(&b.state, previous, field)
		}
		restored := b.state
		b.mu.Unlock()

		b.pushField(field, restored)
		return
	}

	b.logDebug("published", "topic", topic, "payload", payload)
	b.record(field, origin, snapshot)
}

// command returns the topic and payload announcing field in state.
func (b *Bridge) command(field string, state LightState) (string, string) {
	if field == FieldOn {
		return b.topics.SetOn, FormatPower(state.On)
	}
	return b.topics.SetHSB, FormatHSB(state.HSB())
}

// pushField hands one field of state to the HomeKit side.
func (b *Bridge) pushField(field string, state LightState) {
	switch field {
	case FieldOn:
		b.host.UpdateOn(state.On)
	case FieldHue:
		b.host.UpdateHue(state.Hue)
	case FieldSaturation:
		b.host.UpdateSaturation(state.Saturation)
	case FieldBrightness:
		b.host.UpdateBrightness(state.Brightness)
	}
}

func sameField(a, b LightState, field string) bool {
	switch field {
	case FieldOn:
		return a.On == b.On
	case FieldHue:
		return a.Hue == b.Hue
	case FieldSaturation:
		return a.Saturation == b.Saturation
	case FieldBrightness:
		return a.Brightness == b.Brightness
	}
	return false
}

func restoreField(dst *LightState, src LightState, field string) {
	switch field {
	case FieldOn:
		dst.On = src.On
	case FieldHue:
		dst.Hue = src.Hue
	case FieldSaturation:
		dst.Saturation = src.Saturation
	case FieldBrightness:
		dst.Brightness = src.Brightness
	}
}

// record passes a change to the recorder, if any.
func (b *Bridge) record(field string, origin Origin, state LightState) {
	if b.recorder == nil {
		return
	}

	ctx, cancel := context.WithTimeout(b.ctx, recordTimeout)
	defer cancel()

	change := StateChange{
		Accessory: b.name,
		Field:     field,
		Origin:    origin,
		State:     state,
		Time:      time.Now().UTC(),
	}
	if err := b.recorder.RecordStateChange(ctx, change); err != nil {
		b.logError("failed to record state change", err)
	}
}

// =============================================================================
// Logging helpers
// =============================================================================

func (b *Bridge) getLogger() Logger {
	return b.logger
}

// logInfo logs an info message if logger is set.
func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

// logWarn logs a warning if logger is set.
func (b *Bridge) logWarn(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

// logError logs an error message if logger is set.
func (b *Bridge) logError(msg string, err error) {
	if logger := b.getLogger(); logger != nil {
		logger.Error(msg, "error", err)
	}
}

// logDebug logs a debug message if logger is set.
func (b *Bridge) logDebug(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}
