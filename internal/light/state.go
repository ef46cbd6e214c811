package light

import "fmt"

// Characteristic ranges, as defined by HomeKit.
const (
	MaxHue        = 360.0
	MaxSaturation = 100.0
	MaxBrightness = 100.0
)

// LightState is the in-memory state of one lightbulb.
type LightState struct {
	On         bool    `json:"on"`
	Hue        float64 `json:"hue"`
	Saturation float64 `json:"saturation"`
	Brightness float64 `json:"brightness"`
}

// HSB returns the colour part of the state.
func (s LightState) HSB() HSB {
	return HSB{Hue: s.Hue, Saturation: s.Saturation, Brightness: s.Brightness}
}

// HSB is a hue/saturation/brightness triple as carried in HSBColor.
type HSB struct {
	Hue        float64
	Saturation float64
	Brightness float64
}

// String returns the setHsb wire form, e.g. "10,20,75,".
func (h HSB) String() string {
	return FormatHSB(h)
}

// Origin tells a setter who caused the write.
type Origin int

const (
	// OriginDevice marks a write caused by an inbound MQTT message. It is never published.
	OriginDevice Origin = iota + 1

	// OriginHost marks a write made by a HomeKit controller. It is published.
	OriginHost
)

// String implements fmt.Stringer.
func (o Origin) String() string {
	switch o {
	case OriginDevice:
		return "device"
	case OriginHost:
		return "host"
	default:
		return fmt.Sprintf("origin(%d)", int(o))
	}
}

// Topics are the four MQTT topics of one accessory.
type Topics struct {
	GetOn  string
	SetOn  string
	GetHSB string
	SetHSB string
}

// validate reports the first empty topic.
func (t Topics) validate() error {
	for _, topic := range []struct{ name, value string }{
		{"getOn", t.GetOn},
		{"setOn", t.SetOn},
		{"getHsb", t.GetHSB},
		{"setHsb", t.SetHSB},
	} {
		if topic.value == "" {
			return fmt.Errorf("%w: topic %s is required", ErrInvalidOptions, topic.name)
		}
	}
	return nil
}

// Field names used in StateChange.
const (
	FieldOn         = "on"
	FieldHue        = "hue"
	FieldSaturation = "saturation"
	FieldBrightness = "brightness"
	FieldHSB        = "hsb"
)
