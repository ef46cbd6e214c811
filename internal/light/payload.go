package light

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Power payloads.
const (
	PowerOn  = "On"
	PowerOff = "Off"
)

// hsbColorField is the key of the colour triple in a Tasmota RESULT message.
const hsbColorField = "HSBColor"

// ParsePower reports whether a getOn payload means "on".
// Only the exact string "On" does; "ON", "on" and "1" all mean off.
func ParsePower(payload []byte) bool {
	return string(payload) == PowerOn
}

// FormatPower returns the setOn payload for on.
func FormatPower(on bool) string {
	if on {
		return PowerOn
	}
	return PowerOff
}

// ParseHSBStatus extracts the HSBColor triple from a JSON status message.
//
// Other fields in the object are ignored, e.g.
//
//	{"POWER":"ON","Dimmer":100,"Color":"FF7F81","HSBColor":"359,50,100","Channel":[100,50,51]}
//
// Returns:
//   - HSB: The parsed triple
//   - error: ErrMalformedPayload wrapping ErrInvalidJSON, ErrMissingHSBColor or ErrInvalidHSB
func ParseHSBStatus(payload []byte) (HSB, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return HSB{}, fmt.Errorf("%w: %w: %v", ErrMalformedPayload, ErrInvalidJSON, err)
	}

	raw, ok := fields[hsbColorField]
	if !ok || string(raw) == "null" {
		return HSB{}, fmt.Errorf("%w: %w", ErrMalformedPayload, ErrMissingHSBColor)
	}

	var color string
	if err := json.Unmarshal(raw, &color); err != nil {
		return HSB{}, fmt.Errorf("%w: %w: HSBColor is not a string", ErrMalformedPayload, ErrInvalidHSB)
	}

	return ParseHSB(color)
}

// ParseHSB parses "H,S,B". Whitespace around each number and one trailing
// comma are accepted, so the setHsb form parses too.
//
// Returns:
//   - HSB: The parsed triple
//   - error: ErrMalformedPayload wrapping ErrInvalidHSB
func ParseHSB(s string) (HSB, error) {
	parts := strings.Split(s, ",")
	if len(parts) == 4 && strings.TrimSpace(parts[3]) == "" {
		parts = parts[:3]
	}
	if len(parts) != 3 {
		return HSB{}, fmt.Errorf("%w: %w: want 3 values, got %q", ErrMalformedPayload, ErrInvalidHSB, s)
	}

	var values [3]float64
	limits := [3]float64{MaxHue, MaxSaturation, MaxBrightness}
	for i, part := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return HSB{}, fmt.Errorf("%w: %w: %q is not a number", ErrMalformedPayload, ErrInvalidHSB, part)
		}
		if v < 0 || v > limits[i] {
			return HSB{}, fmt.Errorf("%w: %w: %v out of range 0-%v", ErrMalformedPayload, ErrInvalidHSB, v, limits[i])
		}
		values[i] = v
	}

	return HSB{Hue: values[0], Saturation: values[1], Brightness: values[2]}, nil
}

// FormatHSB returns the setHsb payload "H,S,B," with the trailing comma the
// firmware expects. Whole numbers are written without a decimal point.
func FormatHSB(h HSB) string {
	return formatNumber(h.Hue) + "," + formatNumber(h.Saturation) + "," + formatNumber(h.Brightness) + ","
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
