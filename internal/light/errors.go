package light

import "errors"

// Payload errors. Every parse failure wraps ErrMalformedPayload plus one
// of the more specific errors below.
var (
	// ErrMalformedPayload is returned for any inbound payload that cannot be used.
	ErrMalformedPayload = errors.New("light: malformed payload")

	// ErrInvalidJSON is returned when a status payload is not a JSON object.
	ErrInvalidJSON = errors.New("light: invalid JSON")

	// ErrMissingHSBColor is returned when the status object has no HSBColor field.
	ErrMissingHSBColor = errors.New("light: missing HSBColor")

	// ErrInvalidHSB is returned when HSBColor is not three in-range numbers.
	ErrInvalidHSB = errors.New("light: invalid HSB triple")
)

// ErrInvalidOptions is returned by NewBridge when a required option is missing.
var ErrInvalidOptions = errors.New("light: invalid bridge options")
