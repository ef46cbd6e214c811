// Package homekit exposes light bridges as HomeKit lightbulb accessories.
//
// Each Lightbulb carries one Lightbulb service with On, Brightness,
// Saturation and Hue characteristics. Values written by a paired
// controller are forwarded to the bound light.Bridge as host writes, and
// refused when the bridge could not deliver them. Values coming from the
// device are set on the characteristics, which makes the HAP server
// notify controllers.
//
// A Server serves a single accessory directly, or several accessories
// behind a HAP bridge.
package homekit
