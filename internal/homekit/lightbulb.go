package homekit

import (
	"errors"
	"math"

	"github.com/brutella/hap/accessory"
	"github.com/brutella/hap/characteristic"
	"github.com/brutella/hap/service"

	"github.com/nerrad567/mqttlightbulb/internal/light"
)

// ErrNotDelivered is returned to HAP when a controller write did not
// reach the device. HAP answers the controller with -70402 and keeps the
// old characteristic value.
var ErrNotDelivered = errors.New("homekit: write not delivered to device")

// Target receives values written by HomeKit controllers.
// *light.Bridge implements it.
type Target interface {
	SetOn(on bool, origin light.Origin)
	SetHue(hue float64, origin light.Origin)
	SetSaturation(saturation float64, origin light.Origin)
	SetBrightness(brightness float64, origin light.Origin)
	State() light.LightState
}

// LightbulbService is a HAP Lightbulb service with colour support.
type LightbulbService struct {
	*service.S

	On         *characteristic.On
	Brightness *characteristic.Brightness
	Saturation *characteristic.Saturation
	Hue        *characteristic.Hue
}

// NewLightbulbService returns a Lightbulb service with On, Brightness,
// Saturation and Hue.
func NewLightbulbService() *LightbulbService {
	s := LightbulbService{}
	s.S = service.New(service.TypeLightbulb)

	s.On = characteristic.NewOn()
	s.AddC(s.On.C)

	s.Brightness = characteristic.NewBrightness()
	s.AddC(s.Brightness.C)

	s.Saturation = characteristic.NewSaturation()
	s.AddC(s.Saturation.C)

	s.Hue = characteristic.NewHue()
	s.AddC(s.Hue.C)

	return &s
}

// Lightbulb is a HomeKit accessory for one configured light.
//
// It implements light.Characteristics.
type Lightbulb struct {
	*accessory.A
	Lightbulb *LightbulbService

	target Target
}

// NewLightbulb creates a lightbulb accessory.
func NewLightbulb(info accessory.Info) *Lightbulb {
	l := Lightbulb{}
	l.A = accessory.New(info, accessory.TypeLightbulb)

	l.Lightbulb = NewLightbulbService()
	l.AddS(l.Lightbulb.S)

	return &l
}

// Bind forwards controller writes to target as light.OriginHost writes.
// Call it once, before the HAP server starts.
//
// A write that target rolled back is refused, so HomeKit keeps showing
// the device's value and repeating the write reaches target again. HAP
// drops a write equal to the current value before any handler runs.
func (l *Lightbulb) Bind(target Target) {
	l.target = target

	l.Lightbulb.On.OnSetRemoteValue(l.remoteOn)
	l.Lightbulb.Hue.OnSetRemoteValue(l.remoteHue)
	l.Lightbulb.Saturation.OnSetRemoteValue(l.remoteSaturation)
	l.Lightbulb.Brightness.OnSetRemoteValue(l.remoteBrightness)
}

// Services returns the accessory's HAP services: accessory information
// followed by the lightbulb.
func (l *Lightbulb) Services() []*service.S {
	return l.A.Ss
}

func (l *Lightbulb) remoteOn(on bool) error {
	if l.target == nil {
		return nil
	}
	l.target.SetOn(on, light.OriginHost)
	return delivered(l.target.State().On == on)
}

func (l *Lightbulb) remoteHue(hue float64) error {
	if l.target == nil {
		return nil
	}
	l.target.SetHue(hue, light.OriginHost)
	return delivered(l.target.State().Hue == hue)
}

func (l *Lightbulb) remoteSaturation(saturation float64) error {
	if l.target == nil {
		return nil
	}
	l.target.SetSaturation(saturation, light.OriginHost)
	return delivered(l.target.State().Saturation == saturation)
}

func (l *Lightbulb) remoteBrightness(brightness int) error {
	if l.target == nil {
		return nil
	}
	l.target.SetBrightness(float64(brightness), light.OriginHost)
	return delivered(l.target.State().Brightness == float64(brightness))
}

func delivered(ok bool) error {
	if ok {
		return nil
	}
	return ErrNotDelivered
}

// UpdateOn sets the On characteristic from a device value.
func (l *Lightbulb) UpdateOn(on bool) {
	l.Lightbulb.On.SetValue(on)
}

// UpdateHue sets the Hue characteristic from a device value.
func (l *Lightbulb) UpdateHue(hue float64) {
	l.Lightbulb.Hue.SetValue(hue)
}

// UpdateSaturation sets the Saturation characteristic from a device value.
func (l *Lightbulb) UpdateSaturation(saturation float64) {
	l.Lightbulb.Saturation.SetValue(saturation)
}

// UpdateBrightness sets the Brightness characteristic, rounded to the
// whole percent HomeKit uses.
func (l *Lightbulb) UpdateBrightness(brightness float64) {
	l.Lightbulb.Brightness.SetValue(int(math.Round(brightness)))
}
