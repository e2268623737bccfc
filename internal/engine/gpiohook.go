package engine

// GPIO-driven hook control.
//
// Some provisioned lines drive their hook/ring-trip relay from a Linux
// GPIO character-device line instead of a channel ioctl. This module drives
// that line with the pure-Go github.com/warthog618/go-gpiocdev library.

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// GPIOHookLine drives one GPIO line as a Device's HOOK verb substitute for
// provisioned lines whose ring-trip/loop-closure relay is a GPIO output
// rather than a channel ioctl (e.g. a relay board fronting an FXS port).
type GPIOHookLine struct {
	line *gpiocdev.Line
}

// OpenGPIOHookLine requests chipName's offset as an output line, active-low
// when invert is set (some relay boards drive the coil low-true).
func OpenGPIOHookLine(chipName string, offset int, invert bool) (*GPIOHookLine, error) {
	opts := []gpiocdev.LineReqOption{gpiocdev.AsOutput(0)}
	if invert {
		opts = append(opts, gpiocdev.AsActiveLow)
	}
	line, err := gpiocdev.RequestLine(chipName, offset, opts...)
	if err != nil {
		return nil, fmt.Errorf("gpiohook: request %s:%d: %w", chipName, offset, err)
	}
	return &GPIOHookLine{line: line}, nil
}

// SetHook drives the line per a HookOp: HookOff/HookRing assert the line,
// HookOn/HookRingOff deassert it. Wink/flash/start are momentary and are
// not meaningful for a level-driven relay, so they are no-ops here; the
// Port's normal signaling timing produces the pulse shape by toggling
// SetHook twice instead.
func (g *GPIOHookLine) SetHook(op HookOp) error {
	switch op {
	case HookOff, HookRing:
		return g.line.SetValue(1)
	case HookOn, HookRingOff:
		return g.line.SetValue(0)
	default:
		return nil
	}
}

// Close releases the GPIO line request.
func (g *GPIOHookLine) Close() error {
	return g.line.Close()
}

// GPIOBackedDevice wraps a base Device, redirecting Hook calls to a GPIO
// line and passing every other verb through unchanged. This is how a
// Port provisioned with a GPIO relay coexists with the rest of the
// ioctl-backed Device contract.
type GPIOBackedDevice struct {
	Device
	hook *GPIOHookLine
}

// NewGPIOBackedDevice composes base with a GPIO hook line.
func NewGPIOBackedDevice(base Device, hook *GPIOHookLine) *GPIOBackedDevice {
	return &GPIOBackedDevice{Device: base, hook: hook}
}

func (d *GPIOBackedDevice) Hook(op HookOp) error {
	return d.hook.SetHook(op)
}

func (d *GPIOBackedDevice) Close() error {
	_ = d.hook.Close()
	return d.Device.Close()
}
