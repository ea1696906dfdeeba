// services/telemetry/adaptor_ina226_test.go
package telemetry

import (
	"context"
	"errors"
	"testing"

	"tinygo.org/x/drivers"

	"powermon-go/drivers/ina226"
	"powermon-go/errcode"
	"powermon-go/types"
)

// Compile-time check.
var _ drivers.I2C = (*fakeBus)(nil)

// fakeBus serves an INA226-shaped register bank.
type fakeBus struct {
	regs map[uint8]uint16
}

func newFakeBus() *fakeBus {
	return &fakeBus{regs: map[uint8]uint16{
		0x00: 0x4127,
		0xFE: ina226.ManufacturerTI,
		0xFF: ina226.DieINA226,
	}}
}

func (f *fakeBus) Tx(addr uint16, w, r []byte) error {
	switch {
	case len(w) == 1 && len(r) == 2:
		v := f.regs[w[0]]
		r[0] = byte(v >> 8)
		r[1] = byte(v)
	case len(w) == 3 && len(r) == 0:
		f.regs[w[0]] = uint16(w[1])<<8 | uint16(w[2])
	default:
		return errors.New("unexpected transaction shape")
	}
	return nil
}

func newTestAdaptor(t *testing.T, triggered bool) (*INA226Adaptor, *fakeBus) {
	t.Helper()
	f := newFakeBus()
	dev := ina226.New(f)
	if err := dev.Configure(ina226.Defaults()); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if err := dev.SetCalibration(2048); err != nil {
		t.Fatalf("SetCalibration: %v", err)
	}
	dev.SetCurrentLSB(0.1)   // mA per count
	dev.SetPowerLSB(0.0025)  // W per count (25x current LSB per datasheet)
	return NewINA226Adaptor("main-rail", dev, "i2c0", 2000, triggered), f
}

func TestINA226Adaptor_Collect(t *testing.T) {
	a, f := newTestAdaptor(t, false)
	ctx := context.Background()

	shunt := int16(-2000)
	f.regs[0x01] = uint16(shunt) // shunt: -5000 µV
	f.regs[0x02] = 4000                 // bus: 5000 mV
	f.regs[0x04] = 300                  // current: 30 mA = 30000 µA
	f.regs[0x03] = 4000                 // power: 10 W = 10000 mW

	if _, err := a.Trigger(ctx); err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	v, err := a.Collect(ctx)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if v.ShuntMicroV != -5000 {
		t.Fatalf("ShuntMicroV = %d, want -5000", v.ShuntMicroV)
	}
	if v.BusMilliV != 5000 {
		t.Fatalf("BusMilliV = %d, want 5000", v.BusMilliV)
	}
	if v.CurrentMicA != 30000 {
		t.Fatalf("CurrentMicA = %d, want 30000", v.CurrentMicA)
	}
	if v.PowerMilliW != 10000 {
		t.Fatalf("PowerMilliW = %d, want 10000", v.PowerMilliW)
	}
	if v.Overflow {
		t.Fatal("Overflow set without OVF flag")
	}
}

func TestINA226Adaptor_TriggeredNotReady(t *testing.T) {
	a, f := newTestAdaptor(t, true)
	ctx := context.Background()

	if _, err := a.Trigger(ctx); err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	// CVRF clear: conversion still running.
	f.regs[0x06] = 0
	if _, err := a.Collect(ctx); !errors.Is(err, ErrNotReady) {
		t.Fatalf("Collect = %v, want ErrNotReady", err)
	}

	// CVRF set: sample is served.
	f.regs[0x06] = 1 << 3
	if _, err := a.Collect(ctx); err != nil {
		t.Fatalf("Collect after ready: %v", err)
	}
}

func TestINA226Adaptor_ControlVerbs(t *testing.T) {
	a, f := newTestAdaptor(t, false)

	if _, err := a.Control("set_calibration", map[string]any{"value": float64(500)}); err != nil {
		t.Fatalf("set_calibration: %v", err)
	}
	if f.regs[0x05] != 500 {
		t.Fatalf("calibration register = %d, want 500", f.regs[0x05])
	}

	if _, err := a.Control("set_averaging", map[string]any{"selector": float64(7)}); err != nil {
		t.Fatalf("set_averaging: %v", err)
	}
	if got := (f.regs[0x00] >> 9) & 0x7; got != 7 {
		t.Fatalf("AVG field = %d, want 7", got)
	}

	res, err := a.Control("read_register", map[string]any{"reg": float64(0xFE)})
	if err != nil {
		t.Fatalf("read_register: %v", err)
	}
	m := res.(map[string]any)
	if m["value"] != uint16(ina226.ManufacturerTI) {
		t.Fatalf("read_register value = %v", m["value"])
	}

	if _, err := a.Control("bogus", nil); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("bogus verb error = %v, want ErrUnsupported", err)
	}

	// Known verb, payload missing its key: invalid_params, not unsupported.
	_, err = a.Control("set_calibration", map[string]any{})
	if errcode.Of(err) != errcode.InvalidParams {
		t.Fatalf("missing value error = %v, want invalid_params", err)
	}
	if f.regs[0x05] != 500 {
		t.Fatalf("calibration changed on rejected verb: %d", f.regs[0x05])
	}
}

func TestINA226Adaptor_ApplyPartial(t *testing.T) {
	a, f := newTestAdaptor(t, false)

	mode := uint8(5)
	cal := uint16(4096)
	if err := a.Apply(types.MonitorConfigure{Mode: &mode, Calibration: &cal}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if got := f.regs[0x00] & 0x7; got != 5 {
		t.Fatalf("MODE field = %d, want 5", got)
	}
	if f.regs[0x05] != 4096 {
		t.Fatalf("calibration = %d, want 4096", f.regs[0x05])
	}
}
