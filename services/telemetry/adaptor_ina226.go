// services/telemetry/adaptor_ina226.go
package telemetry

import (
	"context"
	"time"

	"powermon-go/drivers/ina226"
	"powermon-go/errcode"
	"powermon-go/types"
)

// INA226Adaptor drives one INA226 through the generic Adaptor hooks.
type INA226Adaptor struct {
	name string
	dev  *ina226.Device
	info types.PowerInfo

	// triggered selects one-shot conversions kicked by Trigger. When false
	// the device free-runs and Trigger is only a wait-hint computation.
	triggered bool
}

// NewINA226Adaptor wraps an already-configured device. busID and shunt_uOhm
// only feed the retained info document.
func NewINA226Adaptor(name string, dev *ina226.Device, busID string, shuntMicroOhm uint32, triggered bool) *INA226Adaptor {
	return &INA226Adaptor{
		name: name,
		dev:  dev,
		info: types.PowerInfo{
			Bus:        busID,
			Addr:       dev.Address(),
			Shunt_uOhm: shuntMicroOhm,
			Kinds:      []types.Kind{types.KindVoltage, types.KindCurrent, types.KindPower},
		},
		triggered: triggered,
	}
}

func (a *INA226Adaptor) ID() string            { return a.name }
func (a *INA226Adaptor) Info() types.PowerInfo { return a.info }

// Trigger kicks a one-shot conversion when in triggered mode. Re-writing the
// MODE field restarts the conversion sequence on this part.
func (a *INA226Adaptor) Trigger(ctx context.Context) (time.Duration, error) {
	if a.triggered {
		if err := a.dev.SetMode(ina226.ModeShuntBusTriggered); err != nil {
			return 0, err
		}
	}
	return a.dev.ConversionInterval()
}

// Collect reads one full sample. In triggered mode it first checks the CVRF
// flag and reports ErrNotReady while the conversion is still running.
func (a *INA226Adaptor) Collect(ctx context.Context) (types.PowerValue, error) {
	var v types.PowerValue

	if a.triggered {
		ready, err := a.dev.ConversionReady()
		if err != nil {
			return v, err
		}
		if !ready {
			return v, ErrNotReady
		}
	}

	rawShunt, err := a.dev.RawShuntVoltage()
	if err != nil {
		return v, err
	}
	rawBus, err := a.dev.RawBusVoltage()
	if err != nil {
		return v, err
	}
	mA, err := a.dev.Current()
	if err != nil {
		return v, err
	}
	w, err := a.dev.Power()
	if err != nil {
		return v, err
	}
	ovf, err := a.dev.Overflow()
	if err != nil {
		return v, err
	}

	// 2.5 µV/LSB and 1.25 mV/LSB as integer fixed point.
	v.ShuntMicroV = int64(rawShunt) * 2500 / 1000
	v.BusMilliV = int64(rawBus) * 1250 / 1000
	v.CurrentMicA = int64(mA * 1000)
	v.PowerMilliW = int64(w * 1000)
	v.Overflow = ovf
	return v, nil
}

// Control implements driver-specific verbs for the control topic. A verb with
// a malformed payload fails with an invalid_params code carrying the missing
// key; an unknown verb is ErrUnsupported.
func (a *INA226Adaptor) Control(verb string, payload map[string]any) (any, error) {
	switch verb {
	case "set_calibration":
		n, ok := asUint16(payload["value"])
		if !ok {
			return nil, badParam(verb, "value")
		}
		return nil, a.dev.SetCalibration(n)

	case "set_averaging":
		n, ok := asUint16(payload["selector"])
		if !ok {
			return nil, badParam(verb, "selector")
		}
		return nil, a.dev.SetAverages(ina226.Averages(n))

	case "set_mode":
		n, ok := asUint16(payload["mode"])
		if !ok {
			return nil, badParam(verb, "mode")
		}
		return nil, a.dev.SetMode(ina226.Mode(n))

	case "reset":
		return nil, a.dev.Reset()

	case "read_register":
		n, ok := asUint16(payload["reg"])
		if !ok {
			return nil, badParam(verb, "reg")
		}
		val, err := a.dev.ReadRegister(uint8(n))
		if err != nil {
			return nil, err
		}
		return map[string]any{"value": val}, nil
	}
	return nil, ErrUnsupported
}

func badParam(verb, key string) error {
	return &errcode.E{C: errcode.InvalidParams, Op: verb, Msg: "missing or invalid " + key}
}

// Apply folds a partial MonitorConfigure into the device.
func (a *INA226Adaptor) Apply(cfg types.MonitorConfigure) error {
	if cfg.Averages != nil {
		if err := a.dev.SetAverages(ina226.Averages(*cfg.Averages)); err != nil {
			return err
		}
	}
	if cfg.BusConvTime != nil {
		if err := a.dev.SetBusConvTime(ina226.ConvTime(*cfg.BusConvTime)); err != nil {
			return err
		}
	}
	if cfg.ShuntConvTime != nil {
		if err := a.dev.SetShuntConvTime(ina226.ConvTime(*cfg.ShuntConvTime)); err != nil {
			return err
		}
	}
	if cfg.Mode != nil {
		if err := a.dev.SetMode(ina226.Mode(*cfg.Mode)); err != nil {
			return err
		}
	}
	if cfg.CurrentLSB != nil {
		a.dev.SetCurrentLSB(*cfg.CurrentLSB)
	}
	if cfg.PowerLSB != nil {
		a.dev.SetPowerLSB(*cfg.PowerLSB)
	}
	if cfg.Calibration != nil {
		if err := a.dev.SetCalibration(*cfg.Calibration); err != nil {
			return err
		}
	}
	return nil
}

// asUint16 tolerates the numeric types JSON decoding hands back.
func asUint16(v any) (uint16, bool) {
	switch x := v.(type) {
	case int:
		if x < 0 || x > 0xFFFF {
			return 0, false
		}
		return uint16(x), true
	case int64:
		if x < 0 || x > 0xFFFF {
			return 0, false
		}
		return uint16(x), true
	case uint16:
		return x, true
	case float64:
		if x < 0 || x > 0xFFFF {
			return 0, false
		}
		return uint16(x), true
	default:
		return 0, false
	}
}
