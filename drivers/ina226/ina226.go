// Package ina226 provides a driver for the INA226 bidirectional
// current/power monitor by TI.
//
// Datasheet: https://www.ti.com/lit/gpn/ina226
//
// Design notes:
// • I2C, 16-bit registers transferred MSB first (big-endian on the wire).
// • CURRENT (0x04) and POWER (0x03) are only meaningful while CALIBRATION
//   (0x05) holds the intended word. A sharp load transient can reset the
//   device and zero that register, so the driver caches the word and
//   re-writes it before every current/power read. One extra word write per
//   read buys back correctness.
// • The current and power LSBs depend on the shunt resistor and the expected
//   current range; the caller computes them and hands them in. The driver
//   only stores and applies the raw calibration integer.
// • No locking. A Device belongs to one caller; sharing one needs external
//   synchronisation around both the Device and its bus.
package ina226

import (
	"time"

	"tinygo.org/x/drivers"
)

// Device wraps an I2C connection to an INA226. Create one with New.
type Device struct {
	bus  drivers.I2C
	addr uint16

	// Cached calibration word, re-asserted before current/power reads.
	cal uint16

	currentLSB float64 // mA per count of the CURRENT register
	powerLSB   float64 // W per count of the POWER register

	// Fixed buffers to avoid per-call heap allocations.
	w [3]byte
	r [2]byte
}

// Config carries the CONFIG register selectors plus the calibration state
// applied by Configure.
type Config struct {
	Address       uint16
	Averages      Averages
	BusConvTime   ConvTime
	ShuntConvTime ConvTime
	Mode          Mode

	// Calibration word plus the scale factors derived alongside it. Left at
	// zero they are not applied.
	Calibration uint16
	CurrentLSB  float64 // mA per count
	PowerLSB    float64 // W per count
}

// Defaults returns the configuration this driver has historically started
// devices with: 256-sample averaging, 2.116 ms conversions on both channels,
// free-running shunt+bus measurement.
func Defaults() Config {
	return Config{
		Averages:      Avg256,
		BusConvTime:   ConvTime2ms,
		ShuntConvTime: ConvTime2ms,
		Mode:          ModeShuntBusContinuous,
	}
}

// New creates a new INA226 connection. The I2C bus must already be
// configured. This function only creates the Device object; it does not
// touch the device.
func New(bus drivers.I2C) *Device {
	return &Device{
		bus:  bus,
		addr: AddressDefault,
	}
}

// Configure writes the CONFIG selectors and, when given, the calibration
// word. The four selectors land in a single register write so the device
// never runs an intermediate mixed configuration.
func (d *Device) Configure(cfg Config) error {
	if cfg.Address != 0 {
		d.addr = cfg.Address
	}

	raw, err := d.readU16(regConfig)
	if err != nil {
		return err
	}
	for _, fv := range [...]struct {
		f Field
		v uint16
	}{
		{FieldAverages, uint16(cfg.Averages)},
		{FieldBusConvTime, uint16(cfg.BusConvTime)},
		{FieldShuntConvTime, uint16(cfg.ShuntConvTime)},
		{FieldMode, uint16(cfg.Mode)},
	} {
		if !fits(fv.f, fv.v) {
			return ErrFieldRange
		}
		raw = insert(raw, fv.f, fv.v)
	}
	if err := d.writeWord(regConfig, raw); err != nil {
		return err
	}

	if cfg.CurrentLSB != 0 {
		d.currentLSB = cfg.CurrentLSB
	}
	if cfg.PowerLSB != 0 {
		d.powerLSB = cfg.PowerLSB
	}
	if cfg.Calibration != 0 {
		return d.SetCalibration(cfg.Calibration)
	}
	return nil
}

// Address returns the device's I2C address.
func (d *Device) Address() uint16 { return d.addr }

// SetAddress retargets the device handle without touching the bus. For use
// before any traffic, or by tooling that only pokes registers.
func (d *Device) SetAddress(a uint16) { d.addr = a }

// Connected reads the manufacturer ID register and reports whether a TI part
// answered.
func (d *Device) Connected() bool {
	id, err := d.readU16(regManufacturerID)
	return err == nil && id == ManufacturerTI
}

// ManufacturerID returns the contents of register 0xFE (0x5449 on genuine
// parts).
func (d *Device) ManufacturerID() (uint16, error) { return d.readU16(regManufacturerID) }

// DieID returns the contents of register 0xFF (0x2260 for the INA226).
func (d *Device) DieID() (uint16, error) { return d.readU16(regDieID) }

// Reset sets the RST bit, returning every register to its power-on value.
// The calibration cache is cleared to match.
func (d *Device) Reset() error {
	if err := d.WriteField(FieldReset, 1); err != nil {
		return err
	}
	d.cal = 0
	return nil
}

// ---------------- Generic field access ----------------

// ReadField reads the register holding f and decodes the field, sign
// extending when f is declared signed.
func (d *Device) ReadField(f Field) (int32, error) {
	raw, err := d.readU16(f.Reg)
	if err != nil {
		return 0, err
	}
	return extract(raw, f), nil
}

// WriteField read-modify-writes f to v, preserving all bits outside the
// field. Values too wide for the field fail with ErrFieldRange before any
// bus traffic. The sequence is not atomic against other bus masters; the
// driver assumes it is the only one talking to the device.
func (d *Device) WriteField(f Field, v uint16) error {
	if !fits(f, v) {
		return ErrFieldRange
	}
	raw, err := d.readU16(f.Reg)
	if err != nil {
		return err
	}
	return d.writeWord(f.Reg, insert(raw, f, v))
}

// ---------------- CONFIG selector accessors ----------------

func (d *Device) Averages() (Averages, error) {
	v, err := d.ReadField(FieldAverages)
	return Averages(v), err
}

func (d *Device) SetAverages(a Averages) error {
	return d.WriteField(FieldAverages, uint16(a))
}

func (d *Device) BusConvTime() (ConvTime, error) {
	v, err := d.ReadField(FieldBusConvTime)
	return ConvTime(v), err
}

func (d *Device) SetBusConvTime(c ConvTime) error {
	return d.WriteField(FieldBusConvTime, uint16(c))
}

func (d *Device) ShuntConvTime() (ConvTime, error) {
	v, err := d.ReadField(FieldShuntConvTime)
	return ConvTime(v), err
}

func (d *Device) SetShuntConvTime(c ConvTime) error {
	return d.WriteField(FieldShuntConvTime, uint16(c))
}

func (d *Device) Mode() (Mode, error) {
	v, err := d.ReadField(FieldMode)
	return Mode(v), err
}

func (d *Device) SetMode(m Mode) error {
	return d.WriteField(FieldMode, uint16(m))
}

// ConversionInterval returns the wall time one full measurement takes under
// the current configuration: samples averaged × (bus + shunt integration
// time). Useful as a wait hint between triggering and collecting.
func (d *Device) ConversionInterval() (time.Duration, error) {
	raw, err := d.readU16(regConfig)
	if err != nil {
		return 0, err
	}
	n := Averages(extract(raw, FieldAverages)).Count()
	bus := ConvTime(extract(raw, FieldBusConvTime)).Micros()
	shunt := ConvTime(extract(raw, FieldShuntConvTime)).Micros()
	return time.Duration(n*(bus+shunt)) * time.Microsecond, nil
}

// ---------------- Calibration ----------------

// SetCalibration stores v in the driver cache and writes it to the device.
// The cache is what Current and Power re-assert before each read.
func (d *Device) SetCalibration(v uint16) error {
	d.cal = v
	return d.writeWord(regCalibration, v)
}

// Calibration returns the cached calibration word, not a device read.
func (d *Device) Calibration() uint16 { return d.cal }

// SetCurrentLSB sets the scale of the CURRENT register in mA per count.
func (d *Device) SetCurrentLSB(mAPerCount float64) { d.currentLSB = mAPerCount }

// SetPowerLSB sets the scale of the POWER register in W per count.
func (d *Device) SetPowerLSB(wPerCount float64) { d.powerLSB = wPerCount }

func (d *Device) CurrentLSB() float64 { return d.currentLSB }
func (d *Device) PowerLSB() float64   { return d.powerLSB }

// ---------------- Raw measurement registers ----------------

// RawShuntVoltage returns the SHUNT_VOLTAGE register, 2.5 µV per count.
func (d *Device) RawShuntVoltage() (int16, error) { return d.readS16(regShuntVoltage) }

// RawBusVoltage returns the BUS_VOLTAGE register, 1.25 mV per count.
func (d *Device) RawBusVoltage() (int16, error) { return d.readS16(regBusVoltage) }

// RawCurrent returns the CURRENT register without re-asserting calibration.
func (d *Device) RawCurrent() (int16, error) { return d.readS16(regCurrent) }

// RawPower returns the POWER register without re-asserting calibration.
func (d *Device) RawPower() (uint16, error) { return d.readU16(regPower) }

// ---------------- Scaled measurements ----------------

// ShuntVoltage returns the voltage across the shunt in volts (±81.92 mV
// full scale).
func (d *Device) ShuntVoltage() (float64, error) {
	raw, err := d.readS16(regShuntVoltage)
	if err != nil {
		return 0, err
	}
	return float64(raw) * 0.0000025, nil
}

// BusVoltage returns the bus-to-ground voltage in volts.
func (d *Device) BusVoltage() (float64, error) {
	raw, err := d.readS16(regBusVoltage)
	if err != nil {
		return 0, err
	}
	return float64(raw) * 0.00125, nil
}

// Current returns the shunt current in milliamps, scaled by the caller's
// current LSB. The cached calibration word is re-written first so a
// device-side reset cannot hand back zeros unnoticed.
func (d *Device) Current() (float64, error) {
	if err := d.writeWord(regCalibration, d.cal); err != nil {
		return 0, err
	}
	raw, err := d.readS16(regCurrent)
	if err != nil {
		return 0, err
	}
	return float64(raw) * d.currentLSB, nil
}

// Power returns the load power in watts, scaled by the caller's power LSB.
// Same calibration re-assertion as Current.
func (d *Device) Power() (float64, error) {
	if err := d.writeWord(regCalibration, d.cal); err != nil {
		return 0, err
	}
	raw, err := d.readU16(regPower)
	if err != nil {
		return 0, err
	}
	return float64(raw) * d.powerLSB, nil
}

// ---------------- Alerts and flags ----------------

func (d *Device) MaskEnable() (MaskEnable, error) {
	v, err := d.readU16(regMaskEnable)
	return MaskEnable(v), err
}

func (d *Device) SetMaskEnable(v MaskEnable) error {
	return d.writeWord(regMaskEnable, uint16(v))
}

func (d *Device) AlertLimit() (uint16, error) { return d.readU16(regAlertLimit) }

func (d *Device) SetAlertLimit(v uint16) error { return d.writeWord(regAlertLimit, v) }

// ConversionReady reports the CVRF flag: all conversions since the last
// MASK_ENABLE read have finished.
func (d *Device) ConversionReady() (bool, error) {
	v, err := d.MaskEnable()
	return v.Has(ConversionReadyFlag), err
}

// Overflow reports the OVF flag: the current/power arithmetic overflowed and
// those registers cannot be trusted.
func (d *Device) Overflow() (bool, error) {
	v, err := d.MaskEnable()
	return v.Has(MathOverflow), err
}

// ---------------- Low-level register access (MSB first) ----------------

// ReadRegister reads any 16-bit register as an unsigned word.
func (d *Device) ReadRegister(reg uint8) (uint16, error) { return d.readU16(reg) }

// WriteRegister writes any 16-bit register.
func (d *Device) WriteRegister(reg uint8, v uint16) error { return d.writeWord(reg, v) }

func (d *Device) readU16(reg uint8) (uint16, error) {
	d.w[0] = reg
	if err := d.bus.Tx(d.addr, d.w[:1], d.r[:2]); err != nil {
		return 0, err
	}
	// Big-endian: HIGH then LOW.
	return uint16(d.r[0])<<8 | uint16(d.r[1]), nil
}

func (d *Device) readS16(reg uint8) (int16, error) {
	u, err := d.readU16(reg)
	return int16(u), err
}

func (d *Device) writeWord(reg uint8, val uint16) error {
	d.w[0] = reg
	d.w[1] = byte(val >> 8) // high
	d.w[2] = byte(val)      // low
	return d.bus.Tx(d.addr, d.w[:3], nil)
}
