package types

// ------------------------
// Power monitor (ina226)
// ------------------------

type PowerInfo struct {
	Bus        string `json:"bus"`
	Addr       uint16 `json:"addr"`
	Shunt_uOhm uint32 `json:"shunt_uohm"` // sense resistor, for operator reference
	Kinds      []Kind `json:"kinds"`      // quantities this monitor reports
}

// Retained value: hal/cap/power/monitor/<name>/value
type PowerValue struct {
	ShuntMicroV int64 `json:"shunt_uV"`
	BusMilliV   int64 `json:"bus_mV"`
	CurrentMicA int64 `json:"current_uA"`
	PowerMilliW int64 `json:"power_mW"`
	Overflow    bool  `json:"overflow,omitempty"`
}

// MonitorConfigure is a partial update. Nil means "leave as-is".
type MonitorConfigure struct {
	IntervalMS    *int     `json:"interval_ms,omitempty"`
	Averages      *uint8   `json:"averages,omitempty"`
	BusConvTime   *uint8   `json:"bus_conv_time,omitempty"`
	ShuntConvTime *uint8   `json:"shunt_conv_time,omitempty"`
	Mode          *uint8   `json:"mode,omitempty"`
	Calibration   *uint16  `json:"calibration,omitempty"`
	CurrentLSB    *float64 `json:"current_lsb_mA,omitempty"`
	PowerLSB      *float64 `json:"power_lsb_W,omitempty"`
}

// MASK_ENABLE (0x06)
type AlertBits uint16

const (
	ShuntOverLimit  AlertBits = 1 << 15
	ShuntUnderLimit AlertBits = 1 << 14
	BusOverLimit    AlertBits = 1 << 13
	BusUnderLimit   AlertBits = 1 << 12
	PowerOverLimit  AlertBits = 1 << 11
	ConversionReady AlertBits = 1 << 10
	AlertFunction   AlertBits = 1 << 4
	ConversionDone  AlertBits = 1 << 3
	MathOverflow    AlertBits = 1 << 2
	AlertPolarity   AlertBits = 1 << 1
	AlertLatch      AlertBits = 1 << 0
)

// Generic pairing of a bit value with a printable name.
// T is a uint16-like type (e.g. AlertBits).
type BitName[T ~uint16] struct {
	Bit  T
	Name string
}

// BitIter is a zero-alloc iterator over set bits in a value, filtered by a
// table. Caller advances with Next(); no callbacks, no closures.
type BitIter[T ~uint16] struct {
	v     uint16
	i     int
	table []BitName[T]
}

// NewBitIter constructs an iterator over set bits present in v that also exist in table.
func NewBitIter[T ~uint16](v T, table []BitName[T]) BitIter[T] {
	return BitIter[T]{v: uint16(v), i: 0, table: table}
}

// Next returns the next SET bit: (name, ok). ok=false when done.
func (it *BitIter[T]) Next() (string, bool) {
	for it.i < len(it.table) {
		e := it.table[it.i]
		it.i++
		if (it.v & uint16(e.Bit)) != 0 {
			return e.Name, true
		}
	}
	return "", false
}

// Reset allows reusing the iterator.
func (it *BitIter[T]) Reset() { it.i = 0 }

// -----------------------------
// Display tables for bitfields
// -----------------------------

// AlertBits display (ordering is cosmetic).
var AlertTable = [...]BitName[AlertBits]{
	{ShuntOverLimit, "shunt_over"},
	{ShuntUnderLimit, "shunt_under"},
	{BusOverLimit, "bus_over"},
	{BusUnderLimit, "bus_under"},
	{PowerOverLimit, "power_over"},
	{ConversionReady, "cnvr_alert"},
	{AlertFunction, "alert_func"},
	{ConversionDone, "conversion_done"},
	{MathOverflow, "math_overflow"},
	{AlertPolarity, "alert_active_high"},
	{AlertLatch, "alert_latched"},
}
