package ina226

// Register addresses and bit-field layout for the INA226.

const (
	// 7-bit I2C address with A0/A1 tied to GND.
	AddressDefault = 0x40

	// --- Register sub-addresses (16-bit words, MSB first) ---

	regConfig       = 0x00 // R/W
	regShuntVoltage = 0x01 // R, signed, 2.5 µV/LSB
	regBusVoltage   = 0x02 // R, 1.25 mV/LSB
	regPower        = 0x03 // R, power LSB derived from calibration
	regCurrent      = 0x04 // R, signed, current LSB derived from calibration
	regCalibration  = 0x05 // R/W

	regMaskEnable = 0x06 // R/W (alert selection + CVRF/OVF flags)
	regAlertLimit = 0x07 // R/W

	regManufacturerID = 0xFE // R, always 0x5449 ("TI")
	regDieID          = 0xFF // R, always 0x2260
)

// Expected identity register contents.
const (
	ManufacturerTI = 0x5449
	DieINA226      = 0x2260
)

// Field describes one bit span inside a 16-bit register. Accessors share one
// generic read/insert routine instead of per-field shift/mask code.
type Field struct {
	Reg    uint8
	Width  uint8
	Offset uint8
	Signed bool
}

// CONFIG (0x00) break-up:
//
//	15    14..12  11..9  8..6    5..3   2..0
//	RST   -       AVG    VBUSCT  VSHCT  MODE
var (
	FieldReset         = Field{Reg: regConfig, Width: 1, Offset: 15}
	FieldAverages      = Field{Reg: regConfig, Width: 3, Offset: 9}
	FieldBusConvTime   = Field{Reg: regConfig, Width: 3, Offset: 6}
	FieldShuntConvTime = Field{Reg: regConfig, Width: 3, Offset: 3}
	FieldMode          = Field{Reg: regConfig, Width: 3, Offset: 0}
)

// Averages selects the number of samples averaged per conversion.
type Averages uint8

const (
	Avg1    Averages = 0 // (000b) -- power-on default
	Avg4    Averages = 1 // (001b)
	Avg16   Averages = 2 // (010b)
	Avg64   Averages = 3 // (011b)
	Avg128  Averages = 4 // (100b)
	Avg256  Averages = 5 // (101b)
	Avg512  Averages = 6 // (110b)
	Avg1024 Averages = 7 // (111b)
)

// Count returns the sample count the selector stands for.
func (a Averages) Count() int {
	if a > Avg1024 {
		return 0
	}
	return avgCounts[a]
}

var avgCounts = [8]int{1, 4, 16, 64, 128, 256, 512, 1024}

// ConvTime selects the ADC integration time per sample. The same selector
// values apply to both the bus and shunt channels.
type ConvTime uint8

const (
	ConvTime140us ConvTime = 0 // (000b)
	ConvTime204us ConvTime = 1 // (001b)
	ConvTime332us ConvTime = 2 // (010b)
	ConvTime588us ConvTime = 3 // (011b)
	ConvTime1ms   ConvTime = 4 // (100b) 1.1 ms -- power-on default
	ConvTime2ms   ConvTime = 5 // (101b) 2.116 ms
	ConvTime4ms   ConvTime = 6 // (110b) 4.156 ms
	ConvTime8ms   ConvTime = 7 // (111b) 8.244 ms
)

// Micros returns the integration time in microseconds.
func (c ConvTime) Micros() int {
	if c > ConvTime8ms {
		return 0
	}
	return convMicros[c]
}

var convMicros = [8]int{140, 204, 332, 588, 1100, 2116, 4156, 8244}

// Mode selects which conversions run and whether they free-run or are
// triggered by a config write.
type Mode uint8

const (
	ModePowerDown          Mode = 0 // (000b)
	ModeShuntTriggered     Mode = 1 // (001b)
	ModeBusTriggered       Mode = 2 // (010b)
	ModeShuntBusTriggered  Mode = 3 // (011b)
	ModeADCOff             Mode = 4 // (100b)
	ModeShuntContinuous    Mode = 5 // (101b)
	ModeBusContinuous      Mode = 6 // (110b)
	ModeShuntBusContinuous Mode = 7 // (111b) -- power-on default
)

// MASK_ENABLE (0x06) bits. The top half selects the alert source; the bottom
// half carries flags and alert pin behaviour.
type MaskEnable uint16

const (
	ShuntOverLimit  MaskEnable = 1 << 15 // SOL
	ShuntUnderLimit MaskEnable = 1 << 14 // SUL
	BusOverLimit    MaskEnable = 1 << 13 // BOL
	BusUnderLimit   MaskEnable = 1 << 12 // BUL
	PowerOverLimit  MaskEnable = 1 << 11 // POL
	ConversionReady MaskEnable = 1 << 10 // CNVR

	AlertFunctionFlag   MaskEnable = 1 << 4 // AFF
	ConversionReadyFlag MaskEnable = 1 << 3 // CVRF
	MathOverflow        MaskEnable = 1 << 2 // OVF
	AlertPolarity       MaskEnable = 1 << 1 // APOL
	AlertLatchEnable    MaskEnable = 1 << 0 // LEN
)

func (b MaskEnable) Has(flag MaskEnable) bool { return b&flag != 0 }
