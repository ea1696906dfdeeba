// ina-console is an interactive register console for INA226 monitors on a
// host I2C bus. Handy for bring-up: poke registers, tweak config fields and
// watch conversions without flashing anything.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/google/shlex"

	"powermon-go/drivers/ina226"
	"powermon-go/transport/periphi2c"
	"powermon-go/types"
)

var fields = map[string]ina226.Field{
	"rst":     ina226.FieldReset,
	"avg":     ina226.FieldAverages,
	"busct":   ina226.FieldBusConvTime,
	"shuntct": ina226.FieldShuntConvTime,
	"mode":    ina226.FieldMode,
}

func main() {
	busName := flag.String("bus", "", "periph.io I2C bus name (empty = first available)")
	addr := flag.Uint("addr", uint(ina226.AddressDefault), "device address")
	flag.Parse()

	i2cBus, closeBus, err := periphi2c.Open(*busName)
	if err != nil {
		fmt.Fprintln(os.Stderr, "i2c open failed:", err)
		os.Exit(1)
	}
	defer closeBus()

	dev := ina226.New(i2cBus)
	dev.SetAddress(uint16(*addr))

	if dev.Connected() {
		die, _ := dev.DieID()
		fmt.Printf("INA226 at 0x%02x (die 0x%04x)\n", dev.Address(), die)
	} else {
		fmt.Printf("warning: no INA226 signature at 0x%02x\n", dev.Address())
	}

	sc := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("ina> ")
		if !sc.Scan() {
			fmt.Println()
			return
		}

		args, err := shlex.Split(sc.Text())
		if err != nil {
			fmt.Println("parse error:", err)
			continue
		}
		if len(args) == 0 {
			continue
		}
		if args[0] == "quit" || args[0] == "exit" {
			return
		}
		if err := eval(dev, args); err != nil {
			fmt.Println("error:", err)
		}
	}
}

func eval(dev *ina226.Device, args []string) error {
	switch args[0] {
	case "help":
		usage()
		return nil

	case "read":
		if len(args) != 2 {
			return fmt.Errorf("usage: read <reg>")
		}
		reg, err := parseU16(args[1], 0xFF)
		if err != nil {
			return err
		}
		v, err := dev.ReadRegister(uint8(reg))
		if err != nil {
			return err
		}
		fmt.Printf("0x%02x = 0x%04x (%d)\n", reg, v, v)
		return nil

	case "write":
		if len(args) != 3 {
			return fmt.Errorf("usage: write <reg> <val>")
		}
		reg, err := parseU16(args[1], 0xFF)
		if err != nil {
			return err
		}
		v, err := parseU16(args[2], 0xFFFF)
		if err != nil {
			return err
		}
		return dev.WriteRegister(uint8(reg), v)

	case "field":
		if len(args) < 2 {
			return fmt.Errorf("usage: field <name> [val]  (names: %s)", fieldNames())
		}
		f, ok := fields[args[1]]
		if !ok {
			return fmt.Errorf("unknown field %q (names: %s)", args[1], fieldNames())
		}
		if len(args) == 2 {
			v, err := dev.ReadField(f)
			if err != nil {
				return err
			}
			fmt.Printf("%s = %d\n", args[1], v)
			return nil
		}
		v, err := parseU16(args[2], 0xFFFF)
		if err != nil {
			return err
		}
		return dev.WriteField(f, v)

	case "cal":
		if len(args) == 1 {
			fmt.Printf("calibration (cached) = %d\n", dev.Calibration())
			return nil
		}
		v, err := parseU16(args[1], 0xFFFF)
		if err != nil {
			return err
		}
		return dev.SetCalibration(v)

	case "lsb":
		if len(args) != 3 {
			return fmt.Errorf("usage: lsb current|power <val>")
		}
		v, err := strconv.ParseFloat(args[2], 64)
		if err != nil {
			return err
		}
		switch args[1] {
		case "current":
			dev.SetCurrentLSB(v)
		case "power":
			dev.SetPowerLSB(v)
		default:
			return fmt.Errorf("usage: lsb current|power <val>")
		}
		return nil

	case "shunt":
		v, err := dev.ShuntVoltage()
		if err != nil {
			return err
		}
		fmt.Printf("%.6f V\n", v)
		return nil

	case "bus":
		v, err := dev.BusVoltage()
		if err != nil {
			return err
		}
		fmt.Printf("%.5f V\n", v)
		return nil

	case "current":
		v, err := dev.Current()
		if err != nil {
			return err
		}
		fmt.Printf("%.4f mA\n", v)
		return nil

	case "power":
		v, err := dev.Power()
		if err != nil {
			return err
		}
		fmt.Printf("%.4f W\n", v)
		return nil

	case "alerts":
		me, err := dev.MaskEnable()
		if err != nil {
			return err
		}
		lim, err := dev.AlertLimit()
		if err != nil {
			return err
		}
		names := []string{}
		it := types.NewBitIter(types.AlertBits(me), types.AlertTable[:])
		for {
			name, ok := it.Next()
			if !ok {
				break
			}
			names = append(names, name)
		}
		if len(names) == 0 {
			names = append(names, "none")
		}
		fmt.Printf("mask/enable 0x%04x: %s; limit 0x%04x\n", uint16(me), strings.Join(names, " "), lim)
		return nil

	case "id":
		mfg, err := dev.ManufacturerID()
		if err != nil {
			return err
		}
		die, err := dev.DieID()
		if err != nil {
			return err
		}
		fmt.Printf("mfg 0x%04x die 0x%04x\n", mfg, die)
		return nil

	case "reset":
		return dev.Reset()

	default:
		return fmt.Errorf("unknown command %q (try help)", args[0])
	}
}

func usage() {
	fmt.Print(`commands:
  read <reg>          raw register read (hex or dec)
  write <reg> <val>   raw register write
  field <name> [val]  read or write a CONFIG field
  cal [val]           show cached / set calibration word
  lsb current|power <val>  set the current (mA) or power (W) LSB
  shunt|bus           scaled voltage readings
  current|power       scaled readings (need cal + LSBs first)
  alerts              decode MASK/ENABLE + alert limit
  id                  manufacturer and die IDs
  reset               soft reset (drops cached calibration)
  quit
`)
}

func fieldNames() string {
	names := make([]string, 0, len(fields))
	for k := range fields {
		names = append(names, k)
	}
	return strings.Join(names, " ")
}

func parseU16(s string, max uint64) (uint16, error) {
	v, err := strconv.ParseUint(s, 0, 16)
	if err != nil {
		return 0, err
	}
	if v > max {
		return 0, fmt.Errorf("value %d out of range (max %d)", v, max)
	}
	return uint16(v), nil
}
