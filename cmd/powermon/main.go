// powermon samples INA226 rail monitors on a host I2C bus and logs the
// readings published by the telemetry service.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/go-ozzo/ozzo-log"

	"powermon-go/bus"
	"powermon-go/drivers/ina226"
	"powermon-go/services/bridge"
	"powermon-go/services/config"
	"powermon-go/services/heartbeat"
	"powermon-go/services/telemetry"
	"powermon-go/transport/periphi2c"
	"powermon-go/types"
)

func main() {
	if len(os.Args) < 2 {
		println("usage: powermon <config.yaml>")
		os.Exit(2)
	}

	cfg, err := LoadConfig(os.Args[1])
	if err != nil {
		println("config load failed:", err.Error())
		os.Exit(1)
	}
	railTuned := railsTuned(cfg.Sensors)
	if err := ValidateConfig(cfg); err != nil {
		println("config validation failed:", err.Error())
		os.Exit(1)
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		println("logger open failed:", err.Error())
		os.Exit(1)
	}
	defer logger.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	i2cBus, closeBus, err := periphi2c.Open(cfg.I2CBus)
	if err != nil {
		logger.Error("i2c open failed: %v", err)
		os.Exit(1)
	}
	defer closeBus()

	busName := cfg.I2CBus
	if busName == "" {
		busName = "default"
	}

	b := bus.NewBus(16)

	// Seed the retained config topics before any service subscribes: the
	// device profile's defaults first, the YAML file's values on top.
	if err := publishBaseline(ctx, b.NewConnection("config"), cfg, railTuned); err != nil {
		logger.Warning("device profile: %v", err)
	}

	for _, sc := range cfg.Sensors {
		dev := ina226.New(i2cBus)

		dcfg := ina226.Defaults()
		dcfg.Address = sc.Addr
		dcfg.Calibration = sc.Calibration
		dcfg.CurrentLSB = sc.CurrentLSBmA
		dcfg.PowerLSB = sc.PowerLSBW
		if sc.Averages != nil {
			dcfg.Averages = ina226.Averages(*sc.Averages)
		}
		if sc.Triggered {
			dcfg.Mode = ina226.ModeShuntBusTriggered
		}

		if err := dev.Configure(dcfg); err != nil {
			logger.Error("%s: configure failed: %v", sc.Name, err)
			os.Exit(1)
		}
		if !dev.Connected() {
			logger.Warning("%s: no INA226 at 0x%02x, sampling anyway", sc.Name, sc.Addr)
		}

		ad := telemetry.NewINA226Adaptor(sc.Name, dev, busName, sc.ShuntMicroOhm, sc.Triggered)
		svc := telemetry.New(ad, telemetry.Config{Interval: sc.Interval()})
		if err := svc.Start(ctx, b.NewConnection("telemetry/"+sc.Name)); err != nil {
			logger.Error("%s: service start failed: %v", sc.Name, err)
			os.Exit(1)
		}
		logger.Info("%s: monitoring 0x%02x every %s", sc.Name, sc.Addr, sc.Interval())
	}

	hb := &heartbeat.Service{Interval: time.Duration(cfg.HeartbeatMS) * time.Millisecond}
	if err := hb.Start(ctx, b.NewConnection("heartbeat")); err != nil {
		logger.Error("heartbeat start failed: %v", err)
		os.Exit(1)
	}

	// The bridge idles until a retained config/bridge arrives, from either
	// the device profile or the YAML export block.
	go bridge.Start(ctx, b.NewConnection("bridge"))
	if cfg.Export != nil {
		logger.Info("exporting readings to %s", cfg.Export.Endpoint)
	}

	run(ctx, b, logger)
}

// railsTuned reports whether any sensor entry carries its own sampling
// settings, in which case the profile's fleet-wide telemetry default is
// withheld so it cannot clobber them.
func railsTuned(sensors []SensorConfig) bool {
	for i := range sensors {
		if sensors[i].IntervalMS != 0 || sensors[i].Averages != nil {
			return true
		}
	}
	return false
}

// publishBaseline seeds the retained config/* topics. When the YAML names a
// device with an embedded profile, the profile supplies the defaults and the
// file's values are layered on top; otherwise (or when the profile is
// unknown) the file's values are published alone.
func publishBaseline(ctx context.Context, conn *bus.Connection, cfg *Config, railTuned bool) error {
	overlay := map[string]any{}
	if railTuned {
		overlay["telemetry"] = nil
	}
	if cfg.HeartbeatMS > 0 {
		overlay["heartbeat"] = map[string]any{"interval_ms": float64(cfg.HeartbeatMS)}
	}
	if cfg.Export != nil {
		bc := map[string]any{
			"transport": map[string]any{
				"type": "tcp",
				"tcp":  map[string]any{"endpoint": cfg.Export.Endpoint},
			},
		}
		if len(cfg.Export.Topics) > 0 {
			bc["export"] = cfg.Export.Topics
		}
		overlay["bridge"] = bc
	}

	var profErr error
	if cfg.Device != "" {
		cctx := context.WithValue(ctx, config.CtxDeviceKey, cfg.Device)
		profErr = config.NewConfigService().PublishNow(cctx, conn, overlay)
		if profErr == nil {
			return nil
		}
	}
	for k, v := range overlay {
		if v == nil {
			continue
		}
		conn.Publish(conn.NewMessage(bus.T("config", k), v, true))
	}
	return profErr
}

// run tails value and status publications until the context ends.
func run(ctx context.Context, b *bus.Bus, logger *log.Logger) {
	conn := b.NewConnection("powermon")
	defer conn.Disconnect()

	values := conn.Subscribe(bus.T("hal", "cap", "power", "monitor", bus.WildOne, "value"))
	statuses := conn.Subscribe(bus.T("hal", "cap", "power", "monitor", bus.WildOne, "status"))

	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			return

		case m := <-values.Channel():
			v, ok := m.Payload.(types.PowerValue)
			if !ok {
				continue
			}
			name := m.Topic[4]
			if v.Overflow {
				logger.Warning("%s: math overflow, readings unusable", name)
				continue
			}
			logger.Info("%s: bus=%dmV shunt=%duV current=%duA power=%dmW",
				name, v.BusMilliV, v.ShuntMicroV, v.CurrentMicA, v.PowerMilliW)

		case m := <-statuses.Channel():
			st, ok := m.Payload.(types.SensorStatus)
			if !ok || st.Link == types.LinkUp {
				continue
			}
			logger.Error("%s: link %s (%s)", m.Topic[4], st.Link, st.Error)
		}
	}
}

func newLogger(cfg LogConfig) (*log.Logger, error) {
	logger := log.NewLogger()

	console := log.NewConsoleTarget()
	console.MaxLevel = parseLevel(cfg.Level)
	logger.Targets = append(logger.Targets, console)

	if cfg.File != "" {
		file := log.NewFileTarget()
		file.FileName = cfg.File
		file.MaxLevel = parseLevel(cfg.Level)
		logger.Targets = append(logger.Targets, file)
	}

	if err := logger.Open(); err != nil {
		return nil, err
	}
	return logger, nil
}

func parseLevel(s string) log.Level {
	switch s {
	case "debug":
		return log.LevelDebug
	case "warn", "warning":
		return log.LevelWarning
	case "error":
		return log.LevelError
	default:
		return log.LevelInfo
	}
}
