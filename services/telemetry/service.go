// services/telemetry/service.go
package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"powermon-go/bus"
	"powermon-go/drivers/ina226"
	"powermon-go/errcode"
	"powermon-go/types"
	"powermon-go/x/mathx"
	"powermon-go/x/timex"
)

const serviceName = "telemetry"

const (
	minInterval = 10 * time.Millisecond
	maxInterval = time.Hour
)

var topicConfig = bus.Topic{"config", serviceName}

// Service periodically samples one power-monitor adaptor and publishes the
// readings as retained bus messages. Control verbs arrive on the capability
// control topic; partial reconfiguration on config/telemetry.
type Service struct {
	adaptor Adaptor
	cfg     Config
}

func New(adaptor Adaptor, cfg Config) *Service {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	cfg.Interval = mathx.Clamp(cfg.Interval, minInterval, maxInterval)
	if cfg.TriggerTimeout <= 0 {
		cfg.TriggerTimeout = 100 * time.Millisecond
	}
	if cfg.CollectTimeout <= 0 {
		cfg.CollectTimeout = 250 * time.Millisecond
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 15 * time.Millisecond
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 6
	}
	return &Service{adaptor: adaptor, cfg: cfg}
}

// Start launches the sampling loop in a goroutine.
func (s *Service) Start(ctx context.Context, conn *bus.Connection) error {
	go s.loop(ctx, conn)
	return nil
}

// Topic helpers. Layout: hal/cap/power/monitor/<name>/{info,value,status,control/<verb>}

func (s *Service) capTopic(leaf ...string) bus.Topic {
	t := bus.Topic{"hal", "cap", "power", "monitor", s.adaptor.ID()}
	return append(t, leaf...)
}

func (s *Service) loop(ctx context.Context, conn *bus.Connection) {
	cfgSub := conn.Subscribe(topicConfig)
	ctrlSub := conn.Subscribe(s.capTopic("control", bus.WildOne))
	defer conn.Unsubscribe(cfgSub)
	defer conn.Unsubscribe(ctrlSub)

	conn.Publish(&bus.Message{
		Topic:    s.capTopic("info"),
		Payload:  s.adaptor.Info(),
		Retained: true,
	})
	s.publishState(conn, "running", "sampling")

	tick := time.NewTicker(s.cfg.Interval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			s.publishState(conn, "stopped", "context_cancelled")
			return

		case <-tick.C:
			s.sample(ctx, conn)

		case msg := <-cfgSub.Channel():
			var cfg types.MonitorConfigure
			if err := decodePayload(msg.Payload, &cfg); err != nil {
				println("Warn: telemetry config decode:", err.Error())
				continue
			}
			if cfg.IntervalMS != nil && *cfg.IntervalMS > 0 {
				s.cfg.Interval = mathx.Clamp(time.Duration(*cfg.IntervalMS)*time.Millisecond, minInterval, maxInterval)
				tick.Reset(s.cfg.Interval)
			}
			if a, ok := s.adaptor.(*INA226Adaptor); ok {
				if err := a.Apply(cfg); err != nil {
					s.publishStatus(conn, types.LinkDegraded, err)
				}
			}

		case msg := <-ctrlSub.Channel():
			s.handleControl(ctx, conn, tick, msg)
		}
	}
}

func (s *Service) handleControl(ctx context.Context, conn *bus.Connection, tick *time.Ticker, msg *bus.Message) {
	verb := msg.Topic[msg.Topic.Len()-1]

	payload, _ := msg.Payload.(map[string]any)

	switch verb {
	case "read_now":
		s.sample(ctx, conn)
		conn.Reply(msg, map[string]any{"code": string(errcode.OK)}, false)
		return
	case "set_interval":
		if ms, ok := payload["ms"]; ok {
			if n, ok := asUint16(ms); ok && n > 0 {
				s.cfg.Interval = mathx.Clamp(time.Duration(n)*time.Millisecond, minInterval, maxInterval)
				tick.Reset(s.cfg.Interval)
				conn.Reply(msg, map[string]any{"code": string(errcode.OK)}, false)
				return
			}
		}
		conn.Reply(msg, map[string]any{"code": string(errcode.InvalidParams)}, false)
		return
	}

	result, err := s.adaptor.Control(verb, payload)
	if err != nil {
		reply := map[string]any{"code": string(mapErr(err))}
		var e *errcode.E
		if errors.As(err, &e) && e.Msg != "" {
			reply["error"] = e.Msg
		}
		conn.Reply(msg, reply, false)
		return
	}
	reply := map[string]any{"code": string(errcode.OK)}
	if result != nil {
		reply["result"] = result
	}
	conn.Reply(msg, reply, false)
}

// sample runs one trigger/collect cycle and publishes the outcome. Collect
// is retried on ErrNotReady with a bounded backoff, the way the measurement
// worker treats slow conversions.
func (s *Service) sample(ctx context.Context, conn *bus.Connection) {
	tctx, cancel := context.WithTimeout(ctx, s.cfg.TriggerTimeout)
	after, err := s.adaptor.Trigger(tctx)
	cancel()
	if err != nil {
		s.publishStatus(conn, types.LinkDown, err)
		return
	}

	if !sleepCtx(ctx, after) {
		return
	}

	for retries := 0; ; retries++ {
		cctx, cancel := context.WithTimeout(ctx, s.cfg.CollectTimeout)
		v, err := s.adaptor.Collect(cctx)
		cancel()

		switch {
		case err == nil:
			conn.Publish(&bus.Message{
				Topic:    s.capTopic("value"),
				Payload:  v,
				Retained: true,
			})
			s.publishStatus(conn, types.LinkUp, nil)
			return
		case errors.Is(err, ErrNotReady) && retries < s.cfg.MaxRetries:
			if !sleepCtx(ctx, s.cfg.RetryBackoff) {
				return
			}
		default:
			s.publishStatus(conn, types.LinkDown, err)
			return
		}
	}
}

func (s *Service) publishState(conn *bus.Connection, level, status string) {
	conn.Publish(&bus.Message{
		Topic:    bus.Topic{serviceName, "state"},
		Payload:  types.ServiceState{Level: level, Status: status, TS: nowMS()},
		Retained: true,
	})
}

func (s *Service) publishStatus(conn *bus.Connection, link types.Link, err error) {
	st := types.SensorStatus{Link: link, TS: nowMS()}
	if err != nil {
		st.Error = string(mapErr(err))
	}
	conn.Publish(&bus.Message{
		Topic:    s.capTopic("status"),
		Payload:  st,
		Retained: true,
	})
}

// mapErr folds driver errors into stable bus-facing codes. Anything the
// driver did not classify itself is assumed to be a transport fault.
func mapErr(err error) errcode.Code {
	switch {
	case err == nil:
		return errcode.OK
	case errors.Is(err, ErrNotReady):
		return errcode.NotReady
	case errors.Is(err, ErrUnsupported):
		return errcode.Unsupported
	case errors.Is(err, ina226.ErrFieldRange):
		return errcode.InvalidField
	case errors.Is(err, context.DeadlineExceeded):
		return errcode.Timeout
	default:
		if c := errcode.Of(err); c != errcode.Error {
			return c
		}
		return errcode.Transport
	}
}

// decodePayload round-trips a bus payload (usually map[string]any) through
// JSON into a typed struct.
func decodePayload(payload any, out any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

// sleepCtx waits for d, returning false if the context ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func nowMS() int64 { return timex.NowMs() }
