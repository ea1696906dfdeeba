// bridge/bridge.go
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"powermon-go/bus"
	"powermon-go/x/timex"
)

// -----------------------------------------------------------------------------
// Public entry point
// -----------------------------------------------------------------------------

// Start starts the bridge service. It blocks until ctx is cancelled.
// It listens for JSON config on topic {"config","bridge"} and (re)configures
// the link. The bridge streams matching bus publications to a remote collector
// as NDJSON lines, one JSON object per line, and optionally publishes inbound
// lines onto the local bus.
func Start(ctx context.Context, conn *bus.Connection) {
	s := &Service{
		conn:       conn,
		stateTopic: bus.Topic{"bridge", "state"},
	}
	s.run(ctx)
}

// -----------------------------------------------------------------------------
// Configuration
// -----------------------------------------------------------------------------

// Config is the JSON-encoded configuration expected on "config/bridge".
type Config struct {
	Transport TransportConfig `json:"transport"`

	// Export lists topic patterns ("/"-joined, wildcards allowed) whose
	// publications are streamed out. Empty means the power capability tree.
	Export []string `json:"export,omitempty"`

	// Import allows the remote end to publish onto the local bus. Keep the
	// remote's topics disjoint from Export or lines will echo.
	Import bool `json:"import,omitempty"`
}

type TransportConfig struct {
	// "tcp" (provided here) or other names registered via RegisterTransport.
	Type string     `json:"type"`
	TCP  *TCPConfig `json:"tcp,omitempty"`
}

// TCPConfig points the bridge at a collector endpoint.
type TCPConfig struct {
	Endpoint      string `json:"endpoint"` // host:port
	DialTimeoutMS int    `json:"dial_timeout_ms,omitempty"`
}

// Line is one NDJSON record on the wire, either direction.
type Line struct {
	Topic    string `json:"topic"`
	Payload  any    `json:"payload,omitempty"`
	Retained bool   `json:"retained,omitempty"`
	TS       int64  `json:"ts_ms,omitempty"`
}

// -----------------------------------------------------------------------------
// Service
// -----------------------------------------------------------------------------

type Service struct {
	conn       *bus.Connection
	stateTopic bus.Topic

	mu     sync.Mutex
	curRun context.CancelFunc
	curCfg atomic.Value // stores Config
}

// run waits for config and supervises a single link instance.
func (s *Service) run(ctx context.Context) {
	cfgSub := s.conn.Subscribe(bus.Topic{"config", "bridge"})
	defer s.conn.Unsubscribe(cfgSub)

	s.publishState("idle", "awaiting_config", nil)

	for {
		select {
		case <-ctx.Done():
			s.stopCurrent()
			return
		case msg, ok := <-cfgSub.Channel():
			if !ok {
				s.publishState("error", "config_subscription_closed", nil)
				return
			}
			cfg, err := decodeConfig(msg.Payload)
			if err != nil {
				s.publishState("error", "config_decode_failed", err)
				continue
			}
			s.reconfigure(ctx, cfg)
		}
	}
}

func (s *Service) stopCurrent() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.curRun != nil {
		s.curRun()
		s.curRun = nil
	}
}

func (s *Service) reconfigure(parent context.Context, cfg Config) {
	s.mu.Lock()
	// Cancel any existing run.
	if s.curRun != nil {
		s.curRun()
		s.curRun = nil
	}
	ctx, cancel := context.WithCancel(parent)
	s.curRun = cancel
	s.mu.Unlock()

	s.curCfg.Store(cfg)
	go s.runLink(ctx, cfg)
}

// -----------------------------------------------------------------------------
// Link supervision and I/O
// -----------------------------------------------------------------------------

func (s *Service) runLink(ctx context.Context, cfg Config) {
	tr, err := newTransport(cfg.Transport)
	if err != nil {
		s.publishState("error", "transport_init_failed", err)
		return
	}

	backoff := backoffSeq(250*time.Millisecond, 5*time.Second)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		rwc, err := tr.Open(ctx)
		if err != nil {
			delay := backoff()
			s.publishState("degraded", "dial_failed_retrying", fmt.Errorf("%v (retry in %s)", err, delay))
			if !sleep(ctx, delay) {
				return
			}
			continue
		}

		s.publishState("up", "link_established", nil)
		if err := s.handleLink(ctx, rwc, cfg); err != nil {
			_ = rwc.Close()
			delay := backoff()
			s.publishState("degraded", "link_lost_retrying", fmt.Errorf("%v (retry in %s)", err, delay))
			if !sleep(ctx, delay) {
				return
			}
			continue
		}
		_ = rwc.Close()
		// Clean close: restart only on new config.
		return
	}
}

// handleLink owns the active link lifetime: local publications matching the
// export patterns stream out as NDJSON; inbound lines publish locally when
// the config allows it.
func (s *Service) handleLink(ctx context.Context, rwc io.ReadWriteCloser, cfg Config) error {
	patterns := cfg.Export
	if len(patterns) == 0 {
		patterns = []string{"hal/cap/power/#"}
	}

	out := make(chan *bus.Message, 16)
	subs := make([]*bus.Subscription, 0, len(patterns))
	var wg sync.WaitGroup
	for _, p := range patterns {
		sub := s.conn.Subscribe(bus.Topic(strings.Split(p, "/")))
		subs = append(subs, sub)
		wg.Add(1)
		go func(sub *bus.Subscription) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case m, ok := <-sub.Channel():
					if !ok {
						return
					}
					select {
					case out <- m:
					default: // slow link loses samples, never blocks the bus
					}
				}
			}
		}(sub)
	}
	defer func() {
		for _, sub := range subs {
			s.conn.Unsubscribe(sub)
		}
		wg.Wait()
	}()

	// Reader: detects link loss, and routes inbound lines when importing.
	errCh := make(chan error, 1)
	go func() {
		dec := json.NewDecoder(rwc)
		for {
			var ln Line
			if err := dec.Decode(&ln); err != nil {
				errCh <- err
				return
			}
			if !cfg.Import || ln.Topic == "" {
				continue
			}
			s.conn.Publish(s.conn.NewMessage(
				bus.Topic(strings.Split(ln.Topic, "/")), ln.Payload, ln.Retained))
		}
	}()

	enc := json.NewEncoder(rwc)
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errCh:
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		case m := <-out:
			ln := Line{
				Topic:    strings.Join(m.Topic, "/"),
				Payload:  m.Payload,
				Retained: m.Retained,
				TS:       timex.NowMs(),
			}
			if err := enc.Encode(ln); err != nil {
				return err
			}
		}
	}
}

// -----------------------------------------------------------------------------
// Transport registry
// -----------------------------------------------------------------------------

// Transport is a pluggable link dialler/owner.
type Transport interface {
	Open(ctx context.Context) (io.ReadWriteCloser, error)
	String() string
}

type transportFactory func(TransportConfig) (Transport, error)

var (
	regMu    sync.RWMutex
	registry = map[string]transportFactory{}
)

// RegisterTransport allows external packages to add transports (eg. "ws", "unix").
func RegisterTransport(name string, f transportFactory) {
	regMu.Lock()
	defer regMu.Unlock()
	registry[name] = f
}

func newTransport(cfg TransportConfig) (Transport, error) {
	regMu.RLock()
	f, ok := registry[cfg.Type]
	regMu.RUnlock()
	if ok {
		return f(cfg)
	}
	switch cfg.Type {
	case "tcp":
		return newTCPTransport(cfg)
	default:
		return nil, fmt.Errorf("unknown transport type: %q", cfg.Type)
	}
}

// tcpTransport dials a collector endpoint.
type tcpTransport struct {
	cfg TCPConfig
}

func newTCPTransport(cfg TransportConfig) (Transport, error) {
	if cfg.TCP == nil || cfg.TCP.Endpoint == "" {
		return nil, errors.New("tcp transport requires an endpoint")
	}
	return &tcpTransport{cfg: *cfg.TCP}, nil
}

func (t *tcpTransport) Open(ctx context.Context) (io.ReadWriteCloser, error) {
	d := net.Dialer{}
	if t.cfg.DialTimeoutMS > 0 {
		d.Timeout = time.Duration(t.cfg.DialTimeoutMS) * time.Millisecond
	}
	return d.DialContext(ctx, "tcp", t.cfg.Endpoint)
}

func (t *tcpTransport) String() string { return "tcp" }

// -----------------------------------------------------------------------------
// Utilities
// -----------------------------------------------------------------------------

func decodeConfig(p any) (Config, error) {
	var cfg Config
	switch v := p.(type) {
	case []byte:
		if err := json.Unmarshal(v, &cfg); err != nil {
			return cfg, err
		}
	case string:
		if err := json.Unmarshal([]byte(v), &cfg); err != nil {
			return cfg, err
		}
	case map[string]any:
		// Already a decoded object (e.g. if provided internally); re-marshal for simplicity.
		b, err := json.Marshal(v)
		if err != nil {
			return cfg, err
		}
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config payload type: %T", p)
	}
	return cfg, nil
}

func (s *Service) publishState(level, status string, err error) {
	payload := map[string]any{
		"level":  level,  // "up", "degraded", "error", "idle"
		"status": status, // short machine string
		"ts_ms":  timex.NowMs(),
	}
	if cfg, ok := s.curCfg.Load().(Config); ok {
		payload["transport"] = cfg.Transport.Type
		if len(cfg.Export) > 0 {
			payload["export"] = cfg.Export
		}
	}
	if err != nil {
		payload["error"] = err.Error()
	}
	msg := s.conn.NewMessage(s.stateTopic, payload, true)
	s.conn.Publish(msg)
}

func backoffSeq(min, max time.Duration) func() time.Duration {
	if min <= 0 {
		min = 100 * time.Millisecond
	}
	if max < min {
		max = min
	}
	var cur = min
	return func() time.Duration {
		d := cur
		cur *= 2
		if cur > max {
			cur = max
		}
		return d
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
