// bridge/bridge_test.go
package bridge

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"testing"
	"time"

	"powermon-go/bus"
)

// pipeTransport hands out the local end of a net.Pipe and keeps the remote
// end for the test to drive.
type pipeTransport struct {
	remote chan io.ReadWriteCloser
}

func (p *pipeTransport) Open(ctx context.Context) (io.ReadWriteCloser, error) {
	lc, rc := net.Pipe()
	p.remote <- rc
	return lc, nil
}

func (p *pipeTransport) String() string { return "pipe" }

func installPipe(t *testing.T) *pipeTransport {
	t.Helper()
	pt := &pipeTransport{remote: make(chan io.ReadWriteCloser, 1)}
	RegisterTransport("pipe", func(TransportConfig) (Transport, error) { return pt, nil })
	return pt
}

func TestBridge_StreamsExportedValues(t *testing.T) {
	b := bus.NewBus(16)
	conn := b.NewConnection("bridge_test")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go Start(ctx, conn)

	stateSub := conn.Subscribe(bus.Topic{"bridge", "state"})
	defer conn.Unsubscribe(stateSub)

	first := nextStatePayload(t, stateSub, 500*time.Millisecond)
	assertLevelStatus(t, first, "idle", "awaiting_config")

	pt := installPipe(t)

	cfg := `{"transport":{"type":"pipe"},"export":["hal/cap/power/#"],"import":true}`
	conn.Publish(conn.NewMessage(bus.Topic{"config", "bridge"}, cfg, false))

	up := nextStatePayload(t, stateSub, time.Second)
	assertLevelStatus(t, up, "up", "link_established")

	// The state document names the active link configuration.
	if up["transport"] != "pipe" {
		t.Errorf("state transport = %v, want pipe", up["transport"])
	}
	if ex, ok := up["export"].([]string); !ok || len(ex) != 1 || ex[0] != "hal/cap/power/#" {
		t.Errorf("state export = %#v", up["export"])
	}

	remote := <-pt.remote
	defer remote.Close()
	dec := json.NewDecoder(remote)

	// A matching local publication arrives as one NDJSON line.
	conn.Publish(conn.NewMessage(
		bus.Topic{"hal", "cap", "power", "monitor", "main-rail", "value"},
		map[string]any{"bus_mV": 12000},
		true))

	var ln Line
	lineCh := make(chan error, 1)
	go func() { lineCh <- dec.Decode(&ln) }()
	select {
	case err := <-lineCh:
		if err != nil {
			t.Fatalf("decode exported line: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for exported line")
	}
	if ln.Topic != "hal/cap/power/monitor/main-rail/value" {
		t.Errorf("line topic = %q", ln.Topic)
	}
	if !ln.Retained {
		t.Error("retained flag lost on the wire")
	}
	payload, _ := ln.Payload.(map[string]any)
	if payload["bus_mV"] != float64(12000) {
		t.Errorf("line payload = %v", ln.Payload)
	}

	// An inbound line publishes onto the local bus.
	cmdSub := conn.Subscribe(bus.Topic{"remote", "cmd"})
	defer conn.Unsubscribe(cmdSub)

	enc := json.NewEncoder(remote)
	if err := enc.Encode(Line{Topic: "remote/cmd", Payload: map[string]any{"verb": "read_now"}}); err != nil {
		t.Fatal(err)
	}
	select {
	case m := <-cmdSub.Channel():
		p, _ := m.Payload.(map[string]any)
		if p["verb"] != "read_now" {
			t.Errorf("imported payload = %v", m.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for imported publication")
	}
}

func TestBridge_LinkLossGoesDegraded(t *testing.T) {
	b := bus.NewBus(16)
	conn := b.NewConnection("bridge_test_loss")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go Start(ctx, conn)

	stateSub := conn.Subscribe(bus.Topic{"bridge", "state"})
	defer conn.Unsubscribe(stateSub)

	_ = nextStatePayload(t, stateSub, 500*time.Millisecond) // awaiting_config

	pt := installPipe(t)
	conn.Publish(conn.NewMessage(bus.Topic{"config", "bridge"}, `{"transport":{"type":"pipe"}}`, false))

	up := nextStatePayload(t, stateSub, time.Second)
	assertLevelStatus(t, up, "up", "link_established")

	remote := <-pt.remote
	_ = remote.Close()

	// net.Pipe close surfaces as io.ErrClosedPipe, not EOF, so the bridge
	// treats it as loss and retries.
	degraded := nextStatePayload(t, stateSub, time.Second)
	assertLevelStatus(t, degraded, "degraded", "link_lost_retrying")
}

func TestBridge_UnknownTransportYieldsErrorState(t *testing.T) {
	b := bus.NewBus(8)
	conn := b.NewConnection("bridge_test_bad")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go Start(ctx, conn)

	stateSub := conn.Subscribe(bus.Topic{"bridge", "state"})
	defer conn.Unsubscribe(stateSub)

	_ = nextStatePayload(t, stateSub, 500*time.Millisecond) // initial awaiting_config

	cfg := `{"transport":{"type":"bogus"}}`
	conn.Publish(conn.NewMessage(bus.Topic{"config", "bridge"}, cfg, false))

	errState := nextStatePayload(t, stateSub, time.Second)
	assertLevelStatus(t, errState, "error", "transport_init_failed")
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func nextStatePayload(t *testing.T, sub *bus.Subscription, d time.Duration) map[string]any {
	t.Helper()
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case m := <-sub.Channel():
		p, ok := m.Payload.(map[string]any)
		if !ok {
			t.Fatalf("state payload type: got %T, want map[string]any", m.Payload)
		}
		return p
	case <-timer.C:
		t.Fatalf("timeout waiting for bridge/state")
		return nil
	}
}

func assertLevelStatus(t *testing.T, payload map[string]any, wantLevel, wantStatus string) {
	t.Helper()
	gotLevel, _ := payload["level"].(string)
	gotStatus, _ := payload["status"].(string)
	if gotLevel != wantLevel || gotStatus != wantStatus {
		t.Fatalf("unexpected state: level=%q status=%q, want level=%q status=%q (payload=%v)",
			gotLevel, gotStatus, wantLevel, wantStatus, payload)
	}
}
