// config/config_test.go
package config

import (
	"context"
	"testing"
	"time"

	"powermon-go/bus"
)

func TestConfig_PublishEmbedded_RetainedPerKey(t *testing.T) {
	// Override lookup for this test.
	oldLookup := EmbeddedConfigLookup
	EmbeddedConfigLookup = func(device string) ([]byte, bool) {
		if device != "bench-rig" {
			return nil, false
		}
		return []byte(`{
			"mode": "dev",
			"debug": true,
			"telemetry": {"interval_ms": 250}
		}`), true
	}
	t.Cleanup(func() { EmbeddedConfigLookup = oldLookup })

	// Arrange bus and service.
	b := bus.NewBus(16)
	conn := b.NewConnection("test-config")
	svc := NewConfigService()

	// Start publisher with device ID in context.
	ctx := context.WithValue(context.Background(), CtxDeviceKey, "bench-rig")
	svc.Start(ctx, conn)

	// Subscribe; retained messages should arrive immediately.
	sub := conn.Subscribe(bus.Topic{configPrefix, "#"})

	wantCount := 3 // mode, debug, telemetry
	got := map[string]any{}

	deadline := time.Now().Add(600 * time.Millisecond)
	for len(got) < wantCount && time.Now().Before(deadline) {
		select {
		case m := <-sub.Channel():
			if m.Topic.Len() < 2 {
				t.Fatalf("unexpected topic length: %#v", m.Topic)
			}
			if m.Topic[0] != configPrefix {
				t.Fatalf("unexpected prefix: %q", m.Topic[0])
			}
			got[m.Topic[1]] = m.Payload
		case <-time.After(10 * time.Millisecond):
		}
	}
	if len(got) != wantCount {
		t.Fatalf("expected %d retained messages, got %d (%v)", wantCount, len(got), got)
	}

	if s, ok := got["mode"].(string); !ok || s != "dev" {
		t.Fatalf("mode payload = %#v, want \"dev\"", got["mode"])
	}
	if bval, ok := got["debug"].(bool); !ok || bval != true {
		t.Fatalf("debug payload = %#v, want true", got["debug"])
	}
	if m, ok := got["telemetry"].(map[string]any); !ok {
		t.Fatalf("telemetry payload type = %T, want map[string]any", got["telemetry"])
	} else if iv, ok := m["interval_ms"].(float64); !ok || iv != 250 {
		t.Fatalf("telemetry.interval_ms = %#v, want 250", m["interval_ms"])
	}
}

func TestConfig_PublishNow_OverlayLayering(t *testing.T) {
	oldLookup := EmbeddedConfigLookup
	EmbeddedConfigLookup = func(device string) ([]byte, bool) {
		return []byte(`{
			"telemetry": {"interval_ms": 1000},
			"heartbeat": {"interval_ms": 30000, "topic": "heartbeat/state"}
		}`), true
	}
	t.Cleanup(func() { EmbeddedConfigLookup = oldLookup })

	b := bus.NewBus(16)
	conn := b.NewConnection("test-overlay")
	svc := NewConfigService()

	ctx := context.WithValue(context.Background(), CtxDeviceKey, "bench-rig")
	overlay := map[string]any{
		"telemetry": nil, // withheld: rails carry their own settings
		"heartbeat": map[string]any{"interval_ms": float64(5000)},
		"bridge":    map[string]any{"export": []string{"hal/cap/power/#"}},
	}
	if err := svc.PublishNow(ctx, conn, overlay); err != nil {
		t.Fatalf("PublishNow: %v", err)
	}

	sub := conn.Subscribe(bus.Topic{configPrefix, "#"})
	got := map[string]any{}
	deadline := time.Now().Add(300 * time.Millisecond)
	for time.Now().Before(deadline) {
		select {
		case m := <-sub.Channel():
			got[m.Topic[1]] = m.Payload
		case <-time.After(10 * time.Millisecond):
		}
	}

	if _, ok := got["telemetry"]; ok {
		t.Fatalf("telemetry key published despite nil overlay: %#v", got["telemetry"])
	}
	hb, ok := got["heartbeat"].(map[string]any)
	if !ok {
		t.Fatalf("heartbeat payload = %#v", got["heartbeat"])
	}
	if iv, _ := hb["interval_ms"].(float64); iv != 5000 {
		t.Errorf("heartbeat.interval_ms = %#v, want 5000 (overlay wins)", hb["interval_ms"])
	}
	if tp, _ := hb["topic"].(string); tp != "heartbeat/state" {
		t.Errorf("heartbeat.topic = %#v, want profile value to survive merge", hb["topic"])
	}
	if _, ok := got["bridge"]; !ok {
		t.Error("bridge overlay key absent from profile was not published")
	}
}

func TestConfig_PublishNow_MissingDevice(t *testing.T) {
	b := bus.NewBus(4)
	conn := b.NewConnection("test-missing-device")
	svc := NewConfigService()

	// No device ID in context
	if err := svc.PublishNow(context.Background(), conn, nil); err == nil {
		t.Fatal("expected error for missing device ID, got nil")
	}
}

func TestConfig_PublishConfig_NoConfigFound(t *testing.T) {
	// Override lookup to simulate absence.
	oldLookup := EmbeddedConfigLookup
	EmbeddedConfigLookup = func(device string) ([]byte, bool) { return nil, false }
	t.Cleanup(func() { EmbeddedConfigLookup = oldLookup })

	b := bus.NewBus(4)
	conn := b.NewConnection("test-no-config")
	svc := NewConfigService()

	ctx := context.WithValue(context.Background(), CtxDeviceKey, "unknown-device")
	if err := svc.PublishNow(ctx, conn, nil); err == nil {
		t.Fatal("expected error for missing embedded config, got nil")
	}
}
