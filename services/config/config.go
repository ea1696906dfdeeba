package config

import (
	"context"
	"encoding/json"
	"errors"

	"powermon-go/bus"
)

// -----------------------------------------------------------------------------
// String constants
// -----------------------------------------------------------------------------

const (
	serviceName  = "config"
	configPrefix = "config"
	CtxDeviceKey = "device" // context key used for device ID
)

// EmbeddedConfigLookup allows overriding how configs are resolved.
var EmbeddedConfigLookup = func(device string) ([]byte, bool) {
	b, ok := embeddedConfigs[device]
	return b, ok
}

// -----------------------------------------------------------------------------
// Config Service
// -----------------------------------------------------------------------------

type ConfigService struct {
	Name string
}

func NewConfigService() *ConfigService {
	return &ConfigService{Name: serviceName}
}

// PublishNow reads the device config from embedded data and publishes each
// top-level key as a retained message on config/<key>.
//
// overlay layers deployment-local values over the embedded profile before
// publishing: a map value is shallow-merged over the profile key, any other
// value replaces it, and an explicit nil withholds the key entirely. Overlay
// keys absent from the profile are published as-is.
func (s *ConfigService) PublishNow(ctx context.Context, conn *bus.Connection, overlay map[string]any) error {
	device, _ := ctx.Value(CtxDeviceKey).(string)
	if device == "" {
		return errors.New("missing device ID in context")
	}

	raw, ok := EmbeddedConfigLookup(device)
	if !ok || len(raw) == 0 {
		return errors.New("no embedded config for device: " + device)
	}

	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return err
	}

	for k, ov := range overlay {
		if ov == nil {
			delete(m, k)
			continue
		}
		if base, okb := m[k].(map[string]any); okb {
			if om, oko := ov.(map[string]any); oko {
				for kk, vv := range om {
					base[kk] = vv
				}
				continue
			}
		}
		m[k] = ov
	}

	for k, v := range m {
		msg := &bus.Message{
			Topic:    bus.T(configPrefix, k),
			Payload:  v,
			Retained: true,
		}
		conn.Publish(msg)
	}

	return nil
}

// Start launches the config publisher in a goroutine.
func (s *ConfigService) Start(ctx context.Context, conn *bus.Connection) {
	go func() {
		_ = s.PublishNow(ctx, conn, nil) // replace with logging if needed
	}()
}
