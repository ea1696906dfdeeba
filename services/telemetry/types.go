// services/telemetry/types.go
package telemetry

import (
	"context"
	"time"

	"powermon-go/types"
)

// Adaptor owns a concrete power-monitor driver and exposes generic hooks.
// Adaptors must NOT touch the bus or spawn goroutines.
type Adaptor interface {
	ID() string
	// Static info document (published as retained).
	Info() types.PowerInfo
	// Trigger a measurement and return the suggested wait until Collect.
	Trigger(ctx context.Context) (collectAfter time.Duration, err error)
	// Collect attempts to fetch a measurement; may return ErrNotReady.
	Collect(ctx context.Context) (types.PowerValue, error)
	// Optional pass-through control for driver-specific verbs.
	// Return (nil, ErrUnsupported) for verbs it does not implement.
	Control(verb string, payload map[string]any) (result any, err error)
}

// Config centralises timings and limits for the sampling loop.
type Config struct {
	Interval       time.Duration // period between samples
	TriggerTimeout time.Duration
	CollectTimeout time.Duration
	RetryBackoff   time.Duration
	MaxRetries     int
}

// ErrNotReady signals the service to retry Collect after backoff.
var ErrNotReady = errNotReady{}

type errNotReady struct{}

func (errNotReady) Error() string { return "not ready" }

// ErrUnsupported for adaptor Control pass-through.
var ErrUnsupported = errUnsupported{}

type errUnsupported struct{}

func (errUnsupported) Error() string { return "unsupported" }
