package ina226

import "errors"

// Sentinel errors (TinyGo-safe; no fmt). Bus transport failures are never
// wrapped or retried here; they propagate to the caller as-is.
var (
	// ErrFieldRange means a value was too wide for its register field. It is
	// returned before anything is written to the bus.
	ErrFieldRange = errors.New("ina226: value exceeds field width")
)
