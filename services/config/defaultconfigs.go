package config

// -----------------------------------------------------------------------------
// Embedded configuration
//
// Populate embeddedConfigs at build time (e.g. via code generation) or
// manually during development.
// Key: device ID (same value placed in ctx under CtxDeviceKey)
// Val: raw JSON bytes for that device
// -----------------------------------------------------------------------------

const cfgBenchRig = `{
  "telemetry": {
      "interval_ms": 1000
  },
  "heartbeat": {
      "interval_ms": 30000
  },
  "bridge": {
      "transport": {
          "type": "tcp",
          "tcp": {"endpoint": "127.0.0.1:9300"}
      },
      "export": ["hal/cap/power/#", "heartbeat/state"]
  }
}`

var embeddedConfigs = map[string][]byte{
	"bench-rig": []byte(cfgBenchRig),
}
