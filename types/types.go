package types

// ---- Common service state (retained) ----

type ServiceState struct {
	Level  string `json:"level"`  // e.g. "idle", "running", "stopped"
	Status string `json:"status"` // freeform short code
	TS     int64  `json:"ts_ms"`
}

// Link is the link/state reported for a monitored sensor.
type Link string

const (
	LinkUp       Link = "up"
	LinkDown     Link = "down"
	LinkDegraded Link = "degraded"
)

type SensorStatus struct {
	Link  Link   `json:"link"`
	TS    int64  `json:"ts_ms"`
	Error string `json:"error,omitempty"`
}

// Heartbeat is the retained liveness beat.
type Heartbeat struct {
	Seq uint64 `json:"seq"`
	TS  int64  `json:"ts_ms"`
}

// ---- Capability kinds ----

type Kind string

const (
	KindPower   Kind = "power"
	KindVoltage Kind = "voltage"
	KindCurrent Kind = "current"
)
