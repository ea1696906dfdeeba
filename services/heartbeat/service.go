package heartbeat

import (
	"context"
	"time"

	"powermon-go/bus"
	"powermon-go/types"
	"powermon-go/x/timex"
)

var topicConfigHeartbeat = bus.Topic{"config", "heartbeat"}

// Service publishes a retained liveness beat so collectors on the far side of
// a bridge can tell a quiet monitor from a dead one.
type Service struct {
	Interval time.Duration
}

func (s *Service) serviceLoop(ctx context.Context, conn *bus.Connection) {
	cfgSub := conn.Subscribe(topicConfigHeartbeat)
	defer conn.Unsubscribe(cfgSub)

	interval := s.Interval
	if interval <= 0 {
		interval = time.Second
	}

	tick := time.NewTicker(interval)
	defer tick.Stop()

	var seq uint64
	beat := func() {
		seq++
		conn.Publish(conn.NewMessage(bus.Topic{"heartbeat", "state"}, types.Heartbeat{
			Seq: seq,
			TS:  timex.NowMs(),
		}, true))
	}
	beat()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			beat()
		case msg := <-cfgSub.Channel():
			// Change beat interval if needed
			if m, ok := msg.Payload.(map[string]any); ok {
				if iv, ok := m["interval_ms"]; ok {
					if ms, ok := iv.(float64); ok && ms > 0 {
						tick.Reset(time.Duration(ms) * time.Millisecond)
					}
				}
			}
		}
	}
}

// Start the heartbeat service.
func (s *Service) Start(ctx context.Context, conn *bus.Connection) error {
	go s.serviceLoop(ctx, conn)
	return nil
}
