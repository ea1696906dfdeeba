package heartbeat

import (
	"context"
	"testing"
	"time"

	"powermon-go/bus"
	"powermon-go/types"
)

func TestHeartbeat_PublishesRetainedBeat(t *testing.T) {
	b := bus.NewBus(8)
	conn := b.NewConnection("hb_test")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc := &Service{Interval: 10 * time.Millisecond}
	if err := svc.Start(ctx, conn); err != nil {
		t.Fatal(err)
	}

	sub := conn.Subscribe(bus.Topic{"heartbeat", "state"})
	defer conn.Unsubscribe(sub)

	var last uint64
	for i := 0; i < 3; i++ {
		select {
		case m := <-sub.Channel():
			hb, ok := m.Payload.(types.Heartbeat)
			if !ok {
				t.Fatalf("payload type %T", m.Payload)
			}
			if hb.Seq <= last {
				t.Errorf("seq did not advance: %d after %d", hb.Seq, last)
			}
			last = hb.Seq
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for beat")
		}
	}
}
