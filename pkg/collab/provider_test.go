package collab

import (
	"encoding/json"
	"testing"
	"time"
)

func testProvider(capacity int) *Provider {
	return NewProvider(ProviderOptions{
		SignalAddr:       "ws://relay.invalid",
		Room:             "collab-room",
		Participant:      "p-a",
		OutboundCapacity: capacity,
		FlushStagger:     time.Millisecond,
	}, nil)
}

func drainOut(t *testing.T, p *Provider, n int) []Frame {
	t.Helper()
	var out []Frame
	deadline := time.After(2 * time.Second)
	for len(out) < n {
		select {
		case f := <-p.out:
			out = append(out, f)
		case <-deadline:
			t.Fatalf("expected %d outbound frames, got %d", n, len(out))
		}
	}
	return out
}

func TestPeerlessAppendsHeldUntilPeerArrives(t *testing.T) {
	p := testProvider(8)

	payload, _ := json.Marshal(map[string]string{"id": "m1"})
	p.Send(Frame{Type: FrameAppend, Entity: EntityMessage, Payload: payload})
	p.Send(Frame{Type: FrameAppend, Entity: EntityMessage, Payload: payload})

	if len(p.out) != 0 {
		t.Fatalf("peerless appends must not reach the transport, got %d", len(p.out))
	}
	if p.HeldCount() != 2 {
		t.Fatalf("expected 2 held appends, got %d", p.HeldCount())
	}

	// relay reports a second member: the held appends are released in order
	p.dispatch(Frame{Type: FramePresence, From: "relay", Peers: 2})

	frames := drainOut(t, p, 2)
	for _, f := range frames {
		if f.Type != FrameAppend || f.Entity != EntityMessage {
			t.Fatalf("unexpected released frame: %+v", f)
		}
	}
	if p.HeldCount() != 0 {
		t.Fatalf("held buffer must be empty after flush, got %d", p.HeldCount())
	}
}

func TestAppendsBypassHoldWithPeersPresent(t *testing.T) {
	p := testProvider(8)
	p.dispatch(Frame{Type: FramePresence, From: "relay", Peers: 2})

	p.Send(Frame{Type: FrameAppend, Entity: EntityChat, Payload: []byte(`{}`)})
	if p.HeldCount() != 0 {
		t.Fatalf("appends with peers present must not be held")
	}
	if len(p.out) != 1 {
		t.Fatalf("expected 1 outbound frame, got %d", len(p.out))
	}
}

func TestNonAppendFramesNotHeld(t *testing.T) {
	p := testProvider(8)

	// the monitor's touch probe goes out even with no peers; its echo is
	// the liveness signal
	p.Send(Frame{Type: FrameTouch})
	if p.HeldCount() != 0 {
		t.Fatalf("touch must not be held")
	}
	if len(p.out) != 1 {
		t.Fatalf("expected touch on the transport, got %d frames", len(p.out))
	}
}

func TestHeldBufferBounded(t *testing.T) {
	p := testProvider(2)
	for i := 0; i < 5; i++ {
		p.Send(Frame{Type: FrameAppend, Entity: EntityMessage, Payload: []byte(`{}`)})
	}
	if p.HeldCount() != 2 {
		t.Fatalf("held buffer must be capped at capacity, got %d", p.HeldCount())
	}
}

func TestPeerCountExcludesSelf(t *testing.T) {
	p := testProvider(8)
	if p.PeerCount() != 0 {
		t.Fatalf("fresh provider must report 0 peers")
	}
	p.dispatch(Frame{Type: FramePresence, From: "relay", Peers: 1})
	if p.PeerCount() != 0 {
		t.Fatalf("alone in the room is 0 peers, got %d", p.PeerCount())
	}
	p.dispatch(Frame{Type: FramePresence, From: "relay", Peers: 3})
	if p.PeerCount() != 2 {
		t.Fatalf("expected 2 peers, got %d", p.PeerCount())
	}
}
