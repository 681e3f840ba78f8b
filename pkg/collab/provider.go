package collab

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"chatsync/pkg/logger"
	"chatsync/pkg/telemetry"
)

// Frame types exchanged through the relay.
const (
	FrameJoin            = "join"
	FramePresence        = "presence"
	FrameAppend          = "append"
	FrameSnapshot        = "snapshot"
	FrameSnapshotRequest = "snapshot_request"
	FrameTouch           = "touch"
)

// Entities carried by append frames.
const (
	EntityChat     = "chat"
	EntityMessage  = "message"
	EntityArtifact = "artifact"
)

// Frame is one relay message. The relay broadcasts every frame to all
// room members including the sender; receiving our own frame back is the
// echo the connection monitor watches for.
type Frame struct {
	Type    string          `json:"type"`
	Room    string          `json:"room,omitempty"`
	From    string          `json:"from,omitempty"`
	Entity  string          `json:"entity,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	// Peers is the relay's member count, carried on presence frames.
	Peers int `json:"peers,omitempty"`
	// Permission is the session permission level, carried on the
	// leader's snapshot frames so the leader stays authoritative over it.
	Permission string `json:"permission,omitempty"`
}

// ProviderOptions configure the relay transport.
type ProviderOptions struct {
	SignalAddr              string
	Room                    string
	Participant             string
	ReconnectDelay          time.Duration
	ImmediateReconnectDelay time.Duration
	OutboundCapacity        int
	// FlushStagger spaces the release of held appends when a peer
	// arrives so the relay is not slammed with the whole backlog.
	FlushStagger time.Duration
}

// Provider maintains the websocket connection to the relay for one room.
// It owns reconnection; the session document survives reconnects, only
// the transport is rebuilt.
type Provider struct {
	opts    ProviderOptions
	handler func(Frame)

	out chan Frame

	// held buffers appends produced while the room has no other member.
	// The relay does not retain frames for absent peers, so writing an
	// append into an empty room loses it; held frames are released,
	// staggered, when presence reports a peer.
	heldMu sync.Mutex
	held   []Frame

	mu   sync.Mutex
	conn *websocket.Conn

	connected int32
	peers     int32
	lastSend  int64
	lastEcho  int64

	// immediate requests the short reconnect tier for the next redial.
	immediate int32
	kick      chan struct{}

	cancel context.CancelFunc
	done   chan struct{}
}

// NewProvider builds a relay transport. handler receives every frame
// from other peers; echoes of our own frames are consumed internally.
func NewProvider(opts ProviderOptions, handler func(Frame)) *Provider {
	if opts.OutboundCapacity <= 0 {
		opts.OutboundCapacity = 256
	}
	return &Provider{
		opts:    opts,
		handler: handler,
		out:     make(chan Frame, opts.OutboundCapacity),
		kick:    make(chan struct{}, 1),
	}
}

// Run starts the connection loop and returns immediately.
func (p *Provider) Run(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})
	go p.loop(ctx)
}

// Close tears the transport down and waits for the loop to exit.
func (p *Provider) Close() {
	if p.cancel != nil {
		p.cancel()
	}
	p.closeConn()
	if p.done != nil {
		<-p.done
	}
}

// Connected reports whether the relay connection is up.
func (p *Provider) Connected() bool { return atomic.LoadInt32(&p.connected) == 1 }

// PeerCount returns the relay's last reported member count minus this
// peer.
func (p *Provider) PeerCount() int {
	n := int(atomic.LoadInt32(&p.peers)) - 1
	if n < 0 {
		n = 0
	}
	return n
}

// LastSend returns when a frame was last handed to the transport.
func (p *Provider) LastSend() time.Time { return timeFromNano(atomic.LoadInt64(&p.lastSend)) }

// LastEcho returns when one of our frames last came back from the relay.
func (p *Provider) LastEcho() time.Time { return timeFromNano(atomic.LoadInt64(&p.lastEcho)) }

func timeFromNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// Send queues a frame for delivery. Appends made while no peer is in
// the room are held until presence reports one; other frame types go to
// the transport regardless (the monitor's touch probe in particular is
// sent peerless on purpose). Frames are dropped with a log line when a
// queue is full; session traffic is convergent, so a dropped frame is
// repaired by the next snapshot exchange.
func (p *Provider) Send(f Frame) {
	f.Room = p.opts.Room
	f.From = p.opts.Participant
	if f.Type == FrameAppend && p.PeerCount() == 0 {
		p.hold(f)
		return
	}
	p.enqueueOut(f)
}

func (p *Provider) enqueueOut(f Frame) {
	select {
	case p.out <- f:
		atomic.StoreInt64(&p.lastSend, time.Now().UnixNano())
	default:
		logger.Warn("collab_outbound_full_dropped", "type", f.Type)
	}
}

func (p *Provider) hold(f Frame) {
	p.heldMu.Lock()
	defer p.heldMu.Unlock()
	if len(p.held) >= p.opts.OutboundCapacity {
		logger.Warn("collab_held_full_dropped", "type", f.Type)
		return
	}
	p.held = append(p.held, f)
}

// HeldCount returns the number of appends waiting for a peer.
func (p *Provider) HeldCount() int {
	p.heldMu.Lock()
	defer p.heldMu.Unlock()
	return len(p.held)
}

// flushHeld releases held appends to the transport in arrival order,
// spaced by the configured stagger.
func (p *Provider) flushHeld() {
	p.heldMu.Lock()
	frames := p.held
	p.held = nil
	p.heldMu.Unlock()
	if len(frames) == 0 {
		return
	}
	logger.Info("collab_held_flush", "frames", len(frames))
	for i, f := range frames {
		if i > 0 && p.opts.FlushStagger > 0 {
			time.Sleep(p.opts.FlushStagger)
		}
		p.enqueueOut(f)
	}
}

// ForceReconnect drops the current connection and redials on the
// immediate tier. Used when the transport is up but silently broken, or
// when it dropped while peers are still active.
func (p *Provider) ForceReconnect() {
	atomic.StoreInt32(&p.immediate, 1)
	select {
	case p.kick <- struct{}{}:
	default:
	}
	p.closeConn()
}

func (p *Provider) closeConn() {
	p.mu.Lock()
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
	p.mu.Unlock()
}

func (p *Provider) loop(ctx context.Context) {
	defer close(p.done)
	for {
		if ctx.Err() != nil {
			return
		}
		if err := p.runOnce(ctx); err != nil && ctx.Err() == nil {
			logger.Warn("collab_transport_down", "room", p.opts.Room, "error", err)
		}
		atomic.StoreInt32(&p.connected, 0)
		if ctx.Err() != nil {
			return
		}

		delay := p.opts.ReconnectDelay
		if atomic.SwapInt32(&p.immediate, 0) == 1 {
			delay = p.opts.ImmediateReconnectDelay
		}
		select {
		case <-ctx.Done():
			return
		case <-p.kick:
		case <-time.After(delay):
		}
		telemetry.SessionReconnects.Inc()
	}
}

func (p *Provider) runOnce(ctx context.Context) error {
	url := fmt.Sprintf("%s/v1/rooms/%s", p.opts.SignalAddr, p.opts.Room)
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.conn = conn
	p.mu.Unlock()
	defer p.closeConn()

	join := Frame{Type: FrameJoin, Room: p.opts.Room, From: p.opts.Participant}
	if err := conn.WriteJSON(join); err != nil {
		return err
	}
	atomic.StoreInt32(&p.connected, 1)
	logger.Info("collab_transport_up", "room", p.opts.Room)

	writeErr := make(chan error, 1)
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		for {
			select {
			case f := <-p.out:
				if err := conn.WriteJSON(f); err != nil {
					writeErr <- err
					return
				}
			case <-stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	readErr := make(chan error, 1)
	go func() {
		for {
			var f Frame
			if err := conn.ReadJSON(&f); err != nil {
				readErr <- err
				return
			}
			p.dispatch(f)
		}
	}()

	select {
	case err := <-writeErr:
		return err
	case err := <-readErr:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Provider) dispatch(f Frame) {
	if f.Type == FramePresence {
		prev := atomic.SwapInt32(&p.peers, int32(f.Peers))
		telemetry.SetPeerCount(p.PeerCount())
		if prev <= 1 && p.PeerCount() > 0 {
			go p.flushHeld()
		}
	}
	if f.From == p.opts.Participant {
		atomic.StoreInt64(&p.lastEcho, time.Now().UnixNano())
		return
	}
	if p.handler != nil {
		p.handler(f)
	}
}
