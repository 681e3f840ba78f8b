package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"chatsync/pkg/logger"
	"chatsync/pkg/telemetry"
)

// Change feed event types, matching the remote database's notification
// payloads.
const (
	ChangeInsert = "INSERT"
	ChangeUpdate = "UPDATE"
	ChangeDelete = "DELETE"
)

// ChangeEvent is one row-level change delivered by the realtime feed.
// Row carries the full row payload for INSERT/UPDATE and the old row for
// DELETE.
type ChangeEvent struct {
	Table string          `json:"table"`
	Type  string          `json:"type"`
	Row   json.RawMessage `json:"row"`
}

type subscribeFrame struct {
	Action string   `json:"action"`
	Tables []string `json:"tables"`
	UserID string   `json:"user_id"`
	Token  string   `json:"token,omitempty"`
}

// Feed maintains the websocket subscription to the realtime change feed
// and dispatches events to the registered handler. Dial failures and
// dropped connections are retried with backoff until the context ends.
type Feed struct {
	url     string
	token   string
	userID  string
	tables  []string
	handler func(ChangeEvent)

	// onState is invoked with true/false as the subscription comes up
	// and goes down; the sync manager uses it to drive Online/Offline.
	onState func(connected bool)

	connected int32
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewFeed builds a feed subscription for the given tables.
func NewFeed(url, token, userID string, tables []string, handler func(ChangeEvent), onState func(bool)) *Feed {
	return &Feed{
		url:     url,
		token:   token,
		userID:  userID,
		tables:  tables,
		handler: handler,
		onState: onState,
	}
}

// Connected reports whether the subscription is currently established.
func (f *Feed) Connected() bool { return atomic.LoadInt32(&f.connected) == 1 }

// Run starts the subscription loop. It returns immediately; the loop
// stops when ctx is cancelled or Close is called.
func (f *Feed) Run(ctx context.Context) {
	ctx, f.cancel = context.WithCancel(ctx)
	f.done = make(chan struct{})
	go f.loop(ctx)
}

// Close stops the subscription loop and waits for it to exit.
func (f *Feed) Close() {
	if f.cancel != nil {
		f.cancel()
	}
	if f.done != nil {
		<-f.done
	}
}

func (f *Feed) loop(ctx context.Context) {
	defer close(f.done)
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return
		}
		err := f.runOnce(ctx)
		backoff = nextRetryDelay(backoff, f.Connected())
		if err != nil && ctx.Err() == nil {
			logger.Warn("feed_disconnected", "error", err, "retry_in", backoff.String())
		}
		f.setConnected(false)

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		telemetry.FeedReconnects.Inc()
	}
}

// nextRetryDelay doubles the reconnect delay up to a cap while the
// subscription keeps failing and resets it once a subscription was
// established, so one long outage does not tax every later blip.
func nextRetryDelay(cur time.Duration, subscribed bool) time.Duration {
	if subscribed {
		return time.Second
	}
	next := cur * 2
	if next > 30*time.Second {
		next = 30 * time.Second
	}
	return next
}

func (f *Feed) runOnce(ctx context.Context) error {
	header := http.Header{}
	if f.token != "" {
		header.Set("Authorization", "Bearer "+f.token)
	}
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, f.url, header)
	if err != nil {
		return err
	}
	defer conn.Close()

	sub := subscribeFrame{Action: "subscribe", Tables: f.tables, UserID: f.userID, Token: f.token}
	if err := conn.WriteJSON(sub); err != nil {
		return err
	}
	f.setConnected(true)
	logger.Info("feed_subscribed", "tables", len(f.tables))

	// close the socket when ctx ends so ReadMessage unblocks
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-stop:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var ev ChangeEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			logger.Warn("feed_invalid_event", "error", err)
			continue
		}
		if ev.Table == "" || ev.Type == "" {
			continue
		}
		f.handler(ev)
	}
}

func (f *Feed) setConnected(up bool) {
	var v int32
	if up {
		v = 1
	}
	if atomic.SwapInt32(&f.connected, v) != v && f.onState != nil {
		f.onState(up)
	}
}
