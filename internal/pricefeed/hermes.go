package pricefeed

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"lendwatch/internal/metrics"
	"lendwatch/internal/models"
	"lendwatch/logger"
)

const (
	defaultReconnectDelay    = 2 * time.Second
	defaultMaxReconnectDelay = time.Minute
	defaultKeepAlive         = 20 * time.Second
	writeTimeout             = 5 * time.Second
)

// ErrNotConnected is returned when a frame is written with no live connection.
var ErrNotConnected = errors.New("price stream not connected")

// TickSink accepts decoded ticks.
type TickSink interface {
	SendTick(ctx context.Context, tick models.PriceTick) bool
}

// FeedResolver maps feed ids back to mints.
type FeedResolver interface {
	MintForFeed(id string) (string, bool)
}

// HermesConfig configures the streaming connection.
type HermesConfig struct {
	URL               string
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
	KeepAlive         time.Duration
}

// Hermes keeps one websocket subscription to a Pyth Hermes endpoint covering
// every requested feed, reconnecting and resubscribing as needed.
type Hermes struct {
	cfg   HermesConfig
	feeds FeedResolver
	sink  TickSink
	log   *logger.Log
	now   func() time.Time

	mu    sync.Mutex
	ids   map[string]struct{}
	conn  *websocket.Conn
	write sync.Mutex
}

// NewHermes creates a stream client. Run must be called to connect.
func NewHermes(cfg HermesConfig, feeds FeedResolver, sink TickSink) *Hermes {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = defaultReconnectDelay
	}
	if cfg.MaxReconnectDelay <= 0 {
		cfg.MaxReconnectDelay = defaultMaxReconnectDelay
	}
	if cfg.MaxReconnectDelay < cfg.ReconnectDelay {
		cfg.MaxReconnectDelay = cfg.ReconnectDelay
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = defaultKeepAlive
	}
	return &Hermes{
		cfg:   cfg,
		feeds: feeds,
		sink:  sink,
		log:   logger.GetLogger(),
		now:   time.Now,
		ids:   make(map[string]struct{}),
	}
}

// Subscribe adds feed ids to the consolidated subscription. Ids not seen
// before are sent on the live connection right away and are part of every
// later resubscribe.
func (h *Hermes) Subscribe(ids ...string) error {
	h.mu.Lock()
	added := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := h.ids[id]; ok {
			continue
		}
		h.ids[id] = struct{}{}
		added = append(added, id)
	}
	conn := h.conn
	total := len(h.ids)
	h.mu.Unlock()

	metrics.SetSubscribedFeeds(total)
	if len(added) == 0 || conn == nil {
		return nil
	}
	if err := h.sendSubscribe(conn, added); err != nil {
		return fmt.Errorf("subscribe %d feeds: %w", len(added), err)
	}
	h.log.WithComponent("hermes").WithFields(logger.Fields{
		"added": len(added),
		"total": total,
	}).Info("extended price subscription")
	return nil
}

// FeedIDs lists the subscribed feeds in sorted order.
func (h *Hermes) FeedIDs() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.ids))
	for id := range h.ids {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Run connects and reads until ctx is done, reconnecting with backoff.
func (h *Hermes) Run(ctx context.Context) {
	log := h.log.WithComponent("hermes").WithField("url", h.cfg.URL)
	b := &backoff.Backoff{
		Min:    h.cfg.ReconnectDelay,
		Max:    h.cfg.MaxReconnectDelay,
		Factor: 2,
		Jitter: true,
	}
	dialer := websocket.DefaultDialer

	for {
		if ctx.Err() != nil {
			return
		}

		conn, _, err := dialer.DialContext(ctx, h.cfg.URL, nil)
		metrics.RecordFeedConnect(err)
		if err != nil {
			log.WithError(err).Warn("failed to connect to price stream")
			if waitForReconnect(ctx, b.Duration()) {
				return
			}
			continue
		}

		if err := h.attach(conn); err != nil {
			log.WithError(err).Warn("failed to subscribe to price feeds")
			h.detach(conn)
			if waitForReconnect(ctx, b.Duration()) {
				return
			}
			continue
		}
		log.WithField("feeds", len(h.FeedIDs())).Info("price stream connected")

		pingCancel := startPingLoop(ctx, conn, h.cfg.KeepAlive, log)
		stopClose := closeOnDone(ctx, conn)

		received, err := h.readMessages(ctx, conn)
		if err != nil && ctx.Err() == nil {
			log.WithError(err).WithField("messages", received).Warn("price stream read loop ended")
		}

		pingCancel()
		stopClose()
		h.detach(conn)

		if ctx.Err() != nil {
			return
		}
		if received > 0 {
			b.Reset()
		}
		if waitForReconnect(ctx, b.Duration()) {
			return
		}
	}
}

// attach publishes conn and subscribes every known feed on it. The set is
// read under the same lock that publishes conn so a concurrent Subscribe
// either lands in this frame or writes its own.
func (h *Hermes) attach(conn *websocket.Conn) error {
	h.mu.Lock()
	ids := make([]string, 0, len(h.ids))
	for id := range h.ids {
		ids = append(ids, id)
	}
	h.conn = conn
	h.mu.Unlock()

	if len(ids) == 0 {
		return nil
	}
	sort.Strings(ids)
	return h.sendSubscribe(conn, ids)
}

func (h *Hermes) detach(conn *websocket.Conn) {
	h.mu.Lock()
	if h.conn == conn {
		h.conn = nil
	}
	h.mu.Unlock()
	conn.Close()
}

func (h *Hermes) sendSubscribe(conn *websocket.Conn, ids []string) error {
	req := struct {
		Type string   `json:"type"`
		IDs  []string `json:"ids"`
	}{
		Type: "subscribe",
		IDs:  ids,
	}
	h.write.Lock()
	defer h.write.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(req)
}

func (h *Hermes) readMessages(ctx context.Context, conn *websocket.Conn) (int, error) {
	received := 0
	for {
		if ctx.Err() != nil {
			return received, ctx.Err()
		}
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return received, err
		}
		received++
		h.handleMessage(ctx, msg)
	}
}

func (h *Hermes) handleMessage(ctx context.Context, msg []byte) {
	log := h.log.WithComponent("hermes")
	if !gjson.ValidBytes(msg) {
		log.WithField("size", len(msg)).Debug("ignoring non-json frame")
		return
	}

	root := gjson.ParseBytes(msg)
	switch root.Get("type").String() {
	case "response":
		if root.Get("status").String() != "success" {
			log.WithField("error", root.Get("error").String()).Warn("price stream rejected request")
		}
	case "price_update":
		tick, err := h.parsePriceUpdate(root.Get("price_feed"))
		if err != nil {
			metrics.RecordTick(metrics.TickRejected)
			log.WithError(err).Debug("skipping price update")
			return
		}
		h.sink.SendTick(ctx, tick)
	}
}

func (h *Hermes) parsePriceUpdate(feed gjson.Result) (models.PriceTick, error) {
	id := feed.Get("id").String()
	mint, ok := h.feeds.MintForFeed(id)
	if !ok {
		return models.PriceTick{}, fmt.Errorf("unknown feed %q", id)
	}

	p := feed.Get("price")
	expo := p.Get("expo")
	if !expo.Exists() {
		return models.PriceTick{}, fmt.Errorf("feed %s: missing exponent", id)
	}

	price, err := decimal.NewFromString(p.Get("price").String())
	if err != nil {
		return models.PriceTick{}, fmt.Errorf("feed %s: price: %w", id, err)
	}
	conf, err := decimal.NewFromString(p.Get("conf").String())
	if err != nil {
		return models.PriceTick{}, fmt.Errorf("feed %s: conf: %w", id, err)
	}

	e := int32(expo.Int())
	return models.PriceTick{
		Mint:        mint,
		FeedID:      id,
		Price:       price.Shift(e),
		Confidence:  conf.Shift(e),
		PublishTime: time.Unix(p.Get("publish_time").Int(), 0).UTC(),
		ReceivedAt:  h.now(),
	}, nil
}

func waitForReconnect(ctx context.Context, delay time.Duration) bool {
	if delay <= 0 {
		delay = defaultReconnectDelay
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return true
	case <-timer.C:
		return false
	}
}

// closeOnDone closes conn when ctx ends so a blocked read returns.
func closeOnDone(ctx context.Context, conn *websocket.Conn) func() {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()
	return func() { close(done) }
}

func startPingLoop(ctx context.Context, conn *websocket.Conn, interval time.Duration, log *logger.Entry) context.CancelFunc {
	if interval <= 0 {
		interval = defaultKeepAlive
	}
	pingCtx, cancel := context.WithCancel(ctx)
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-pingCtx.Done():
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second)); err != nil {
					log.WithError(err).Warn("failed to send websocket ping")
					conn.Close()
					return
				}
			}
		}
	}()
	return cancel
}
