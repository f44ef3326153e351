package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/polywatch/internal/domain"
)

// writeWait is the time allowed to write a message to the peer.
const writeWait = 10 * time.Second

// FeedConfig holds the tuning parameters for the market feed client.
type FeedConfig struct {
	URL              string
	PingInterval     time.Duration
	PongTimeout      time.Duration
	ReconnectInitial time.Duration
	ReconnectMax     time.Duration
	SubscribeBatch   int
}

// PriceHandler is called for every decoded price update.
type PriceHandler func(domain.PriceUpdate)

// BookHandler is called for every decoded orderbook snapshot.
type BookHandler func(domain.BookSnapshot)

// ConnectHandler is called after every successful (re)connect, after the
// subscription set has been replayed.
type ConnectHandler func()

// DisconnectHandler is called when an established connection drops.
type DisconnectHandler func(error)

// ErrorHandler is called for connection and decode errors.
type ErrorHandler func(error)

// FeedStats holds feed counters. All fields are cumulative.
type FeedStats struct {
	Messages     int64
	PriceUpdates int64
	BookUpdates  int64
	Reconnects   int64
}

// FeedClient maintains a websocket connection to the Polymarket CLOB market
// feed. It queues subscriptions made before the connection is up, replays
// the full subscription set after every reconnect in batches, and dispatches
// decoded messages to registered handlers. Handlers are panic-isolated: a
// panicking handler is logged and does not take the feed down.
type FeedClient struct {
	cfg    FeedConfig
	logger *slog.Logger

	mu         sync.Mutex
	conn       *websocket.Conn
	subscribed map[string]struct{}
	pending    map[string]struct{}
	lastPrice  map[string]float64
	stopped    bool

	handlerMu          sync.RWMutex
	priceHandlers      []PriceHandler
	bookHandlers       []BookHandler
	connectHandlers    []ConnectHandler
	disconnectHandlers []DisconnectHandler
	errorHandlers      []ErrorHandler

	messages     atomic.Int64
	priceUpdates atomic.Int64
	bookUpdates  atomic.Int64
	reconnects   atomic.Int64

	done     chan struct{}
	stopOnce sync.Once
}

// NewFeedClient creates a feed client for the given config. Zero-valued
// tuning fields fall back to the standard defaults.
func NewFeedClient(cfg FeedConfig, logger *slog.Logger) *FeedClient {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = 10 * time.Second
	}
	if cfg.ReconnectInitial <= 0 {
		cfg.ReconnectInitial = time.Second
	}
	if cfg.ReconnectMax <= 0 {
		cfg.ReconnectMax = 60 * time.Second
	}
	if cfg.SubscribeBatch <= 0 {
		cfg.SubscribeBatch = 500
	}
	return &FeedClient{
		cfg:        cfg,
		logger:     logger.With(slog.String("component", "feed")),
		subscribed: make(map[string]struct{}),
		pending:    make(map[string]struct{}),
		lastPrice:  make(map[string]float64),
		done:       make(chan struct{}),
	}
}

// OnPriceChange registers a handler for price updates.
func (f *FeedClient) OnPriceChange(h PriceHandler) {
	f.handlerMu.Lock()
	defer f.handlerMu.Unlock()
	f.priceHandlers = append(f.priceHandlers, h)
}

// OnBookUpdate registers a handler for orderbook snapshots.
func (f *FeedClient) OnBookUpdate(h BookHandler) {
	f.handlerMu.Lock()
	defer f.handlerMu.Unlock()
	f.bookHandlers = append(f.bookHandlers, h)
}

// OnConnect registers a handler invoked after every successful connect.
func (f *FeedClient) OnConnect(h ConnectHandler) {
	f.handlerMu.Lock()
	defer f.handlerMu.Unlock()
	f.connectHandlers = append(f.connectHandlers, h)
}

// OnDisconnect registers a handler invoked when the connection drops.
func (f *FeedClient) OnDisconnect(h DisconnectHandler) {
	f.handlerMu.Lock()
	defer f.handlerMu.Unlock()
	f.disconnectHandlers = append(f.disconnectHandlers, h)
}

// OnError registers a handler for connection and decode errors.
func (f *FeedClient) OnError(h ErrorHandler) {
	f.handlerMu.Lock()
	defer f.handlerMu.Unlock()
	f.errorHandlers = append(f.errorHandlers, h)
}

// Subscribe adds asset ids to the subscription set. When the connection is
// up the new ids are sent immediately; otherwise they are queued and flushed
// on the next connect.
func (f *FeedClient) Subscribe(assetIDs ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	fresh := make([]string, 0, len(assetIDs))
	for _, id := range assetIDs {
		if id == "" {
			continue
		}
		if _, ok := f.subscribed[id]; ok {
			continue
		}
		if _, ok := f.pending[id]; ok {
			continue
		}
		fresh = append(fresh, id)
	}
	if len(fresh) == 0 {
		return nil
	}

	if f.conn == nil {
		for _, id := range fresh {
			f.pending[id] = struct{}{}
		}
		return nil
	}

	if err := f.sendSubscribeLocked(fresh); err != nil {
		// Queue for replay; the read loop will notice the broken
		// connection and reconnect.
		for _, id := range fresh {
			f.pending[id] = struct{}{}
		}
		return fmt.Errorf("polymarket/feed: subscribe: %w", err)
	}
	for _, id := range fresh {
		f.subscribed[id] = struct{}{}
	}
	return nil
}

// Unsubscribe removes asset ids from the subscription set and, when
// connected, tells the server to stop sending them.
func (f *FeedClient) Unsubscribe(assetIDs ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	remove := make([]string, 0, len(assetIDs))
	for _, id := range assetIDs {
		if _, ok := f.subscribed[id]; ok {
			remove = append(remove, id)
		}
		delete(f.subscribed, id)
		delete(f.pending, id)
		delete(f.lastPrice, id)
	}
	if f.conn == nil || len(remove) == 0 {
		return nil
	}

	for _, batch := range chunk(remove, f.cfg.SubscribeBatch) {
		frame := map[string]any{
			"type":       "unsubscribe",
			"channel":    "market",
			"assets_ids": batch,
		}
		if err := f.writeJSONLocked(frame); err != nil {
			return fmt.Errorf("polymarket/feed: unsubscribe: %w", err)
		}
	}
	return nil
}

// SubscribedCount returns the number of assets currently subscribed or
// queued.
func (f *FeedClient) SubscribedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subscribed) + len(f.pending)
}

// LastPrice returns the most recent price seen for an asset.
func (f *FeedClient) LastPrice(assetID string) (float64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.lastPrice[assetID]
	return p, ok
}

// Stats returns a snapshot of the feed counters.
func (f *FeedClient) Stats() FeedStats {
	return FeedStats{
		Messages:     f.messages.Load(),
		PriceUpdates: f.priceUpdates.Load(),
		BookUpdates:  f.bookUpdates.Load(),
		Reconnects:   f.reconnects.Load(),
	}
}

// Run connects to the feed and processes messages until the context is
// cancelled or Stop is called. Every disconnect, clean or not, waits the
// current backoff before redialing. The backoff doubles from
// ReconnectInitial up to ReconnectMax across consecutive short-lived
// connections and resets only after a connection outlives a full ping
// interval. The full subscription set is replayed on each connect.
func (f *FeedClient) Run(ctx context.Context) error {
	backoff := f.cfg.ReconnectInitial
	attempt := 0

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		default:
		}

		healthy := false
		conn, err := f.dial(ctx)
		if err != nil {
			f.fireError(fmt.Errorf("polymarket/feed: connect: %w", err))
		} else {
			if attempt > 0 {
				f.reconnects.Add(1)
			}
			attempt++

			if err := f.attach(conn); err != nil {
				f.fireError(err)
				conn.Close()
			} else {
				f.fireConnect()
				connectedAt := time.Now()

				readErr := f.readLoop(ctx, conn)
				f.detach(conn)
				f.fireDisconnect(readErr)

				healthy = time.Since(connectedAt) >= f.cfg.PingInterval
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		default:
		}

		if healthy {
			backoff = f.cfg.ReconnectInitial
		}
		if !f.sleep(ctx, backoff) {
			return ctx.Err()
		}
		if !healthy {
			backoff *= 2
			if backoff > f.cfg.ReconnectMax {
				backoff = f.cfg.ReconnectMax
			}
		}
	}
}

// Stop shuts the client down. Safe to call more than once.
func (f *FeedClient) Stop() {
	f.stopOnce.Do(func() {
		close(f.done)
		f.mu.Lock()
		if f.conn != nil {
			_ = f.conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait),
			)
			_ = f.conn.Close()
		}
		f.stopped = true
		f.mu.Unlock()
	})
}

// --------------------------------------------------------------------------
// Internal methods
// --------------------------------------------------------------------------

func (f *FeedClient) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, f.cfg.URL, nil)
	return conn, err
}

// attach installs the new connection, promotes pending subscriptions, and
// replays the full subscription set in batches.
func (f *FeedClient) attach(conn *websocket.Conn) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.stopped {
		conn.Close()
		return domain.ErrWSDisconnect
	}

	f.conn = conn
	conn.SetReadDeadline(time.Now().Add(f.cfg.PingInterval + f.cfg.PongTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(f.cfg.PingInterval + f.cfg.PongTimeout))
		return nil
	})

	for id := range f.pending {
		f.subscribed[id] = struct{}{}
		delete(f.pending, id)
	}

	all := make([]string, 0, len(f.subscribed))
	for id := range f.subscribed {
		all = append(all, id)
	}
	if err := f.sendSubscribeLocked(all); err != nil {
		return fmt.Errorf("polymarket/feed: replay subscriptions: %w", err)
	}
	return nil
}

func (f *FeedClient) detach(conn *websocket.Conn) {
	conn.Close()
	f.mu.Lock()
	if f.conn == conn {
		f.conn = nil
	}
	f.mu.Unlock()
}

// sendSubscribeLocked sends subscribe frames for the given ids, at most
// SubscribeBatch ids per frame. Caller must hold f.mu.
func (f *FeedClient) sendSubscribeLocked(assetIDs []string) error {
	for _, batch := range chunk(assetIDs, f.cfg.SubscribeBatch) {
		frame := map[string]any{
			"type":       "market",
			"assets_ids": batch,
		}
		if err := f.writeJSONLocked(frame); err != nil {
			return err
		}
	}
	return nil
}

// writeJSONLocked writes one JSON frame. Caller must hold f.mu.
func (f *FeedClient) writeJSONLocked(v any) error {
	if f.conn == nil {
		return domain.ErrWSDisconnect
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	f.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return f.conn.WriteMessage(websocket.TextMessage, data)
}

// readLoop reads until the connection breaks. A ping goroutine keeps the
// connection alive; the server's pongs extend the read deadline.
func (f *FeedClient) readLoop(ctx context.Context, conn *websocket.Conn) error {
	pingDone := make(chan struct{})
	defer close(pingDone)

	go func() {
		ticker := time.NewTicker(f.cfg.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-pingDone:
				return
			case <-f.done:
				return
			case <-ticker.C:
				if err := conn.WriteControl(
					websocket.PingMessage, nil,
					time.Now().Add(writeWait),
				); err != nil {
					return
				}
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		default:
		}

		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		f.messages.Add(1)
		f.handleMessage(raw)
	}
}

func (f *FeedClient) handleMessage(raw []byte) {
	msg, err := ParseFeedMessage(raw, time.Now())
	if err != nil {
		// Unparseable frames are dropped; the feed mixes in message
		// types this client does not consume.
		return
	}

	if len(msg.Prices) > 0 {
		f.mu.Lock()
		for _, p := range msg.Prices {
			f.lastPrice[p.AssetID] = p.Price
		}
		f.mu.Unlock()
	}

	f.handlerMu.RLock()
	priceHandlers := f.priceHandlers
	bookHandlers := f.bookHandlers
	f.handlerMu.RUnlock()

	for _, p := range msg.Prices {
		f.priceUpdates.Add(1)
		for _, h := range priceHandlers {
			f.safeCall(func() { h(p) })
		}
	}
	for _, b := range msg.Books {
		f.bookUpdates.Add(1)
		for _, h := range bookHandlers {
			f.safeCall(func() { h(b) })
		}
	}
}

// safeCall invokes a handler and converts a panic into an error log.
func (f *FeedClient) safeCall(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			f.logger.Error("feed handler panicked", slog.Any("panic", r))
		}
	}()
	fn()
}

func (f *FeedClient) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-f.done:
		return false
	case <-t.C:
		return true
	}
}

func (f *FeedClient) fireConnect() {
	f.handlerMu.RLock()
	handlers := f.connectHandlers
	f.handlerMu.RUnlock()
	for _, h := range handlers {
		f.safeCall(h)
	}
}

func (f *FeedClient) fireDisconnect(err error) {
	f.handlerMu.RLock()
	handlers := f.disconnectHandlers
	f.handlerMu.RUnlock()
	for _, h := range handlers {
		h := h
		f.safeCall(func() { h(err) })
	}
}

func (f *FeedClient) fireError(err error) {
	f.logger.Warn("feed error", slog.String("error", err.Error()))
	f.handlerMu.RLock()
	handlers := f.errorHandlers
	f.handlerMu.RUnlock()
	for _, h := range handlers {
		h := h
		f.safeCall(func() { h(err) })
	}
}

// chunk splits ids into slices of at most size elements.
func chunk(ids []string, size int) [][]string {
	if len(ids) == 0 {
		return nil
	}
	var out [][]string
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		out = append(out, ids[start:end])
	}
	return out
}
