// Package feed maintains live market state over a venue websocket.
// Ticker, funding and pool messages merge into one snapshot per asset;
// the merged snapshot backs the marketdata.Provider the strategies
// read and is mirrored into the snapshot cache. The client reconnects
// with exponential backoff and resubscribes on its own.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"delta-keeper/internal/domain"
	"delta-keeper/internal/marketdata"
	"delta-keeper/internal/observability"
	"delta-keeper/internal/storage"
)

// Config tunes connection behavior.
type Config struct {
	// ReconnectDelay is the initial delay before a reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay caps the exponential backoff.
	MaxReconnectDelay time.Duration
	// PingInterval is the keepalive cadence.
	PingInterval time.Duration
	// ReadTimeout bounds a single read; hit it and the client treats
	// the connection as dead.
	ReadTimeout time.Duration
	// WriteTimeout bounds a single write.
	WriteTimeout time.Duration
}

// DefaultConfig returns the connection defaults.
func DefaultConfig() Config {
	return Config{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}

// Options configures a feed client. Snapshots and Samples are
// nil-tolerant: a nil store disables that mirror.
type Options struct {
	Endpoint string
	Assets   []string

	Snapshots storage.SnapshotStore
	Samples   storage.FundingSampleStore

	Config  *Config
	Metrics *observability.Metrics
	Logger  *zap.Logger
	Clock   func() time.Time
}

// Client is a reconnecting websocket market feed. It implements
// marketdata.Provider and marketdata.FundingProvider from the latest
// merged snapshot per asset.
type Client struct {
	endpoint string
	assets   []string
	cfg      Config

	snapshots storage.SnapshotStore
	samples   storage.FundingSampleStore

	metrics *observability.Metrics
	logger  *zap.Logger
	clock   func() time.Time

	conn      *websocket.Conn
	connMu    sync.Mutex
	closed    atomic.Bool
	requestID atomic.Uint64

	latest   map[string]domain.MarketSnapshot
	latestMu sync.RWMutex

	done chan struct{}
	wg   sync.WaitGroup

	reconnecting atomic.Bool
}

var (
	_ marketdata.Provider        = (*Client)(nil)
	_ marketdata.FundingProvider = (*Client)(nil)
)

// Dial connects to the venue, subscribes to every configured asset and
// starts the read and keepalive loops.
func Dial(ctx context.Context, opts Options) (*Client, error) {
	if opts.Endpoint == "" {
		return nil, fmt.Errorf("feed endpoint is required")
	}
	if len(opts.Assets) == 0 {
		return nil, fmt.Errorf("at least one asset is required")
	}

	cfg := DefaultConfig()
	if opts.Config != nil {
		cfg = *opts.Config
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = observability.DefaultMetrics
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}

	c := &Client{
		endpoint:  opts.Endpoint,
		assets:    opts.Assets,
		cfg:       cfg,
		snapshots: opts.Snapshots,
		samples:   opts.Samples,
		metrics:   metrics,
		logger:    logger.With(zap.String("component", "feed")),
		clock:     clock,
		latest:    make(map[string]domain.MarketSnapshot),
		done:      make(chan struct{}),
	}

	if err := c.connect(ctx); err != nil {
		return nil, err
	}
	if err := c.subscribeAll(); err != nil {
		c.Close()
		return nil, err
	}

	c.wg.Add(2)
	go c.readLoop()
	go c.pingLoop()

	c.logger.Info("feed connected",
		zap.String("endpoint", c.endpoint), zap.Strings("assets", c.assets))
	return c, nil
}

func (c *Client) connect(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, c.endpoint, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}
	c.conn = conn
	return nil
}

// subscribeAll sends one subscribe request covering the ticker, funding
// and pool channels of every asset. Called on connect and after each
// reconnect.
func (c *Client) subscribeAll() error {
	args := make([]string, 0, len(c.assets)*3)
	for _, asset := range c.assets {
		args = append(args, "ticker:"+asset, "funding:"+asset, "pool:"+asset)
	}
	req := wsRequest{
		Op:   "subscribe",
		ID:   c.requestID.Add(1),
		Args: args,
	}

	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("not connected")
	}
	c.conn.SetWriteDeadline(c.clock().Add(c.cfg.WriteTimeout))
	if err := c.conn.WriteJSON(req); err != nil {
		return fmt.Errorf("write subscribe: %w", err)
	}
	return nil
}

// Close shuts the feed down and waits for its goroutines.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	close(c.done)

	c.connMu.Lock()
	if c.conn != nil {
		c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.conn.Close()
	}
	c.connMu.Unlock()

	c.wg.Wait()
	return nil
}

// Snapshot implements marketdata.Provider from the latest merged state.
func (c *Client) Snapshot(_ context.Context, asset string) (domain.MarketSnapshot, error) {
	c.latestMu.RLock()
	snap, ok := c.latest[asset]
	c.latestMu.RUnlock()
	if !ok {
		return domain.MarketSnapshot{}, fmt.Errorf("%w: %s", marketdata.ErrNoData, asset)
	}
	return snap, nil
}

// Funding implements marketdata.FundingProvider.
func (c *Client) Funding(ctx context.Context, asset string) (domain.FundingInfo, error) {
	snap, err := c.Snapshot(ctx, asset)
	if err != nil {
		return domain.FundingInfo{}, err
	}
	return domain.FundingInfo{
		Asset:         snap.Asset,
		Rate:          snap.FundingRate,
		PredictedRate: snap.PredictedFundingRate,
		OpenInterest:  snap.OpenInterest,
		TimestampMs:   snap.TimestampMs,
	}, nil
}

func (c *Client) readLoop() {
	defer c.wg.Done()

	reconnectDelay := c.cfg.ReconnectDelay

	for !c.closed.Load() {
		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()

		if conn == nil {
			select {
			case <-c.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		conn.SetReadDeadline(c.clock().Add(c.cfg.ReadTimeout))
		_, message, err := conn.ReadMessage()
		if err != nil {
			if c.closed.Load() {
				return
			}
			c.metrics.FeedErrors.WithLabelValues("read").Inc()

			if !c.reconnecting.Swap(true) {
				go c.reconnect(reconnectDelay)
			}
			reconnectDelay *= 2
			if reconnectDelay > c.cfg.MaxReconnectDelay {
				reconnectDelay = c.cfg.MaxReconnectDelay
			}

			select {
			case <-c.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		reconnectDelay = c.cfg.ReconnectDelay
		c.handleMessage(message)
	}
}

// reconnect re-dials after the backoff delay and resubscribes. Only one
// reconnect runs at a time; the read loop keeps widening the delay
// until a read succeeds.
func (c *Client) reconnect(delay time.Duration) {
	defer c.reconnecting.Store(false)

	if c.closed.Load() {
		return
	}

	select {
	case <-c.done:
		return
	case <-time.After(delay):
	}

	c.connMu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := c.connect(ctx); err != nil {
		c.logger.Warn("reconnect failed", zap.Error(err))
		return
	}
	c.metrics.FeedReconnects.Inc()

	if err := c.subscribeAll(); err != nil {
		c.logger.Warn("resubscribe failed", zap.Error(err))
		return
	}
	c.logger.Info("feed reconnected")
}

func (c *Client) handleMessage(message []byte) {
	var msg wsMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		c.metrics.FeedErrors.WithLabelValues("decode").Inc()
		c.logger.Warn("undecodable feed message", zap.Error(err))
		return
	}

	if msg.Channel == "" {
		switch msg.Op {
		case "subscribed":
			c.logger.Debug("subscription confirmed", zap.Uint64("request_id", msg.ID))
		case "error":
			c.metrics.FeedErrors.WithLabelValues("server").Inc()
			c.logger.Warn("feed server error", zap.String("message", msg.Message))
		}
		return
	}

	c.metrics.FeedMessages.Inc()

	switch msg.Channel {
	case "ticker":
		c.applyTicker(msg.Symbol, msg.Data)
	case "funding":
		c.applyFunding(msg.Symbol, msg.Data)
	case "pool":
		c.applyPool(msg.Symbol, msg.Data)
	default:
		c.logger.Debug("unknown channel", zap.String("channel", msg.Channel))
	}
}

func (c *Client) applyTicker(symbol string, data json.RawMessage) {
	var t tickerData
	if err := json.Unmarshal(data, &t); err != nil {
		c.metrics.FeedErrors.WithLabelValues("decode").Inc()
		c.logger.Warn("bad ticker payload", zap.String("asset", symbol), zap.Error(err))
		return
	}

	c.update(symbol, t.TimestampMs, func(snap *domain.MarketSnapshot) {
		snap.Price = t.Price
		if t.IndexPrice > 0 {
			snap.RefPrice = t.IndexPrice
		}
		if t.Volatility > 0 {
			snap.Volatility = t.Volatility
		}
		snap.Drift = t.Drift
	})
}

func (c *Client) applyFunding(symbol string, data json.RawMessage) {
	var f fundingData
	if err := json.Unmarshal(data, &f); err != nil {
		c.metrics.FeedErrors.WithLabelValues("decode").Inc()
		c.logger.Warn("bad funding payload", zap.String("asset", symbol), zap.Error(err))
		return
	}

	snap := c.update(symbol, f.TimestampMs, func(snap *domain.MarketSnapshot) {
		snap.FundingRate = f.Rate
		snap.PredictedFundingRate = f.PredictedRate
		snap.OpenInterest = f.OpenInterest
	})
	c.metrics.FundingRate.WithLabelValues(symbol).Set(f.Rate)

	if c.samples == nil {
		return
	}
	sample := &domain.FundingSample{
		Asset:         symbol,
		TimestampMs:   f.TimestampMs,
		Rate:          f.Rate,
		PredictedRate: f.PredictedRate,
		OpenInterest:  f.OpenInterest,
		MarkPrice:     snap.Price,
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.WriteTimeout)
	defer cancel()
	if err := c.samples.InsertBulk(ctx, []*domain.FundingSample{sample}); err != nil {
		if !errors.Is(err, storage.ErrDuplicateKey) {
			c.metrics.FeedErrors.WithLabelValues("store").Inc()
			c.logger.Error("journaling funding sample failed",
				zap.String("asset", symbol), zap.Error(err))
		}
		return
	}
	c.metrics.FundingSamplesRecorded.Inc()
}

func (c *Client) applyPool(symbol string, data json.RawMessage) {
	var p poolData
	if err := json.Unmarshal(data, &p); err != nil {
		c.metrics.FeedErrors.WithLabelValues("decode").Inc()
		c.logger.Warn("bad pool payload", zap.String("asset", symbol), zap.Error(err))
		return
	}

	c.update(symbol, p.TimestampMs, func(snap *domain.MarketSnapshot) {
		snap.BaseFeeAPR = p.FeeAPR
		snap.IncentiveAPR = p.IncentiveAPR
		snap.PoolFeeTier = p.FeeTier
		snap.GasPriceGwei = p.GasPriceGwei
		snap.HealthFactor = p.HealthFactor
	})
}

// update merges one channel's fields into the asset's snapshot,
// mirrors it to the cache, and returns the merged copy.
func (c *Client) update(asset string, tsMs int64, apply func(*domain.MarketSnapshot)) domain.MarketSnapshot {
	if tsMs > 0 {
		age := c.clock().Sub(time.UnixMilli(tsMs))
		if age > 0 {
			c.metrics.FeedLatency.Observe(age.Seconds())
		}
	}

	c.latestMu.Lock()
	snap := c.latest[asset]
	snap.Asset = asset
	if tsMs > snap.TimestampMs {
		snap.TimestampMs = tsMs
	}
	apply(&snap)
	c.latest[asset] = snap
	c.latestMu.Unlock()

	if c.snapshots != nil {
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.WriteTimeout)
		defer cancel()
		if err := c.snapshots.Put(ctx, &snap); err != nil {
			c.metrics.FeedErrors.WithLabelValues("store").Inc()
			c.logger.Error("caching snapshot failed",
				zap.String("asset", asset), zap.Error(err))
		}
	}
	return snap
}

func (c *Client) pingLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.connMu.Lock()
			if c.conn != nil {
				c.conn.SetWriteDeadline(c.clock().Add(c.cfg.WriteTimeout))
				if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					c.logger.Debug("ping failed", zap.Error(err))
				}
			}
			c.connMu.Unlock()
		}
	}
}

// Wire types. The venue speaks op-framed JSON: subscribe requests carry
// channel:asset args, data messages carry a channel, symbol and payload.

type wsRequest struct {
	Op   string   `json:"op"`
	ID   uint64   `json:"id"`
	Args []string `json:"args,omitempty"`
}

type wsMessage struct {
	Op      string          `json:"op,omitempty"`
	ID      uint64          `json:"id,omitempty"`
	Channel string          `json:"channel,omitempty"`
	Symbol  string          `json:"symbol,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Message string          `json:"message,omitempty"`
}

type tickerData struct {
	Price       float64 `json:"price"`
	IndexPrice  float64 `json:"index_price"`
	Volatility  float64 `json:"volatility"`
	Drift       float64 `json:"drift"`
	TimestampMs int64   `json:"ts"`
}

type fundingData struct {
	Rate          float64 `json:"rate"`
	PredictedRate float64 `json:"predicted_rate"`
	OpenInterest  float64 `json:"open_interest"`
	TimestampMs   int64   `json:"ts"`
}

type poolData struct {
	FeeAPR       float64 `json:"fee_apr"`
	IncentiveAPR float64 `json:"incentive_apr"`
	FeeTier      float64 `json:"fee_tier"`
	GasPriceGwei float64 `json:"gas_gwei"`
	HealthFactor float64 `json:"health_factor"`
	TimestampMs  int64   `json:"ts"`
}
