package feeds

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"

	"github.com/linluma/xrpticker/shared/models"
	"github.com/linluma/xrpticker/shared/ratelimit"
	"github.com/linluma/xrpticker/shared/security"
)

// Coinbase Exchange API - free, public, no auth required
const (
	coinbaseStatsURL  = "https://api.exchange.coinbase.com/products/XRP-USD/stats"
	coinbaseTickerURL = "https://api.exchange.coinbase.com/products/XRP-USD/ticker"

	defaultPricePollInterval = 5 * time.Second
	minPricePollInterval     = 5 * time.Second
	defaultPriceFetchTimeout = 10 * time.Second
	priceFailureThreshold    = 5
	priceBreakerStep         = 5 * time.Second
	priceBreakerMax          = 30 * time.Second
	priceSourceName          = "coinbase"
	priceSymbol              = "XRPUSD"
)

// CoinbaseConfig configures the price feed. Zero values get defaults.
type CoinbaseConfig struct {
	PollInterval     time.Duration
	RequestTimeout   time.Duration
	StatsURL         string
	TickerURL        string
	MaxPrice         float64
	FailureThreshold int
	BreakerStep      time.Duration
	BreakerMax       time.Duration
	RateLimit        int
	RateWindow       time.Duration
	Clock            clock.Clock
}

func (c *CoinbaseConfig) withDefaults() {
	if c.PollInterval == 0 {
		c.PollInterval = defaultPricePollInterval
	}
	if c.PollInterval < minPricePollInterval {
		c.PollInterval = minPricePollInterval
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = defaultPriceFetchTimeout
	}
	if c.StatsURL == "" {
		c.StatsURL = coinbaseStatsURL
	}
	if c.TickerURL == "" {
		c.TickerURL = coinbaseTickerURL
	}
	if c.MaxPrice == 0 {
		c.MaxPrice = models.MaxReasonablePrice
	}
	if c.FailureThreshold == 0 {
		c.FailureThreshold = priceFailureThreshold
	}
	if c.BreakerStep == 0 {
		c.BreakerStep = priceBreakerStep
	}
	if c.BreakerMax == 0 {
		c.BreakerMax = priceBreakerMax
	}
	if c.RateLimit == 0 {
		c.RateLimit = ratelimit.DefaultMaxRequests
	}
	if c.RateWindow == 0 {
		c.RateWindow = ratelimit.DefaultWindow
	}
	if c.Clock == nil {
		c.Clock = clock.New()
	}
}

// CoinbaseFeed polls the Coinbase Exchange REST API for the XRP price and 24h
// stats. Failures cycle the feed back to reconnecting; it never fails
// terminally and keeps retrying while running.
type CoinbaseFeed struct {
	cfg     CoinbaseConfig
	clk     clock.Clock
	limiter *ratelimit.Limiter
	breaker *breaker
	status  *statusTracker
	log     *logrus.Entry

	handlerMu sync.Mutex
	onPrice   PriceHandler

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	client  *http.Client
}

// NewCoinbaseFeed creates a price feed from cfg
func NewCoinbaseFeed(cfg CoinbaseConfig) *CoinbaseFeed {
	cfg.withDefaults()
	log := logrus.WithField("service", priceSourceName)

	return &CoinbaseFeed{
		cfg:     cfg,
		clk:     cfg.Clock,
		limiter: ratelimit.New(cfg.RateLimit, cfg.RateWindow, cfg.Clock),
		breaker: newBreaker(cfg.FailureThreshold, cfg.BreakerStep, cfg.BreakerMax),
		status:  newStatusTracker("Coinbase", log),
		log:     log,
	}
}

// Name returns the feed name
func (f *CoinbaseFeed) Name() string {
	return "Coinbase"
}

// Status returns a snapshot of the current service status
func (f *CoinbaseFeed) Status() models.ServiceStatus {
	return f.status.Snapshot()
}

// SetPriceHandler installs or clears the price-update handler
func (f *CoinbaseFeed) SetPriceHandler(h PriceHandler) {
	f.handlerMu.Lock()
	defer f.handlerMu.Unlock()
	f.onPrice = h
}

// SetStatusHandler installs or clears the status-change handler
func (f *CoinbaseFeed) SetStatusHandler(h StatusHandler) {
	f.status.SetHandler(h)
}

// Start launches the polling loop in a background goroutine. Starting a
// running feed is a no-op.
func (f *CoinbaseFeed) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.running {
		f.log.Warn("Coinbase feed already running")
		return nil
	}

	f.running = true
	ctx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel
	f.done = make(chan struct{})
	f.client = &http.Client{Timeout: f.cfg.RequestTimeout}

	f.status.Update(models.StateReconnecting, "", false)
	go f.pollLoop(ctx, f.client, f.done)

	f.log.Info("Coinbase feed started")
	return nil
}

// Stop cancels the polling loop and waits for it to unwind. Idempotent.
func (f *CoinbaseFeed) Stop() error {
	f.mu.Lock()
	if !f.running {
		f.mu.Unlock()
		return nil
	}
	f.running = false
	cancel := f.cancel
	done := f.done
	client := f.client
	f.cancel = nil
	f.done = nil
	f.client = nil
	f.mu.Unlock()

	cancel()
	<-done
	client.CloseIdleConnections()

	f.status.Update(models.StateDisconnected, "", false)
	f.log.Info("Coinbase feed stopped")
	return nil
}

// Restart stops and starts the feed. The rate-limiter window and failure
// counter carry across the restart.
func (f *CoinbaseFeed) Restart() error {
	if err := f.Stop(); err != nil {
		return err
	}
	return f.Start()
}

func (f *CoinbaseFeed) pollLoop(ctx context.Context, client *http.Client, done chan struct{}) {
	defer close(done)

	for {
		if f.breaker.Tripped() {
			cooldown := f.breaker.Cooldown()
			f.log.WithFields(logrus.Fields{
				"failures": f.breaker.Failures(),
				"cooldown": cooldown,
			}).Warn("Circuit breaker open, backing off")
			if !sleepCtx(ctx, f.clk, cooldown) {
				return
			}
			f.breaker.Reset()
		}

		if f.limiter.CanRequest() {
			f.limiter.Record()
			f.pollOnce(ctx, client)
		} else {
			// Soft failure: skip the cycle without charging the breaker
			f.log.WithField("wait", f.limiter.TimeUntilAvailable()).Debug("Rate limited, skipping poll")
		}

		if !sleepCtx(ctx, f.clk, f.cfg.PollInterval) {
			return
		}
	}
}

// pollOnce performs one fetch attempt and folds the outcome into the breaker
// and status.
func (f *CoinbaseFeed) pollOnce(ctx context.Context, client *http.Client) {
	data, err := f.fetchPrice(ctx, client)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		f.breaker.Failure()
		f.log.WithField("reason", err.Error()).Warn("Price fetch failed")
		if f.status.State() == models.StateConnected {
			f.status.Update(models.StateReconnecting, "Failed to fetch price", false)
		}
		return
	}

	f.breaker.Success()
	f.status.MarkMessage(f.clk.Now())
	if f.status.State() != models.StateConnected {
		f.status.Update(models.StateConnected, "", false)
		f.log.Info("Coinbase connected")
	}
	f.emitPrice(*data)
}

// statsPayload is the 24h stats response; Coinbase serves numeric fields as
// strings but the types have changed before, so accept both.
type statsPayload struct {
	Open   *flexFloat `json:"open"`
	High   flexFloat  `json:"high"`
	Low    flexFloat  `json:"low"`
	Volume flexFloat  `json:"volume"`
}

type tickerPayload struct {
	Price flexFloat `json:"price"`
}

func (f *CoinbaseFeed) fetchPrice(ctx context.Context, client *http.Client) (*models.PriceData, error) {
	var stats statsPayload
	if err := f.getJSON(ctx, client, f.cfg.StatsURL, &stats); err != nil {
		return nil, fmt.Errorf("stats: %w", err)
	}

	var ticker tickerPayload
	if err := f.getJSON(ctx, client, f.cfg.TickerURL, &ticker); err != nil {
		return nil, fmt.Errorf("ticker: %w", err)
	}

	price := float64(ticker.Price)
	if price <= 0 {
		return nil, fmt.Errorf("non-positive price %v", price)
	}
	if price > f.cfg.MaxPrice {
		return nil, fmt.Errorf("price %v exceeds sanity bound %v", price, f.cfg.MaxPrice)
	}

	open := price
	if stats.Open != nil {
		open = float64(*stats.Open)
	}

	priceChange := price - open
	priceChangePercent := 0.0
	if open > 0 {
		priceChangePercent = (price - open) / open * 100
	}

	return &models.PriceData{
		Symbol:             priceSymbol,
		Price:              price,
		PriceChange:        priceChange,
		PriceChangePercent: priceChangePercent,
		High24h:            float64(stats.High),
		Low24h:             float64(stats.Low),
		Volume:             float64(stats.Volume),
		Timestamp:          f.clk.Now(),
		Source:             priceSourceName,
	}, nil
}

// getJSON fetches url and decodes the body into out, enforcing the response
// size cap before and while reading the body.
func (f *CoinbaseFeed) getJSON(ctx context.Context, client *http.Client, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "xrpticker/1.0")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request: %s", security.SanitizeError(err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if resp.ContentLength > security.MaxHTTPResponseSize {
		return fmt.Errorf("response too large: %d bytes", resp.ContentLength)
	}

	body := io.LimitReader(resp.Body, security.MaxHTTPResponseSize)
	if err := json.NewDecoder(body).Decode(out); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}

func (f *CoinbaseFeed) emitPrice(data models.PriceData) {
	f.handlerMu.Lock()
	handler := f.onPrice
	f.handlerMu.Unlock()

	if handler != nil {
		notifySafely(f.log, func() { handler(data) })
	}
}

// flexFloat decodes a JSON number that may arrive as a string or a numeric
// literal.
type flexFloat float64

func (v *flexFloat) UnmarshalJSON(data []byte) error {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("non-numeric value %q", s)
		}
		*v = flexFloat(parsed)
		return nil
	}

	var n float64
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*v = flexFloat(n)
	return nil
}
