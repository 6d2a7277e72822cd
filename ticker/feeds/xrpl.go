package feeds

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/linluma/xrpticker/shared/backoff"
	"github.com/linluma/xrpticker/shared/models"
	"github.com/linluma/xrpticker/shared/security"
)

const (
	defaultBalancePollInterval = 30 * time.Second
	minBalancePollInterval     = 10 * time.Second
	balanceFailureThreshold    = 5
	balanceBreakerStep         = 10 * time.Second
	balanceBreakerMax          = 60 * time.Second
	endpointSwitchPause        = 1 * time.Second
	balanceSourceName          = "xrpl"
)

// defaultXRPLEndpoints in priority order
var defaultXRPLEndpoints = []string{
	"wss://xrplcluster.com",
	"wss://s1.ripple.com",
	"wss://s2.ripple.com",
	"wss://xrpl.ws",
}

var errConnClosed = errors.New("connection closed")

// wsSession is the slice of *websocket.Conn the feed uses; tests substitute a
// scripted implementation.
type wsSession interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	SetReadLimit(limit int64)
	Close() error
}

// dialFunc establishes a websocket session to an endpoint
type dialFunc func(ctx context.Context, endpoint string) (wsSession, error)

// XRPLConfig configures the balance feed. Zero values get defaults.
type XRPLConfig struct {
	Addresses        []string
	Endpoints        []string
	PollInterval     time.Duration
	RequestTimeout   time.Duration
	HandshakeTimeout time.Duration
	SwitchPause      time.Duration
	FailureThreshold int
	BreakerStep      time.Duration
	BreakerMax       time.Duration
	Backoff          *backoff.Calculator
	Clock            clock.Clock
}

func (c *XRPLConfig) withDefaults() {
	if len(c.Endpoints) == 0 {
		c.Endpoints = append([]string(nil), defaultXRPLEndpoints...)
	}
	if c.PollInterval == 0 {
		c.PollInterval = defaultBalancePollInterval
	}
	if c.PollInterval < minBalancePollInterval {
		c.PollInterval = minBalancePollInterval
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = security.RequestTimeout
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = security.ConnectTimeout
	}
	if c.SwitchPause == 0 {
		c.SwitchPause = endpointSwitchPause
	}
	if c.FailureThreshold == 0 {
		c.FailureThreshold = balanceFailureThreshold
	}
	if c.BreakerStep == 0 {
		c.BreakerStep = balanceBreakerStep
	}
	if c.BreakerMax == 0 {
		c.BreakerMax = balanceBreakerMax
	}
	if c.Backoff == nil {
		c.Backoff = backoff.NewCalculator()
	}
	if c.Clock == nil {
		c.Clock = clock.New()
	}
}

// XRPLFeed maintains a websocket connection to one of several ranked XRPL
// endpoints and polls the aggregated balance of the tracked accounts.
// Connect-level failures fail over to the next endpoint; transport failures
// reconnect to the same endpoint with exponential backoff. When a failover
// cycle exhausts every endpoint without a successful handshake the feed goes
// to Failed and stays there until Restart.
type XRPLFeed struct {
	cfg      XRPLConfig
	clk      clock.Clock
	failover *failoverPolicy
	backoff  *backoff.Calculator
	breaker  *breaker
	status   *statusTracker
	dial     dialFunc
	log      *logrus.Entry

	handlerMu sync.Mutex
	onBalance BalanceHandler

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewXRPLFeed creates a balance feed from cfg
func NewXRPLFeed(cfg XRPLConfig) *XRPLFeed {
	cfg.withDefaults()
	log := logrus.WithField("service", balanceSourceName)

	f := &XRPLFeed{
		cfg:      cfg,
		clk:      cfg.Clock,
		failover: newFailoverPolicy(cfg.Endpoints),
		backoff:  cfg.Backoff,
		breaker:  newBreaker(cfg.FailureThreshold, cfg.BreakerStep, cfg.BreakerMax),
		status:   newStatusTracker("XRPL", log),
		log:      log,
	}
	f.dial = f.dialEndpoint
	return f
}

// Name returns the feed name
func (f *XRPLFeed) Name() string {
	return "XRPL"
}

// Status returns a snapshot of the current service status
func (f *XRPLFeed) Status() models.ServiceStatus {
	return f.status.Snapshot()
}

// CurrentEndpoint returns the endpoint the failover policy points at
func (f *XRPLFeed) CurrentEndpoint() string {
	return f.failover.Current()
}

// SetBalanceHandler installs or clears the balance-update handler
func (f *XRPLFeed) SetBalanceHandler(h BalanceHandler) {
	f.handlerMu.Lock()
	defer f.handlerMu.Unlock()
	f.onBalance = h
}

// SetStatusHandler installs or clears the status-change handler
func (f *XRPLFeed) SetStatusHandler(h StatusHandler) {
	f.status.SetHandler(h)
}

// Start launches the connection loop in a background goroutine. Starting a
// running feed is a no-op.
func (f *XRPLFeed) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.running {
		f.log.Warn("XRPL feed already running")
		return nil
	}

	f.running = true
	ctx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel
	f.done = make(chan struct{})

	go f.run(ctx, f.done)

	f.log.Info("XRPL feed started")
	return nil
}

// Stop cancels the connection loop and waits for it to fully unwind,
// including the session and its reader goroutine. Idempotent.
func (f *XRPLFeed) Stop() error {
	f.mu.Lock()
	if !f.running {
		f.mu.Unlock()
		return nil
	}
	f.running = false
	cancel := f.cancel
	done := f.done
	f.cancel = nil
	f.done = nil
	f.mu.Unlock()

	cancel()
	<-done

	f.status.Update(models.StateDisconnected, "", false)
	f.log.Info("XRPL feed stopped")
	return nil
}

// Restart stops the feed, resets the backoff and rewinds the failover policy
// to the highest-priority endpoint, then starts again.
func (f *XRPLFeed) Restart() error {
	if err := f.Stop(); err != nil {
		return err
	}

	f.mu.Lock()
	f.backoff.Reset()
	f.failover.Rewind()
	f.mu.Unlock()

	return f.Start()
}

// run is the connection loop: dial, poll until the session dies, back off,
// repeat. Exits on cancellation or endpoint exhaustion.
func (f *XRPLFeed) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		if ctx.Err() != nil {
			return
		}

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

		endpoint := f.failover.Current()
		if endpoint == "" {
			f.status.Update(models.StateFailed, "No endpoints configured", false)
			return
		}

		f.status.Update(models.StateReconnecting, "", false)
		f.log.WithField("endpoint", endpoint).Info("Connecting to XRPL endpoint")

		conn, err := f.dial(ctx, endpoint)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			f.breaker.Failure()
			f.log.WithFields(logrus.Fields{
				"endpoint": endpoint,
				"reason":   security.SanitizeError(err),
			}).Warn("XRPL connect failed")

			if !f.failover.Advance() {
				f.status.Update(models.StateFailed, "All endpoints failed", false)
				f.log.Error("All XRPL endpoints exhausted")
				return
			}
			if !sleepCtx(ctx, f.clk, f.cfg.SwitchPause) {
				return
			}
			continue
		}

		conn.SetReadLimit(security.MaxWebSocketMessageSize)
		f.log.WithField("endpoint", endpoint).Info("XRPL WebSocket connected")
		f.status.Update(models.StateConnected, "", false)
		f.backoff.Reset()
		f.breaker.Success()

		err = f.pollSession(ctx, conn, endpoint)

		if ctx.Err() != nil {
			return
		}

		f.breaker.Failure()
		f.status.Update(models.StateReconnecting, security.SanitizeError(err), true)

		delay := f.backoff.NextDelay()
		f.log.WithFields(logrus.Fields{
			"delay":    delay,
			"attempts": f.status.Snapshot().ReconnectAttempts,
		}).Info("Reconnecting after delay")
		if !sleepCtx(ctx, f.clk, delay) {
			return
		}
	}
}

// pollSession runs the poll loop over one established session. The session
// and its reader goroutine are always torn down before it returns.
func (f *XRPLFeed) pollSession(ctx context.Context, conn wsSession, endpoint string) error {
	msgCh := make(chan []byte, 16)
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		defer close(msgCh)
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			select {
			case msgCh <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()

	defer func() {
		conn.Close()
		<-readerDone
	}()

	for {
		data, err := f.fetchBalances(ctx, conn, msgCh, endpoint)
		if err != nil {
			return err
		}

		f.breaker.Success()
		f.status.MarkMessage(f.clk.Now())
		if f.status.State() != models.StateConnected {
			f.status.Update(models.StateConnected, "", false)
		}
		f.emitBalance(data)

		if !sleepCtx(ctx, f.clk, f.cfg.PollInterval) {
			return ctx.Err()
		}
	}
}

// accountInfoRequest is the XRPL account_info command
type accountInfoRequest struct {
	ID          string `json:"id"`
	Command     string `json:"command"`
	Account     string `json:"account"`
	LedgerIndex string `json:"ledger_index"`
}

// accountInfoResponse is the subset of the XRPL response the feed reads
type accountInfoResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Error  string `json:"error"`
	Result struct {
		AccountData struct {
			Account string `json:"Account"`
			Balance string `json:"Balance"`
		} `json:"account_data"`
	} `json:"result"`
}

// fetchBalances issues one account_info round trip per tracked account,
// sending all requests up front so the tick costs roughly one round trip
// regardless of account count, then aggregates the results. Per-account
// problems resolve to a zero balance; only transport failures return an
// error.
func (f *XRPLFeed) fetchBalances(ctx context.Context, conn wsSession, msgCh <-chan []byte, endpoint string) (models.WalletData, error) {
	count := len(f.cfg.Addresses)
	if count == 0 {
		return f.walletData("No wallets", 0, endpoint), nil
	}

	if err := conn.SetWriteDeadline(time.Now().Add(f.cfg.RequestTimeout)); err != nil {
		return models.WalletData{}, fmt.Errorf("set write deadline: %w", err)
	}

	pending := make(map[string]string, count)
	for _, addr := range f.cfg.Addresses {
		id := security.GenerateRequestID()
		payload, err := json.Marshal(accountInfoRequest{
			ID:          id,
			Command:     "account_info",
			Account:     addr,
			LedgerIndex: "validated",
		})
		if err != nil {
			return models.WalletData{}, fmt.Errorf("marshal account_info: %w", err)
		}
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			return models.WalletData{}, fmt.Errorf("send account_info: %w", err)
		}
		pending[id] = addr
	}

	var total int64
	timer := f.clk.Timer(f.cfg.RequestTimeout)
	defer timer.Stop()

	for len(pending) > 0 {
		select {
		case <-ctx.Done():
			return models.WalletData{}, ctx.Err()

		case <-timer.C:
			// Unresolved accounts count as zero for this tick
			for id, addr := range pending {
				f.log.WithFields(logrus.Fields{
					"account": security.MaskAddress(addr),
					"req_id":  id,
				}).Warn("Balance request timed out")
			}
			pending = nil

		case msg, ok := <-msgCh:
			if !ok {
				return models.WalletData{}, errConnClosed
			}
			id, drops := f.parseBalanceResponse(msg, pending)
			if addr, expected := pending[id]; expected {
				delete(pending, id)
				total += drops
				f.log.WithFields(logrus.Fields{
					"account": security.MaskAddress(addr),
					"drops":   drops,
				}).Debug("Balance resolved")
			}
		}
	}

	label := fmt.Sprintf("%d wallets", count)
	if count == 1 {
		label = f.cfg.Addresses[0]
	}
	return f.walletData(label, total, endpoint), nil
}

// parseBalanceResponse extracts the correlation id and balance from one frame.
// Every malformed or error condition yields zero drops; actNotFound is a
// legitimately empty account, not an error.
func (f *XRPLFeed) parseBalanceResponse(msg []byte, pending map[string]string) (string, int64) {
	if len(msg) > security.MaxWebSocketMessageSize {
		f.log.WithField("size", len(msg)).Warn("Response too large")
		return "", 0
	}

	var resp accountInfoResponse
	if err := json.Unmarshal(msg, &resp); err != nil {
		f.log.Warn("Invalid JSON in XRPL response")
		return "", 0
	}

	masked := security.MaskAddress(pending[resp.ID])

	if resp.Error != "" {
		if resp.Error == "actNotFound" {
			f.log.WithField("account", masked).Info("Account not found (may be unfunded)")
			return resp.ID, 0
		}
		f.log.WithFields(logrus.Fields{
			"account": masked,
			"code":    resp.Error,
		}).Warn("XRPL error response")
		return resp.ID, 0
	}

	balance := resp.Result.AccountData.Balance
	if balance == "" {
		f.log.WithField("account", masked).Warn("Missing balance in XRPL response")
		return resp.ID, 0
	}

	drops, err := strconv.ParseInt(balance, 10, 64)
	if err != nil {
		f.log.WithField("account", masked).Warn("Invalid balance format")
		return resp.ID, 0
	}
	if drops < 0 || drops > models.MaxSupplyDrops {
		f.log.WithField("account", masked).Warn("Balance out of range")
		return resp.ID, 0
	}

	return resp.ID, drops
}

func (f *XRPLFeed) walletData(label string, drops int64, endpoint string) models.WalletData {
	data := models.WalletDataFromDrops(label, drops, endpoint)
	data.Timestamp = f.clk.Now()
	return data
}

func (f *XRPLFeed) emitBalance(data models.WalletData) {
	f.handlerMu.Lock()
	handler := f.onBalance
	f.handlerMu.Unlock()

	if handler != nil {
		notifySafely(f.log, func() { handler(data) })
	}
}

// FetchBalanceOnce walks the endpoint list and returns the first aggregated
// balance it can fetch, without starting the polling loop.
func (f *XRPLFeed) FetchBalanceOnce(ctx context.Context) (*models.WalletData, error) {
	for _, endpoint := range f.failover.All() {
		conn, err := f.dial(ctx, endpoint)
		if err != nil {
			f.log.WithFields(logrus.Fields{
				"endpoint": endpoint,
				"reason":   security.SanitizeError(err),
			}).Warn("One-shot connect failed")
			continue
		}
		conn.SetReadLimit(security.MaxWebSocketMessageSize)

		data, err := f.fetchOnce(ctx, conn, endpoint)
		if err != nil {
			f.log.WithField("reason", security.SanitizeError(err)).Warn("One-shot fetch failed")
			continue
		}
		return data, nil
	}
	return nil, errors.New("balance unavailable from all endpoints")
}

func (f *XRPLFeed) fetchOnce(ctx context.Context, conn wsSession, endpoint string) (*models.WalletData, error) {
	msgCh := make(chan []byte, 16)
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		defer close(msgCh)
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			select {
			case msgCh <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()
	defer func() {
		conn.Close()
		<-readerDone
	}()

	data, err := f.fetchBalances(ctx, conn, msgCh, endpoint)
	if err != nil {
		return nil, err
	}
	return &data, nil
}

// dialEndpoint is the production dialer: allowlist check, TLS 1.2 minimum,
// bounded handshake.
func (f *XRPLFeed) dialEndpoint(ctx context.Context, endpoint string) (wsSession, error) {
	if !security.IsTrustedEndpoint(endpoint) {
		return nil, fmt.Errorf("endpoint not in trusted allowlist")
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: f.cfg.HandshakeTimeout,
		TLSClientConfig:  &tls.Config{MinVersion: tls.VersionTLS12},
	}

	conn, _, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	return conn, nil
}
