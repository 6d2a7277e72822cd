// Package feeds implements the resilient polling clients behind the ticker:
// a REST price feed and an XRPL WebSocket balance feed, each with its own
// failure handling and reconnection policy.
package feeds

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"

	"github.com/linluma/xrpticker/shared/models"
)

// PriceHandler receives a snapshot after every successful price poll
type PriceHandler func(models.PriceData)

// BalanceHandler receives a snapshot after every successful balance poll
type BalanceHandler func(models.WalletData)

// StatusHandler receives a status snapshot on every status mutation
type StatusHandler func(models.ServiceStatus)

// Feed is the lifecycle contract both polling clients implement
type Feed interface {
	Name() string
	Start() error
	Stop() error
	Restart() error
	Status() models.ServiceStatus
}

// statusTracker owns a feed's ServiceStatus. Only the owning feed mutates it;
// observers get value copies through the status handler.
type statusTracker struct {
	mu      sync.Mutex
	status  models.ServiceStatus
	handler StatusHandler
	log     *logrus.Entry
}

func newStatusTracker(name string, log *logrus.Entry) *statusTracker {
	return &statusTracker{
		status: models.ServiceStatus{
			Name:  name,
			State: models.StateDisconnected,
		},
		log: log,
	}
}

// SetHandler installs or clears the status-change handler. Clearing it
// quiesces notifications before shutdown.
func (t *statusTracker) SetHandler(h StatusHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler = h
}

// Snapshot returns a copy of the current status
func (t *statusTracker) Snapshot() models.ServiceStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// State returns the current connection state
func (t *statusTracker) State() models.ConnectionState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status.State
}

// Update applies a state transition and notifies the handler. The reconnect
// counter grows only on reconnect transitions and resets on everything else.
func (t *statusTracker) Update(state models.ConnectionState, errMsg string, incrementReconnect bool) {
	t.mu.Lock()
	t.status.State = state
	t.status.ErrorMessage = errMsg
	if incrementReconnect {
		t.status.ReconnectAttempts++
	} else {
		t.status.ReconnectAttempts = 0
	}
	snapshot := t.status
	handler := t.handler
	t.mu.Unlock()

	if handler != nil {
		notifySafely(t.log, func() { handler(snapshot) })
	}
}

// MarkMessage stamps the time of the last successful message
func (t *statusTracker) MarkMessage(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.LastMessage = now
}

// notifySafely invokes a consumer callback, recovering panics so a consumer
// bug cannot kill the poll loop.
func notifySafely(log *logrus.Entry, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", r).Warn("Consumer callback panicked")
		}
	}()
	fn()
}

// sleepCtx waits for d on the feed's clock, returning false if the context is
// canceled first.
func sleepCtx(ctx context.Context, clk clock.Clock, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := clk.Timer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
