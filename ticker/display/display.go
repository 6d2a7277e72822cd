// Package display consumes feed callbacks and turns them into formatted
// terminal output: current price, aggregated balance, portfolio valuation
// and connection status.
package display

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/linluma/xrpticker/shared/models"
)

// Display is the callback consumer wired into both feeds. It keeps the last
// price and balance so the portfolio value can be recomputed whenever either
// side updates.
type Display struct {
	log *logrus.Entry

	mu         sync.Mutex
	price      models.PriceData
	hasPrice   bool
	balance    models.WalletData
	hasBalance bool
	history    *History
	statuses   map[string]models.ServiceStatus
}

// New creates a Display keeping up to historyPoints recent prices
func New(historyPoints int) *Display {
	return &Display{
		log:      logrus.WithField("component", "display"),
		history:  NewHistory(historyPoints),
		statuses: make(map[string]models.ServiceStatus),
	}
}

// HandlePrice records a price update and prints the refreshed ticker line
func (d *Display) HandlePrice(data models.PriceData) {
	d.mu.Lock()
	d.price = data
	d.hasPrice = true
	d.history.Add(data.Price)
	value, hasValue := d.portfolioLocked()
	d.mu.Unlock()

	fields := logrus.Fields{
		"price":  FormatPrice(data.Price),
		"change": FormatChange(data.PriceChange, data.PriceChangePercent),
		"high":   FormatPrice(data.High24h),
		"low":    FormatPrice(data.Low24h),
		"volume": FormatVolume(data.Volume),
	}
	if hasValue {
		fields["portfolio"] = FormatPortfolioValue(value)
	}
	d.log.WithFields(fields).Info(data.Symbol)
}

// HandleBalance records a balance update and prints the refreshed portfolio line
func (d *Display) HandleBalance(data models.WalletData) {
	d.mu.Lock()
	d.balance = data
	d.hasBalance = true
	value, hasValue := d.portfolioLocked()
	d.mu.Unlock()

	fields := logrus.Fields{
		"wallets": data.Address,
		"balance": FormatBalance(data.BalanceXRP),
	}
	if hasValue {
		fields["portfolio"] = FormatPortfolioValue(value)
	}
	d.log.WithFields(fields).Info("Portfolio")
}

// HandleStatus records a feed status change and prints it
func (d *Display) HandleStatus(status models.ServiceStatus) {
	d.mu.Lock()
	d.statuses[status.Name] = status
	d.mu.Unlock()

	entry := d.log.WithFields(logrus.Fields{
		"feed":  status.Name,
		"state": status.State,
	})
	switch status.State {
	case models.StateFailed:
		entry.WithField("reason", status.ErrorMessage).Error("Feed failed")
	case models.StateReconnecting:
		if status.ReconnectAttempts > 0 {
			entry = entry.WithField("attempts", status.ReconnectAttempts)
		}
		entry.Warn("Feed reconnecting")
	default:
		entry.Info("Feed status changed")
	}
}

// PortfolioValue returns balance times price, and whether both sides are known
func (d *Display) PortfolioValue() (float64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.portfolioLocked()
}

func (d *Display) portfolioLocked() (float64, bool) {
	if !d.hasPrice || !d.hasBalance {
		return 0, false
	}
	return d.balance.BalanceXRP * d.price.Price, true
}

// PriceHistory returns the recent price points oldest-first
func (d *Display) PriceHistory() []float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.history.Values()
}

// FeedStatus returns the last status seen for the named feed
func (d *Display) FeedStatus(name string) (models.ServiceStatus, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.statuses[name]
	return s, ok
}

// Reset forgets accumulated state ahead of a manual refresh
func (d *Display) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.hasPrice = false
	d.hasBalance = false
	d.history.Clear()
}
