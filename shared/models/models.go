package models

import "time"

// ConnectionState represents the lifecycle state of a data feed
type ConnectionState string

// Feed connection states
const (
	StateConnected    ConnectionState = "connected"
	StateDisconnected ConnectionState = "disconnected"
	StateReconnecting ConnectionState = "reconnecting"
	StateFailed       ConnectionState = "failed"
)

// XRP Ledger constants
const (
	// DropsPerXRP is the number of drops in one XRP
	DropsPerXRP = 1_000_000

	// MaxSupplyDrops is the total possible XRP issuance expressed in drops (100 billion XRP)
	MaxSupplyDrops int64 = 100_000_000_000_000_000

	// MaxReasonablePrice is the sanity-check upper bound for a fetched XRP price
	MaxReasonablePrice = 10_000.0

	// StaleAfter is how long a feed may go without a message before its data counts as stale
	StaleAfter = 30 * time.Second
)

// PriceData is a snapshot of the current price with 24h stats
type PriceData struct {
	Symbol             string    `json:"symbol"`
	Price              float64   `json:"price"`
	PriceChange        float64   `json:"price_change"`
	PriceChangePercent float64   `json:"price_change_percent"`
	High24h            float64   `json:"high_24h"`
	Low24h             float64   `json:"low_24h"`
	Volume             float64   `json:"volume"`
	Timestamp          time.Time `json:"timestamp"`
	Source             string    `json:"source"`
}

// WalletData is an aggregated wallet balance snapshot from the XRP Ledger
type WalletData struct {
	Address      string    `json:"address"`
	BalanceDrops int64     `json:"balance_drops"`
	BalanceXRP   float64   `json:"balance_xrp"`
	Timestamp    time.Time `json:"timestamp"`
	Source       string    `json:"source"`
}

// WalletDataFromDrops builds a WalletData with the XRP amount derived from drops,
// so the two balance fields can never disagree.
func WalletDataFromDrops(address string, drops int64, source string) WalletData {
	return WalletData{
		Address:      address,
		BalanceDrops: drops,
		BalanceXRP:   float64(drops) / DropsPerXRP,
		Timestamp:    time.Now(),
		Source:       source,
	}
}

// ServiceStatus describes the connection health of a feed. Feeds publish it by
// value on every change, so observers never see a partially updated status.
type ServiceStatus struct {
	Name              string          `json:"name"`
	State             ConnectionState `json:"state"`
	LastMessage       time.Time       `json:"last_message"`
	ReconnectAttempts int             `json:"reconnect_attempts"`
	ErrorMessage      string          `json:"error_message,omitempty"`
}

// IsConnected reports whether the feed is currently connected
func (s ServiceStatus) IsConnected() bool {
	return s.State == StateConnected
}

// IsStale reports whether no message has arrived within the staleness window
func (s ServiceStatus) IsStale(now time.Time) bool {
	if s.LastMessage.IsZero() {
		return true
	}
	return now.Sub(s.LastMessage) > StaleAfter
}
