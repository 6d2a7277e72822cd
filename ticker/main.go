package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/linluma/xrpticker/shared/config"
	"github.com/linluma/xrpticker/shared/security"
	"github.com/linluma/xrpticker/ticker/display"
	"github.com/linluma/xrpticker/ticker/feeds"
)

const (
	defaultConfigFile    = "config.yaml"
	statusReportInterval = 30 * time.Second
	shutdownTimeout      = 5 * time.Second
)

func main() {
	flags := config.ParseFlags()

	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if flags.Debug {
		logrus.SetLevel(logrus.DebugLevel)
	}
	log := logrus.WithField("service", "xrpticker")

	cfg, err := loadConfig(flags)
	if err != nil {
		log.WithError(err).Fatal("Configuration error")
	}

	if flags.Wallet != "" {
		if !security.ValidateXRPAddress(flags.Wallet) {
			log.WithField("address", security.MaskAddress(flags.Wallet)).Fatal("Invalid XRP address")
		}
		cfg.AddWallet(flags.Wallet)
	}
	if len(cfg.Wallet.Addresses) == 0 {
		log.Warn("No wallet addresses configured, tracking price only")
	}

	log.WithFields(logrus.Fields{
		"wallets":      len(cfg.Wallet.Addresses),
		"price_poll":   cfg.PricePoll(),
		"balance_poll": cfg.BalancePoll(),
		"endpoints":    len(cfg.Connections.XRPLEndpoints),
	}).Info("Starting xrpticker")

	disp := display.New(cfg.Display.HistoryPoints)

	priceFeed := feeds.NewCoinbaseFeed(feeds.CoinbaseConfig{
		PollInterval: cfg.PricePoll(),
	})
	priceFeed.SetPriceHandler(disp.HandlePrice)
	priceFeed.SetStatusHandler(disp.HandleStatus)

	balanceFeed := feeds.NewXRPLFeed(feeds.XRPLConfig{
		Addresses:      cfg.Wallet.Addresses,
		Endpoints:      cfg.Connections.XRPLEndpoints,
		PollInterval:   cfg.BalancePoll(),
		RequestTimeout: cfg.RequestTimeout(),
	})
	balanceFeed.SetBalanceHandler(disp.HandleBalance)
	balanceFeed.SetStatusHandler(disp.HandleStatus)

	if err := priceFeed.Start(); err != nil {
		log.WithError(err).Fatal("Failed to start price feed")
	}
	if err := balanceFeed.Start(); err != nil {
		log.WithError(err).Fatal("Failed to start balance feed")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go reportStatus(ctx, log, priceFeed, balanceFeed)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info("Shutdown signal received, stopping feeds")
	cancel()

	// Detach consumers first so no update lands mid-teardown
	priceFeed.SetPriceHandler(nil)
	priceFeed.SetStatusHandler(nil)
	balanceFeed.SetBalanceHandler(nil)
	balanceFeed.SetStatusHandler(nil)

	done := make(chan struct{})
	go func() {
		if err := priceFeed.Stop(); err != nil {
			log.WithError(err).Warn("Price feed stop error")
		}
		if err := balanceFeed.Stop(); err != nil {
			log.WithError(err).Warn("Balance feed stop error")
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(shutdownTimeout):
		log.Warn("Shutdown timeout reached, forcing exit")
	}
	log.Info("xrpticker stopped")
}

// loadConfig resolves the config source: explicit -config path, config.yaml in
// the working directory, or built-in defaults.
func loadConfig(flags *config.Flags) (*config.Config, error) {
	path := flags.ConfigPath
	if path == "" {
		if _, err := os.Stat(defaultConfigFile); err == nil {
			path = defaultConfigFile
		}
	}
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

// reportStatus logs each feed's health periodically, including staleness when
// a connected feed has gone quiet.
func reportStatus(ctx context.Context, log *logrus.Entry, all ...feeds.Feed) {
	ticker := time.NewTicker(statusReportInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			for _, f := range all {
				s := f.Status()
				entry := log.WithFields(logrus.Fields{
					"feed":  s.Name,
					"state": s.State,
				})
				if s.IsConnected() && s.IsStale(time.Now()) {
					entry.Warn("Feed connected but no recent data")
					continue
				}
				entry.Debug("Feed status")
			}
		case <-ctx.Done():
			return
		}
	}
}
