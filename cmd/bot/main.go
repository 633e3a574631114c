package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"bybit-rotation-bot/internal/config"
	"bybit-rotation-bot/internal/controller"
	"bybit-rotation-bot/pkg/utils"
)

func main() {
	// Initialize logger
	logger := utils.NewLogger("rotation-bot")

	// Load configuration
	cfg := config.Load()
	logger.WithFields(logrus.Fields{
		"quote_coin":        cfg.QuoteCoin,
		"initial_coin":      cfg.InitialCoin,
		"coin_list":         cfg.CoinList,
		"candle_interval":   cfg.Strategy.CandleInterval,
		"rotation_interval": cfg.Rotation.Interval,
		"forecast_enabled":  cfg.Forecast.Enabled,
	}).Info("Configuration loaded")

	if cfg.Bybit.APIKey == "" || cfg.Bybit.APISecret == "" {
		logger.Fatal("BYBIT_API_KEY and BYBIT_API_SECRET must be set")
	}

	// Build the trading stack
	bot, err := controller.New(cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize controller")
	}

	if err := bot.Start(); err != nil {
		logger.WithError(err).Fatal("Failed to start trading loop")
	}

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.WithField("signal", sig.String()).Info("Shutting down")

	if err := bot.Stop(); err != nil {
		logger.WithError(err).Error("Shutdown error")
	}
	logger.Info("Shutdown complete")
}
