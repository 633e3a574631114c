package strategy

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"

	"bybit-rotation-bot/internal/config"
	"bybit-rotation-bot/pkg/models"
)

// Forecaster predicts the next few closes from a recent candle window.
type Forecaster interface {
	Predict(ctx context.Context, candles []models.Candle) ([]float64, error)
}

// HTTPForecaster calls an external model server for predictions.
type HTTPForecaster struct {
	http  *resty.Client
	url   string
	steps int
}

type forecastRequest struct {
	// One row per candle: open, high, low, close, volume.
	Candles [][]float64 `json:"candles"`
	Steps   int         `json:"steps"`
}

type forecastResponse struct {
	Predictions []float64 `json:"predictions"`
}

func NewHTTPForecaster(url string, timeout time.Duration, steps int) *HTTPForecaster {
	return &HTTPForecaster{
		http:  resty.New().SetTimeout(timeout),
		url:   url,
		steps: steps,
	}
}

func (f *HTTPForecaster) Predict(ctx context.Context, candles []models.Candle) ([]float64, error) {
	rows := make([][]float64, len(candles))
	for i, c := range candles {
		rows[i] = []float64{c.Open, c.High, c.Low, c.Close, c.Volume}
	}

	var out forecastResponse
	resp, err := f.http.R().
		SetContext(ctx).
		SetBody(forecastRequest{Candles: rows, Steps: f.steps}).
		SetResult(&out).
		Post(f.url)
	if err != nil {
		return nil, fmt.Errorf("forecast request failed: %w", err)
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("forecast server returned status %d", resp.StatusCode())
	}
	if len(out.Predictions) == 0 {
		return nil, fmt.Errorf("forecast server returned no predictions")
	}
	return out.Predictions, nil
}

// ForecastStrategy uses model predictions as the primary signal source:
// the largest predicted move against an adaptive, volatility-scaled
// threshold maps to BUY or SELL. Quiet forecasts and any forecaster
// failure delegate to the crossover engine, so its confirmation logic
// and protective exits stay in force.
type ForecastStrategy struct {
	base      *MACrossover
	forecast  Forecaster
	cfg       config.ForecastConfig
	threshold float64
	volFactor float64
	logger    *logrus.Logger
}

func NewForecastStrategy(base *MACrossover, forecast Forecaster, cfg config.ForecastConfig, logger *logrus.Logger) *ForecastStrategy {
	return &ForecastStrategy{
		base:      base,
		forecast:  forecast,
		cfg:       cfg,
		threshold: 0.25,
		volFactor: 0.5,
		logger:    logger,
	}
}

func (f *ForecastStrategy) Name() string { return "forecast" }

func (f *ForecastStrategy) Reset() { f.base.Reset() }

func (f *ForecastStrategy) RecordTrade(action Action, at time.Time) {
	f.base.RecordTrade(action, at)
}

func (f *ForecastStrategy) Evaluate(snap Snapshot, pos PositionView) Decision {
	candles := snap.Candles
	if len(candles) < f.cfg.SeqLength || snap.Price <= 0 {
		return f.base.Evaluate(snap, pos)
	}
	seq := candles[len(candles)-f.cfg.SeqLength:]

	ctx, cancel := context.WithTimeout(context.Background(), f.cfg.Timeout)
	defer cancel()

	predictions, err := f.forecast.Predict(ctx, seq)
	if err != nil {
		f.logger.WithError(err).Warn("Forecast unavailable, using crossover engine")
		return f.base.Evaluate(snap, pos)
	}

	vol := rangeVolatility(candles, 20)
	threshold := f.threshold + vol*f.volFactor

	current := snap.Price
	maxChange := 0.0
	for _, p := range predictions {
		change := (p - current) / current * 100
		if abs(change) > abs(maxChange) {
			maxChange = change
		}
	}

	switch {
	case maxChange > threshold && !pos.Open:
		f.logger.WithFields(logrus.Fields{
			"predicted": maxChange,
			"threshold": threshold,
		}).Info("Forecast buy signal")
		return Decision{
			Action: ActionBuy,
			Reason: fmt.Sprintf("forecast +%.2f%% above %.2f%% threshold", maxChange, threshold),
		}
	case maxChange < -threshold && pos.Open:
		f.logger.WithFields(logrus.Fields{
			"predicted": maxChange,
			"threshold": -threshold,
		}).Info("Forecast sell signal")
		return Decision{
			Action: ActionSell,
			Reason: fmt.Sprintf("forecast %.2f%% below -%.2f%% threshold", maxChange, threshold),
		}
	}

	return f.base.Evaluate(snap, pos)
}

// rangeVolatility is the mean candle range relative to close over the
// lookback window, in percent.
func rangeVolatility(candles []models.Candle, lookback int) float64 {
	window := candles[max(0, len(candles)-lookback):]
	if len(window) == 0 {
		return 0
	}
	sum := 0.0
	for _, c := range window {
		if c.Close > 0 {
			sum += (c.High - c.Low) / c.Close
		}
	}
	return sum / float64(len(window)) * 100
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
