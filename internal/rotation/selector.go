package rotation

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"bybit-rotation-bot/internal/config"
	"bybit-rotation-bot/pkg/models"
	"bybit-rotation-bot/pkg/utils"
)

// CandleSource is the market data the selector needs.
type CandleSource interface {
	Candles(ctx context.Context, coin, interval string, limit int) ([]models.Candle, error)
}

// CoinMetrics are the raw scoring inputs for one candidate.
type CoinMetrics struct {
	Volatility    float64
	TrendStrength float64
	VolumeRatio   float64
	RiskReward    float64
	Price         float64
	ATR           float64
}

type cachedScore struct {
	score    float64
	metrics  CoinMetrics
	scoredAt time.Time
}

// Selector scores a candidate coin universe on recent market behavior
// using a bounded worker pool. Results are cached so rapid rotation
// checks do not re-fetch candles for the whole universe.
type Selector struct {
	source CandleSource
	coins  []string
	cfg    config.SelectorConfig
	logger *logrus.Logger

	mu       sync.Mutex
	cache    map[string]cachedScore
	cachedAt time.Time
}

func NewSelector(source CandleSource, coins []string, cfg config.SelectorConfig, logger *logrus.Logger) *Selector {
	return &Selector{
		source: source,
		coins:  coins,
		cfg:    cfg,
		logger: logger,
		cache:  make(map[string]cachedScore),
	}
}

// Coins returns the candidate universe.
func (s *Selector) Coins() []string {
	out := make([]string, len(s.coins))
	copy(out, s.coins)
	return out
}

// EvaluateCoins scores every candidate and returns them best first.
// Candidates that fail or time out score zero rather than blocking the
// batch.
func (s *Selector) EvaluateCoins(ctx context.Context) ([]models.ScoredCoin, error) {
	s.mu.Lock()
	if time.Since(s.cachedAt) < s.cfg.CacheTTL && len(s.cache) > 0 {
		cached := s.cachedScores()
		s.mu.Unlock()
		return cached, nil
	}
	s.mu.Unlock()

	batchCtx, cancel := context.WithTimeout(ctx, s.cfg.BatchTimeout)
	defer cancel()

	type result struct {
		coin  string
		score float64
		m     CoinMetrics
	}

	tasks := make(chan string)
	results := make(chan result, len(s.coins))

	var wg sync.WaitGroup
	for i := 0; i < s.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for coin := range tasks {
				taskCtx, taskCancel := context.WithTimeout(batchCtx, s.cfg.TaskTimeout)
				m, err := s.metrics(taskCtx, coin)
				taskCancel()
				if err != nil {
					s.logger.WithError(err).WithField("coin", coin).Warn("Scoring failed, assigning zero")
					results <- result{coin: coin, score: 0}
					continue
				}
				results <- result{coin: coin, score: s.score(m), m: m}
			}
		}()
	}

	go func() {
		defer close(tasks)
		for _, coin := range s.coins {
			select {
			case tasks <- coin:
			case <-batchCtx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	scored := make([]models.ScoredCoin, 0, len(s.coins))
	fresh := make(map[string]cachedScore, len(s.coins))
	for r := range results {
		scored = append(scored, models.ScoredCoin{Coin: r.coin, Score: r.score})
		fresh[r.coin] = cachedScore{score: r.score, metrics: r.m, scoredAt: time.Now()}
	}

	if len(scored) == 0 {
		return nil, fmt.Errorf("no candidates could be scored")
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score == scored[j].Score {
			return scored[i].Coin < scored[j].Coin
		}
		return scored[i].Score > scored[j].Score
	})

	s.mu.Lock()
	s.cache = fresh
	s.cachedAt = time.Now()
	s.mu.Unlock()

	return scored, nil
}

func (s *Selector) cachedScores() []models.ScoredCoin {
	out := make([]models.ScoredCoin, 0, len(s.cache))
	for coin, entry := range s.cache {
		out = append(out, models.ScoredCoin{Coin: coin, Score: entry.score})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score == out[j].Score {
			return out[i].Coin < out[j].Coin
		}
		return out[i].Score > out[j].Score
	})
	return out
}

// TopCoins returns the best n candidates.
func (s *Selector) TopCoins(ctx context.Context, n int) ([]string, error) {
	scored, err := s.EvaluateCoins(ctx)
	if err != nil {
		return nil, err
	}
	if len(scored) > n {
		scored = scored[:n]
	}
	out := make([]string, len(scored))
	for i, sc := range scored {
		out[i] = sc.Coin
	}
	return out, nil
}

// Metrics returns the cached raw metrics for coin, if scored recently.
func (s *Selector) Metrics(coin string) (CoinMetrics, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.cache[coin]
	return entry.metrics, ok
}

func (s *Selector) metrics(ctx context.Context, coin string) (CoinMetrics, error) {
	candles, err := s.source.Candles(ctx, coin, s.cfg.CandleInterval, s.cfg.CandleLimit)
	if err != nil {
		return CoinMetrics{}, fmt.Errorf("failed to fetch candles for %s: %w", coin, err)
	}
	if len(candles) < s.cfg.CandleLimit-1 {
		return CoinMetrics{}, fmt.Errorf("insufficient candles for %s: %d", coin, len(candles))
	}

	closes := make([]float64, len(candles))
	volumes := make([]float64, len(candles))
	highs := make([]float64, len(candles))
	lows := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
		volumes[i] = c.Volume
		highs[i] = c.High
		lows[i] = c.Low
	}

	volatility := utils.CalculateVolatility(closes) * 100
	meanPrice := mean(closes)
	trendStrength := 0.0
	if meanPrice != 0 {
		trendStrength = utils.RegressionSlope(closes) / meanPrice * 100
	}

	volumeRatio := 1.0
	if len(volumes) >= 5 {
		avgVolume := mean(volumes[len(volumes)-5:])
		if avgVolume != 0 {
			volumeRatio = volumes[len(volumes)-1] / avgVolume
		}
	}

	atr := utils.CalculateATR(highs, lows, closes, 14)
	riskReward := 0.0
	lastClose := closes[len(closes)-1]
	if lastClose != 0 {
		riskReward = atr / lastClose * 100
	}

	return CoinMetrics{
		Volatility:    volatility,
		TrendStrength: trendStrength,
		VolumeRatio:   volumeRatio,
		RiskReward:    riskReward,
		Price:         lastClose,
		ATR:           atr,
	}, nil
}

// score combines sigmoid-normalized metrics with fixed weights:
// volatility 0.4, trend 0.3, volume 0.2, risk/reward 0.1.
func (s *Selector) score(m CoinMetrics) float64 {
	return 0.4*utils.SigmoidNormalize(m.Volatility, 1.0, 10) +
		0.3*utils.SigmoidNormalize(m.TrendStrength, 0.5, 10) +
		0.2*utils.SigmoidNormalize(m.VolumeRatio, 1.0, 10) +
		0.1*utils.SigmoidNormalize(m.RiskReward, 1.0, 10)
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
