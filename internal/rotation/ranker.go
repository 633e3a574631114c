package rotation

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"bybit-rotation-bot/internal/config"
	"bybit-rotation-bot/pkg/models"
)

const (
	scoreFloor     = 0.1
	untestedScore  = 0.5
	neverTriedBump = 1.0
	earlyBoostMult = 1.5
	earlyBoostCap  = 3
)

type rankingFile struct {
	ActiveCoins   map[string]*models.CoinRecord `json:"active_coins"`
	ArchivedCoins map[string]*models.CoinRecord `json:"archived_coins"`
	Settings      models.RankingSettings        `json:"settings"`
	Statistics    models.RankingStats           `json:"statistics"`
}

// Ranker maintains the long-term performance ledger of traded coins,
// persisted as a JSON file. Scores reward consistent profitable coins
// and give new entrants a decaying trial boost so they get a fair
// shot without dominating forever.
type Ranker struct {
	mu     sync.Mutex
	path   string
	data   rankingFile
	logger *logrus.Logger
}

func NewRanker(stateDir string, cfg config.RankingConfig, logger *logrus.Logger) (*Ranker, error) {
	r := &Ranker{
		path:   filepath.Join(stateDir, "coin_ranking.json"),
		logger: logger,
	}
	if err := r.load(cfg); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Ranker) load(cfg config.RankingConfig) error {
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return fmt.Errorf("failed to create state dir: %w", err)
	}

	defaults := models.RankingSettings{
		TrialPeriod:    cfg.TrialPeriod,
		MinSuccessRate: cfg.MinSuccessRate,
		MinAvgProfit:   cfg.MinAvgProfit,
		InitialBoost:   cfg.InitialBoost,
		MaxCoins:       cfg.MaxCoins,
		InactiveDays:   cfg.InactiveDays,
	}

	raw, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			r.data = rankingFile{
				ActiveCoins:   make(map[string]*models.CoinRecord),
				ArchivedCoins: make(map[string]*models.CoinRecord),
				Settings:      defaults,
				Statistics:    models.RankingStats{CreatedAt: time.Now()},
			}
			return r.save()
		}
		return fmt.Errorf("failed to read ranking file: %w", err)
	}

	if err := json.Unmarshal(raw, &r.data); err != nil {
		r.logger.WithError(err).Warn("Ranking file corrupt, starting fresh")
		r.data = rankingFile{
			ActiveCoins:   make(map[string]*models.CoinRecord),
			ArchivedCoins: make(map[string]*models.CoinRecord),
			Settings:      defaults,
			Statistics:    models.RankingStats{CreatedAt: time.Now()},
		}
		return r.save()
	}

	if r.data.ActiveCoins == nil {
		r.data.ActiveCoins = make(map[string]*models.CoinRecord)
	}
	if r.data.ArchivedCoins == nil {
		r.data.ArchivedCoins = make(map[string]*models.CoinRecord)
	}
	if r.data.Settings.TrialPeriod == 0 {
		r.data.Settings = defaults
	}

	// Quarantine records with impossible counters rather than letting
	// them poison the ranking.
	for coin, record := range r.data.ActiveCoins {
		if !record.Valid() {
			r.logger.WithField("coin", coin).Warn("Quarantining invalid ranking record")
			r.data.ArchivedCoins[coin] = record
			delete(r.data.ActiveCoins, coin)
		}
	}
	return nil
}

func (r *Ranker) save() error {
	raw, err := json.MarshalIndent(r.data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode ranking data: %w", err)
	}
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("failed to write ranking file: %w", err)
	}
	return os.Rename(tmp, r.path)
}

// AddCoin registers a new coin with full trial priority. When the
// active set is full, the weakest performer is archived to make room.
// Archived coins are not re-admitted.
func (r *Ranker) AddCoin(coin string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.data.ActiveCoins[coin]; ok {
		return
	}
	if _, ok := r.data.ArchivedCoins[coin]; ok {
		return
	}
	if len(r.data.ActiveCoins) >= r.data.Settings.MaxCoins {
		r.archiveLowest()
	}

	r.data.ActiveCoins[coin] = &models.CoinRecord{
		FirstSelected: time.Now(),
		Priority:      1.0,
	}
	r.updateScore(coin)
	if err := r.save(); err != nil {
		r.logger.WithError(err).Error("Failed to persist ranking")
	}
	r.logger.WithField("coin", coin).Info("Coin added to ranking")
}

func (r *Ranker) AddCoins(coins []string) {
	for _, coin := range coins {
		r.AddCoin(coin)
	}
}

// RecordSelection notes that coin was picked for trading. Real
// rotations consume trial budget and decay the priority; evaluation
// passes only bump the selection counter.
func (r *Ranker) RecordSelection(coin string, realRotation bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.data.ActiveCoins[coin]
	if !ok {
		return
	}
	record.Selections++

	if realRotation && record.TrialUsed < r.data.Settings.TrialPeriod {
		record.TrialUsed++
		decay := 1.0 - 0.5/float64(r.data.Settings.TrialPeriod)
		record.Priority *= decay
	}

	now := time.Now()
	record.LastSelected = &now
	if realRotation {
		r.data.Statistics.TotalRotations++
		r.data.Statistics.LastRotation = &now
	}

	r.updateScore(coin)
	if err := r.save(); err != nil {
		r.logger.WithError(err).Error("Failed to persist ranking")
	}
}

// RecordTradeResult folds a closed trade's fractional profit into the
// coin's statistics and rescores it.
func (r *Ranker) RecordTradeResult(coin string, profit float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.data.ActiveCoins[coin]
	if !ok {
		return
	}
	record.Trades++
	if profit > 0 {
		record.ProfitableTrades++
	}
	record.TotalProfit += profit
	now := time.Now()
	record.LastTrade = &now

	r.updateScore(coin)
	if err := r.save(); err != nil {
		r.logger.WithError(err).Error("Failed to persist ranking")
	}

	r.logger.WithFields(logrus.Fields{
		"coin":   coin,
		"profit": profit,
		"score":  record.PerformanceScore,
	}).Info("Trade result recorded")
}

// updateScore recomputes the performance score. Untested coins get a
// small positive floor so they are tried at least once; the trial
// boost fades linearly as the trial budget is consumed. Scores never
// reach zero, keeping every active coin selectable.
func (r *Ranker) updateScore(coin string) {
	record := r.data.ActiveCoins[coin]
	settings := r.data.Settings

	var score float64
	if record.Trades > 0 {
		successRate := float64(record.ProfitableTrades) / float64(record.Trades)
		avgProfit := record.TotalProfit / float64(record.Trades)
		score = successRate * avgProfit * 100
	} else {
		score = untestedScore
		if record.Selections == 0 {
			score += neverTriedBump
		}
	}

	if record.TrialUsed < settings.TrialPeriod {
		progress := float64(record.TrialUsed) / float64(settings.TrialPeriod)
		boost := 1 + (settings.InitialBoost-1)*(1-progress)
		score *= boost
		if record.Selections < earlyBoostCap {
			score *= earlyBoostMult
		}
	}

	if score < scoreFloor {
		score = scoreFloor
	}
	record.PerformanceScore = score
}

func (r *Ranker) status(record *models.CoinRecord) string {
	if record.Trades == 0 {
		return models.StatusUntested
	}
	if record.TrialUsed < r.data.Settings.TrialPeriod {
		return models.StatusTrial
	}
	successRate := float64(record.ProfitableTrades) / float64(record.Trades)
	avgProfit := record.TotalProfit / float64(record.Trades)
	switch {
	case successRate >= 0.7 && avgProfit >= r.data.Settings.MinAvgProfit:
		return models.StatusExcellent
	case successRate >= 0.6 && avgProfit >= r.data.Settings.MinAvgProfit*0.8:
		return models.StatusGood
	case successRate >= 0.5:
		return models.StatusNeutral
	default:
		return models.StatusPoor
	}
}

// Status returns the performance status of a coin.
func (r *Ranker) Status(coin string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.data.ActiveCoins[coin]
	if !ok {
		return models.StatusUnknown
	}
	return r.status(record)
}

// Ranked returns active coins ordered by combined score, best first.
func (r *Ranker) Ranked() []models.ScoredCoin {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rankedLocked()
}

func (r *Ranker) rankedLocked() []models.ScoredCoin {
	out := make([]models.ScoredCoin, 0, len(r.data.ActiveCoins))
	for coin, record := range r.data.ActiveCoins {
		out = append(out, models.ScoredCoin{
			Coin:  coin,
			Score: record.PerformanceScore * record.Priority,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score == out[j].Score {
			return out[i].Coin < out[j].Coin
		}
		return out[i].Score > out[j].Score
	})
	return out
}

// BestCoins returns the top n active coins.
func (r *Ranker) BestCoins(n int) []string {
	ranked := r.Ranked()
	if len(ranked) > n {
		ranked = ranked[:n]
	}
	out := make([]string, len(ranked))
	for i, sc := range ranked {
		out[i] = sc.Coin
	}
	return out
}

// NextCoin picks the rotation target: the overall best coin, or the
// best non-poor alternative when the current coin leads the ranking.
func (r *Ranker) NextCoin(current string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ranked := r.rankedLocked()
	if len(ranked) == 0 {
		return current
	}
	if ranked[0].Coin == current {
		return current
	}
	for _, sc := range ranked {
		if sc.Coin == current {
			continue
		}
		record := r.data.ActiveCoins[sc.Coin]
		status := r.status(record)
		if status != models.StatusPoor && status != models.StatusUnknown {
			return sc.Coin
		}
	}
	return current
}

// Cleanup archives coins that finished their trial with poor results
// or have not been selected within the inactivity window.
func (r *Ranker) Cleanup() {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().AddDate(0, 0, -r.data.Settings.InactiveDays)
	var removed []string
	for coin, record := range r.data.ActiveCoins {
		if record.TrialUsed >= r.data.Settings.TrialPeriod && r.status(record) == models.StatusPoor {
			removed = append(removed, coin)
			continue
		}
		if record.LastSelected != nil && record.LastSelected.Before(cutoff) {
			removed = append(removed, coin)
		}
	}

	for _, coin := range removed {
		r.data.ArchivedCoins[coin] = r.data.ActiveCoins[coin]
		delete(r.data.ActiveCoins, coin)
		r.logger.WithField("coin", coin).Info("Coin archived")
	}
	if len(removed) > 0 {
		if err := r.save(); err != nil {
			r.logger.WithError(err).Error("Failed to persist ranking")
		}
	}
}

func (r *Ranker) archiveLowest() {
	ranked := r.rankedLocked()
	if len(ranked) == 0 {
		return
	}
	lowest := ranked[len(ranked)-1].Coin
	r.data.ArchivedCoins[lowest] = r.data.ActiveCoins[lowest]
	delete(r.data.ActiveCoins, lowest)
	r.logger.WithField("coin", lowest).Info("Weakest coin archived to make room")
}

// ActiveCount reports the number of coins currently ranked.
func (r *Ranker) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.data.ActiveCoins)
}

// Report summarizes the ranking state for operators.
func (r *Ranker) Report() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	lastRotation := "never"
	if r.data.Statistics.LastRotation != nil {
		lastRotation = r.data.Statistics.LastRotation.Format(time.RFC3339)
	}
	report := fmt.Sprintf(
		"Coin ranking: %d active, %d archived, %d rotations, last rotation %s\nTop coins:\n",
		len(r.data.ActiveCoins), len(r.data.ArchivedCoins),
		r.data.Statistics.TotalRotations, lastRotation,
	)
	ranked := r.rankedLocked()
	if len(ranked) > 5 {
		ranked = ranked[:5]
	}
	for i, sc := range ranked {
		record := r.data.ActiveCoins[sc.Coin]
		report += fmt.Sprintf("%d. %s score=%.2f status=%s trades=%d\n",
			i+1, sc.Coin, sc.Score, r.status(record), record.Trades)
	}
	return report
}
