package models

import (
	"encoding/json"
	"time"
)

// Coin performance status, evaluated from trade statistics.
const (
	StatusUntested  = "untested"
	StatusTrial     = "trial"
	StatusExcellent = "excellent"
	StatusGood      = "good"
	StatusNeutral   = "neutral"
	StatusPoor      = "poor"
	StatusUnknown   = "unknown"
)

// CoinRecord is the persisted performance history of one tracked coin.
//
// Invariants: ProfitableTrades <= Trades; Selections only ever increases
// while the record is active; PerformanceScore >= 0.1.
type CoinRecord struct {
	Selections       int        `json:"selections"`
	Trades           int        `json:"trades"`
	ProfitableTrades int        `json:"profitable_trades"`
	TotalProfit      float64    `json:"total_profit"`
	FirstSelected    time.Time  `json:"first_selected"`
	LastSelected     *time.Time `json:"last_selected"`
	LastTrade        *time.Time `json:"last_trade"`
	TrialUsed        int        `json:"trial_used"`
	PerformanceScore float64    `json:"performance_score"`
	Priority         float64    `json:"priority"`
}

// UnmarshalJSON accepts both RFC3339 strings and legacy unix-seconds
// numbers in the timestamp fields. Timestamps that parse as neither
// decode to zero, which fails Valid and quarantines the record.
func (r *CoinRecord) UnmarshalJSON(data []byte) error {
	type alias CoinRecord
	aux := struct {
		*alias
		FirstSelected json.RawMessage `json:"first_selected"`
		LastSelected  json.RawMessage `json:"last_selected"`
		LastTrade     json.RawMessage `json:"last_trade"`
	}{alias: (*alias)(r)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	r.FirstSelected = flexTime(aux.FirstSelected)
	r.LastSelected = flexTimePtr(aux.LastSelected)
	r.LastTrade = flexTimePtr(aux.LastTrade)
	return nil
}

func flexTime(raw json.RawMessage) time.Time {
	if len(raw) == 0 || string(raw) == "null" {
		return time.Time{}
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return time.Time{}
		}
		return t
	}
	var sec float64
	if err := json.Unmarshal(raw, &sec); err != nil || sec <= 0 {
		return time.Time{}
	}
	return time.Unix(int64(sec), 0)
}

func flexTimePtr(raw json.RawMessage) *time.Time {
	t := flexTime(raw)
	if t.IsZero() {
		return nil
	}
	return &t
}

// Valid reports whether the record satisfies its own invariants. Records
// failing this check are quarantined on load instead of entering the ranking.
func (r *CoinRecord) Valid() bool {
	if r.Selections < 0 || r.Trades < 0 || r.TrialUsed < 0 {
		return false
	}
	if r.ProfitableTrades < 0 || r.ProfitableTrades > r.Trades {
		return false
	}
	if r.Priority < 0 {
		return false
	}
	return !r.FirstSelected.IsZero()
}

// RankingSettings are the tunables of the coin ranking system, persisted
// alongside the records so a running store keeps its own configuration.
type RankingSettings struct {
	TrialPeriod    int     `json:"trial_period"`
	MinSuccessRate float64 `json:"min_success_rate"`
	MinAvgProfit   float64 `json:"min_avg_profit"`
	InitialBoost   float64 `json:"initial_boost"`
	MaxCoins       int     `json:"max_coins"`
	InactiveDays   int     `json:"inactive_days"`
}

// RankingStats are rolling global counters for the ranking store.
type RankingStats struct {
	TotalRotations int        `json:"total_rotations"`
	LastRotation   *time.Time `json:"last_rotation"`
	CreatedAt      time.Time  `json:"created_at"`
}

// UnmarshalJSON tolerates legacy unix-seconds numbers in the rotation
// timestamps, same as CoinRecord.
func (s *RankingStats) UnmarshalJSON(data []byte) error {
	type alias RankingStats
	aux := struct {
		*alias
		LastRotation json.RawMessage `json:"last_rotation"`
		CreatedAt    json.RawMessage `json:"created_at"`
	}{alias: (*alias)(s)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	s.LastRotation = flexTimePtr(aux.LastRotation)
	s.CreatedAt = flexTime(aux.CreatedAt)
	return nil
}

// ScoredCoin pairs a coin with a ranking or selection score.
type ScoredCoin struct {
	Coin  string
	Score float64
}
