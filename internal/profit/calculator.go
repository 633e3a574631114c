package profit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"bybit-rotation-bot/pkg/bybit"
	"bybit-rotation-bot/pkg/utils"
)

// LogSource provides account transaction history.
type LogSource interface {
	TransactionLog(ctx context.Context, since time.Time, limit int) ([]bybit.TransactionRow, error)
}

// Stats holds realized quote-currency profit over standard windows.
type Stats struct {
	Today      float64
	Last7Days  float64
	Last30Days float64
}

// Calculator derives realized profit from the exchange transaction
// log: the signed quote change of every trade entry net of fees.
type Calculator struct {
	source    LogSource
	quoteCoin string
	logger    *logrus.Logger
}

func NewCalculator(source LogSource, quoteCoin string, logger *logrus.Logger) *Calculator {
	return &Calculator{
		source:    source,
		quoteCoin: quoteCoin,
		logger:    logger,
	}
}

// Stats computes realized profit for today, the last 7 days and the
// last 30 days.
func (c *Calculator) Stats(ctx context.Context) (Stats, error) {
	now := time.Now()
	since := now.AddDate(0, 0, -30)

	rows, err := c.source.TransactionLog(ctx, since, 50)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to fetch transaction log: %w", err)
	}

	var stats Stats
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	weekStart := now.AddDate(0, 0, -7)

	for _, row := range rows {
		if row.Currency != c.quoteCoin || row.Type != "TRADE" {
			continue
		}
		ms, err := strconv.ParseInt(row.TransactionTime, 10, 64)
		if err != nil || ms == 0 {
			continue
		}
		at := time.UnixMilli(ms)

		change := utils.ParseFloat(row.Change)
		if row.Fee != "" && row.Fee != "0" {
			change -= utils.ParseFloat(row.Fee)
		}

		stats.Last30Days += change
		if at.After(weekStart) {
			stats.Last7Days += change
		}
		if !at.Before(dayStart) {
			stats.Today += change
		}
	}
	return stats, nil
}

// Report formats the stats for notifications.
func (s Stats) Report(quoteCoin string) string {
	return fmt.Sprintf("Realized profit: today %.4f %s, 7d %.4f %s, 30d %.4f %s",
		s.Today, quoteCoin, s.Last7Days, quoteCoin, s.Last30Days, quoteCoin)
}
