package models

import "github.com/shopspring/decimal"

// Candle is one OHLCV observation over a fixed time bucket.
// Slices of candles are always ordered ascending by Timestamp.
type Candle struct {
	Timestamp int64   `json:"timestamp"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
}

// Fill is an executed order as reported by the exchange order history.
type Fill struct {
	OrderID   string
	Symbol    string
	Side      string // "Buy" or "Sell"
	Qty       decimal.Decimal
	AvgPrice  decimal.Decimal
	ExecQty   decimal.Decimal
	ExecValue decimal.Decimal
	ExecFee   decimal.Decimal
	Timestamp int64
}

// InstrumentLimits holds the lot-size and tick-size constraints for a symbol.
// Sourced from the instruments-info endpoint and cached for a long time.
type InstrumentLimits struct {
	QtyPrecision   int
	PricePrecision int
	MinOrderQty    decimal.Decimal
	MinOrderValue  decimal.Decimal
}

// WalletPosition is a non-quote holding found in the wallet balance.
type WalletPosition struct {
	Coin   string
	Symbol string
	Size   decimal.Decimal
}

// BestQuote is the top of the order book.
type BestQuote struct {
	Bid float64
	Ask float64
}
