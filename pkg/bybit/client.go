package bybit

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/jpillora/backoff"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"bybit-rotation-bot/pkg/models"
	"bybit-rotation-bot/pkg/utils"
)

const (
	recvWindow     = "5000"
	maxRetries     = 5
	priceBandLow   = 0.1
	priceBandHigh  = 100000.0
	priceTolerance = 0.10
)

// Client is a resilient Bybit v5 REST client. All blocking calls take a
// context, retry transient failures with jittered backoff and respect
// per-scope rate limits. Order placement is never retried.
type Client struct {
	http    *resty.Client
	apiKey  string
	secret  string
	limits  *limiter
	logger  *logrus.Logger

	candleMu    sync.Mutex
	candleCache map[string]candleEntry

	instMu    sync.Mutex
	instCache map[string]instEntry
}

type candleEntry struct {
	candles   []models.Candle
	fetchedAt time.Time
	ttl       time.Duration
}

type instEntry struct {
	limits    models.InstrumentLimits
	fetchedAt time.Time
}

func NewClient(baseURL, apiKey, secret string, timeout time.Duration, logger *logrus.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")

	return &Client{
		http:        httpClient,
		apiKey:      apiKey,
		secret:      secret,
		limits:      newLimiter(),
		logger:      logger,
		candleCache: make(map[string]candleEntry),
		instCache:   make(map[string]instEntry),
	}
}

// sign computes the v5 HMAC-SHA256 signature over
// timestamp + apiKey + recvWindow + payload.
func (c *Client) sign(timestamp, payload string) string {
	mac := hmac.New(sha256.New, []byte(c.secret))
	mac.Write([]byte(timestamp + c.apiKey + recvWindow + payload))
	return hex.EncodeToString(mac.Sum(nil))
}

func (c *Client) authHeaders(payload string) map[string]string {
	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
	return map[string]string{
		"X-BAPI-API-KEY":     c.apiKey,
		"X-BAPI-TIMESTAMP":   ts,
		"X-BAPI-RECV-WINDOW": recvWindow,
		"X-BAPI-SIGN":        c.sign(ts, payload),
	}
}

func queryString(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+url.QueryEscape(params[k]))
	}
	return strings.Join(parts, "&")
}

func retryable(statusCode int, err error) bool {
	if err != nil {
		return true
	}
	return statusCode == 429 || statusCode >= 500
}

// getWithRetry performs a GET with up to maxRetries attempts on rate
// limits, server errors and timeouts. Signed requests wait on the
// private limiter.
func (c *Client) getWithRetry(ctx context.Context, path string, params map[string]string, signed bool) (*apiResponse, error) {
	b := &backoff.Backoff{
		Min:    500 * time.Millisecond,
		Max:    10 * time.Second,
		Factor: 2,
		Jitter: true,
	}

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		if signed {
			if err := c.limits.waitPrivate(ctx); err != nil {
				return nil, err
			}
		} else {
			if err := c.limits.waitPublic(ctx); err != nil {
				return nil, err
			}
		}

		req := c.http.R().SetContext(ctx).SetQueryParams(params)
		if signed {
			req.SetHeaders(c.authHeaders(queryString(params)))
		}

		resp, err := req.Get(path)
		if err == nil && resp.StatusCode() == 200 {
			var envelope apiResponse
			if jsonErr := json.Unmarshal(resp.Body(), &envelope); jsonErr != nil {
				return nil, fmt.Errorf("failed to decode response for %s: %w", path, jsonErr)
			}
			if envelope.RetCode != 0 {
				return nil, fmt.Errorf("bybit error on %s: %d %s", path, envelope.RetCode, envelope.RetMsg)
			}
			return &envelope, nil
		}

		status := 0
		if resp != nil {
			status = resp.StatusCode()
		}
		if !retryable(status, err) {
			return nil, fmt.Errorf("request to %s failed with status %d", path, status)
		}

		if err != nil {
			lastErr = err
		} else {
			lastErr = fmt.Errorf("status %d", status)
		}

		wait := b.Duration()
		c.logger.WithFields(logrus.Fields{
			"path":    path,
			"attempt": attempt,
			"wait":    wait.String(),
			"error":   lastErr.Error(),
		}).Warn("Retrying request")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}

	return nil, fmt.Errorf("request to %s failed after %d attempts: %w", path, maxRetries, lastErr)
}

// candleTTL keeps cached candles fresh for one granularity interval,
// clamped between 1 and 5 minutes.
func candleTTL(interval string) time.Duration {
	minutes, err := strconv.Atoi(interval)
	if err != nil {
		return time.Minute
	}
	ttl := time.Duration(minutes) * time.Minute
	if ttl < time.Minute {
		ttl = time.Minute
	}
	if ttl > 5*time.Minute {
		ttl = 5 * time.Minute
	}
	return ttl
}

// GetCandles returns ascending OHLCV candles for symbol at the given
// interval ("3", "15", "30" minutes). Results are cached for one
// interval to avoid hammering the endpoint from concurrent scorers.
func (c *Client) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]models.Candle, error) {
	key := fmt.Sprintf("%s:%s:%d", symbol, interval, limit)

	c.candleMu.Lock()
	if entry, ok := c.candleCache[key]; ok && time.Since(entry.fetchedAt) < entry.ttl {
		cached := make([]models.Candle, len(entry.candles))
		copy(cached, entry.candles)
		c.candleMu.Unlock()
		return cached, nil
	}
	c.candleMu.Unlock()

	params := map[string]string{
		"category": "spot",
		"symbol":   symbol,
		"interval": interval,
		"limit":    strconv.Itoa(limit),
	}
	envelope, err := c.getWithRetry(ctx, "/v5/market/kline", params, false)
	if err != nil {
		// Serve the expired cache entry rather than nothing; callers
		// treat an empty result as a skipped cycle.
		c.candleMu.Lock()
		entry, ok := c.candleCache[key]
		c.candleMu.Unlock()
		if ok && len(entry.candles) > 0 {
			c.logger.WithError(err).WithField("symbol", symbol).Warn("Candle fetch failed, serving stale cache")
			stale := make([]models.Candle, len(entry.candles))
			copy(stale, entry.candles)
			return stale, nil
		}
		return nil, fmt.Errorf("failed to get candles for %s: %w", symbol, err)
	}

	var result klineResult
	if err := json.Unmarshal(envelope.Result, &result); err != nil {
		return nil, fmt.Errorf("failed to decode kline result: %w", err)
	}

	candles := make([]models.Candle, 0, len(result.List))
	// Bybit returns newest first; reverse into ascending order.
	for i := len(result.List) - 1; i >= 0; i-- {
		row := result.List[i]
		if len(row) < 6 {
			continue
		}
		ts, err := strconv.ParseInt(row[0], 10, 64)
		if err != nil || ts <= 0 {
			continue
		}
		candles = append(candles, models.Candle{
			Timestamp: ts,
			Open:      utils.ParseFloat(row[1]),
			High:      utils.ParseFloat(row[2]),
			Low:       utils.ParseFloat(row[3]),
			Close:     utils.ParseFloat(row[4]),
			Volume:    utils.ParseFloat(row[5]),
		})
	}

	c.candleMu.Lock()
	c.candleCache[key] = candleEntry{candles: candles, fetchedAt: time.Now(), ttl: candleTTL(interval)}
	c.candleMu.Unlock()

	return candles, nil
}

// GetPrice returns the last traded price for symbol.
func (c *Client) GetPrice(ctx context.Context, symbol string) (float64, error) {
	params := map[string]string{"category": "spot", "symbol": symbol}
	envelope, err := c.getWithRetry(ctx, "/v5/market/tickers", params, false)
	if err != nil {
		return 0, fmt.Errorf("failed to get price for %s: %w", symbol, err)
	}

	var result tickerResult
	if err := json.Unmarshal(envelope.Result, &result); err != nil {
		return 0, fmt.Errorf("failed to decode ticker result: %w", err)
	}
	if len(result.List) == 0 {
		return 0, fmt.Errorf("no ticker data for %s", symbol)
	}

	price := utils.ParseFloat(result.List[0].LastPrice)
	if price <= 0 {
		return 0, fmt.Errorf("invalid price %f for %s", price, symbol)
	}
	return price, nil
}

// GetBestBidAsk returns the top of book for symbol.
func (c *Client) GetBestBidAsk(ctx context.Context, symbol string) (models.BestQuote, error) {
	params := map[string]string{"category": "spot", "symbol": symbol, "limit": "1"}
	envelope, err := c.getWithRetry(ctx, "/v5/market/orderbook", params, false)
	if err != nil {
		return models.BestQuote{}, fmt.Errorf("failed to get orderbook for %s: %w", symbol, err)
	}

	var result orderbookResult
	if err := json.Unmarshal(envelope.Result, &result); err != nil {
		return models.BestQuote{}, fmt.Errorf("failed to decode orderbook result: %w", err)
	}
	if len(result.Bids) == 0 || len(result.Asks) == 0 {
		return models.BestQuote{}, fmt.Errorf("empty orderbook for %s", symbol)
	}

	return models.BestQuote{
		Bid: utils.ParseFloat(result.Bids[0][0]),
		Ask: utils.ParseFloat(result.Asks[0][0]),
	}, nil
}

// ValidatePrice checks a price against an absolute sanity band and,
// when a reference is available, a relative tolerance around it.
func (c *Client) ValidatePrice(price, reference float64) bool {
	if price < priceBandLow || price > priceBandHigh {
		return false
	}
	if reference > 0 {
		deviation := (price - reference) / reference
		if deviation < 0 {
			deviation = -deviation
		}
		if deviation > priceTolerance {
			return false
		}
	}
	return true
}

// GetReliablePrice samples the ticker three times 100ms apart and
// returns the median. The first sample to pass the sanity band becomes
// the reference; later samples deviating more than the tolerance from
// it are discarded as glitches.
func (c *Client) GetReliablePrice(ctx context.Context, symbol string) (float64, error) {
	samples := make([]float64, 0, 3)
	reference := 0.0
	for i := 0; i < 3; i++ {
		price, err := c.GetPrice(ctx, symbol)
		if err == nil && c.ValidatePrice(price, reference) {
			samples = append(samples, price)
			if reference == 0 {
				reference = price
			}
		}
		if i < 2 {
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-time.After(100 * time.Millisecond):
			}
		}
	}
	if len(samples) == 0 {
		return 0, fmt.Errorf("no valid price samples for %s", symbol)
	}
	return utils.Median(samples), nil
}

// GetBalance returns the available balance of coin in the unified
// account. Transient zero reads are retried to avoid acting on a stale
// snapshot right after a fill.
func (c *Client) GetBalance(ctx context.Context, coin string) (decimal.Decimal, error) {
	var balance decimal.Decimal
	var lastErr error

	for attempt := 0; attempt < 3; attempt++ {
		balance, lastErr = c.fetchBalance(ctx, coin)
		if lastErr == nil {
			return balance, nil
		}
		wait := time.Duration(float64(time.Second) * pow(1.5, attempt))
		select {
		case <-ctx.Done():
			return decimal.Zero, ctx.Err()
		case <-time.After(wait):
		}
	}
	return decimal.Zero, fmt.Errorf("failed to get %s balance: %w", coin, lastErr)
}

func pow(base float64, exp int) float64 {
	out := 1.0
	for i := 0; i < exp; i++ {
		out *= base
	}
	return out
}

func (c *Client) fetchBalance(ctx context.Context, coin string) (decimal.Decimal, error) {
	params := map[string]string{"accountType": "UNIFIED", "coin": coin}
	envelope, err := c.getWithRetry(ctx, "/v5/account/wallet-balance", params, true)
	if err != nil {
		return decimal.Zero, err
	}

	var result walletBalanceResult
	if err := json.Unmarshal(envelope.Result, &result); err != nil {
		return decimal.Zero, fmt.Errorf("failed to decode wallet balance: %w", err)
	}

	for _, account := range result.List {
		for _, entry := range account.Coin {
			if entry.Coin != coin {
				continue
			}
			raw := entry.AvailableToTrade
			if raw == "" {
				raw = entry.AvailableBalance
			}
			if raw == "" {
				raw = entry.WalletBalance
			}
			return utils.ParseDecimalSafe(raw), nil
		}
	}
	return decimal.Zero, nil
}

// GetWalletPositions lists every non-dust coin held in the unified
// account, excluding the quote currency.
func (c *Client) GetWalletPositions(ctx context.Context, quoteCoin string) ([]models.WalletPosition, error) {
	params := map[string]string{"accountType": "UNIFIED"}
	envelope, err := c.getWithRetry(ctx, "/v5/account/wallet-balance", params, true)
	if err != nil {
		return nil, fmt.Errorf("failed to get wallet positions: %w", err)
	}

	var result walletBalanceResult
	if err := json.Unmarshal(envelope.Result, &result); err != nil {
		return nil, fmt.Errorf("failed to decode wallet balance: %w", err)
	}

	var positions []models.WalletPosition
	for _, account := range result.List {
		for _, entry := range account.Coin {
			if entry.Coin == quoteCoin {
				continue
			}
			raw := entry.WalletBalance
			if raw == "" {
				raw = entry.AvailableBalance
			}
			size := utils.ParseDecimalSafe(raw)
			if size.IsZero() {
				continue
			}
			positions = append(positions, models.WalletPosition{
				Coin:   entry.Coin,
				Symbol: entry.Coin + quoteCoin,
				Size:   size,
			})
		}
	}
	return positions, nil
}

// GetInstrumentLimits returns lot size and precision rules for symbol,
// cached for one hour.
func (c *Client) GetInstrumentLimits(ctx context.Context, symbol string) (models.InstrumentLimits, error) {
	c.instMu.Lock()
	if entry, ok := c.instCache[symbol]; ok && time.Since(entry.fetchedAt) < time.Hour {
		c.instMu.Unlock()
		return entry.limits, nil
	}
	c.instMu.Unlock()

	params := map[string]string{"category": "spot", "symbol": symbol}
	envelope, err := c.getWithRetry(ctx, "/v5/market/instruments-info", params, false)
	if err != nil {
		return models.InstrumentLimits{}, fmt.Errorf("failed to get instrument info for %s: %w", symbol, err)
	}

	var result instrumentsResult
	if err := json.Unmarshal(envelope.Result, &result); err != nil {
		return models.InstrumentLimits{}, fmt.Errorf("failed to decode instrument info: %w", err)
	}
	if len(result.List) == 0 {
		return models.InstrumentLimits{}, fmt.Errorf("instrument %s not found", symbol)
	}

	info := result.List[0]
	limits := models.InstrumentLimits{
		QtyPrecision:   utils.DecimalsIn(info.LotSizeFilter.BasePrecision),
		PricePrecision: utils.DecimalsIn(info.PriceFilter.TickSize),
		MinOrderQty:    utils.ParseDecimalSafe(info.LotSizeFilter.MinOrderQty),
		MinOrderValue:  utils.ParseDecimalSafe(info.LotSizeFilter.MinOrderAmt),
	}

	c.instMu.Lock()
	c.instCache[symbol] = instEntry{limits: limits, fetchedAt: time.Now()}
	c.instMu.Unlock()

	return limits, nil
}

// PlaceMarketOrder submits a spot market order. Buy quantity is in
// quote currency (marketUnit quoteCoin), sell quantity in base. The
// call is made exactly once: a timeout here may still have filled on
// the exchange, so the caller reconciles via order history instead of
// retrying.
func (c *Client) PlaceMarketOrder(ctx context.Context, symbol, side, qty, orderLinkID string) (string, error) {
	order := orderRequest{
		Category:    "spot",
		Symbol:      symbol,
		Side:        side,
		OrderType:   "Market",
		Qty:         qty,
		OrderLinkID: orderLinkID,
	}
	if side == "Buy" {
		order.MarketUnit = "quoteCoin"
	}

	body, err := json.Marshal(order)
	if err != nil {
		return "", fmt.Errorf("failed to encode order: %w", err)
	}

	if err := c.limits.waitPrivate(ctx); err != nil {
		return "", err
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(c.authHeaders(string(body))).
		SetBody(body).
		Post("/v5/order/create")
	if err != nil {
		return "", fmt.Errorf("order request for %s failed: %w", symbol, err)
	}
	if resp.StatusCode() != 200 {
		return "", fmt.Errorf("order request for %s failed with status %d", symbol, resp.StatusCode())
	}

	var envelope apiResponse
	if err := json.Unmarshal(resp.Body(), &envelope); err != nil {
		return "", fmt.Errorf("failed to decode order response: %w", err)
	}
	if envelope.RetCode != 0 {
		return "", fmt.Errorf("order rejected for %s: %d %s", symbol, envelope.RetCode, envelope.RetMsg)
	}

	var result placeOrderResult
	if err := json.Unmarshal(envelope.Result, &result); err != nil {
		return "", fmt.Errorf("failed to decode order result: %w", err)
	}

	c.logger.WithFields(logrus.Fields{
		"symbol":   symbol,
		"side":     side,
		"qty":      qty,
		"order_id": result.OrderID,
	}).Info("Market order placed")

	return result.OrderID, nil
}

// GetFilledOrders returns recent filled orders for symbol, newest first.
func (c *Client) GetFilledOrders(ctx context.Context, symbol string, limit int) ([]models.Fill, error) {
	params := map[string]string{
		"category":    "spot",
		"symbol":      symbol,
		"orderStatus": "Filled",
		"limit":       strconv.Itoa(limit),
	}
	envelope, err := c.getWithRetry(ctx, "/v5/order/history", params, true)
	if err != nil {
		return nil, fmt.Errorf("failed to get order history for %s: %w", symbol, err)
	}

	var result orderHistoryResult
	if err := json.Unmarshal(envelope.Result, &result); err != nil {
		return nil, fmt.Errorf("failed to decode order history: %w", err)
	}

	fills := make([]models.Fill, 0, len(result.List))
	for _, row := range result.List {
		ts, _ := strconv.ParseInt(row.CreatedTime, 10, 64)
		fills = append(fills, models.Fill{
			OrderID:   row.OrderID,
			Symbol:    row.Symbol,
			Side:      row.Side,
			Qty:       utils.ParseDecimalSafe(row.Qty),
			AvgPrice:  utils.ParseDecimalSafe(row.AvgPrice),
			ExecQty:   utils.ParseDecimalSafe(row.CumExecQty),
			ExecValue: utils.ParseDecimalSafe(row.CumExecValue),
			ExecFee:   utils.ParseDecimalSafe(row.CumExecFee),
			Timestamp: ts,
		})
	}
	return fills, nil
}

// GetLastFilledOrder returns the most recent fill for symbol with the
// given side, or nil when none exists.
func (c *Client) GetLastFilledOrder(ctx context.Context, symbol, side string) (*models.Fill, error) {
	fills, err := c.GetFilledOrders(ctx, symbol, 20)
	if err != nil {
		return nil, err
	}
	for i := range fills {
		if fills[i].Side == side {
			return &fills[i], nil
		}
	}
	return nil, nil
}

// TransactionLog returns account transaction entries since the given
// time, used for realized profit reports.
func (c *Client) TransactionLog(ctx context.Context, since time.Time, limit int) ([]TransactionRow, error) {
	params := map[string]string{
		"accountType": "UNIFIED",
		"category":    "spot",
		"startTime":   strconv.FormatInt(since.UnixMilli(), 10),
		"limit":       strconv.Itoa(limit),
	}
	envelope, err := c.getWithRetry(ctx, "/v5/account/transaction-log", params, true)
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction log: %w", err)
	}

	var result transactionLogResult
	if err := json.Unmarshal(envelope.Result, &result); err != nil {
		return nil, fmt.Errorf("failed to decode transaction log: %w", err)
	}
	return result.List, nil
}
