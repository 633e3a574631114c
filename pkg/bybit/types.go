package bybit

import "encoding/json"

const (
	BaseURL    = "https://api.bybit.com"
	TestnetURL = "https://api-testnet.bybit.com"
)

// apiResponse is the v5 REST envelope shared by every endpoint.
type apiResponse struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
	Time    int64           `json:"time"`
}

type klineResult struct {
	Category string     `json:"category"`
	Symbol   string     `json:"symbol"`
	List     [][]string `json:"list"`
}

type tickerResult struct {
	Category string `json:"category"`
	List     []struct {
		Symbol    string `json:"symbol"`
		LastPrice string `json:"lastPrice"`
		Bid1Price string `json:"bid1Price"`
		Ask1Price string `json:"ask1Price"`
	} `json:"list"`
}

type orderbookResult struct {
	Symbol string     `json:"s"`
	Bids   [][]string `json:"b"`
	Asks   [][]string `json:"a"`
}

type instrumentsResult struct {
	Category string `json:"category"`
	List     []struct {
		Symbol        string `json:"symbol"`
		LotSizeFilter struct {
			BasePrecision  string `json:"basePrecision"`
			QuotePrecision string `json:"quotePrecision"`
			MinOrderQty    string `json:"minOrderQty"`
			MinOrderAmt    string `json:"minOrderAmt"`
		} `json:"lotSizeFilter"`
		PriceFilter struct {
			TickSize string `json:"tickSize"`
		} `json:"priceFilter"`
	} `json:"list"`
}

type walletBalanceResult struct {
	List []struct {
		AccountType string `json:"accountType"`
		Coin        []struct {
			Coin             string `json:"coin"`
			AvailableToTrade string `json:"availableToTrade"`
			AvailableBalance string `json:"availableBalance"`
			WalletBalance    string `json:"walletBalance"`
		} `json:"coin"`
	} `json:"list"`
}

type orderHistoryResult struct {
	Category string     `json:"category"`
	List     []orderRow `json:"list"`
}

type orderRow struct {
	OrderID     string `json:"orderId"`
	OrderLinkID string `json:"orderLinkId"`
	Symbol      string `json:"symbol"`
	Side        string `json:"side"`
	OrderStatus string `json:"orderStatus"`
	Qty         string `json:"qty"`
	AvgPrice    string `json:"avgPrice"`
	CumExecQty  string `json:"cumExecQty"`
	CumExecValue string `json:"cumExecValue"`
	CumExecFee  string `json:"cumExecFee"`
	CreatedTime string `json:"createdTime"`
}

type placeOrderResult struct {
	OrderID     string `json:"orderId"`
	OrderLinkID string `json:"orderLinkId"`
}

type transactionLogResult struct {
	List []TransactionRow `json:"list"`
}

// TransactionRow is one entry of the account transaction log, used for
// realized-profit accounting.
type TransactionRow struct {
	Currency        string `json:"currency"`
	Type            string `json:"type"`
	Change          string `json:"change"`
	Fee             string `json:"fee"`
	TransactionTime string `json:"transactionTime"`
}

type orderRequest struct {
	Category    string `json:"category"`
	Symbol      string `json:"symbol"`
	Side        string `json:"side"`
	OrderType   string `json:"orderType"`
	Qty         string `json:"qty"`
	MarketUnit  string `json:"marketUnit,omitempty"`
	OrderLinkID string `json:"orderLinkId,omitempty"`
}
