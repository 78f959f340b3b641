package vest

// Wire types for the Vest exchange REST API.

type exchangeInfoResponse struct {
	Symbols []symbolInfo `json:"symbols"`
}

type symbolInfo struct {
	Symbol      string  `json:"symbol"`
	Status      string  `json:"status"`
	TickSize    string  `json:"tickSize"`
	StepSize    string  `json:"stepSize"`
	MinSize     string  `json:"minSize"`
	MaxSize     string  `json:"maxSize"`
	MaxLeverage float64 `json:"maxLeverage"`
}

type tickerResponse struct {
	Tickers []tickerEntry `json:"tickers"`
}

type tickerEntry struct {
	Symbol           string `json:"symbol"`
	MarkPrice        string `json:"markPrice"`
	IndexPrice       string `json:"indexPrice"`
	OneHrFundingRate string `json:"oneHrFundingRate"`
	NextFundingTime  int64  `json:"nextFundingTime"`
}

// orderPayload carries the eight fields the venue's verifier hashes; field
// order here mirrors the abi.encode argument order.
type orderPayload struct {
	Time       int64  `json:"time"`
	Nonce      int64  `json:"nonce"`
	OrderType  string `json:"orderType"`
	Symbol     string `json:"symbol"`
	IsBuy      bool   `json:"isBuy"`
	Size       string `json:"size"`
	LimitPrice string `json:"limitPrice"`
	ReduceOnly bool   `json:"reduceOnly"`
}

type createOrderRequest struct {
	Order     orderPayload `json:"order"`
	Signature string       `json:"signature"`
}

type createOrderResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type orderStatusResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type cancelOrderRequest struct {
	ID string `json:"id"`
}

type accountResponse struct {
	Positions []positionEntry `json:"positions"`
}

type positionEntry struct {
	Symbol        string `json:"symbol"`
	Size          string `json:"size"` // signed: negative for short
	EntryPrice    string `json:"entryPrice"`
	MarkPrice     string `json:"markPrice"`
	UnrealizedPnL string `json:"unrealizedPnl"`
	RealizedPnL   string `json:"realizedPnl"`
	Leverage      string `json:"leverage"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
