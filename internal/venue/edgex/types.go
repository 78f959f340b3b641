package edgex

// Wire types for the edgeX REST API. Every response is a {code, data, msg}
// envelope; code "SUCCESS" marks the happy path.

type envelope struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}

type metaDataResponse struct {
	envelope
	Data struct {
		ContractList []contractInfo `json:"contractList"`
	} `json:"data"`
}

type contractInfo struct {
	ContractID   string `json:"contractId"`
	ContractName string `json:"contractName"`
	TickSize     string `json:"tickSize"`
	StepSize     string `json:"stepSize"`
	MinOrderSize string `json:"minOrderSize"`
	MaxOrderSize string `json:"maxOrderSize"`
	MaxLeverage  string `json:"maxLeverage"`
	Enabled      bool   `json:"enableTrade"`
}

type tickerResponse struct {
	envelope
	Data struct {
		ContractID      string `json:"contractId"`
		MarkPrice       string `json:"markPrice"`
		IndexPrice      string `json:"indexPrice"`
		FundingRate     string `json:"fundingRate"`
		NextFundingTime int64  `json:"nextFundingTime"`
	} `json:"data"`
}

type createOrderRequest struct {
	AccountID  string `json:"accountId"`
	ContractID string `json:"contractId"`
	Nonce      string `json:"nonce"`
	Price      string `json:"price"`
	ReduceOnly bool   `json:"reduceOnly"`
	Side       string `json:"side"`
	Size       string `json:"size"`
	SigR       string `json:"l2SignatureR"`
	SigS       string `json:"l2SignatureS"`
}

type createOrderResponse struct {
	envelope
	Data struct {
		OrderID string `json:"orderId"`
		Status  string `json:"status"`
	} `json:"data"`
}

type orderStatusResponse struct {
	envelope
	Data struct {
		OrderID string `json:"orderId"`
		Status  string `json:"status"`
	} `json:"data"`
}

type cancelOrderRequest struct {
	AccountID string `json:"accountId"`
	OrderID   string `json:"orderId"`
}

type positionsResponse struct {
	envelope
	Data struct {
		PositionList []positionEntry `json:"positionList"`
	} `json:"data"`
}

type positionEntry struct {
	ContractID    string `json:"contractId"`
	OpenSize      string `json:"openSize"` // signed: negative for short
	AvgEntryPrice string `json:"avgEntryPrice"`
	MarkPrice     string `json:"markPrice"`
	UnrealizedPnL string `json:"unrealizePnl"`
	RealizedPnL   string `json:"realizePnl"`
	Leverage      string `json:"leverage"`
}

type leverageRequest struct {
	AccountID  string `json:"accountId"`
	ContractID string `json:"contractId"`
	Leverage   string `json:"leverage"`
}

type leverageResponse struct {
	envelope
	Data struct {
		Leverage string `json:"leverage"`
	} `json:"data"`
}
