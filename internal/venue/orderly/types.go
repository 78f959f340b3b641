package orderly

// Wire types for the Orderly REST API. Every response is wrapped in a
// {success, data} envelope.

type envelope struct {
	Success bool   `json:"success"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type infoResponse struct {
	envelope
	Data struct {
		Rows []symbolRow `json:"rows"`
	} `json:"data"`
}

type symbolRow struct {
	Symbol      string  `json:"symbol"`
	QuoteTick   float64 `json:"quote_tick"`
	BaseTick    float64 `json:"base_tick"`
	BaseMin     float64 `json:"base_min"`
	BaseMax     float64 `json:"base_max"`
	MinNotional float64 `json:"min_notional"`
}

type fundingRateResponse struct {
	envelope
	Data struct {
		Symbol          string  `json:"symbol"`
		EstFundingRate  float64 `json:"est_funding_rate"`
		LastFundingRate float64 `json:"last_funding_rate"`
		NextFundingTime int64   `json:"next_funding_time"`
	} `json:"data"`
}

type futuresResponse struct {
	envelope
	Data struct {
		Symbol     string  `json:"symbol"`
		MarkPrice  float64 `json:"mark_price"`
		IndexPrice float64 `json:"index_price"`
	} `json:"data"`
}

type orderRequest struct {
	Symbol        string  `json:"symbol"`
	OrderType     string  `json:"order_type"`
	OrderPrice    float64 `json:"order_price"`
	OrderQuantity float64 `json:"order_quantity"`
	Side          string  `json:"side"`
	ReduceOnly    bool    `json:"reduce_only,omitempty"`
}

type orderResponse struct {
	envelope
	Data struct {
		OrderID int64 `json:"order_id"`
	} `json:"data"`
}

type orderStatusResponse struct {
	envelope
	Data struct {
		OrderID  int64   `json:"order_id"`
		Status   string  `json:"status"`
		Quantity float64 `json:"quantity"`
		Executed float64 `json:"executed"`
	} `json:"data"`
}

type positionsResponse struct {
	envelope
	Data struct {
		Rows []positionRow `json:"rows"`
	} `json:"data"`
}

type positionRow struct {
	Symbol           string  `json:"symbol"`
	PositionQty      float64 `json:"position_qty"`
	AverageOpenPrice float64 `json:"average_open_price"`
	MarkPrice        float64 `json:"mark_price"`
	UnsettledPnL     float64 `json:"unsettled_pnl"`
	Leverage         float64 `json:"leverage"`
}

type leverageResponse struct {
	envelope
	Data struct {
		Leverage float64 `json:"leverage"`
	} `json:"data"`
}
