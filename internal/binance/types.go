package binance

import (
	"github.com/shopspring/decimal"
)

// Enumerations mirror the exchange's order vocabulary so serialised
// parameters match the REST API byte for byte.

// OrderSide is the direction of an order.
type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

// PositionSide distinguishes hedge-mode legs; one-way accounts use BOTH.
type PositionSide string

const (
	PositionBoth  PositionSide = "BOTH"
	PositionLong  PositionSide = "LONG"
	PositionShort PositionSide = "SHORT"
)

// OrderType is the exchange order type.
type OrderType string

const (
	OrderTypeLimit            OrderType = "LIMIT"
	OrderTypeMarket           OrderType = "MARKET"
	OrderTypeStop             OrderType = "STOP"
	OrderTypeStopMarket       OrderType = "STOP_MARKET"
	OrderTypeTakeProfit       OrderType = "TAKE_PROFIT"
	OrderTypeTakeProfitMarket OrderType = "TAKE_PROFIT_MARKET"
)

// TimeInForce controls order lifetime.
type TimeInForce string

const (
	TimeInForceGTC TimeInForce = "GTC"
	TimeInForceIOC TimeInForce = "IOC"
	TimeInForceFOK TimeInForce = "FOK"
)

// OrderStatus is the exchange-reported order state.
type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "NEW"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusCanceled        OrderStatus = "CANCELED"
	OrderStatusRejected        OrderStatus = "REJECTED"
	OrderStatusExpired         OrderStatus = "EXPIRED"
)

// WorkingType selects the price feed a trigger watches.
type WorkingType string

const (
	WorkingTypeContractPrice WorkingType = "CONTRACT_PRICE"
	WorkingTypeMarkPrice     WorkingType = "MARK_PRICE"
)

// MarginType selects cross or isolated margin for a symbol.
type MarginType string

const (
	MarginTypeCrossed  MarginType = "CROSSED"
	MarginTypeIsolated MarginType = "ISOLATED"
)

// AlgoStatus is the state of a conditional (algo) order.
type AlgoStatus string

const (
	AlgoStatusNew       AlgoStatus = "NEW"
	AlgoStatusTriggered AlgoStatus = "TRIGGERED"
	AlgoStatusCancelled AlgoStatus = "CANCELLED"
	AlgoStatusExpired   AlgoStatus = "EXPIRED"
)

// Income types returned by the income-history endpoint.
const (
	IncomeRealizedPnl = "REALIZED_PNL"
	IncomeFundingFee  = "FUNDING_FEE"
	IncomeCommission  = "COMMISSION"
)

// Kline is one OHLCV bar. Prices and volumes stay decimal end to end;
// the exchange serialises them as strings.
type Kline struct {
	OpenTime            int64
	Open                decimal.Decimal
	High                decimal.Decimal
	Low                 decimal.Decimal
	Close               decimal.Decimal
	Volume              decimal.Decimal
	CloseTime           int64
	QuoteVolume         decimal.Decimal
	Trades              int64
	TakerBuyBaseVolume  decimal.Decimal
	TakerBuyQuoteVolume decimal.Decimal
}

// SellVolume is the taker-sell share of the bar's base volume.
func (k Kline) SellVolume() decimal.Decimal {
	return k.Volume.Sub(k.TakerBuyBaseVolume)
}

// BuyVolume is the taker-buy share of the bar's base volume.
func (k Kline) BuyVolume() decimal.Decimal {
	return k.TakerBuyBaseVolume
}

const (
	contractPerpetual = "PERPETUAL"
	statusTrading     = "TRADING"
	filterPrice       = "PRICE_FILTER"
	filterLotSize     = "LOT_SIZE"
)

// ExchangeInfo is the trading-rules snapshot for all listed symbols.
type ExchangeInfo struct {
	Symbols []SymbolInfo `json:"symbols"`
}

// TradingPerpetuals lists symbols that are live perpetual contracts
// quoted in the given asset.
func (e *ExchangeInfo) TradingPerpetuals(quoteAsset string) []string {
	out := make([]string, 0, len(e.Symbols))
	for _, s := range e.Symbols {
		if s.QuoteAsset == quoteAsset && s.ContractType == contractPerpetual && s.Status == statusTrading {
			out = append(out, s.Symbol)
		}
	}
	return out
}

// SymbolInfo is one symbol's listing entry.
type SymbolInfo struct {
	Symbol            string         `json:"symbol"`
	ContractType      string         `json:"contractType"`
	Status            string         `json:"status"`
	BaseAsset         string         `json:"baseAsset"`
	QuoteAsset        string         `json:"quoteAsset"`
	PricePrecision    int            `json:"pricePrecision"`
	QuantityPrecision int            `json:"quantityPrecision"`
	Filters           []SymbolFilter `json:"filters"`
}

// SymbolFilter carries the filter fields we read; tick and step arrive
// as strings to preserve their exact decimal exponent.
type SymbolFilter struct {
	FilterType  string `json:"filterType"`
	TickSize    string `json:"tickSize,omitempty"`
	StepSize    string `json:"stepSize,omitempty"`
	MinQty      string `json:"minQty,omitempty"`
	MinNotional string `json:"notional,omitempty"`
}

// TickSize returns the PRICE_FILTER tick as a decimal.
func (s *SymbolInfo) TickSize() (decimal.Decimal, bool) {
	for _, f := range s.Filters {
		if f.FilterType == filterPrice && f.TickSize != "" {
			d, err := decimal.NewFromString(f.TickSize)
			if err == nil && d.Sign() > 0 {
				return d, true
			}
		}
	}
	return decimal.Decimal{}, false
}

// StepSize returns the LOT_SIZE step as a decimal.
func (s *SymbolInfo) StepSize() (decimal.Decimal, bool) {
	for _, f := range s.Filters {
		if f.FilterType == filterLotSize && f.StepSize != "" {
			d, err := decimal.NewFromString(f.StepSize)
			if err == nil && d.Sign() > 0 {
				return d, true
			}
		}
	}
	return decimal.Decimal{}, false
}

// SymbolRules is the rounding contract for one symbol, derived from
// exchange info and cached separately with a longer TTL.
type SymbolRules struct {
	Symbol            string
	TickSize          decimal.Decimal
	StepSize          decimal.Decimal
	PricePrecision    int
	QuantityPrecision int
}

// TickerPrice is the latest trade price for a symbol.
type TickerPrice struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
	Time   int64           `json:"time"`
}

// PremiumIndex carries mark/index price and funding for a symbol.
type PremiumIndex struct {
	Symbol          string          `json:"symbol"`
	MarkPrice       decimal.Decimal `json:"markPrice"`
	IndexPrice      decimal.Decimal `json:"indexPrice"`
	LastFundingRate decimal.Decimal `json:"lastFundingRate"`
	NextFundingTime int64           `json:"nextFundingTime"`
	Time            int64           `json:"time"`
}

// Premium is the relative gap of mark over index, zero when the index
// is unavailable.
func (p *PremiumIndex) Premium() decimal.Decimal {
	if p.IndexPrice.Sign() <= 0 {
		return decimal.Decimal{}
	}
	return p.MarkPrice.Sub(p.IndexPrice).Div(p.IndexPrice)
}

// AccountBalance is one asset row from the balance endpoint.
type AccountBalance struct {
	AccountAlias       string          `json:"accountAlias"`
	Asset              string          `json:"asset"`
	Balance            decimal.Decimal `json:"balance"`
	CrossWalletBalance decimal.Decimal `json:"crossWalletBalance"`
	AvailableBalance   decimal.Decimal `json:"availableBalance"`
}

// AccountInfo is the account-wide summary subset we consume.
type AccountInfo struct {
	TotalWalletBalance    decimal.Decimal `json:"totalWalletBalance"`
	TotalUnrealizedProfit decimal.Decimal `json:"totalUnrealizedProfit"`
	TotalMarginBalance    decimal.Decimal `json:"totalMarginBalance"`
	AvailableBalance      decimal.Decimal `json:"availableBalance"`
}

// PositionRisk is one position row; PositionAmt is negative for shorts.
type PositionRisk struct {
	Symbol           string          `json:"symbol"`
	PositionAmt      decimal.Decimal `json:"positionAmt"`
	EntryPrice       decimal.Decimal `json:"entryPrice"`
	MarkPrice        decimal.Decimal `json:"markPrice"`
	UnrealizedProfit decimal.Decimal `json:"unRealizedProfit"`
	LiquidationPrice decimal.Decimal `json:"liquidationPrice"`
	Leverage         string          `json:"leverage"`
	MarginType       string          `json:"marginType"`
	PositionSide     PositionSide    `json:"positionSide"`
	UpdateTime       int64           `json:"updateTime"`
}

// Order is the shape shared by place, query, cancel and open-orders
// responses.
type Order struct {
	OrderID       int64           `json:"orderId"`
	Symbol        string          `json:"symbol"`
	Status        OrderStatus     `json:"status"`
	ClientOrderID string          `json:"clientOrderId"`
	Price         decimal.Decimal `json:"price"`
	AvgPrice      decimal.Decimal `json:"avgPrice"`
	OrigQty       decimal.Decimal `json:"origQty"`
	ExecutedQty   decimal.Decimal `json:"executedQty"`
	StopPrice     decimal.Decimal `json:"stopPrice"`
	Type          OrderType       `json:"type"`
	OrigType      OrderType       `json:"origType"`
	Side          OrderSide       `json:"side"`
	PositionSide  PositionSide    `json:"positionSide"`
	ReduceOnly    bool            `json:"reduceOnly"`
	ClosePosition bool            `json:"closePosition"`
	TimeInForce   TimeInForce     `json:"timeInForce"`
	UpdateTime    int64           `json:"updateTime"`
}

// FillPrice is the average fill price, or the limit price when the
// exchange reports no average.
func (o *Order) FillPrice() decimal.Decimal {
	if o.AvgPrice.Sign() > 0 {
		return o.AvgPrice
	}
	return o.Price
}

// OrderParams are the caller-facing parameters for a plain order.
// Decimal fields serialise with String so the rounded precision
// survives onto the wire exactly.
type OrderParams struct {
	Symbol        string
	Side          OrderSide
	PositionSide  PositionSide
	Type          OrderType
	Quantity      decimal.Decimal
	Price         decimal.Decimal
	TimeInForce   TimeInForce
	ReduceOnly    bool
	ClosePosition bool
	ClientOrderID string
}

// AlgoOrderParams describe a conditional (trigger) order.
type AlgoOrderParams struct {
	Symbol        string
	Side          OrderSide
	PositionSide  PositionSide
	Type          OrderType
	Quantity      decimal.Decimal
	TriggerPrice  decimal.Decimal
	WorkingType   WorkingType
	ReduceOnly    bool
	PriceProtect  bool
	ClosePosition bool
	ClientAlgoID  string
}

// AlgoOrder is one pending conditional order.
type AlgoOrder struct {
	AlgoID       int64           `json:"algoId"`
	ClientAlgoID string          `json:"clientAlgoId"`
	Symbol       string          `json:"symbol"`
	Side         OrderSide       `json:"side"`
	PositionSide PositionSide    `json:"positionSide"`
	OrderType    OrderType       `json:"orderType"`
	Quantity     decimal.Decimal `json:"quantity"`
	TriggerPrice decimal.Decimal `json:"triggerPrice"`
	AlgoStatus   AlgoStatus      `json:"algoStatus"`
	BookTime     int64           `json:"bookTime"`
}

// AlgoOrderResponse acknowledges an algo place or cancel.
type AlgoOrderResponse struct {
	AlgoID       int64  `json:"algoId"`
	ClientAlgoID string `json:"clientAlgoId"`
	Success      bool   `json:"success"`
	Code         int64  `json:"code"`
	Msg          string `json:"msg"`
}

// LeverageResponse acknowledges a leverage change.
type LeverageResponse struct {
	Symbol           string `json:"symbol"`
	Leverage         int    `json:"leverage"`
	MaxNotionalValue string `json:"maxNotionalValue"`
}

// IncomeRecord is one income-history row.
type IncomeRecord struct {
	Symbol     string          `json:"symbol"`
	IncomeType string          `json:"incomeType"`
	Income     decimal.Decimal `json:"income"`
	Asset      string          `json:"asset"`
	Info       string          `json:"info"`
	Time       int64           `json:"time"`
	TranID     int64           `json:"tranId"`
}

// UserTrade is one fill from the user-trades endpoint.
type UserTrade struct {
	Symbol      string          `json:"symbol"`
	ID          int64           `json:"id"`
	OrderID     int64           `json:"orderId"`
	Side        OrderSide       `json:"side"`
	Price       decimal.Decimal `json:"price"`
	Qty         decimal.Decimal `json:"qty"`
	RealizedPnl decimal.Decimal `json:"realizedPnl"`
	Commission  decimal.Decimal `json:"commission"`
	Maker       bool            `json:"maker"`
	Time        int64           `json:"time"`
}
