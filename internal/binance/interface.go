package binance

import "github.com/shopspring/decimal"

// Exchange defines the slice of the futures REST surface the trading core
// consumes. *Client is the production implementation; tests substitute mocks.
type Exchange interface {
	// ==================== MARKET DATA ====================

	// ExchangeInfoCached returns exchange info, served from a TTL cache
	ExchangeInfoCached() (*ExchangeInfo, error)

	// SymbolRulesCached returns tick/step filters for a symbol, served from a TTL cache
	SymbolRulesCached(symbol string) (*SymbolRules, error)

	// GetKlines retrieves candlestick data. startMs/endMs in milliseconds, 0 to ignore;
	// limit 0 leaves the server default
	GetKlines(symbol, interval string, startMs, endMs int64, limit int) ([]Kline, error)

	// GetTickerPrice retrieves the latest traded price for a symbol
	GetTickerPrice(symbol string) (*TickerPrice, error)

	// GetPremiumIndex retrieves mark price, index price and funding data for a symbol
	GetPremiumIndex(symbol string) (*PremiumIndex, error)

	// ==================== ORDERS ====================

	// PlaceOrder places a new futures order
	PlaceOrder(p OrderParams) (*Order, error)

	// PlaceMarketClose places a reduce-only MARKET order that closes quantity of a position
	PlaceMarketClose(symbol string, side OrderSide, positionSide PositionSide, quantity decimal.Decimal, clientOrderID string) (*Order, error)

	// QueryOrder retrieves a specific order by exchange id
	QueryOrder(symbol string, orderID int64) (*Order, error)

	// CancelOrder cancels a resting order
	CancelOrder(symbol string, orderID int64) (*Order, error)

	// GetOpenOrders retrieves open orders for a symbol (empty string for all symbols)
	GetOpenOrders(symbol string) ([]Order, error)

	// ==================== ALGO ORDERS ====================

	// PlaceAlgoOrder places a conditional order (STOP_MARKET, TAKE_PROFIT_MARKET)
	PlaceAlgoOrder(p AlgoOrderParams) (*AlgoOrderResponse, error)

	// CancelAlgoOrder cancels a conditional order by algo id
	CancelAlgoOrder(algoID int64) (*AlgoOrderResponse, error)

	// GetOpenAlgoOrders retrieves open conditional orders (empty string for all symbols)
	GetOpenAlgoOrders(symbol string) ([]AlgoOrder, error)

	// ==================== ACCOUNT ====================

	// GetPositionRisk retrieves position risk rows (empty string for all symbols)
	GetPositionRisk(symbol string) ([]PositionRisk, error)

	// GetBalances retrieves per-asset futures wallet balances
	GetBalances() ([]AccountBalance, error)

	// FreeUSDT returns the available USDT balance
	FreeUSDT() (decimal.Decimal, error)

	// GetAccountInfo retrieves account-level margin and PnL totals
	GetAccountInfo() (*AccountInfo, error)

	// SetLeverage sets the leverage for a symbol (1-125x)
	SetLeverage(symbol string, leverage int) (*LeverageResponse, error)

	// SetMarginType sets the margin type; "already set" responses are not errors
	SetMarginType(symbol string, marginType MarginType) error

	// GetPositionMode reports whether the account is in hedge mode
	GetPositionMode() (bool, error)

	// GetIncomeHistory retrieves income records (REALIZED_PNL, FUNDING_FEE, COMMISSION,
	// empty string for all types). startMs/endMs in milliseconds, 0 to ignore
	GetIncomeHistory(incomeType string, startMs, endMs int64, limit int) ([]IncomeRecord, error)

	// GetUserTrades retrieves account fills for a symbol. startMs/endMs in
	// milliseconds, 0 to ignore
	GetUserTrades(symbol string, startMs, endMs int64, limit int) ([]UserTrade, error)
}

// Compile-time check that the production client satisfies the interface.
var _ Exchange = (*Client)(nil)
