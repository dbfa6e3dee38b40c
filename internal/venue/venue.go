// Package venue abstracts the execution venue (the brokerage terminal
// gateway). Two implementations exist: Client speaks the gateway's REST API,
// Sim is the in-memory venue used for paper trading and tests.
package venue

import (
	"context"
	"errors"
	"fmt"

	"github.com/smartstocktrader/ultrabot/internal/market"
)

// Side is the side of an order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderRequest asks the venue to open a market position.
type OrderRequest struct {
	Symbol     string  `json:"symbol"`
	Side       Side    `json:"side"`
	Volume     float64 `json:"volume"`
	Price      float64 `json:"price"` // advisory; venue may fill at market
	StopLoss   float64 `json:"stop_loss"`
	TakeProfit float64 `json:"take_profit"`
	Comment    string  `json:"comment"`
}

// OrderResult is the venue's answer to PlaceOrder. A rejection is reported
// through Success/ErrorCode, not as a Go error; errors are reserved for
// transport failures.
type OrderResult struct {
	Success   bool    `json:"success"`
	Ticket    string  `json:"ticket"`
	Price     float64 `json:"price"` // actual fill price
	ErrorCode int     `json:"error_code"`
	Message   string  `json:"message"`
}

// LivePosition is the venue's view of one open ticket.
type LivePosition struct {
	Ticket       string  `json:"ticket"`
	Symbol       string  `json:"symbol"`
	Side         Side    `json:"side"`
	Volume       float64 `json:"volume"`
	PriceOpen    float64 `json:"price_open"`
	PriceCurrent float64 `json:"price_current"`
	StopLoss     float64 `json:"sl"`
	TakeProfit   float64 `json:"tp"`
	Profit       float64 `json:"profit"`
}

// AccountInfo is a live account snapshot.
type AccountInfo struct {
	Balance    float64 `json:"balance"`
	Equity     float64 `json:"equity"`
	Profit     float64 `json:"profit"`
	Margin     float64 `json:"margin"`
	MarginFree float64 `json:"margin_free"`
	Currency   string  `json:"currency"`
	Leverage   int     `json:"leverage"`
}

// CloseResult is the venue's answer to ClosePosition.
type CloseResult struct {
	Success bool   `json:"success"`
	Ticket  string `json:"ticket"`
	Error   string `json:"error,omitempty"`
}

// SymbolConstraints are the venue-reported trading bounds for one symbol.
type SymbolConstraints struct {
	Symbol          string  `json:"symbol"`
	MinLot          float64 `json:"min_lot"`
	MaxLot          float64 `json:"max_lot"`
	LotStep         float64 `json:"lot_step"`
	TickValuePerLot float64 `json:"tick_value_per_lot"`
	Point           float64 `json:"point"`
}

// Venue is the surface the controller needs from the execution venue.
// PlaceOrder and ClosePosition are never retried by callers (duplicate-order
// risk); the read operations are idempotent and may be retried.
type Venue interface {
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	Positions(ctx context.Context, symbol string) ([]LivePosition, error) // symbol "" = all
	Account(ctx context.Context) (AccountInfo, error)
	ClosePosition(ctx context.Context, ticket string, volume float64) (CloseResult, error)
	SymbolInfo(ctx context.Context, symbol string) (SymbolConstraints, error)
	Candles(ctx context.Context, symbol string, limit int) ([]market.Candle, error)
}

// ErrUnavailable marks transport or auth failures talking to the venue.
var ErrUnavailable = errors.New("venue unavailable")

// RejectedError is a venue-side rejection of an order or close request.
type RejectedError struct {
	Op      string
	Code    int
	Message string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("venue rejected %s (code %d): %s", e.Op, e.Code, e.Message)
}
