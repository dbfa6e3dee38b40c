// Package bridge serves the WebSocket protocol spoken by Expert Advisor
// clients: request/response commands over a persistent session, plus a
// periodic position_update broadcast to every connected client.
package bridge

import (
	"encoding/json"
	"time"
)

// Inbound message types.
const (
	TypeHeartbeat      = "heartbeat"
	TypeRequestSignal  = "request_signal"
	TypeExecuteTrade   = "execute_trade"
	TypeGetPositions   = "get_positions"
	TypeGetAccountInfo = "get_account_info"
	TypeClosePosition  = "close_position"
)

// Outbound message types.
const (
	TypeConnection     = "connection"
	TypeHeartbeatAck   = "heartbeat_ack"
	TypeSignal         = "signal"
	TypeTradeResult    = "trade_result"
	TypePositions      = "positions"
	TypeAccountInfo    = "account_info"
	TypeCloseResult    = "close_result"
	TypePositionUpdate = "position_update"
	TypeError          = "error"
)

// Inbound is the envelope for client messages. Fields beyond Type are
// populated per message type; unused ones stay zero.
type Inbound struct {
	Type   string          `json:"type"`
	Symbol string          `json:"symbol,omitempty"`
	Ticket string          `json:"ticket,omitempty"`
	Volume float64         `json:"volume,omitempty"` // close_position: 0 = full close
	Signal json.RawMessage `json:"signal,omitempty"`
}

// TradeRequest is the payload of an execute_trade message.
type TradeRequest struct {
	Symbol     string  `json:"symbol"`
	Direction  string  `json:"direction"`
	Confidence float64 `json:"confidence"`
}

// SignalPayload is the fused signal as sent on the wire.
type SignalPayload struct {
	Symbol     string  `json:"symbol"`
	Direction  string  `json:"direction"`
	Confidence float64 `json:"confidence"`
	Timestamp  string  `json:"timestamp"`
}

// PositionPayload is one open position as sent on the wire. Field names
// match what Expert Advisor clients already parse.
type PositionPayload struct {
	Ticket       string  `json:"ticket"`
	Symbol       string  `json:"symbol"`
	Side         string  `json:"type"`
	Volume       float64 `json:"volume"`
	EntryPrice   float64 `json:"price_open"`
	CurrentPrice float64 `json:"price_current"`
	StopLoss     float64 `json:"sl"`
	TakeProfit   float64 `json:"tp"`
	Profit       float64 `json:"profit"`
}

// AccountPayload is the account snapshot as sent on the wire.
type AccountPayload struct {
	Balance    float64 `json:"balance"`
	Equity     float64 `json:"equity"`
	Profit     float64 `json:"profit"`
	Margin     float64 `json:"margin"`
	MarginFree float64 `json:"margin_free"`
	Currency   string  `json:"currency"`
	Leverage   int     `json:"leverage"`
}

// Outbound is the envelope for server messages. One struct covers every
// outbound type; omitempty keeps each frame to its own fields.
type Outbound struct {
	Type      string            `json:"type"`
	Status    string            `json:"status,omitempty"`
	Timestamp string            `json:"timestamp,omitempty"`
	Symbol    string            `json:"symbol,omitempty"`
	Signal    *SignalPayload    `json:"signal,omitempty"`
	Success   *bool             `json:"success,omitempty"`
	Ticket    string            `json:"ticket,omitempty"`
	Price     float64           `json:"price,omitempty"`
	Message   string            `json:"message,omitempty"`
	Positions []PositionPayload `json:"positions,omitempty"`
	Account   *AccountPayload   `json:"account,omitempty"`
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func boolPtr(b bool) *bool { return &b }

func errorFrame(msg string) Outbound {
	return Outbound{Type: TypeError, Message: msg, Timestamp: now()}
}
