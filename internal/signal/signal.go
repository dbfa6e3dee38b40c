package signal

import "time"

// Direction is a discrete trade direction.
type Direction string

const (
	Buy  Direction = "BUY"
	Sell Direction = "SELL"
	None Direction = "NONE"
)

// Agrees reports whether two directions are the same actionable side.
func (d Direction) Agrees(other Direction) bool {
	return d != None && d == other
}

// Actionable reports whether the direction can be traded.
func (d Direction) Actionable() bool {
	return d == Buy || d == Sell
}

// Prediction is the classifier's opinion for one symbol. Confidence outside
// [0,1] is a contract violation by the predictor; the fuser clamps it.
type Prediction struct {
	Direction  Direction
	Confidence float64
}

// FusedSignal is the single combined trade decision for a symbol. Produced
// fresh on every evaluation and never persisted.
type FusedSignal struct {
	Symbol     string    `json:"symbol"`
	Direction  Direction `json:"direction"`
	Confidence float64   `json:"confidence"`
	IssuedAt   time.Time `json:"issued_at"`
}

// Actionable reports whether the signal should reach the order planner.
func (s FusedSignal) Actionable() bool {
	return s.Direction.Actionable()
}
