// Package outbox is the append-only order journal. Every order sent to the
// venue is recorded before submission and its outcome recorded after, so a
// restart can tell what was already attempted. The idempotency-key scan backs
// the duplicate-entry guard in the trading loop.
package outbox

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Order is the journal record of one submission attempt.
type Order struct {
	ID             string    `json:"id"`
	Symbol         string    `json:"symbol"`
	Side           string    `json:"side"`
	Volume         float64   `json:"volume"`
	Confidence     float64   `json:"confidence"`
	IdempotencyKey string    `json:"idempotency_key"`
	Timestamp      time.Time `json:"timestamp"`
}

// Result is the journal record of the venue's answer to an Order.
type Result struct {
	OrderID   string    `json:"order_id"`
	Ticket    string    `json:"ticket,omitempty"`
	FillPrice float64   `json:"fill_price,omitempty"`
	Success   bool      `json:"success"`
	ErrorCode int       `json:"error_code,omitempty"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type entry struct {
	Type  string          `json:"type"`
	Data  json.RawMessage `json:"data"`
	Event time.Time       `json:"event"`
}

// Journal appends JSONL entries to a single file. The mutex serializes
// writers; readers re-scan the file, which stays small enough at trading
// cadence that an index is not worth carrying.
type Journal struct {
	mu           sync.Mutex
	path         string
	dedupeWindow time.Duration
}

func New(path string, dedupeWindowSecs int) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}
	return &Journal{
		path:         path,
		dedupeWindow: time.Duration(dedupeWindowSecs) * time.Second,
	}, nil
}

// NewOrder builds a journal order with a fresh ID for one submission attempt.
func NewOrder(symbol, side string, volume, confidence float64) Order {
	return Order{
		ID:             uuid.New().String(),
		Symbol:         symbol,
		Side:           side,
		Volume:         volume,
		Confidence:     confidence,
		IdempotencyKey: IdempotencyKey(symbol, side),
		Timestamp:      time.Now().UTC(),
	}
}

// IdempotencyKey identifies an order intent for dedupe purposes. Two orders
// for the same symbol and side inside the dedupe window are the same intent.
func IdempotencyKey(symbol, side string) string {
	return symbol + ":" + side
}

func (j *Journal) WriteOrder(order Order) error {
	return j.append("order", order)
}

func (j *Journal) WriteResult(res Result) error {
	return j.append("result", res)
}

func (j *Journal) append(typ string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal journal %s: %w", typ, err)
	}
	line, err := json.Marshal(entry{Type: typ, Data: raw, Event: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal journal entry: %w", err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	f, err := os.OpenFile(j.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append journal: %w", err)
	}
	return nil
}

// HasRecentOrder reports whether an order with this idempotency key was
// journaled inside the dedupe window. A missing journal means no.
func (j *Journal) HasRecentOrder(idempotencyKey string) (bool, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	f, err := os.Open(j.path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("open journal: %w", err)
	}
	defer f.Close()

	cutoff := time.Now().UTC().Add(-j.dedupeWindow)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var e entry
		if err := json.Unmarshal(line, &e); err != nil {
			continue // partial or corrupt line from a crashed write
		}
		if e.Type != "order" || e.Event.Before(cutoff) {
			continue
		}
		var order Order
		if err := json.Unmarshal(e.Data, &order); err != nil {
			continue
		}
		if order.IdempotencyKey == idempotencyKey {
			return true, nil
		}
	}
	if err := sc.Err(); err != nil {
		return false, fmt.Errorf("scan journal: %w", err)
	}
	return false, nil
}
