package venue

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/smartstocktrader/ultrabot/internal/market"
	"github.com/smartstocktrader/ultrabot/internal/observ"
)

type simPosition struct {
	ticket     string
	symbol     string
	side       Side
	volume     float64
	entryPrice float64
	stopLoss   float64
	takeProfit float64
}

// Sim is an in-memory paper venue. Prices and candles are fixtures set by the
// caller; fills are instant at the current price; closes realize PnL into the
// balance. Used for paper trading (venue mode "sim") and in tests.
type Sim struct {
	mu          sync.Mutex
	balance     float64
	prices      map[string]float64
	candles     map[string][]market.Candle
	positions   map[string]*simPosition
	constraints map[string]SymbolConstraints

	slippageBps float64
	rejectCode  int
	rejectMsg   string
}

func NewSim(startBalance float64) *Sim {
	return &Sim{
		balance:     startBalance,
		prices:      make(map[string]float64),
		candles:     make(map[string][]market.Candle),
		positions:   make(map[string]*simPosition),
		constraints: make(map[string]SymbolConstraints),
	}
}

// SetCandles installs the candle history for a symbol and moves the current
// price to the last close.
func (s *Sim) SetCandles(symbol string, candles []market.Candle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.candles[symbol] = candles
	if n := len(candles); n > 0 {
		s.prices[symbol] = candles[n-1].Close
	}
}

// SeedRandomWalk installs a synthetic random-walk history for a symbol, for
// paper trading without a market data source.
func (s *Sim) SeedRandomWalk(symbol string, bars int, start float64) {
	candles := make([]market.Candle, bars)
	price := start
	t := time.Now().UTC().Add(-time.Duration(bars) * time.Minute)
	for i := range candles {
		drift := price * 0.002 * (rand.Float64() - 0.5)
		open := price
		close := price + drift
		hi := math.Max(open, close) * (1 + rand.Float64()*0.001)
		lo := math.Min(open, close) * (1 - rand.Float64()*0.001)
		candles[i] = market.Candle{
			Time:   t.Add(time.Duration(i) * time.Minute),
			Open:   open,
			High:   hi,
			Low:    lo,
			Close:  close,
			Volume: 1000 + rand.Float64()*9000,
		}
		price = close
	}
	s.SetCandles(symbol, candles)
}

// SetPrice moves the current price for a symbol. Open positions see the new
// price on the next Positions or Account call.
func (s *Sim) SetPrice(symbol string, price float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[symbol] = price
}

// SetConstraints overrides the default trading bounds for a symbol.
func (s *Sim) SetConstraints(symbol string, c SymbolConstraints) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.Symbol = symbol
	s.constraints[symbol] = c
}

// SetSlippage makes fills move against the order by bps basis points.
func (s *Sim) SetSlippage(bps float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slippageBps = bps
}

// RejectNextOrder makes the next PlaceOrder come back as a venue rejection.
func (s *Sim) RejectNextOrder(code int, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejectCode = code
	s.rejectMsg = msg
}

func (s *Sim) constraintsFor(symbol string) SymbolConstraints {
	if c, ok := s.constraints[symbol]; ok {
		return c
	}
	return SymbolConstraints{
		Symbol:          symbol,
		MinLot:          0.01,
		MaxLot:          100,
		LotStep:         0.01,
		TickValuePerLot: 1,
		Point:           0.01,
	}
}

// profit of one position at the current price, in account currency.
func (s *Sim) profitOf(p *simPosition, price float64) float64 {
	c := s.constraintsFor(p.symbol)
	move := price - p.entryPrice
	if p.side == SideSell {
		move = -move
	}
	return move * p.volume * c.TickValuePerLot
}

func (s *Sim) PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.rejectCode != 0 {
		res := OrderResult{ErrorCode: s.rejectCode, Message: s.rejectMsg}
		s.rejectCode, s.rejectMsg = 0, ""
		return res, nil
	}

	price, ok := s.prices[req.Symbol]
	if !ok {
		return OrderResult{ErrorCode: 4106, Message: "unknown symbol " + req.Symbol}, nil
	}
	c := s.constraintsFor(req.Symbol)
	if req.Volume < c.MinLot || req.Volume > c.MaxLot {
		return OrderResult{
			ErrorCode: 4063,
			Message:   fmt.Sprintf("volume %.2f outside [%.2f, %.2f]", req.Volume, c.MinLot, c.MaxLot),
		}, nil
	}

	if s.slippageBps != 0 {
		slip := price * s.slippageBps / 10000
		if req.Side == SideBuy {
			price += slip
		} else {
			price -= slip
		}
	}

	pos := &simPosition{
		ticket:     uuid.New().String(),
		symbol:     req.Symbol,
		side:       req.Side,
		volume:     req.Volume,
		entryPrice: price,
		stopLoss:   req.StopLoss,
		takeProfit: req.TakeProfit,
	}
	s.positions[pos.ticket] = pos

	observ.Log("sim_fill", map[string]any{
		"ticket": pos.ticket, "symbol": req.Symbol, "side": req.Side,
		"volume": req.Volume, "price": price,
	})
	return OrderResult{Success: true, Ticket: pos.ticket, Price: price}, nil
}

func (s *Sim) Positions(ctx context.Context, symbol string) ([]LivePosition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []LivePosition
	for _, p := range s.positions {
		if symbol != "" && p.symbol != symbol {
			continue
		}
		price := s.prices[p.symbol]
		out = append(out, LivePosition{
			Ticket:       p.ticket,
			Symbol:       p.symbol,
			Side:         p.side,
			Volume:       p.volume,
			PriceOpen:    p.entryPrice,
			PriceCurrent: price,
			StopLoss:     p.stopLoss,
			TakeProfit:   p.takeProfit,
			Profit:       s.profitOf(p, price),
		})
	}
	return out, nil
}

func (s *Sim) Account(ctx context.Context) (AccountInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	open := 0.0
	for _, p := range s.positions {
		open += s.profitOf(p, s.prices[p.symbol])
	}
	return AccountInfo{
		Balance:    s.balance,
		Equity:     s.balance + open,
		Profit:     open,
		MarginFree: s.balance + open,
		Currency:   "USD",
		Leverage:   100,
	}, nil
}

// ClosePosition closes volume lots of the ticket; volume 0 or at least the
// tracked size closes it fully. Realized PnL moves into the balance.
func (s *Sim) ClosePosition(ctx context.Context, ticket string, volume float64) (CloseResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.positions[ticket]
	if !ok {
		return CloseResult{Ticket: ticket, Error: "position not found"}, nil
	}
	price := s.prices[p.symbol]

	closeVol := volume
	if closeVol <= 0 || closeVol >= p.volume {
		closeVol = p.volume
	}
	realized := s.profitOf(p, price) * (closeVol / p.volume)
	s.balance += realized

	if closeVol >= p.volume {
		delete(s.positions, ticket)
	} else {
		p.volume -= closeVol
	}

	observ.Log("sim_close", map[string]any{
		"ticket": ticket, "symbol": p.symbol, "volume": closeVol,
		"price": price, "realized": realized,
	})
	return CloseResult{Success: true, Ticket: ticket}, nil
}

func (s *Sim) SymbolInfo(ctx context.Context, symbol string) (SymbolConstraints, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.constraintsFor(symbol), nil
}

func (s *Sim) Candles(ctx context.Context, symbol string, limit int) ([]market.Candle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	candles, ok := s.candles[symbol]
	if !ok {
		return nil, fmt.Errorf("%w: no candles for %s", ErrUnavailable, symbol)
	}
	if limit > 0 && len(candles) > limit {
		candles = candles[len(candles)-limit:]
	}
	out := make([]market.Candle, len(candles))
	copy(out, candles)
	return out, nil
}
