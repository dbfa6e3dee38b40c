package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/smartstocktrader/ultrabot/internal/observ"
	"github.com/smartstocktrader/ultrabot/internal/position"
	"github.com/smartstocktrader/ultrabot/internal/signal"
	"github.com/smartstocktrader/ultrabot/internal/venue"
)

// Controller is the surface the bridge needs from the trading core. The
// trader implements it; the bridge never touches the venue or the position
// store directly.
type Controller interface {
	EvaluateSymbol(ctx context.Context, symbol string) (signal.FusedSignal, error)
	ExecuteTrade(ctx context.Context, symbol string, dir signal.Direction, confidence float64) (ticket string, fillPrice float64, err error)
	OpenPositions() []position.Position
	AccountInfo(ctx context.Context) (venue.AccountInfo, error)
	CloseTicket(ctx context.Context, ticket string, volume float64) error
}

// Config holds the bridge server settings. HeartbeatTimeout 0 disables
// stale-session reaping.
type Config struct {
	ListenAddr        string
	BroadcastInterval time.Duration
	WriteTimeout      time.Duration
	HeartbeatTimeout  time.Duration
	SendQueueSize     int
}

// Server accepts Expert Advisor WebSocket sessions, dispatches their
// commands to the Controller, and broadcasts position updates on a timer.
type Server struct {
	cfg      Config
	ctrl     Controller
	upgrader websocket.Upgrader

	mu       sync.Mutex
	sessions map[string]*session
}

func NewServer(cfg Config, ctrl Controller) *Server {
	return &Server{
		cfg:  cfg,
		ctrl: ctrl,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// EA clients connect from the local terminal, not a browser.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		sessions: make(map[string]*session),
	}
}

// Handler returns the WebSocket endpoint, exported separately so tests can
// mount it on an httptest server.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.handleWS)
}

// Run serves the bridge until ctx is canceled. The broadcast loop runs for
// the same lifetime.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{Addr: s.cfg.ListenAddr, Handler: s.Handler()}

	go s.broadcastLoop(ctx)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
		s.closeAll()
	}()

	observ.Log("bridge_listening", map[string]any{"addr": s.cfg.ListenAddr})
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		observ.Warn("bridge_upgrade_failed", map[string]any{"error": err.Error()})
		return
	}

	sess := newSession(conn, s.cfg.SendQueueSize, s.cfg.WriteTimeout)
	s.register(sess)
	defer s.unregister(sess)

	go sess.writePump()

	sess.queue(Outbound{
		Type:      TypeConnection,
		Status:    "connected",
		Timestamp: now(),
	})
	observ.Log("bridge_session_open", map[string]any{"session": sess.id, "remote": r.RemoteAddr})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				observ.Warn("bridge_read_failed", map[string]any{"session": sess.id, "error": err.Error()})
			}
			return
		}

		var in Inbound
		if err := json.Unmarshal(raw, &in); err != nil {
			// Malformed frame: report and keep the session alive.
			sess.queue(errorFrame("invalid json"))
			observ.Warn("bridge_bad_json", map[string]any{"session": sess.id})
			continue
		}
		observ.BridgeMessages.WithLabelValues(in.Type).Inc()
		s.dispatch(r.Context(), sess, in)
	}
}

func (s *Server) dispatch(ctx context.Context, sess *session, in Inbound) {
	switch in.Type {
	case TypeHeartbeat:
		sess.markHeartbeat()
		sess.queue(Outbound{Type: TypeHeartbeatAck, Timestamp: now()})

	case TypeRequestSignal:
		s.handleRequestSignal(ctx, sess, in.Symbol)

	case TypeExecuteTrade:
		s.handleExecuteTrade(ctx, sess, in.Signal)

	case TypeGetPositions:
		sess.queue(Outbound{
			Type:      TypePositions,
			Positions: positionPayloads(s.ctrl.OpenPositions()),
			Timestamp: now(),
		})

	case TypeGetAccountInfo:
		s.handleAccountInfo(ctx, sess)

	case TypeClosePosition:
		s.handleClosePosition(ctx, sess, in.Ticket, in.Volume)

	default:
		// Unknown types are logged and ignored; the session stays open.
		observ.Warn("bridge_unknown_type", map[string]any{"session": sess.id, "type": in.Type})
	}
}

func (s *Server) handleRequestSignal(ctx context.Context, sess *session, symbol string) {
	if symbol == "" {
		sess.queue(errorFrame("request_signal requires symbol"))
		return
	}
	sig, err := s.ctrl.EvaluateSymbol(ctx, symbol)
	if err != nil {
		sess.queue(errorFrame("signal evaluation failed: " + err.Error()))
		return
	}
	sess.queue(Outbound{
		Type:   TypeSignal,
		Symbol: symbol,
		Signal: &SignalPayload{
			Symbol:     sig.Symbol,
			Direction:  string(sig.Direction),
			Confidence: sig.Confidence,
			Timestamp:  sig.IssuedAt.UTC().Format(time.RFC3339),
		},
		Timestamp: now(),
	})
}

func (s *Server) handleExecuteTrade(ctx context.Context, sess *session, raw json.RawMessage) {
	var req TradeRequest
	if len(raw) == 0 || json.Unmarshal(raw, &req) != nil || req.Symbol == "" {
		sess.queue(errorFrame("execute_trade requires signal{symbol, direction, confidence}"))
		return
	}

	dir := signal.Direction(req.Direction)
	ticket, price, err := s.ctrl.ExecuteTrade(ctx, req.Symbol, dir, req.Confidence)
	res := Outbound{Type: TypeTradeResult, Symbol: req.Symbol, Timestamp: now()}
	if err != nil {
		res.Success = boolPtr(false)
		res.Message = err.Error()
	} else {
		res.Success = boolPtr(true)
		res.Ticket = ticket
		res.Price = price
	}
	sess.queue(res)
}

func (s *Server) handleAccountInfo(ctx context.Context, sess *session) {
	acct, err := s.ctrl.AccountInfo(ctx)
	if err != nil {
		sess.queue(errorFrame("account unavailable: " + err.Error()))
		return
	}
	sess.queue(Outbound{
		Type: TypeAccountInfo,
		Account: &AccountPayload{
			Balance:    acct.Balance,
			Equity:     acct.Equity,
			Profit:     acct.Profit,
			Margin:     acct.Margin,
			MarginFree: acct.MarginFree,
			Currency:   acct.Currency,
			Leverage:   acct.Leverage,
		},
		Timestamp: now(),
	})
}

func (s *Server) handleClosePosition(ctx context.Context, sess *session, ticket string, volume float64) {
	if ticket == "" {
		sess.queue(errorFrame("close_position requires ticket"))
		return
	}
	res := Outbound{Type: TypeCloseResult, Ticket: ticket, Timestamp: now()}
	if err := s.ctrl.CloseTicket(ctx, ticket, volume); err != nil {
		res.Success = boolPtr(false)
		res.Message = err.Error()
	} else {
		res.Success = boolPtr(true)
	}
	sess.queue(res)
}

// broadcastLoop pushes a position_update frame to every session on a timer.
// A session that cannot take the frame is closed; the others are unaffected.
func (s *Server) broadcastLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.BroadcastInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.cfg.HeartbeatTimeout > 0 {
				s.reapStale()
			}
			s.Broadcast(Outbound{
				Type:      TypePositionUpdate,
				Positions: positionPayloads(s.ctrl.OpenPositions()),
				Timestamp: now(),
			})
		}
	}
}

// reapStale closes sessions whose client has been silent past the heartbeat
// timeout. Each read loop unregisters its session as the connection drops.
func (s *Server) reapStale() {
	s.mu.Lock()
	var stale []*session
	for _, sess := range s.sessions {
		if sess.sinceHeartbeat() > s.cfg.HeartbeatTimeout {
			stale = append(stale, sess)
		}
	}
	s.mu.Unlock()

	for _, sess := range stale {
		observ.Warn("bridge_session_stale", map[string]any{
			"session": sess.id, "silent": sess.sinceHeartbeat().String(),
		})
		sess.close()
	}
}

// Broadcast queues one frame to every open session.
func (s *Server) Broadcast(msg Outbound) {
	s.mu.Lock()
	sessions := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	for _, sess := range sessions {
		if !sess.queue(msg) {
			observ.BridgeBroadcastErrors.Inc()
			sess.close()
		}
	}
}

// SessionCount reports the number of open sessions.
func (s *Server) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Server) register(sess *session) {
	s.mu.Lock()
	s.sessions[sess.id] = sess
	n := len(s.sessions)
	s.mu.Unlock()
	observ.BridgeSessions.Set(float64(n))
}

func (s *Server) unregister(sess *session) {
	sess.close()
	s.mu.Lock()
	delete(s.sessions, sess.id)
	n := len(s.sessions)
	s.mu.Unlock()
	observ.BridgeSessions.Set(float64(n))
	observ.Log("bridge_session_closed", map[string]any{"session": sess.id})
}

func (s *Server) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sess := range s.sessions {
		sess.close()
		delete(s.sessions, id)
	}
	observ.BridgeSessions.Set(0)
}

func positionPayloads(positions []position.Position) []PositionPayload {
	out := make([]PositionPayload, 0, len(positions))
	for _, p := range positions {
		out = append(out, PositionPayload{
			Ticket:       p.Ticket,
			Symbol:       p.Symbol,
			Side:         string(p.Side),
			Volume:       p.Volume,
			EntryPrice:   p.EntryPrice,
			CurrentPrice: p.CurrentPrice,
			StopLoss:     p.StopLoss,
			TakeProfit:   p.TakeProfit,
			Profit:       p.Profit,
		})
	}
	return out
}
