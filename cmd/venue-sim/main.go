// venue-sim serves the terminal gateway REST API on top of the in-memory
// paper venue, for exercising gateway mode without a real terminal.
package main

import (
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/smartstocktrader/ultrabot/internal/venue"
)

func main() {
	var (
		addr    string
		balance float64
		symbols string
		bars    int
	)
	flag.StringVar(&addr, "addr", "127.0.0.1:8787", "listen address")
	flag.Float64Var(&balance, "balance", 10000, "starting balance")
	flag.StringVar(&symbols, "symbols", "AAPL,MSFT,GOOGL,AMZN,TSLA", "comma-separated symbols to seed")
	flag.IntVar(&bars, "bars", 200, "seeded candle history length")
	flag.Parse()

	sim := venue.NewSim(balance)
	for _, s := range strings.Split(symbols, ",") {
		if s = strings.TrimSpace(s); s != "" {
			sim.SeedRandomWalk(s, bars, 100)
		}
	}

	mux := http.NewServeMux()

	mux.HandleFunc("/order", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req venue.OrderRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		res, _ := sim.PlaceOrder(r.Context(), req)
		writeJSON(w, res)
	})

	mux.HandleFunc("/positions", func(w http.ResponseWriter, r *http.Request) {
		positions, _ := sim.Positions(r.Context(), r.URL.Query().Get("symbol"))
		writeJSON(w, map[string]any{"positions": positions})
	})

	mux.HandleFunc("/account", func(w http.ResponseWriter, r *http.Request) {
		acct, _ := sim.Account(r.Context())
		writeJSON(w, acct)
	})

	mux.HandleFunc("/close", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req struct {
			Ticket string  `json:"ticket"`
			Volume float64 `json:"volume"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		res, _ := sim.ClosePosition(r.Context(), req.Ticket, req.Volume)
		writeJSON(w, res)
	})

	mux.HandleFunc("/symbol/", func(w http.ResponseWriter, r *http.Request) {
		symbol := strings.TrimPrefix(r.URL.Path, "/symbol/")
		info, _ := sim.SymbolInfo(r.Context(), symbol)
		writeJSON(w, info)
	})

	mux.HandleFunc("/candles", func(w http.ResponseWriter, r *http.Request) {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		candles, err := sim.Candles(r.Context(), r.URL.Query().Get("symbol"), limit)
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		writeJSON(w, map[string]any{"candles": candles})
	})

	log.Printf("venue-sim listening on %s (symbols: %s)", addr, symbols)
	log.Fatal(http.ListenAndServe(addr, mux))
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
