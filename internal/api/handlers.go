package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/zeromicro/go-zero/rest/httpx"

	"openbook-indexer/internal/logic/core"
	"openbook-indexer/internal/logic/store"
)

type errorResponse struct {
	Error string `json:"error"`
}

type indexResponse struct {
	Name      string            `json:"name"`
	Version   string            `json:"version"`
	Endpoints map[string]string `json:"endpoints"`
	Examples  map[string]string `json:"examples"`
}

type marketsResponse struct {
	Markets []core.Market `json:"markets"`
}

type tradesResponse struct {
	Count  int                `json:"count"`
	Total  int                `json:"total"`
	Trades []*core.TradeEvent `json:"trades"`
}

type statsResponse struct {
	TotalTransactions int            `json:"totalTransactions"`
	TotalMarkets      int            `json:"totalMarkets"`
	ByType            map[string]int `json:"byType"`
	ByMarket          map[string]int `json:"byMarket"`
}

type marketResponse struct {
	Market       core.Market        `json:"market"`
	TradesCount  int                `json:"tradesCount"`
	RecentTrades []*core.TradeEvent `json:"recentTrades"`
}

type healthResponse struct {
	Status    string `json:"status"`
	Slot      uint64 `json:"slot"`
	ChainSlot uint64 `json:"chainSlot,omitempty"`
	UptimeSec int64  `json:"uptimeSec"`
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	base := s.baseURL(r)
	httpx.OkJson(w, indexResponse{
		Name:    apiName,
		Version: apiVersion,
		Endpoints: map[string]string{
			"GET /":        "API documentation",
			"GET /markets": "List all markets",
			"GET /trades?market=<address>&type=<type>&limit=<n>": "List trades",
			"GET /stats":           "Get statistics",
			"GET /market/:address": "Get market details with trades",
			"GET /health":          "Liveness and last processed slot",
			"GET /metrics":         "Prometheus metrics",
		},
		Examples: map[string]string{
			"allMarkets":   base + "/markets",
			"allTrades":    base + "/trades",
			"marketTrades": base + "/trades?market=<address>",
			"placeOrders":  base + "/trades?type=PlaceOrder",
			"stats":        base + "/stats",
		},
	})
}

func (s *Server) handleMarkets(w http.ResponseWriter, _ *http.Request) {
	httpx.OkJson(w, marketsResponse{Markets: s.markets.List()})
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	trades, total := s.trades.Query(store.Filter{
		Market: q.Get("market"),
		Type:   q.Get("type"),
		Limit:  s.parseLimit(q.Get("limit")),
	})
	httpx.OkJson(w, tradesResponse{Count: len(trades), Total: total, Trades: trades})
}

// parseLimit 非数字或非正数时使用默认值
func (s *Server) parseLimit(raw string) int {
	def := s.conf.DefaultLimit
	if def <= 0 {
		def = store.DefaultLimit
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	total, byType, byMarket := s.trades.Stats(s.markets)
	httpx.OkJson(w, statsResponse{
		TotalTransactions: total,
		TotalMarkets:      s.markets.Len(),
		ByType:            byType,
		ByMarket:          byMarket,
	})
}

func (s *Server) handleMarket(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]
	market, ok := s.markets.Get(address)
	if !ok {
		httpx.WriteJson(w, http.StatusNotFound, errorResponse{Error: "Market not found"})
		return
	}

	recent, count := s.trades.MarketTrades(address, recentTradesLimit)
	httpx.OkJson(w, marketResponse{Market: market, TradesCount: count, RecentTrades: recent})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{
		Status:    "ok",
		UptimeSec: int64(time.Since(s.started).Seconds()),
	}
	if s.slots != nil {
		resp.Slot = s.slots.LastSlot()
	}
	if s.chain != nil {
		resp.ChainSlot = s.chain.ChainSlot()
	}
	httpx.OkJson(w, resp)
}

func handleNotFound(w http.ResponseWriter, _ *http.Request) {
	httpx.WriteJson(w, http.StatusNotFound, errorResponse{Error: "Not found"})
}
