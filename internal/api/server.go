// Package api 只读 HTTP 查询接口
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/zeromicro/go-zero/core/logx"
	"github.com/zeromicro/go-zero/core/threading"

	"openbook-indexer/internal/config"
	"openbook-indexer/internal/logic/core"
	"openbook-indexer/internal/logic/store"
)

const (
	apiName    = "OpenBook Indexer API"
	apiVersion = "1.0.0"

	recentTradesLimit = 10
)

// MarketReader 注册表中接口层用到的部分
type MarketReader interface {
	List() []core.Market
	Get(address string) (core.Market, bool)
	Len() int
	MarketName(address string) (string, bool)
}

// SlotReader 最近处理到的 slot，用于健康检查
type SlotReader interface {
	LastSlot() uint64
}

type ChainSlotReader interface {
	ChainSlot() uint64
}

// Server 实现 go-zero service.Service
type Server struct {
	conf    config.ApiConfig
	markets MarketReader
	trades  *store.TradeStore
	slots   SlotReader
	chain   ChainSlotReader
	started time.Time

	router  *mux.Router
	handler http.Handler
	httpSrv *http.Server
	logger  logx.Logger
}

// NewServer slots 与 chain 可为 nil
func NewServer(conf config.ApiConfig, markets MarketReader, trades *store.TradeStore, slots SlotReader, chain ChainSlotReader) *Server {
	s := &Server{
		conf:    conf,
		markets: markets,
		trades:  trades,
		slots:   slots,
		chain:   chain,
		started: time.Now(),
		router:  mux.NewRouter(),
		logger:  logx.WithContext(context.Background()).WithFields(logx.Field("service", "api")),
	}
	s.setupRoutes()

	corsMiddleware := cors.New(cors.Options{
		AllowedOrigins:       []string{"*"},
		AllowedMethods:       []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders:       []string{"Content-Type"},
		OptionsSuccessStatus: http.StatusOK,
	})
	s.handler = corsMiddleware.Handler(s.logRequests(s.recoverPanics(s.router)))
	return s
}

func (s *Server) setupRoutes() {
	// 任意路径的 OPTIONS 都返回 200 空响应
	s.router.Methods(http.MethodOptions).HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	s.router.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	s.router.HandleFunc("/markets", s.handleMarkets).Methods(http.MethodGet)
	s.router.HandleFunc("/trades", s.handleTrades).Methods(http.MethodGet)
	s.router.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	s.router.HandleFunc("/market/{address}", s.handleMarket).Methods(http.MethodGet)
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	// 方法不匹配也按 404 处理
	s.router.NotFoundHandler = http.HandlerFunc(handleNotFound)
	s.router.MethodNotAllowedHandler = http.HandlerFunc(handleNotFound)
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start 监听端口后立即返回，监听失败时记录错误
func (s *Server) Start() {
	ln, err := net.Listen("tcp", s.conf.Listen)
	if err != nil {
		s.logger.Errorf("[API] 监听 %s 失败: %v", s.conf.Listen, err)
		return
	}
	s.httpSrv = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Infof("[API] 服务已启动: http://%s", ln.Addr())

	threading.GoSafe(func() {
		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Errorf("[API] 服务异常退出: %v", err)
		}
	})
}

func (s *Server) Stop() {
	if s.httpSrv == nil {
		return
	}
	timeout := time.Duration(s.conf.ShutdownTimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Errorf("[API] 关闭超时: %v", err)
		return
	}
	s.logger.Infof("[API] 已关闭")
}

func (s *Server) baseURL(r *http.Request) string {
	host := r.Host
	if host == "" {
		host = s.conf.Listen
	}
	return fmt.Sprintf("http://%s", host)
}
