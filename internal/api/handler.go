// Package api exposes the control surface: session lifecycle, account state,
// backtests, and a websocket event stream.
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"signalist/internal/backtest"
	"signalist/internal/bot"
	"signalist/internal/broker"
	"signalist/internal/events"
	"signalist/internal/risk"
	"signalist/internal/strategy"
	"signalist/pkg/config"
	"signalist/pkg/db"
)

// Server wires HTTP endpoints around the orchestrator and the event bus.
type Server struct {
	Router       *gin.Engine
	Bus          *events.Bus
	Orchestrator *bot.Orchestrator
	Store        *db.Store
	Synthetic    broker.SyntheticConfig
	Presets      map[string]config.Preset
}

// NewServer builds the router with the full middleware stack.
func NewServer(orch *bot.Orchestrator, bus *events.Bus, store *db.Store) *Server {
	r := gin.New()

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger())
	r.Use(RateLimitMiddleware())
	r.Use(TimeoutMiddleware(30 * time.Second))
	r.Use(CORSMiddleware())

	s := &Server{
		Router:       r,
		Bus:          bus,
		Orchestrator: orch,
		Store:        store,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/ws", s.websocket)

	api := s.Router.Group("/api")
	{
		api.GET("/strategies", s.getStrategies)
		api.GET("/presets", s.getPresets)
		api.POST("/backtest", s.runBacktest)

		api.POST("/sessions", s.startSession)
		api.GET("/sessions", s.listSessions)
		api.GET("/sessions/:id", s.getSession)
		api.POST("/sessions/:id/stop", s.stopSession)
		api.GET("/sessions/:id/balance", s.getBalance)
		api.GET("/sessions/:id/positions", s.getPositions)
		api.GET("/sessions/:id/risk", s.getRiskMetrics)
		api.GET("/sessions/:id/trades", s.getSessionTrades)

		api.GET("/trades", s.getTradeHistory)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// userID resolves the caller identity. Authentication is terminated upstream;
// the trusted header carries the resolved user.
func userID(c *gin.Context) string {
	if id := c.GetHeader("X-User-ID"); id != "" {
		return id
	}
	return c.Query("user")
}

func (s *Server) getStrategies(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"strategies": strategy.Names()})
}

func (s *Server) getPresets(c *gin.Context) {
	names := make([]string, 0, len(s.Presets))
	for name := range s.Presets {
		names = append(names, name)
	}
	c.JSON(http.StatusOK, gin.H{"presets": names})
}

// sessionRequest is a StartRequest that may name a configured preset.
// Explicit request fields win over the preset's values.
type sessionRequest struct {
	bot.StartRequest
	Preset string `json:"preset"`
}

func (s *Server) startSession(c *gin.Context) {
	var body sessionRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	req := body.StartRequest
	if body.Preset != "" {
		preset, ok := s.Presets[body.Preset]
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown preset: " + body.Preset})
			return
		}
		applyPreset(&req, preset)
	}
	if req.UserID == "" {
		req.UserID = userID(c)
	}

	session, err := s.Orchestrator.Start(c.Request.Context(), req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, session.Info())
}

func applyPreset(req *bot.StartRequest, preset config.Preset) {
	if req.Strategy == "" {
		req.Strategy = preset.Strategy
	}
	if req.Symbol == "" {
		req.Symbol = preset.Symbol
	}
	if len(req.Params) == 0 {
		req.Params = preset.Params
	}
	if req.Filters == (strategy.Filters{}) {
		req.Filters = preset.Filters
	}
	if req.Limits == nil {
		req.Limits = preset.Limits
	}
}

func (s *Server) listSessions(c *gin.Context) {
	user := userID(c)
	if user == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing user"})
		return
	}
	sessions := s.Orchestrator.Sessions(user)
	infos := make([]bot.Info, 0, len(sessions))
	for _, session := range sessions {
		infos = append(infos, session.Info())
	}
	c.JSON(http.StatusOK, gin.H{"sessions": infos})
}

func (s *Server) session(c *gin.Context) (*bot.Session, bool) {
	user := userID(c)
	session, ok := s.Orchestrator.Get(user, c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return nil, false
	}
	return session, true
}

func (s *Server) getSession(c *gin.Context) {
	session, ok := s.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, session.Info())
}

func (s *Server) stopSession(c *gin.Context) {
	session, ok := s.session(c)
	if !ok {
		return
	}
	session.RequestStop()
	c.JSON(http.StatusOK, gin.H{"status": "stopping", "session": session.ID})
}

func (s *Server) getBalance(c *gin.Context) {
	session, ok := s.session(c)
	if !ok {
		return
	}
	bal, err := session.Balance(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, bal)
}

func (s *Server) getPositions(c *gin.Context) {
	session, ok := s.session(c)
	if !ok {
		return
	}
	positions, err := session.Positions(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"positions": positions})
}

func (s *Server) getRiskMetrics(c *gin.Context) {
	session, ok := s.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, session.RiskMetrics())
}

func (s *Server) getSessionTrades(c *gin.Context) {
	session, ok := s.session(c)
	if !ok {
		return
	}
	trades := session.Trades()
	if trades == nil {
		trades = []broker.TradeResult{}
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades})
}

func (s *Server) getTradeHistory(c *gin.Context) {
	if s.Store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "persistence disabled"})
		return
	}
	user := userID(c)
	if user == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing user"})
		return
	}
	trades, err := s.Store.TradeHistory(user, 200)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if trades == nil {
		trades = []broker.TradeResult{}
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades})
}

// BacktestRequest drives one simulation. Candles may be supplied inline;
// otherwise Bars synthetic candles are generated from Seed so runs stay
// reproducible.
type BacktestRequest struct {
	Symbol          string                 `json:"symbol"`
	Strategy        string                 `json:"strategy"`
	Params          strategy.Params        `json:"params"`
	Limits          *risk.Limits           `json:"limits"`
	StartingBalance float64                `json:"starting_balance"`
	RiskPercent     float64                `json:"risk_percent"`
	Class           broker.InstrumentClass `json:"class"`
	Candles         []strategy.Candle      `json:"candles"`
	Bars            int                    `json:"bars"`
	Seed            int64                  `json:"seed"`
}

func (s *Server) runBacktest(c *gin.Context) {
	var req BacktestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	strat, err := strategy.New(req.Strategy, req.Symbol, req.Params)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	candles := req.Candles
	if len(candles) == 0 {
		if req.Bars <= 0 {
			req.Bars = 500
		}
		seed := req.Seed
		if seed == 0 {
			seed = 1
		}
		candles = syntheticCandles(req.Symbol, seed, req.Bars, s.Synthetic)
	}

	limits := risk.DefaultLimits()
	if req.Limits != nil {
		limits = *req.Limits
	}
	balance := req.StartingBalance
	if balance <= 0 {
		balance = 10000
	}

	cfg := backtest.Config{
		Symbol:          req.Symbol,
		StartingBalance: balance,
		RiskPercent:     req.RiskPercent,
		Limits:          limits,
		Class:           req.Class,
	}
	result, err := backtest.Run(cfg, strat, candles)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

// syntheticCandles builds a reproducible candle series from the seeded quote
// source.
func syntheticCandles(symbol string, seed int64, bars int, cfg broker.SyntheticConfig) []strategy.Candle {
	source := broker.NewSyntheticSource(seed, cfg)
	base := time.Now().UTC().Add(-time.Duration(bars) * time.Hour).Truncate(time.Hour)
	out := make([]strategy.Candle, bars)
	prev := source.Next(symbol).Last
	for i := range out {
		tick := source.Next(symbol)
		high, low := prev, tick.Last
		if low > high {
			high, low = low, high
		}
		out[i] = strategy.Candle{
			Time:   base.Add(time.Duration(i) * time.Hour),
			Open:   prev,
			High:   high,
			Low:    low,
			Close:  tick.Last,
			Volume: tick.Volume,
		}
		prev = tick.Last
	}
	return out
}

// Start runs the HTTP server.
func (s *Server) Start(addr string) error {
	return s.Router.Run(addr)
}
