package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/linchengweiii/sygnl/ledger"
	"github.com/rs/zerolog"
)

// ===== HTTP adapter =====

type ServerConfig struct {
	Port        int
	DevMode     bool
	BackendKind string
	Trading     *TradingService
	Signals     *SignalService
	Snapshots   SnapshotRepository
	Exchanger   CurrencyExchanger
	Hub         *StreamHub
	Log         zerolog.Logger
}

type Server struct {
	trading     *TradingService
	signals     *SignalService
	snapshots   SnapshotRepository
	exchanger   CurrencyExchanger
	hub         *StreamHub
	backendKind string
	started     time.Time

	router *chi.Mux
	server *http.Server
	log    zerolog.Logger
}

func NewServer(cfg ServerConfig) *Server {
	s := &Server{
		trading:     cfg.Trading,
		signals:     cfg.Signals,
		snapshots:   cfg.Snapshots,
		exchanger:   cfg.Exchanger,
		hub:         cfg.Hub,
		backendKind: cfg.BackendKind,
		started:     time.Now(),
		router:      chi.NewRouter(),
		log:         cfg.Log.With().Str("component", "server").Logger(),
	}
	s.routes(cfg.DevMode)
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) routes(devMode bool) {
	r := s.router
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	// long-lived, so outside the timeout group
	if s.hub != nil {
		r.Get("/api/stream", s.hub.ServeWS)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))
		if !devMode {
			r.Use(middleware.Compress(5))
		}

		r.Get("/health", s.handleHealth)
		r.Get("/api/diagnostic", s.handleDiagnostic)

		r.Get("/api/portfolio", s.handlePortfolio)
		r.Get("/api/portfolio/snapshots", s.handleSnapshots)
		r.Get("/api/positions/{symbol}", s.handlePosition)

		r.Get("/api/trades", s.handleListTrades)
		r.Post("/api/trades", s.handleCreateTrade)

		r.Get("/api/signals", s.handleSignalBoard)
		r.Post("/api/signals/execute", s.handleExecuteSignal)
		r.Get("/api/signals/experiments", s.handleExperiments)
	})
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("Starting HTTP server")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}

/* ======= System ======= */

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleDiagnostic(w http.ResponseWriter, r *http.Request) {
	cpuPct, memPct := hostStats(s.log)
	d := Diagnostic{
		Status:     "ok",
		Backend:    s.backendKind,
		CPUPercent: cpuPct,
		MemPercent: memPct,
		Uptime:     time.Since(s.started).Round(time.Second).String(),
		Time:       time.Now(),
	}
	if s.hub != nil {
		d.Subscribers = s.hub.Subscribers()
	}
	writeJSON(w, http.StatusOK, d)
}

/* ======= Portfolio ======= */

type portfolioResponse struct {
	Mode Mode `json:"mode"`
	ledger.Portfolio
	Converted *ConvertedTotals `json:"converted,omitempty"`
}

// GET /api/portfolio?mode=paper|live[&ccy=EUR]
func (s *Server) handlePortfolio(w http.ResponseWriter, r *http.Request) {
	mode, err := parseMode(r.URL.Query().Get("mode"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	pf, err := s.trading.Portfolio(r.Context(), mode)
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := portfolioResponse{Mode: mode, Portfolio: pf}
	if ccy := r.URL.Query().Get("ccy"); ccy != "" {
		out.Converted, err = convertTotals(r.Context(), s.exchanger, pf, ccy)
		if err != nil {
			s.writeError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// GET /api/portfolio/snapshots?mode=&limit=
func (s *Server) handleSnapshots(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mode, err := parseMode(q.Get("mode"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	snaps, err := s.snapshots.List(r.Context(), mode, atoiDefault(q.Get("limit"), 96))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":      mode,
		"snapshots": snaps,
		"stats":     snapshotStats(snaps),
	})
}

func (s *Server) handlePosition(w http.ResponseWriter, r *http.Request) {
	mode, err := parseMode(r.URL.Query().Get("mode"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	p, err := s.trading.Position(r.Context(), mode, chi.URLParam(r, "symbol"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

/* ======= Trades ======= */

func (s *Server) handleListTrades(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mode, err := parseMode(q.Get("mode"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	items, err := s.trading.History(r.Context(), mode, ListFilter{
		Symbol: q.Get("symbol"),
		Source: q.Get("source"),
		Limit:  atoiDefault(q.Get("limit"), 50),
		Offset: atoiDefault(q.Get("offset"), 0),
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

// POST /api/trades?mode= ; the mode may also be given in the body.
func (s *Server) handleCreateTrade(w http.ResponseWriter, r *http.Request) {
	raw, err := decodeObject(w, r)
	if err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}
	modeStr := r.URL.Query().Get("mode")
	if modeStr == "" {
		modeStr, _ = raw["mode"].(string)
	}
	mode, err := parseMode(modeStr)
	if err != nil {
		s.writeError(w, err)
		return
	}
	receipt, err := s.trading.Execute(r.Context(), mode, raw)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, receipt)
}

/* ======= Signals ======= */

func (s *Server) handleSignalBoard(w http.ResponseWriter, r *http.Request) {
	board, err := s.signals.Board(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, board)
}

func (s *Server) handleExecuteSignal(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var dto signalExecutionDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		httpError(w, http.StatusBadRequest, "invalid payload: "+err.Error())
		return
	}
	req, err := dto.toDomain()
	if err != nil {
		s.writeError(w, err)
		return
	}
	out, err := s.signals.Execute(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleExperiments(w http.ResponseWriter, r *http.Request) {
	out, err := s.signals.Experiments(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

/* ======= error mapping ======= */

func (s *Server) writeError(w http.ResponseWriter, err error) {
	var (
		missing    *ledger.MissingFieldError
		badNumber  *ledger.InvalidNumberError
		badAction  *ledger.UnknownActionError
		badTrade   *ledger.InvalidTradeError
		notFound   *ledger.PositionNotFoundError
		shortQty   *ledger.InsufficientQuantityError
		shortCash  *InsufficientBuyingPowerError
		persistErr *ledger.PersistenceError
	)
	switch {
	case errors.As(err, &missing), errors.As(err, &badNumber), errors.As(err, &badAction),
		errors.As(err, &badTrade), errors.Is(err, ErrUnknownMode), errors.Is(err, ErrUnknownCurrency):
		httpError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &notFound):
		httpError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &shortQty), errors.As(err, &shortCash):
		httpError(w, http.StatusConflict, err.Error())
	case errors.Is(err, ErrNoSignalSource), errors.Is(err, ErrNoPriceOracle), errors.Is(err, ErrNoExchanger):
		httpError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, ErrPriceLookup), errors.Is(err, ErrSignalFetch):
		httpError(w, http.StatusBadGateway, err.Error())
	case errors.As(err, &persistErr):
		s.log.Error().Err(err).Str("op", persistErr.Op).Str("symbol", persistErr.Symbol).Msg("Persistence failure")
		httpError(w, http.StatusInternalServerError, "storage unavailable, try again later")
	default:
		s.log.Error().Err(err).Msg("Request failed")
		httpError(w, http.StatusInternalServerError, "internal error")
	}
}

/* ======= small helpers ======= */

// decodeObject reads a JSON object body, keeping numbers exact.
func decodeObject(w http.ResponseWriter, r *http.Request) (map[string]any, error) {
	defer r.Body.Close()
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("invalid payload: %w", err)
	}
	if raw == nil {
		return nil, errors.New("payload must be a JSON object")
	}
	return raw, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error":  http.StatusText(status),
		"detail": msg,
	})
}

func atoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return def
	}
	return n
}

func firstNonWS(b []byte) byte {
	for _, c := range b {
		switch c {
		case ' ', '\n', '\t', '\r':
			continue
		default:
			return c
		}
	}
	return 0
}
