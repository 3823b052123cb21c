package main

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/linchengweiii/sygnl/ledger"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

/* ===================== Trading service ===================== */

// InsufficientBuyingPowerError rejects a BUY/ADD whose value exceeds the
// account's remaining buying power.
type InsufficientBuyingPowerError struct {
	Mode      Mode
	Required  decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientBuyingPowerError) Error() string {
	return fmt.Sprintf("Insufficient buying power. Available: %s, required: %s",
		formatUSD(e.Available), formatUSD(e.Required))
}

// TradeNotifier is told about every applied trade.
type TradeNotifier interface {
	Publish(event string, payload any)
}

type TradingConfig struct {
	StartingBalance    map[Mode]decimal.Decimal
	EnforceBuyingPower bool
	HistoryLimit       int
	Notifier           TradeNotifier
	LedgerOptions      []ledger.Option
}

// TradeReceipt is returned for every executed trade.
type TradeReceipt struct {
	Mode      Mode               `json:"mode"`
	Trade     ledger.TradeRecord `json:"trade"`
	Position  *ledger.Position   `json:"position"`
	Closed    bool               `json:"closed"`
	Portfolio ledger.Portfolio   `json:"portfolio"`
	Message   string             `json:"message"`
}

type account struct {
	mode            Mode
	ledger          *ledger.Ledger
	history         TradeHistoryRepository
	startingBalance decimal.Decimal

	// held across the buying-power check and the apply of BUY/ADD
	mu sync.Mutex
}

// TradingService books trades into the paper or live account. Both accounts
// run the same Ledger over their own store.
type TradingService struct {
	accounts           map[Mode]*account
	enforceBuyingPower bool
	historyLimit       int
	notifier           TradeNotifier
	log                zerolog.Logger
	now                func() time.Time
}

func NewTradingService(backend Backend, cfg TradingConfig, log zerolog.Logger) *TradingService {
	s := &TradingService{
		accounts:           make(map[Mode]*account, len(modes)),
		enforceBuyingPower: cfg.EnforceBuyingPower,
		historyLimit:       cfg.HistoryLimit,
		notifier:           cfg.Notifier,
		log:                log.With().Str("component", "trading").Logger(),
		now:                time.Now,
	}
	for _, m := range modes {
		opts := append([]ledger.Option{
			ledger.WithLogger(log.With().Str("mode", string(m)).Logger()),
		}, cfg.LedgerOptions...)
		s.accounts[m] = &account{
			mode:            m,
			ledger:          ledger.New(backend.Positions(m), opts...),
			history:         backend.History(m),
			startingBalance: cfg.StartingBalance[m],
		}
	}
	return s
}

func (s *TradingService) account(mode Mode) (*account, error) {
	a, ok := s.accounts[mode]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}
	return a, nil
}

// Execute validates a raw trade payload and books it as a manual trade.
func (s *TradingService) Execute(ctx context.Context, mode Mode, raw map[string]any) (TradeReceipt, error) {
	ev, err := ledger.Validate(raw)
	if err != nil {
		return TradeReceipt{}, err
	}
	if ev.Source == "" {
		ev.Source = SourceManual
	}
	return s.ExecuteEvent(ctx, mode, ev, false)
}

// ExecuteEvent books an already validated event. History write failures are
// logged; the position change has already happened by then.
func (s *TradingService) ExecuteEvent(ctx context.Context, mode Mode, ev ledger.TradeEvent, auto bool) (TradeReceipt, error) {
	acct, err := s.account(mode)
	if err != nil {
		return TradeReceipt{}, err
	}

	if ev.Action.Increases() {
		acct.mu.Lock()
		defer acct.mu.Unlock()
		if s.enforceBuyingPower {
			pf, err := acct.ledger.GetPortfolio(ctx, acct.startingBalance)
			if err != nil {
				return TradeReceipt{}, err
			}
			if ev.Value().GreaterThan(pf.BuyingPower) {
				return TradeReceipt{}, &InsufficientBuyingPowerError{
					Mode:      mode,
					Required:  ev.Value(),
					Available: pf.BuyingPower,
				}
			}
		}
	}

	res, err := acct.ledger.ApplyTrade(ctx, ev)
	if err != nil {
		return TradeReceipt{}, err
	}

	ev.Symbol = strings.ToUpper(strings.TrimSpace(ev.Symbol))
	rec := ledger.TradeRecord{
		ID:           uuid.NewString(),
		TradeEvent:   ev,
		Value:        ev.Value(),
		RealizedPL:   res.RealizedPL,
		AutoExecuted: auto,
		Timestamp:    s.now(),
	}
	s.recordHistory(ctx, acct, rec)

	pf, err := acct.ledger.GetPortfolio(ctx, acct.startingBalance)
	if err != nil {
		return TradeReceipt{}, fmt.Errorf("trade %s applied, portfolio read failed: %w", rec.ID, err)
	}

	verb := "Executed"
	if auto {
		verb = "Auto-executed"
	}
	receipt := TradeReceipt{
		Mode:      mode,
		Trade:     rec,
		Position:  res.Position,
		Closed:    res.Closed,
		Portfolio: pf,
		Message: fmt.Sprintf("%s: %s %s shares of %s @ %s",
			verb, ev.Action, ev.Quantity.String(), ev.Symbol, formatUSD(ev.Price)),
	}

	s.log.Info().
		Str("mode", string(mode)).
		Str("trade_id", rec.ID).
		Str("symbol", ev.Symbol).
		Str("action", string(ev.Action)).
		Str("quantity", ev.Quantity.String()).
		Str("price", ev.Price.String()).
		Str("realized_pl", res.RealizedPL.String()).
		Bool("closed", res.Closed).
		Msg("Trade executed")

	if s.notifier != nil {
		s.notifier.Publish("trade", receipt)
	}
	return receipt, nil
}

func (s *TradingService) recordHistory(ctx context.Context, acct *account, rec ledger.TradeRecord) {
	if err := acct.history.Append(ctx, rec); err != nil {
		s.log.Error().Err(err).Str("mode", string(acct.mode)).Str("trade_id", rec.ID).Msg("Failed to append trade history")
		return
	}
	if s.historyLimit > 0 {
		if err := acct.history.Trim(ctx, s.historyLimit); err != nil {
			s.log.Warn().Err(err).Str("mode", string(acct.mode)).Msg("Failed to trim trade history")
		}
	}
}

func (s *TradingService) Portfolio(ctx context.Context, mode Mode) (ledger.Portfolio, error) {
	acct, err := s.account(mode)
	if err != nil {
		return ledger.Portfolio{}, err
	}
	return acct.ledger.GetPortfolio(ctx, acct.startingBalance)
}

// Position returns a PositionNotFoundError when the symbol is not held.
func (s *TradingService) Position(ctx context.Context, mode Mode, symbol string) (ledger.Position, error) {
	acct, err := s.account(mode)
	if err != nil {
		return ledger.Position{}, err
	}
	p, err := acct.ledger.Position(ctx, symbol)
	if err != nil {
		return ledger.Position{}, err
	}
	if p == nil {
		return ledger.Position{}, &ledger.PositionNotFoundError{Symbol: strings.ToUpper(strings.TrimSpace(symbol))}
	}
	return *p, nil
}

func (s *TradingService) History(ctx context.Context, mode Mode, filter ListFilter) ([]ledger.TradeRecord, error) {
	acct, err := s.account(mode)
	if err != nil {
		return nil, err
	}
	return acct.history.List(ctx, filter)
}

func (s *TradingService) StartingBalance(mode Mode) decimal.Decimal {
	if acct, ok := s.accounts[mode]; ok {
		return acct.startingBalance
	}
	return decimal.Zero
}
