package ledger

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	defaultAttempts = 3
	defaultBackoff  = 25 * time.Millisecond
)

// Ledger applies trade events to a Store. Trades on the same symbol are
// serialized; trades on different symbols run concurrently.
type Ledger struct {
	store    Store
	log      zerolog.Logger
	now      func() time.Time
	attempts int
	backoff  time.Duration

	mu    sync.Mutex
	locks map[string]*symbolLock
}

type symbolLock struct {
	mu   sync.Mutex
	refs int
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithLogger sets the logger used for retry and mutation events.
func WithLogger(log zerolog.Logger) Option {
	return func(l *Ledger) { l.log = log.With().Str("component", "ledger").Logger() }
}

// WithClock overrides the clock used for LastUpdated.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithRetry sets how many times a store call is attempted and the base delay
// between attempts (doubled after each failure).
func WithRetry(attempts int, backoff time.Duration) Option {
	return func(l *Ledger) {
		if attempts < 1 {
			attempts = 1
		}
		l.attempts = attempts
		l.backoff = backoff
	}
}

// New returns a Ledger over store.
func New(store Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:    store,
		log:      zerolog.Nop(),
		now:      time.Now,
		attempts: defaultAttempts,
		backoff:  defaultBackoff,
		locks:    make(map[string]*symbolLock),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// ApplyTrade applies one event and writes the result back to the store.
// Nothing is written when the event is rejected.
func (l *Ledger) ApplyTrade(ctx context.Context, ev TradeEvent) (TradeResult, error) {
	if err := checkEvent(&ev); err != nil {
		return TradeResult{}, err
	}

	unlock := l.lock(ev.Symbol)
	defer unlock()

	var existing *Position
	err := l.retry(ctx, "get", ev.Symbol, func() error {
		var err error
		existing, err = l.store.Get(ctx, ev.Symbol)
		return err
	})
	if err != nil {
		return TradeResult{}, err
	}

	if ev.Action.Increases() {
		return l.increase(ctx, ev, existing)
	}
	return l.decrease(ctx, ev, existing)
}

func (l *Ledger) increase(ctx context.Context, ev TradeEvent, existing *Position) (TradeResult, error) {
	var p Position
	if existing == nil {
		p = Position{
			Symbol:     ev.Symbol,
			Quantity:   ev.Quantity,
			EntryPrice: ev.Price,
			CostBasis:  ev.Value(),
			Source:     ev.Source,
		}
	} else {
		p = *existing
		p.Quantity = existing.Quantity.Add(ev.Quantity)
		p.CostBasis = existing.CostBasis.Add(ev.Value())
		p.EntryPrice = p.CostBasis.Div(p.Quantity)
	}
	if ev.SignalConfidence != nil {
		p.SignalConfidence = ev.SignalConfidence
	}
	p.LastUpdated = l.now()
	p.Mark(ev.Price)

	if err := l.retry(ctx, "set", ev.Symbol, func() error {
		return l.store.Set(ctx, ev.Symbol, p)
	}); err != nil {
		return TradeResult{}, err
	}

	l.log.Debug().
		Str("symbol", ev.Symbol).
		Str("action", string(ev.Action)).
		Str("quantity", p.Quantity.String()).
		Str("entry_price", p.EntryPrice.String()).
		Msg("Position increased")

	return TradeResult{Position: &p, RealizedPL: decimal.Zero, CostBasisRemoved: decimal.Zero}, nil
}

func (l *Ledger) decrease(ctx context.Context, ev TradeEvent, existing *Position) (TradeResult, error) {
	if existing == nil {
		return TradeResult{}, &PositionNotFoundError{Symbol: ev.Symbol}
	}
	if ev.Quantity.GreaterThan(existing.Quantity) {
		return TradeResult{}, &InsufficientQuantityError{
			Symbol:    ev.Symbol,
			Requested: ev.Quantity,
			Available: existing.Quantity,
		}
	}

	// Realized P&L is proceeds less the cost basis released, so the basis
	// removed across a full close always sums to what was paid.
	closing := ev.Quantity.Equal(existing.Quantity)
	removed := existing.CostBasis
	if !closing {
		removed = existing.CostBasis.Mul(ev.Quantity).Div(existing.Quantity)
	}
	realized := ev.Value().Sub(removed)

	if closing {
		if err := l.retry(ctx, "delete", ev.Symbol, func() error {
			return l.store.Delete(ctx, ev.Symbol)
		}); err != nil {
			return TradeResult{}, err
		}
		l.log.Debug().Str("symbol", ev.Symbol).Str("realized_pl", realized.String()).Msg("Position closed")
		return TradeResult{Closed: true, RealizedPL: realized, CostBasisRemoved: removed}, nil
	}

	p := *existing
	p.Quantity = existing.Quantity.Sub(ev.Quantity)
	p.CostBasis = existing.CostBasis.Sub(removed)
	p.LastUpdated = l.now()
	p.Mark(ev.Price)

	if err := l.retry(ctx, "set", ev.Symbol, func() error {
		return l.store.Set(ctx, ev.Symbol, p)
	}); err != nil {
		return TradeResult{}, err
	}

	l.log.Debug().
		Str("symbol", ev.Symbol).
		Str("action", string(ev.Action)).
		Str("quantity", p.Quantity.String()).
		Str("realized_pl", realized.String()).
		Msg("Position reduced")

	return TradeResult{Position: &p, RealizedPL: realized, CostBasisRemoved: removed}, nil
}

// Position returns the stored position for symbol, or nil when not held.
func (l *Ledger) Position(ctx context.Context, symbol string) (*Position, error) {
	symbol = normalizeSymbol(symbol)
	var p *Position
	err := l.retry(ctx, "get", symbol, func() error {
		var err error
		p, err = l.store.Get(ctx, symbol)
		return err
	})
	return p, err
}

// Positions returns every held position.
func (l *Ledger) Positions(ctx context.Context) ([]Position, error) {
	var ps []Position
	err := l.retry(ctx, "list", "", func() error {
		var err error
		ps, err = l.store.List(ctx)
		return err
	})
	return ps, err
}

// GetPortfolio aggregates the current position set.
func (l *Ledger) GetPortfolio(ctx context.Context, startingBalance decimal.Decimal) (Portfolio, error) {
	ps, err := l.Positions(ctx)
	if err != nil {
		return Portfolio{}, err
	}
	return Aggregate(ps, startingBalance), nil
}

func (l *Ledger) lock(symbol string) func() {
	l.mu.Lock()
	sl, ok := l.locks[symbol]
	if !ok {
		sl = &symbolLock{}
		l.locks[symbol] = sl
	}
	sl.refs++
	l.mu.Unlock()

	sl.mu.Lock()
	return func() {
		sl.mu.Unlock()
		l.mu.Lock()
		sl.refs--
		if sl.refs == 0 {
			delete(l.locks, symbol)
		}
		l.mu.Unlock()
	}
}

func (l *Ledger) retry(ctx context.Context, op, symbol string, fn func() error) error {
	var err error
	for attempt := 0; attempt < l.attempts; attempt++ {
		if attempt > 0 {
			delay := l.backoff * time.Duration(1<<(attempt-1))
			l.log.Warn().
				Err(err).
				Str("op", op).
				Str("symbol", symbol).
				Int("attempt", attempt+1).
				Msg("Retrying store operation")
			select {
			case <-ctx.Done():
				return &PersistenceError{Op: op, Symbol: symbol, Attempts: attempt, Err: ctx.Err()}
			case <-time.After(delay):
			}
		}
		if err = fn(); err == nil {
			return nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return &PersistenceError{Op: op, Symbol: symbol, Attempts: attempt + 1, Err: err}
		}
	}
	l.log.Error().Err(err).Str("op", op).Str("symbol", symbol).Int("attempts", l.attempts).Msg("Store operation failed")
	return &PersistenceError{Op: op, Symbol: symbol, Attempts: l.attempts, Err: err}
}

func checkEvent(ev *TradeEvent) error {
	ev.Symbol = normalizeSymbol(ev.Symbol)
	switch {
	case ev.Symbol == "":
		return &InvalidTradeError{Reason: "symbol is empty"}
	case !ev.Action.valid():
		return &InvalidTradeError{Reason: "unknown action " + string(ev.Action)}
	case !ev.Quantity.IsPositive():
		return &InvalidTradeError{Reason: "quantity must be > 0"}
	case !ev.Price.IsPositive():
		return &InvalidTradeError{Reason: "price must be > 0"}
	}
	return nil
}

func normalizeSymbol(s string) string { return strings.ToUpper(strings.TrimSpace(s)) }
