package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/google/subcommands"
	"github.com/linchengweiii/sygnl/ledger"
)

var commands = []subcommands.Command{
	&serveCmd{},
	&tradeCmd{},
	&portfolioCmd{},
	&historyCmd{},
}

// setup loads config and wires the app. CLI commands log pretty to stderr.
func setup(pretty bool, notifier TradeNotifier) (*app, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, err
	}
	log := newLogger(LogConfig{Level: cfg.LogLevel, Pretty: pretty || cfg.DevMode})
	setGlobalLogger(log)
	return newApp(cfg, log, notifier)
}

/* ======= serve ======= */

type serveCmd struct{}

func (*serveCmd) Name() string     { return "serve" }
func (*serveCmd) Synopsis() string { return "run the HTTP API and the snapshot scheduler" }
func (*serveCmd) Usage() string {
	return `sygnl serve

  Serves the trading API on $PORT. Configuration comes from .env,
  $SYGNL_CONFIG and the environment.
`
}
func (*serveCmd) SetFlags(*flag.FlagSet) {}

func (c *serveCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	cfg, err := LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitUsageError
	}
	log := newLogger(LogConfig{Level: cfg.LogLevel, Pretty: cfg.DevMode})
	setGlobalLogger(log)

	hub := NewStreamHub(log)
	a, err := newApp(cfg, log, hub)
	if err != nil {
		log.Error().Err(err).Msg("Failed to initialise")
		return subcommands.ExitFailure
	}
	defer a.Close()

	sched := NewScheduler(log)
	if cfg.SnapshotSchedule != "" {
		if err := sched.AddJob(cfg.SnapshotSchedule, NewSnapshotJob(a.trading, a.backend.Snapshots())); err != nil {
			log.Error().Err(err).Str("schedule", cfg.SnapshotSchedule).Msg("Invalid snapshot schedule")
			return subcommands.ExitUsageError
		}
	}
	sched.Start()
	defer sched.Stop()

	srv := NewServer(ServerConfig{
		Port:        cfg.Port,
		DevMode:     cfg.DevMode,
		BackendKind: a.backend.Kind(),
		Trading:     a.trading,
		Signals:     a.signals,
		Snapshots:   a.backend.Snapshots(),
		Exchanger:   a.exchanger,
		Hub:         hub,
		Log:         log,
	})

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("HTTP server failed")
			return subcommands.ExitFailure
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server forced to shutdown")
			return subcommands.ExitFailure
		}
	}
	log.Info().Msg("Server stopped")
	return subcommands.ExitSuccess
}

/* ======= trade ======= */

type tradeCmd struct {
	mode     string
	symbol   string
	action   string
	quantity string
	price    string
	source   string
	asJSON   bool
}

func (*tradeCmd) Name() string     { return "trade" }
func (*tradeCmd) Synopsis() string { return "book one trade against the configured backend" }
func (*tradeCmd) Usage() string {
	return `sygnl trade -symbol <sym> -action <BUY|ADD|SELL|REDUCE> -qty <n> -price <p> [-mode paper|live] [-source <s>] [-json]

  Applies a single trade and prints the receipt.
`
}

func (c *tradeCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.mode, "mode", "paper", "Account mode (paper, live)")
	f.StringVar(&c.symbol, "symbol", "", "Ticker symbol")
	f.StringVar(&c.action, "action", "", "BUY, ADD, SELL or REDUCE")
	f.StringVar(&c.quantity, "qty", "", "Number of units")
	f.StringVar(&c.price, "price", "", "Price per unit")
	f.StringVar(&c.source, "source", SourceManual, "Trade source recorded in history")
	f.BoolVar(&c.asJSON, "json", false, "Print the receipt as JSON")
}

func (c *tradeCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	mode, err := parseMode(c.mode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitUsageError
	}
	a, err := setup(true, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}
	defer a.Close()

	raw := map[string]any{
		ledger.FieldSymbol:   c.symbol,
		ledger.FieldAction:   c.action,
		ledger.FieldQuantity: c.quantity,
		ledger.FieldPrice:    c.price,
		ledger.FieldSource:   c.source,
	}
	receipt, err := a.trading.Execute(ctx, mode, raw)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitStatusFor(err)
	}
	if c.asJSON {
		return printJSON(os.Stdout, receipt)
	}
	fmt.Println(receipt.Message)
	printMarkdown(portfolioMarkdown(mode, receipt.Portfolio))
	return subcommands.ExitSuccess
}

/* ======= portfolio ======= */

type portfolioCmd struct {
	mode   string
	asJSON bool
}

func (*portfolioCmd) Name() string     { return "portfolio" }
func (*portfolioCmd) Synopsis() string { return "display positions and totals" }
func (*portfolioCmd) Usage() string {
	return `sygnl portfolio [-mode paper|live] [-json]
`
}

func (c *portfolioCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.mode, "mode", "paper", "Account mode (paper, live)")
	f.BoolVar(&c.asJSON, "json", false, "Print as JSON")
}

func (c *portfolioCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	mode, err := parseMode(c.mode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitUsageError
	}
	a, err := setup(true, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}
	defer a.Close()

	pf, err := a.trading.Portfolio(ctx, mode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}
	if c.asJSON {
		return printJSON(os.Stdout, pf)
	}
	printMarkdown(portfolioMarkdown(mode, pf))
	return subcommands.ExitSuccess
}

/* ======= history ======= */

type historyCmd struct {
	mode   string
	symbol string
	limit  int
	asJSON bool
}

func (*historyCmd) Name() string     { return "history" }
func (*historyCmd) Synopsis() string { return "list recent trades, newest first" }
func (*historyCmd) Usage() string {
	return `sygnl history [-mode paper|live] [-symbol <sym>] [-limit <n>] [-json]
`
}

func (c *historyCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.mode, "mode", "paper", "Account mode (paper, live)")
	f.StringVar(&c.symbol, "symbol", "", "Only trades for this symbol")
	f.IntVar(&c.limit, "limit", 20, "Maximum number of trades")
	f.BoolVar(&c.asJSON, "json", false, "Print as JSON")
}

func (c *historyCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	mode, err := parseMode(c.mode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitUsageError
	}
	a, err := setup(true, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}
	defer a.Close()

	recs, err := a.trading.History(ctx, mode, ListFilter{Symbol: c.symbol, Limit: c.limit})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}
	if c.asJSON {
		return printJSON(os.Stdout, recs)
	}
	printMarkdown(historyMarkdown(mode, recs))
	return subcommands.ExitSuccess
}

/* ======= output ======= */

// exitStatusFor treats caller mistakes as usage errors.
func exitStatusFor(err error) subcommands.ExitStatus {
	var (
		missing   *ledger.MissingFieldError
		badNumber *ledger.InvalidNumberError
		badAction *ledger.UnknownActionError
	)
	if errors.As(err, &missing) || errors.As(err, &badNumber) || errors.As(err, &badAction) {
		return subcommands.ExitUsageError
	}
	return subcommands.ExitFailure
}

func printJSON(w io.Writer, v any) subcommands.ExitStatus {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

func printMarkdown(md string) {
	r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(100))
	if err != nil {
		fmt.Print(md)
		return
	}
	out, err := r.Render(md)
	if err != nil {
		fmt.Print(md)
		return
	}
	fmt.Print(out)
}

func portfolioMarkdown(mode Mode, pf ledger.Portfolio) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Portfolio (%s)\n\n", mode)
	if len(pf.Positions) == 0 {
		b.WriteString("_No open positions._\n\n")
	} else {
		b.WriteString("| Symbol | Qty | Entry | Price | Value | P/L | P/L % | Alloc % |\n")
		b.WriteString("|---|--:|--:|--:|--:|--:|--:|--:|\n")
		for _, h := range pf.Positions {
			fmt.Fprintf(&b, "| %s | %s | %s | %s | %s | %s | %s%% | %s%% |\n",
				h.Symbol, h.Quantity.String(),
				formatUSD(h.EntryPrice), formatUSD(h.CurrentPrice), formatUSD(h.CurrentValue),
				formatUSD(h.UnrealizedPL), h.UnrealizedPLPercent.StringFixed(2), h.AllocationPercent.StringFixed(1))
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "- **Total value:** %s\n", formatUSD(pf.TotalValue))
	fmt.Fprintf(&b, "- **Invested:** %s\n", formatUSD(pf.TotalInvested))
	fmt.Fprintf(&b, "- **P/L:** %s (%s%%)\n", formatUSD(pf.TotalPL), pf.TotalPLPercent.StringFixed(2))
	fmt.Fprintf(&b, "- **Buying power:** %s of %s\n", formatUSD(pf.BuyingPower), formatUSD(pf.StartingBalance))
	return b.String()
}

func historyMarkdown(mode Mode, recs []ledger.TradeRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Trades (%s)\n\n", mode)
	if len(recs) == 0 {
		b.WriteString("_No trades yet._\n")
		return b.String()
	}
	b.WriteString("| Time | Action | Symbol | Qty | Price | Value | Realized | Source |\n")
	b.WriteString("|---|---|---|--:|--:|--:|--:|---|\n")
	for _, r := range recs {
		fmt.Fprintf(&b, "| %s | %s | %s | %s | %s | %s | %s | %s |\n",
			r.Timestamp.Format("2006-01-02 15:04"), r.Action, r.Symbol, r.Quantity.String(),
			formatUSD(r.Price), formatUSD(r.Value), formatUSD(r.RealizedPL), r.Source)
	}
	return b.String()
}
