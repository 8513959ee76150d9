// Package backtest drives a simulation: it replays the bar timeline through
// the indicator engine, the strategy engines and the paper broker, and writes
// the trade log bracketed by the initial and final portfolio values.
package backtest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"trading-backtest/internal/execution"
	"trading-backtest/internal/indicator"
	"trading-backtest/internal/logger"
	"trading-backtest/internal/marketdata/replay"
	"trading-backtest/internal/metrics"
	"trading-backtest/internal/model"
	"trading-backtest/internal/strategy"
	"trading-backtest/internal/tradelog"
)

// ErrNoBars is returned when the instruments carry no bar at all.
var ErrNoBars = errors.New("backtest: no bars to replay")

// Journal persists terminal orders.
type Journal interface {
	RecordOrder(ctx context.Context, runID string, o model.Order) error
}

// Config configures a Runner.
type Config struct {
	InitialCapital float64
	SlippageBps    int64
	Variants       []strategy.Variant
	Params         strategy.Params
}

// Result summarizes a finished run.
type Result struct {
	RunID        string
	Start, End   time.Time
	Steps        int
	Bars         int
	InitialValue decimal.Decimal
	FinalValue   decimal.Decimal
	Cash         decimal.Decimal
	Positions    []model.Position
	Ledger       []strategy.LedgerEntry
	Orders       map[model.Status]int
	RealizedPnL  map[string]decimal.Decimal // by strategy
}

// Return is the relative change of portfolio value over the run.
func (r Result) Return() decimal.Decimal {
	if r.InitialValue.IsZero() {
		return decimal.Zero
	}
	return r.FinalValue.Sub(r.InitialValue).Div(r.InitialValue)
}

// Runner executes backtests. Every Run builds fresh simulator, indicator and
// strategy state, so a Runner can be reused for identical, independent runs.
type Runner struct {
	cfg     Config
	sink    tradelog.Sink
	journal Journal
	metrics *metrics.Metrics
	health  *metrics.HealthStatus
	logger  *slog.Logger
}

// New validates cfg and returns a runner writing its trade log to sink.
func New(cfg Config, sink tradelog.Sink) (*Runner, error) {
	if math.IsNaN(cfg.InitialCapital) || math.IsInf(cfg.InitialCapital, 0) || cfg.InitialCapital <= 0 {
		return nil, fmt.Errorf("initial capital must be > 0, got %v", cfg.InitialCapital)
	}
	if cfg.SlippageBps < 0 {
		return nil, fmt.Errorf("slippage must be >= 0 bps, got %d", cfg.SlippageBps)
	}
	if len(cfg.Variants) == 0 {
		return nil, errors.New("at least one strategy is required")
	}
	if err := cfg.Params.Validate(); err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(cfg.Variants))
	for _, v := range cfg.Variants {
		if err := v.Validate(); err != nil {
			return nil, err
		}
		if seen[v.Name()] {
			return nil, fmt.Errorf("strategy %s configured twice", v.Name())
		}
		seen[v.Name()] = true
	}
	if sink == nil {
		return nil, errors.New("trade log sink is required")
	}
	return &Runner{cfg: cfg, sink: sink, logger: slog.Default()}, nil
}

// WithJournal records every terminal order in j.
func (r *Runner) WithJournal(j Journal) *Runner { r.journal = j; return r }

// WithMetrics updates m and h while running. Either may be nil.
func (r *Runner) WithMetrics(m *metrics.Metrics, h *metrics.HealthStatus) *Runner {
	r.metrics = m
	r.health = h
	return r
}

// WithLogger replaces the diagnostic logger.
func (r *Runner) WithLogger(l *slog.Logger) *Runner { r.logger = l; return r }

// run is the state of one Run call.
type run struct {
	*Runner
	ctx     context.Context
	id      string
	broker  *execution.PaperBroker
	ind     *indicator.Engine
	ledger  *strategy.Ledger
	engines []*strategy.Engine
	byName  map[string]*strategy.Engine
	sink    tradelog.Sink
	orders  map[model.Status]int
}

// Run replays instruments from their first to their last bar. The run ID is
// taken from ctx (logger.WithRunID) or generated.
//
// Per trading day: pending orders are matched against the day's opens and
// their notifications dispatched; positions are marked at the close; every
// instrument's indicators are updated; every strategy evaluates every
// instrument; the resulting intents are submitted and their notifications
// dispatched. Orders still pending after the last day are canceled.
func (r *Runner) Run(ctx context.Context, instruments []model.Instrument) (Result, error) {
	steps := replay.Timeline(instruments)
	if len(steps) == 0 {
		return Result{}, ErrNoBars
	}

	id := logger.RunID(ctx)
	if id == "" {
		id = logger.NewRunID()
		ctx = logger.WithRunID(ctx, id)
	}

	st, err := r.newRun(ctx, id)
	if err != nil {
		return Result{}, err
	}

	first, last := steps[0].Date, steps[len(steps)-1].Date
	r.logger.Info("backtest starting", append(logger.LogWithRun(ctx),
		slog.Int("instruments", len(instruments)),
		slog.Int("steps", len(steps)),
		slog.String("from", first.Format(model.DateLayout)),
		slog.String("to", last.Format(model.DateLayout)),
		slog.Int("strategies", len(st.engines)),
	)...)
	if r.health != nil {
		r.health.SetRun(id, len(steps))
	}

	initial := st.broker.Value()
	if err := st.portfolioRecord(first, "INITIAL PORTFOLIO VALUE", initial); err != nil {
		return Result{}, r.fail(err)
	}

	bars := 0
	done := 0
	err = replay.Run(ctx, steps, func(s replay.Step) error {
		start := time.Now()
		if err := st.step(s); err != nil {
			return fmt.Errorf("%s: %w", s.Date.Format(model.DateLayout), err)
		}
		bars += len(s.Bars)
		done++
		if r.metrics != nil {
			r.metrics.StepsTotal.Inc()
			r.metrics.BarsTotal.Add(float64(len(s.Bars)))
			r.metrics.StepDur.Observe(time.Since(start).Seconds())
			r.metrics.PortfolioValue.Set(st.broker.Value().InexactFloat64())
			r.metrics.Cash.Set(st.broker.Cash().InexactFloat64())
		}
		if r.health != nil {
			r.health.SetProgress(s.Date, done)
		}
		return nil
	})
	if err != nil {
		return Result{}, r.fail(err)
	}

	if err := st.dispatch(st.broker.CancelPending(last)); err != nil {
		return Result{}, r.fail(err)
	}

	final := st.broker.Value()
	if err := st.portfolioRecord(last, "FINAL PORTFOLIO VALUE", final); err != nil {
		return Result{}, r.fail(err)
	}

	res := Result{
		RunID:        id,
		Start:        first,
		End:          last,
		Steps:        len(steps),
		Bars:         bars,
		InitialValue: initial,
		FinalValue:   final,
		Cash:         st.broker.Cash(),
		Positions:    st.broker.Positions(),
		Ledger:       st.ledger.Entries(),
		Orders:       st.orders,
		RealizedPnL:  make(map[string]decimal.Decimal, len(st.engines)),
	}
	for _, e := range st.engines {
		res.RealizedPnL[e.Name()] = e.PnL().GetRealizedPnL()
	}

	if r.health != nil {
		r.health.SetFinished(nil)
	}
	r.logger.Info("backtest finished", append(logger.LogWithRun(ctx),
		slog.String("initial_value", initial.StringFixed(2)),
		slog.String("final_value", final.StringFixed(2)),
		slog.String("return_pct", res.Return().Mul(decimal.NewFromInt(100)).StringFixed(2)),
		slog.Int("orders_completed", st.orders[model.StatusCompleted]),
	)...)
	return res, nil
}

func (r *Runner) fail(err error) error {
	if r.health != nil {
		r.health.SetFinished(err)
	}
	return err
}

func (r *Runner) newRun(ctx context.Context, id string) (*run, error) {
	var periods []int
	for _, v := range r.cfg.Variants {
		periods = append(periods, v.Periods()...)
	}

	st := &run{
		Runner: r,
		ctx:    ctx,
		id:     id,
		broker: execution.NewPaperBroker(decimal.NewFromFloat(r.cfg.InitialCapital), r.cfg.SlippageBps),
		ind:    indicator.NewEngine(periods),
		ledger: strategy.NewLedger(),
		byName: make(map[string]*strategy.Engine, len(r.cfg.Variants)),
		sink:   r.sink,
		orders: make(map[model.Status]int, 4),
	}
	if r.metrics != nil {
		st.sink = &meteredSink{Sink: r.sink, m: r.metrics}
	}

	for _, v := range r.cfg.Variants {
		e, err := strategy.NewEngine(v, r.cfg.Params, st.ind, st.ledger, st.broker, st.sink)
		if err != nil {
			return nil, err
		}
		st.engines = append(st.engines, e)
		st.byName[e.Name()] = e
	}
	return st, nil
}

func (st *run) step(s replay.Step) error {
	if err := st.dispatch(st.broker.Match(s.BySymbol())); err != nil {
		return err
	}

	for _, b := range s.Bars {
		st.broker.Mark(b)
	}
	for _, b := range s.Bars {
		st.ind.Update(b)
	}

	var intents []model.Intent
	for _, e := range st.engines {
		for _, b := range s.Bars {
			if in := e.OnBar(b); in != nil {
				intents = append(intents, *in)
				if st.metrics != nil {
					st.metrics.SignalsTotal.WithLabelValues(in.Strategy, string(in.Side)).Inc()
				}
			}
		}
	}

	for _, in := range intents {
		if err := st.dispatch(st.broker.Submit(in, s.Date)); err != nil {
			return err
		}
	}
	return nil
}

// dispatch delivers notifications, in order, to the strategy that created
// each order.
func (st *run) dispatch(notes []model.Order) error {
	for _, o := range notes {
		e, ok := st.byName[o.Intent.Strategy]
		if !ok {
			return fmt.Errorf("order %d: unknown strategy %q", o.Ref, o.Intent.Strategy)
		}
		if err := e.OnOrderNotify(o); err != nil {
			return fmt.Errorf("order %d: %w", o.Ref, err)
		}
		if !o.Status.Terminal() {
			continue
		}

		st.orders[o.Status]++
		if st.metrics != nil {
			st.metrics.OrdersTotal.WithLabelValues(o.Intent.Strategy, string(o.Status)).Inc()
		}
		if st.journal != nil {
			start := time.Now()
			if err := st.journal.RecordOrder(st.ctx, st.id, o); err != nil {
				return err
			}
			if st.metrics != nil {
				st.metrics.JournalWriteDur.Observe(time.Since(start).Seconds())
			}
		}
		st.logger.Debug("order resolved", append(logger.LogWithRun(st.ctx),
			slog.Int64("ref", o.Ref),
			slog.String("strategy", o.Intent.Strategy),
			slog.String("symbol", o.Intent.Symbol),
			slog.String("side", string(o.Intent.Side)),
			slog.String("status", string(o.Status)),
		)...)
	}
	return nil
}

func (st *run) portfolioRecord(date time.Time, label string, value decimal.Decimal) error {
	return st.sink.Append(model.LogRecord{
		Date: date,
		Kind: model.RecordPortfolio,
		Text: fmt.Sprintf("%s: %s", label, value.StringFixed(2)),
	})
}

// meteredSink counts records by kind.
type meteredSink struct {
	tradelog.Sink
	m *metrics.Metrics
}

func (s *meteredSink) Append(rec model.LogRecord) error {
	if err := s.Sink.Append(rec); err != nil {
		return err
	}
	s.m.LogRecordsTotal.WithLabelValues(string(rec.Kind)).Inc()
	return nil
}

// Strategies returns the run's variants by name, sorted.
func (c Config) Strategies() []string {
	out := make([]string, 0, len(c.Variants))
	for _, v := range c.Variants {
		out = append(out, v.Name())
	}
	sort.Strings(out)
	return out
}

// Variants returns the default strategy set: one price-vs-SMA cross per
// period in crossPeriods followed by the golden/death cross on short/long.
func Variants(crossPeriods []int, short, long int) []strategy.Variant {
	out := make([]strategy.Variant, 0, len(crossPeriods)+1)
	for _, p := range crossPeriods {
		out = append(out, strategy.PriceCross(p))
	}
	return append(out, strategy.GoldenCross(short, long))
}
