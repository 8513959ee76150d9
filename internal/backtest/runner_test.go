package backtest

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"

	"trading-backtest/internal/logger"
	"trading-backtest/internal/metrics"
	"trading-backtest/internal/model"
	"trading-backtest/internal/strategy"
	"trading-backtest/internal/tradelog"
)

func day(n int) time.Time {
	return time.Date(2021, 1, n, 0, 0, 0, 0, time.UTC)
}

func makeBar(symbol string, n int, open, close float64) model.Bar {
	return model.Bar{Symbol: symbol, Date: day(n), Open: open, High: open, Low: close, Close: close, Volume: 1}
}

// roundTrip: SMA(2) crossed upward on day 3, downward on day 5.
func roundTrip(symbol string) model.Instrument {
	return model.Instrument{Symbol: symbol, Bars: []model.Bar{
		makeBar(symbol, 1, 10, 10),
		makeBar(symbol, 2, 10, 10),
		makeBar(symbol, 3, 12, 12),
		makeBar(symbol, 4, 13, 13),
		makeBar(symbol, 5, 9, 9),
		makeBar(symbol, 6, 8, 8),
	}}
}

type fakeJournal struct {
	runIDs []string
	orders []model.Order
}

func (f *fakeJournal) RecordOrder(_ context.Context, runID string, o model.Order) error {
	f.runIDs = append(f.runIDs, runID)
	f.orders = append(f.orders, o)
	return nil
}

func newRunner(t *testing.T, cfg Config) (*Runner, *tradelog.MemorySink) {
	t.Helper()
	sink := tradelog.NewMemorySink()
	r, err := New(cfg, sink)
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	return r, sink
}

func smallConfig() Config {
	return Config{
		InitialCapital: 1000,
		Variants:       []strategy.Variant{strategy.PriceCross(2)},
		Params:         strategy.Params{InvestmentFraction: 0.5},
	}
}

func TestRun_RoundTrip(t *testing.T) {
	r, sink := newRunner(t, smallConfig())
	j := &fakeJournal{}
	r.WithJournal(j)

	ctx := logger.WithRunID(context.Background(), "run-1")
	res, err := r.Run(ctx, []model.Instrument{roundTrip("X")})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	want := []string{
		"2021-01-01, INITIAL PORTFOLIO VALUE: 1000.00",
		"2021-01-04, BUY EXECUTED, STRATEGY: cross_sma_2, ID: 1, ASSET: X, PRICE: 13.00, COST: 533.00, QUANTITY: 41, 50.00% OF PORTFOLIO USED",
		"2021-01-06, SELL EXECUTED, STRATEGY: cross_sma_2, ID: 2, ASSET: X, PRICE: 8.00, VALUE: 328.00, QUANTITY: 41",
		"2021-01-06, TRADE CLOSED, STRATEGY: cross_sma_2, ASSET: X, PNL: -205.00, PORTFOLIO VALUE: 795.00",
		"2021-01-06, FINAL PORTFOLIO VALUE: 795.00",
	}
	got := sink.Lines()
	if len(got) != len(want) {
		t.Fatalf("expected %d lines, got %d:\n%s", len(want), len(got), strings.Join(got, "\n"))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("line %d:\n got %s\nwant %s", i, got[i], want[i])
		}
	}

	if res.RunID != "run-1" || res.Steps != 6 || res.Bars != 6 {
		t.Errorf("unexpected result header %+v", res)
	}
	if !res.FinalValue.Equal(decimal.NewFromInt(795)) || !res.Cash.Equal(decimal.NewFromInt(795)) {
		t.Errorf("unexpected final value %s / cash %s", res.FinalValue, res.Cash)
	}
	if !res.RealizedPnL["cross_sma_2"].Equal(decimal.NewFromInt(-205)) {
		t.Errorf("unexpected realized pnl %v", res.RealizedPnL)
	}
	if res.Orders[model.StatusCompleted] != 2 {
		t.Errorf("expected 2 completed orders, got %v", res.Orders)
	}
	if len(res.Positions) != 0 {
		t.Errorf("expected flat book, got %+v", res.Positions)
	}
	if !res.Return().Equal(decimal.RequireFromString("-0.205")) {
		t.Errorf("unexpected return %s", res.Return())
	}

	if len(j.orders) != 2 || j.runIDs[0] != "run-1" || j.orders[1].Intent.Side != model.SideSell {
		t.Errorf("unexpected journal %+v", j.orders)
	}
}

func TestRun_CancelsPendingAtEnd(t *testing.T) {
	inst := roundTrip("X")
	inst.Bars = inst.Bars[:3] // buy signal on the last day
	r, sink := newRunner(t, smallConfig())

	res, err := r.Run(context.Background(), []model.Instrument{inst})
	if err != nil {
		t.Fatal(err)
	}
	lines := sink.Lines()
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %v", lines)
	}
	if lines[1] != "2021-01-03, ORDER CANCELED, STRATEGY: cross_sma_2, ID: 1, ASSET: X, RESERVED FUNDS RELEASED: 492.00" {
		t.Errorf("unexpected cancel line %q", lines[1])
	}
	if !res.FinalValue.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("expected untouched capital, got %s", res.FinalValue)
	}
	if res.RunID == "" {
		t.Error("expected generated run id")
	}
}

func TestRun_Deterministic(t *testing.T) {
	insts := []model.Instrument{sine("AAA", 0), sine("BBB", 7), sine("CCC", 13)}
	cfg := Config{
		InitialCapital: 100000,
		Variants:       Variants([]int{3, 5}, 3, 8),
		Params:         strategy.Params{InvestmentFraction: 0.2, LogGeneratedOrders: true},
	}

	r, first := newRunner(t, cfg)
	res1, err := r.Run(context.Background(), insts)
	if err != nil {
		t.Fatal(err)
	}
	second := tradelog.NewMemorySink()
	r2, _ := New(cfg, second)
	res2, err := r2.Run(context.Background(), insts)
	if err != nil {
		t.Fatal(err)
	}

	a, b := first.Lines(), second.Lines()
	if len(a) != len(b) {
		t.Fatalf("runs differ in length: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("line %d differs:\n%s\n%s", i, a[i], b[i])
		}
	}
	if !res1.FinalValue.Equal(res2.FinalValue) {
		t.Errorf("final values differ: %s vs %s", res1.FinalValue, res2.FinalValue)
	}
	if res1.Orders[model.StatusCompleted] == 0 {
		t.Error("expected the oscillating series to trade")
	}
	for _, e := range res1.Ledger {
		if e.Qty < 0 {
			t.Errorf("negative holding %+v", e)
		}
	}
}

// sine is a deterministic oscillating series with a phase offset.
func sine(symbol string, phase int) model.Instrument {
	pattern := []float64{100, 103, 107, 110, 108, 104, 99, 95, 92, 94, 98, 102}
	bars := make([]model.Bar, 0, 60)
	for i := 0; i < 60; i++ {
		c := pattern[(i+phase)%len(pattern)]
		o := pattern[(i+phase+len(pattern)-1)%len(pattern)]
		d := day(1).AddDate(0, 0, i)
		bars = append(bars, model.Bar{Symbol: symbol, Date: d, Open: o, High: c + 1, Low: c - 1, Close: c})
	}
	return model.Instrument{Symbol: symbol, Bars: bars}
}

func TestRun_LedgerNeverNegativeAcrossStrategies(t *testing.T) {
	insts := []model.Instrument{sine("AAA", 0), sine("BBB", 5)}
	cfg := Config{
		InitialCapital: 5000,
		Variants:       Variants([]int{2, 4}, 2, 6),
		Params:         strategy.Params{InvestmentFraction: 1, SellQuantity: 3},
	}
	r, sink := newRunner(t, cfg)
	res, err := r.Run(context.Background(), insts)
	if err != nil {
		t.Fatal(err)
	}

	held := make(map[string]int64)
	for _, e := range res.Ledger {
		if e.Qty < 0 {
			t.Errorf("negative holding %+v", e)
		}
		held[e.Symbol] += e.Qty
	}
	for _, p := range res.Positions {
		if p.Qty != held[p.Symbol] {
			t.Errorf("%s: broker holds %d, ledgers sum to %d", p.Symbol, p.Qty, held[p.Symbol])
		}
	}
	if !strings.HasPrefix(sink.Lines()[0], "2021-01-01, INITIAL PORTFOLIO VALUE: 5000.00") {
		t.Errorf("unexpected first line %q", sink.Lines()[0])
	}
}

func TestRun_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	h := metrics.NewHealthStatus()

	r, _ := newRunner(t, smallConfig())
	r.WithMetrics(m, h)
	if _, err := r.Run(context.Background(), []model.Instrument{roundTrip("X")}); err != nil {
		t.Fatal(err)
	}

	if got := testutil.ToFloat64(m.StepsTotal); got != 6 {
		t.Errorf("expected 6 steps, got %v", got)
	}
	if got := testutil.ToFloat64(m.OrdersTotal.WithLabelValues("cross_sma_2", "COMPLETED")); got != 2 {
		t.Errorf("expected 2 completed orders, got %v", got)
	}
	if got := testutil.ToFloat64(m.SignalsTotal.WithLabelValues("cross_sma_2", "BUY")); got != 1 {
		t.Errorf("expected 1 buy signal, got %v", got)
	}
	if got := testutil.ToFloat64(m.LogRecordsTotal.WithLabelValues("portfolio")); got != 2 {
		t.Errorf("expected 2 portfolio records, got %v", got)
	}
	if got := testutil.ToFloat64(m.PortfolioValue); got != 795 {
		t.Errorf("expected value 795, got %v", got)
	}
	if !h.Finished || h.StepsDone != 6 {
		t.Errorf("unexpected health %+v", h)
	}
}

func TestRun_SinkFailureAborts(t *testing.T) {
	sink := tradelog.NewMemorySink()
	sink.Close()
	r, err := New(smallConfig(), sink)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.Run(context.Background(), []model.Instrument{roundTrip("X")}); !errors.Is(err, tradelog.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestRun_NoBars(t *testing.T) {
	r, _ := newRunner(t, smallConfig())
	if _, err := r.Run(context.Background(), []model.Instrument{{Symbol: "X"}}); !errors.Is(err, ErrNoBars) {
		t.Fatalf("expected ErrNoBars, got %v", err)
	}
}

func TestNew_RejectsBadConfig(t *testing.T) {
	sink := tradelog.NewMemorySink()
	tests := []struct {
		name string
		cfg  Config
	}{
		{"no capital", Config{Variants: []strategy.Variant{strategy.PriceCross(2)}, Params: strategy.Params{InvestmentFraction: 0.1}}},
		{"no strategies", Config{InitialCapital: 1, Params: strategy.Params{InvestmentFraction: 0.1}}},
		{"bad fraction", Config{InitialCapital: 1, Variants: []strategy.Variant{strategy.PriceCross(2)}}},
		{"bad golden", Config{InitialCapital: 1, Variants: []strategy.Variant{strategy.GoldenCross(30, 10)}, Params: strategy.Params{InvestmentFraction: 0.1}}},
		{"duplicate", Config{InitialCapital: 1, Variants: []strategy.Variant{strategy.PriceCross(2), strategy.PriceCross(2)}, Params: strategy.Params{InvestmentFraction: 0.1}}},
		{"negative slippage", Config{InitialCapital: 1, SlippageBps: -1, Variants: []strategy.Variant{strategy.PriceCross(2)}, Params: strategy.Params{InvestmentFraction: 0.1}}},
		{"NaN capital", Config{InitialCapital: math.NaN(), Variants: []strategy.Variant{strategy.PriceCross(2)}, Params: strategy.Params{InvestmentFraction: 0.1}}},
		{"infinite capital", Config{InitialCapital: math.Inf(1), Variants: []strategy.Variant{strategy.PriceCross(2)}, Params: strategy.Params{InvestmentFraction: 0.1}}},
		{"NaN fraction", Config{InitialCapital: 1, Variants: []strategy.Variant{strategy.PriceCross(2)}, Params: strategy.Params{InvestmentFraction: math.NaN()}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.cfg, sink); err == nil {
				t.Error("expected error")
			}
		})
	}
	if n := len(sink.Records()); n != 0 {
		t.Errorf("rejected configs wrote %d records", n)
	}
}

func TestVariants(t *testing.T) {
	cfg := Config{Variants: Variants([]int{10, 30}, 10, 30)}
	got := cfg.Strategies()
	want := []string{"cross_sma_10", "cross_sma_30", "golden_cross_10_30"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("expected %v, got %v", want, got)
			break
		}
	}
}
