package execution

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"trading-backtest/internal/model"
)

func day(n int) time.Time {
	return time.Date(2021, 3, n, 0, 0, 0, 0, time.UTC)
}

func makeBar(symbol string, n int, open, close float64) model.Bar {
	return model.Bar{Symbol: symbol, Date: day(n), Open: open, High: open, Low: close, Close: close}
}

func buyIntent(symbol string, qty int64, price float64) model.Intent {
	return model.Intent{
		Strategy: "s", Symbol: symbol, Side: model.SideBuy, Qty: qty, Price: price,
		Reserved: decimal.NewFromFloat(price).Mul(decimal.NewFromInt(qty)),
		Date:     day(1),
	}
}

func statuses(notes []model.Order) []model.Status {
	out := make([]model.Status, len(notes))
	for i, n := range notes {
		out[i] = n.Status
	}
	return out
}

func TestPaperBroker_BuyFillsAtNextOpen(t *testing.T) {
	b := NewPaperBroker(decimal.NewFromInt(1000), 0)

	in := buyIntent("X", 10, 20)
	b.Reserve(in.Reserved)
	notes := b.Submit(in, day(1))
	if got := statuses(notes); len(got) != 2 || got[0] != model.StatusSubmitted || got[1] != model.StatusAccepted {
		t.Fatalf("unexpected submit notifications %v", got)
	}
	if notes[0].Ref != 1 || notes[1].Ref != 1 {
		t.Errorf("expected ref 1, got %d/%d", notes[0].Ref, notes[1].Ref)
	}
	if !b.Available().Equal(decimal.NewFromInt(800)) {
		t.Errorf("expected 800 available, got %s", b.Available())
	}

	fills := b.Match(map[string]model.Bar{"X": makeBar("X", 2, 21, 22)})
	if len(fills) != 1 || fills[0].Status != model.StatusCompleted {
		t.Fatalf("expected completion, got %v", statuses(fills))
	}
	ex := fills[0].Executed
	if ex.Price != 21 || ex.Qty != 10 || !ex.Value.Equal(decimal.NewFromInt(210)) {
		t.Errorf("unexpected execution %+v", ex)
	}
	if !fills[0].Updated.Equal(day(2)) {
		t.Errorf("expected fill dated day 2, got %s", fills[0].Updated)
	}
	if !b.Cash().Equal(decimal.NewFromInt(790)) {
		t.Errorf("expected cash 790, got %s", b.Cash())
	}
	if !b.Reserved().IsZero() {
		t.Errorf("reservation not released: %s", b.Reserved())
	}

	b.Mark(makeBar("X", 2, 21, 22))
	// 790 + 10 × 22
	if !b.Value().Equal(decimal.NewFromInt(1010)) {
		t.Errorf("expected value 1010, got %s", b.Value())
	}
}

func TestPaperBroker_WaitsForInstrumentBar(t *testing.T) {
	b := NewPaperBroker(decimal.NewFromInt(1000), 0)
	b.Submit(buyIntent("X", 1, 10), day(1))

	if fills := b.Match(map[string]model.Bar{"Y": makeBar("Y", 2, 5, 5)}); len(fills) != 0 {
		t.Fatalf("filled without a bar for X: %v", statuses(fills))
	}
	if b.Pending() != 1 {
		t.Errorf("expected order to stay pending")
	}
}

func TestPaperBroker_MarginWhenCashShort(t *testing.T) {
	b := NewPaperBroker(decimal.NewFromInt(100), 0)
	in := buyIntent("X", 10, 9)
	b.Reserve(in.Reserved)
	b.Submit(in, day(1))

	// Gap up: 10 × 12 = 120 > 100
	fills := b.Match(map[string]model.Bar{"X": makeBar("X", 2, 12, 12)})
	if len(fills) != 1 || fills[0].Status != model.StatusMargin {
		t.Fatalf("expected margin, got %v", statuses(fills))
	}
	if !b.Cash().Equal(decimal.NewFromInt(100)) {
		t.Errorf("cash changed on margin: %s", b.Cash())
	}
	if !b.Reserved().IsZero() {
		t.Errorf("reservation not released: %s", b.Reserved())
	}
}

func TestPaperBroker_Rejections(t *testing.T) {
	b := NewPaperBroker(decimal.NewFromInt(1000), 0)

	zero := buyIntent("X", 0, 10)
	if got := statuses(b.Submit(zero, day(1))); got[1] != model.StatusRejected {
		t.Errorf("expected zero-size rejection, got %v", got)
	}

	sell := model.Intent{Strategy: "s", Symbol: "X", Side: model.SideSell, Qty: 1, Price: 10, Date: day(1)}
	if got := statuses(b.Submit(sell, day(1))); got[1] != model.StatusRejected {
		t.Errorf("expected naked sell rejection, got %v", got)
	}
	if b.Pending() != 0 {
		t.Errorf("rejected orders must not stay pending")
	}
}

func TestPaperBroker_SellRoundTrip(t *testing.T) {
	b := NewPaperBroker(decimal.NewFromInt(1000), 0)
	b.Submit(buyIntent("X", 5, 10), day(1))
	b.Match(map[string]model.Bar{"X": makeBar("X", 2, 10, 10)})

	sell := model.Intent{Strategy: "s", Symbol: "X", Side: model.SideSell, Qty: 5, Price: 10, Date: day(2)}
	notes := b.Submit(sell, day(2))
	if notes[1].Status != model.StatusAccepted {
		t.Fatalf("expected accepted sell, got %s", notes[1].Status)
	}

	// A second sell of the same units is rejected while the first is pending
	if got := statuses(b.Submit(sell, day(2))); got[1] != model.StatusRejected {
		t.Errorf("expected oversell rejection, got %v", got)
	}

	fills := b.Match(map[string]model.Bar{"X": makeBar("X", 3, 12, 12)})
	if len(fills) != 1 || fills[0].Status != model.StatusCompleted {
		t.Fatalf("expected sell fill, got %v", statuses(fills))
	}
	if !b.Cash().Equal(decimal.NewFromInt(1010)) {
		t.Errorf("expected cash 1010, got %s", b.Cash())
	}
	if len(b.Positions()) != 0 {
		t.Errorf("expected flat book, got %+v", b.Positions())
	}
}

func TestPaperBroker_Slippage(t *testing.T) {
	b := NewPaperBroker(decimal.NewFromInt(10000), 50) // 0.5%
	b.Submit(buyIntent("X", 1, 100), day(1))
	fills := b.Match(map[string]model.Bar{"X": makeBar("X", 2, 100, 100)})
	if fills[0].Executed.Price != 100.5 {
		t.Errorf("expected buy at 100.5, got %v", fills[0].Executed.Price)
	}
}

func TestPaperBroker_CancelPending(t *testing.T) {
	b := NewPaperBroker(decimal.NewFromInt(1000), 0)
	a := buyIntent("A", 1, 10)
	c := buyIntent("C", 2, 10)
	b.Reserve(a.Reserved)
	b.Reserve(c.Reserved)
	b.Submit(a, day(1))
	b.Submit(c, day(1))

	notes := b.CancelPending(day(5))
	if len(notes) != 2 || notes[0].Intent.Symbol != "A" || notes[1].Intent.Symbol != "C" {
		t.Fatalf("unexpected cancellations %+v", notes)
	}
	for _, n := range notes {
		if n.Status != model.StatusCanceled || !n.Updated.Equal(day(5)) {
			t.Errorf("unexpected note %+v", n)
		}
	}
	if b.Pending() != 0 || !b.Reserved().IsZero() {
		t.Errorf("pending=%d reserved=%s after cancel", b.Pending(), b.Reserved())
	}
}
