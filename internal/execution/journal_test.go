package execution

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"

	"trading-backtest/internal/model"
)

func TestJournal_RecordAndRead(t *testing.T) {
	ctx := context.Background()
	j, err := NewJournal(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer j.Close()

	filled := model.Order{
		Ref:      1,
		Intent:   buyIntent("AAPL", 3, 100),
		Status:   model.StatusCompleted,
		Executed: model.Execution{Price: 101, Qty: 3, Value: decimal.NewFromInt(303)},
		Updated:  day(2),
	}
	rejected := model.Order{Ref: 2, Intent: buyIntent("MSFT", 0, 50), Status: model.StatusRejected, Updated: day(1)}

	for _, o := range []model.Order{filled, rejected} {
		if err := j.RecordOrder(ctx, "run-1", o); err != nil {
			t.Fatalf("record %d: %v", o.Ref, err)
		}
	}
	if err := j.RecordOrder(ctx, "run-2", filled); err != nil {
		t.Fatal(err)
	}

	rows, err := j.GetOrders(ctx, "run-1")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows for run-1, got %d", len(rows))
	}
	r := rows[0]
	if r.OrderRef != 1 || r.Symbol != "AAPL" || r.Status != "COMPLETED" || r.FillQty != 3 || r.FillValue != "303" {
		t.Errorf("unexpected row %+v", r)
	}
	if r.CreatedOn != "2021-03-01" || r.ResolvedOn != "2021-03-02" {
		t.Errorf("unexpected dates %s/%s", r.CreatedOn, r.ResolvedOn)
	}
	if rows[1].Status != "REJECTED" {
		t.Errorf("expected REJECTED, got %s", rows[1].Status)
	}
}
