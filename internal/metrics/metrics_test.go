package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	_ "github.com/mattn/go-sqlite3"
)

func TestNewMetrics_Registers(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.SignalsTotal.WithLabelValues("cross_sma_10", "BUY").Inc()
	m.SignalsTotal.WithLabelValues("cross_sma_10", "BUY").Inc()
	m.OrdersTotal.WithLabelValues("cross_sma_10", "COMPLETED").Inc()
	m.PortfolioValue.Set(100000)

	if got := testutil.ToFloat64(m.SignalsTotal.WithLabelValues("cross_sma_10", "BUY")); got != 2 {
		t.Errorf("expected 2 signals, got %v", got)
	}
	if got := testutil.ToFloat64(m.PortfolioValue); got != 100000 {
		t.Errorf("expected 100000, got %v", got)
	}
	if n := testutil.CollectAndCount(m.OrdersTotal, "backtest_orders_total"); n != 1 {
		t.Errorf("expected 1 order series, got %d", n)
	}
}

func TestServer_Endpoints(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.BarsTotal.Add(3)

	health := NewHealthStatus()
	health.SetRun("run-1", 4)
	health.SetProgress(time.Date(2021, 1, 5, 0, 0, 0, 0, time.UTC), 1)
	srv := NewServer(":0", health, reg)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "backtest_bars_total 3") {
		t.Errorf("metrics output missing bars counter:\n%s", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "healthy" || body["run_id"] != "run-1" || body["last_bar_date"] != "2021-01-05" {
		t.Errorf("unexpected health body %v", body)
	}
	if body["progress_pct"].(float64) != 25 {
		t.Errorf("expected 25%% progress, got %v", body["progress_pct"])
	}
}

func TestHealth_Failed(t *testing.T) {
	health := NewHealthStatus()
	health.SetRun("r", 1)
	health.SetFinished(errors.New("sink closed"))

	rec := httptest.NewRecorder()
	health.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"status":"failed"`) {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
}

func TestHealth_CheckSQLite(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatal(err)
	}

	h := NewHealthStatus()
	h.CheckSQLite(context.Background(), db)
	if !h.JournalOK || h.LastCheckAt.IsZero() {
		t.Errorf("expected journal ok with a check time, got ok=%v at=%v", h.JournalOK, h.LastCheckAt)
	}

	db.Close()
	h.CheckSQLite(context.Background(), db)
	if h.JournalOK {
		t.Error("expected journal not ok after the database is closed")
	}
}
