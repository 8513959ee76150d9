package main

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/shopspring/decimal"

	"trading-backtest/internal/backtest"
	"trading-backtest/internal/model"
	"trading-backtest/internal/notification"
)

var hundred = decimal.NewFromInt(100)

func sortedKeys(m map[string]decimal.Decimal) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func shorten(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func summaryAlert(res backtest.Result) notification.Alert {
	fields := map[string]string{
		"period":        res.Start.Format(model.DateLayout) + " .. " + res.End.Format(model.DateLayout),
		"initial_value": res.InitialValue.StringFixed(2),
		"final_value":   res.FinalValue.StringFixed(2),
		"return_pct":    res.Return().Mul(hundred).StringFixed(2),
		"orders_filled": strconv.Itoa(res.Orders[model.StatusCompleted]),
	}
	for name, pnl := range res.RealizedPnL {
		fields["pnl_"+name] = pnl.StringFixed(2)
	}

	level := notification.AlertInfo
	if res.FinalValue.LessThan(res.InitialValue) {
		level = notification.AlertWarning
	}
	return notification.Alert{
		Level:   level,
		Title:   "Backtest finished",
		Message: fmt.Sprintf("%d bars over %d trading days", res.Bars, res.Steps),
		RunID:   res.RunID,
		Fields:  fields,
	}
}

func failureAlert(runID string, err error) notification.Alert {
	return notification.Alert{
		Level:   notification.AlertCritical,
		Title:   "Backtest failed",
		Message: err.Error(),
		RunID:   runID,
	}
}
