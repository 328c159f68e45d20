// Package aggregate turns the flat transaction table into the date-indexed
// series the dashboard charts: daily totals, period-over-period evolution
// and the per-institution pivot.
package aggregate

import (
	"sort"

	"github.com/shopspring/decimal"

	"financas/internal/core"
)

// Rolling window lengths, in periods.
const (
	ShortWindow = 6
	LongWindow  = 12
)

// DailyTotals groups transactions by date and sums their amounts.
// The result is ordered by ascending date with one row per distinct date.
func DailyTotals(txs []core.Transaction) []core.DailyTotal {
	sums := make(map[core.Date]decimal.Decimal, len(txs))
	for _, tx := range txs {
		sums[tx.Date] = sums[tx.Date].Add(tx.Amount)
	}

	out := make([]core.DailyTotal, 0, len(sums))
	for d, total := range sums {
		out = append(out, core.DailyTotal{Date: d, Total: total})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

// Evolution derives the delta, relative delta and their rolling statistics
// for an ordered series of totals.
func Evolution(totals []core.DailyTotal) []core.EvolutionRow {
	rows := make([]core.EvolutionRow, len(totals))
	deltas := make([]decimal.NullDecimal, len(totals))
	rel := make([]decimal.NullDecimal, len(totals))

	for i, t := range totals {
		if i > 0 {
			prev := totals[i-1].Total
			deltas[i] = core.Some(t.Total.Sub(prev))
			if !prev.IsZero() {
				rel[i] = core.Some(t.Total.Div(prev).Sub(decimal.NewFromInt(1)))
			}
		}
		rows[i] = core.EvolutionRow{
			DailyTotal:     t,
			Delta:          deltas[i],
			DeltaMean6:     RollingMean(deltas, i, ShortWindow),
			DeltaMean12:    RollingMean(deltas, i, LongWindow),
			DeltaSum6:      RollingSum(deltas, i, ShortWindow),
			DeltaSum12:     RollingSum(deltas, i, LongWindow),
			RelDelta:       rel[i],
			RelDeltaMean6:  RollingMean(rel, i, ShortWindow),
			RelDeltaMean12: RollingMean(rel, i, LongWindow),
		}
	}
	return rows
}

// RollingSum sums the w values ending at index i. It is null unless the
// window is complete and every value in it is defined.
func RollingSum(values []decimal.NullDecimal, i, w int) decimal.NullDecimal {
	if w <= 0 || i < w-1 || i >= len(values) {
		return core.Null()
	}
	sum := decimal.Zero
	for _, v := range values[i-w+1 : i+1] {
		if !v.Valid {
			return core.Null()
		}
		sum = sum.Add(v.Decimal)
	}
	return core.Some(sum)
}

// RollingMean averages the w values ending at index i, with the same
// completeness rule as RollingSum.
func RollingMean(values []decimal.NullDecimal, i, w int) decimal.NullDecimal {
	sum := RollingSum(values, i, w)
	if !sum.Valid {
		return sum
	}
	return core.Some(sum.Decimal.Div(decimal.NewFromInt(int64(w))))
}

// BalanceAt returns the total of the last row dated on or before d.
func BalanceAt(totals []core.DailyTotal, d core.Date) (decimal.Decimal, bool) {
	idx := sort.Search(len(totals), func(i int) bool { return totals[i].Date.After(d) })
	if idx == 0 {
		return decimal.Zero, false
	}
	return totals[idx-1].Total, true
}

// TotalOn returns the total recorded exactly on d.
func TotalOn(totals []core.DailyTotal, d core.Date) decimal.NullDecimal {
	idx := sort.Search(len(totals), func(i int) bool { return !totals[i].Date.Before(d) })
	if idx < len(totals) && totals[idx].Date.Equal(d) {
		return core.Some(totals[idx].Total)
	}
	return core.Null()
}
