package aggregate

import (
	"testing"

	"github.com/shopspring/decimal"

	"financas/internal/core"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func tx(d core.Date, inst, amount string) core.Transaction {
	return core.Transaction{Date: d, Institution: inst, Amount: dec(amount)}
}

// monthlySeries returns n month-start totals starting at base and growing by step.
func monthlySeries(n int, base, step int64) []core.DailyTotal {
	out := make([]core.DailyTotal, n)
	start := core.NewDate(2024, 1, 1)
	for i := 0; i < n; i++ {
		out[i] = core.DailyTotal{
			Date:  start.AddMonths(i),
			Total: decimal.NewFromInt(base + step*int64(i)),
		}
	}
	return out
}

func TestDailyTotalsConservesSum(t *testing.T) {
	txs := []core.Transaction{
		tx(core.NewDate(2025, 1, 1), "Nubank", "100.10"),
		tx(core.NewDate(2025, 2, 1), "Itau", "-20.05"),
		tx(core.NewDate(2025, 1, 1), "Itau", "33.33"),
		tx(core.NewDate(2025, 3, 1), "Nubank", "0.01"),
		tx(core.NewDate(2025, 2, 1), "XP", "1000"),
	}
	totals := DailyTotals(txs)

	in := decimal.Zero
	for _, x := range txs {
		in = in.Add(x.Amount)
	}
	out := decimal.Zero
	for _, x := range totals {
		out = out.Add(x.Total)
	}
	if !in.Equal(out) {
		t.Fatalf("sum of totals %s differs from sum of transactions %s", out, in)
	}
}

func TestDailyTotalsMergesDuplicateDates(t *testing.T) {
	d := core.NewDate(2025, 5, 10)
	totals := DailyTotals([]core.Transaction{
		tx(d, "A", "10"),
		tx(d, "A", "15.5"),
		tx(core.NewDate(2025, 4, 10), "B", "1"),
	})
	if len(totals) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(totals))
	}
	if !totals[0].Date.Equal(core.NewDate(2025, 4, 10)) {
		t.Fatalf("rows should be sorted ascending, got %s first", totals[0].Date)
	}
	if !totals[1].Date.Equal(d) || !totals[1].Total.Equal(dec("25.5")) {
		t.Fatalf("duplicate date should merge to 25.5, got %s on %s", totals[1].Total, totals[1].Date)
	}
}

func TestDailyTotalsEmpty(t *testing.T) {
	if got := DailyTotals(nil); len(got) != 0 {
		t.Fatalf("expected no rows, got %d", len(got))
	}
	if got := Evolution(nil); len(got) != 0 {
		t.Fatalf("expected no evolution rows, got %d", len(got))
	}
}

func TestEvolutionThirteenMonthsConstantGrowth(t *testing.T) {
	rows := Evolution(monthlySeries(13, 1000, 100))
	if len(rows) != 13 {
		t.Fatalf("expected 13 rows, got %d", len(rows))
	}

	if rows[0].Delta.Valid || rows[0].RelDelta.Valid {
		t.Fatalf("first row has no previous total, delta must be null")
	}
	for i := 1; i < 13; i++ {
		if !rows[i].Delta.Valid || !rows[i].Delta.Decimal.Equal(dec("100")) {
			t.Fatalf("row %d delta: got %v", i, rows[i].Delta)
		}
	}

	// 12-month mean is undefined for rows 1-12 (indexes 0-11) and 100 on the 13th.
	for i := 0; i < 12; i++ {
		if rows[i].DeltaMean12.Valid {
			t.Fatalf("row %d: 12M mean should be undefined, got %s", i, rows[i].DeltaMean12.Decimal)
		}
		if rows[i].DeltaSum12.Valid {
			t.Fatalf("row %d: 12M sum should be undefined", i)
		}
	}
	if !rows[12].DeltaMean12.Valid || !rows[12].DeltaMean12.Decimal.Equal(dec("100")) {
		t.Fatalf("13th row 12M mean: got %v", rows[12].DeltaMean12)
	}
	if !rows[12].DeltaSum12.Valid || !rows[12].DeltaSum12.Decimal.Equal(dec("1200")) {
		t.Fatalf("13th row 12M sum: got %v", rows[12].DeltaSum12)
	}

	for i := 0; i < 6; i++ {
		if rows[i].DeltaMean6.Valid {
			t.Fatalf("row %d: 6M mean should be undefined", i)
		}
	}
	for i := 6; i < 13; i++ {
		if !rows[i].DeltaMean6.Valid || !rows[i].DeltaMean6.Decimal.Equal(dec("100")) {
			t.Fatalf("row %d: 6M mean got %v", i, rows[i].DeltaMean6)
		}
		if !rows[i].DeltaSum6.Valid || !rows[i].DeltaSum6.Decimal.Equal(dec("600")) {
			t.Fatalf("row %d: 6M sum got %v", i, rows[i].DeltaSum6)
		}
		if !rows[i].RelDeltaMean6.Valid {
			t.Fatalf("row %d: relative 6M mean should be defined", i)
		}
	}
}

func TestEvolutionRelativeDelta(t *testing.T) {
	rows := Evolution([]core.DailyTotal{
		{Date: core.NewDate(2025, 1, 1), Total: dec("200")},
		{Date: core.NewDate(2025, 2, 1), Total: dec("250")},
		{Date: core.NewDate(2025, 3, 1), Total: dec("0")},
		{Date: core.NewDate(2025, 4, 1), Total: dec("10")},
	})
	if !rows[1].RelDelta.Valid || !rows[1].RelDelta.Decimal.Equal(dec("0.25")) {
		t.Fatalf("250/200-1 should be 0.25, got %v", rows[1].RelDelta)
	}
	if !rows[2].RelDelta.Valid || !rows[2].RelDelta.Decimal.Equal(dec("-1")) {
		t.Fatalf("0/250-1 should be -1, got %v", rows[2].RelDelta)
	}
	if rows[3].RelDelta.Valid {
		t.Fatalf("previous total zero: relative delta must be null")
	}
	if !rows[3].Delta.Valid || !rows[3].Delta.Decimal.Equal(dec("10")) {
		t.Fatalf("absolute delta still defined, got %v", rows[3].Delta)
	}
}

func TestRollingWindowWithGap(t *testing.T) {
	vals := []decimal.NullDecimal{
		core.Some(dec("1")), core.Null(), core.Some(dec("3")), core.Some(dec("5")),
	}
	if got := RollingSum(vals, 2, 2); got.Valid {
		t.Fatalf("window containing a null must be null")
	}
	if got := RollingSum(vals, 3, 2); !got.Valid || !got.Decimal.Equal(dec("8")) {
		t.Fatalf("sum of 3 and 5: got %v", got)
	}
	if got := RollingMean(vals, 3, 2); !got.Valid || !got.Decimal.Equal(dec("4")) {
		t.Fatalf("mean of 3 and 5: got %v", got)
	}
	if got := RollingMean(vals, 0, 2); got.Valid {
		t.Fatalf("incomplete window must be null")
	}
	if got := RollingSum(vals, 9, 2); got.Valid {
		t.Fatalf("index out of range must be null")
	}
}

func TestBalanceAtAndTotalOn(t *testing.T) {
	totals := monthlySeries(3, 1000, 100) // 01/01, 01/02, 01/03 of 2024

	if _, ok := BalanceAt(totals, core.NewDate(2023, 12, 31)); ok {
		t.Fatalf("no history before the first row")
	}
	if v, ok := BalanceAt(totals, core.NewDate(2024, 2, 1)); !ok || !v.Equal(dec("1100")) {
		t.Fatalf("balance on exact date: got %s ok=%v", v, ok)
	}
	if v, ok := BalanceAt(totals, core.NewDate(2024, 2, 20)); !ok || !v.Equal(dec("1100")) {
		t.Fatalf("balance between rows takes the earlier one: got %s ok=%v", v, ok)
	}
	if v := TotalOn(totals, core.NewDate(2024, 3, 1)); !v.Valid || !v.Decimal.Equal(dec("1200")) {
		t.Fatalf("total on 01/03: got %v", v)
	}
	if v := TotalOn(totals, core.NewDate(2024, 3, 2)); v.Valid {
		t.Fatalf("no total on 02/03")
	}
}
