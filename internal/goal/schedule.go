package goal

import (
	"github.com/shopspring/decimal"

	"financas/internal/aggregate"
	"financas/internal/core"
)

// MonthlyIncrement is the per-month slice of the annual goal, rounded to cents.
func MonthlyIncrement(annualGoal decimal.Decimal) decimal.Decimal {
	return annualGoal.Div(twelve).RoundBank(2)
}

// Schedule builds the 12 month attainment table. Month i targets
// starting + increment*i and is joined with the total recorded on the same
// date; months without data keep a null actual and null ratios.
func Schedule(cfg core.GoalConfig, p Projection, totals []core.DailyTotal) []core.MonthlyGoalRow {
	increment := MonthlyIncrement(p.AnnualGoal)
	final := core.Some(p.ProjectedFinal)

	rows := make([]core.MonthlyGoalRow, 0, Months)
	for i := 1; i <= Months; i++ {
		ref := cfg.GoalStart.AddMonths(i)
		target := cfg.StartingBalance.Add(increment.Mul(decimal.NewFromInt(int64(i))))
		actual := aggregate.TotalOn(totals, ref)

		rows = append(rows, core.MonthlyGoalRow{
			ReferenceMonth:     ref,
			TargetCumulative:   target,
			ActualCumulative:   actual,
			Attainment:         core.SafeDiv(actual, core.Some(target)),
			YearAttainment:     core.SafeDiv(actual, final),
			ExpectedAttainment: core.SafeDiv(core.Some(target), final),
		})
	}
	return rows
}

// Summary condenses a schedule for the dashboard header.
type Summary struct {
	MonthsWithData int                 `json:"months_with_data"`
	LastReference  core.Date           `json:"last_reference"`
	LastActual     decimal.NullDecimal `json:"last_actual"`
	LastAttainment decimal.NullDecimal `json:"last_attainment"`
	OnTrack        bool                `json:"on_track"`
}

// Summarize reports the latest month that has an actual value. OnTrack is
// true when that month's actual reached its target.
func Summarize(rows []core.MonthlyGoalRow) Summary {
	var s Summary
	for _, r := range rows {
		if !r.ActualCumulative.Valid {
			continue
		}
		s.MonthsWithData++
		s.LastReference = r.ReferenceMonth
		s.LastActual = r.ActualCumulative
		s.LastAttainment = r.Attainment
		s.OnTrack = !r.ActualCumulative.Decimal.LessThan(r.TargetCumulative)
	}
	return s
}
