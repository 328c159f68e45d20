// Package goal projects savings capacity from income, costs and the yield of
// the current balance, and tracks a 12 month goal against the actual series.
package goal

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"financas/internal/aggregate"
	"financas/internal/core"
)

// Months is the length of the goal horizon.
const Months = 12

var (
	hundred = decimal.NewFromInt(100)
	twelve  = decimal.NewFromInt(Months)
)

// ProjectionInput are the values the projection depends on.
type ProjectionInput struct {
	StartingBalance decimal.Decimal
	FixedCosts      decimal.Decimal
	NetSalary       decimal.Decimal
	GrossSalary     decimal.Decimal // informational, not used in the arithmetic
	AnnualRate      decimal.Decimal // percent
	AnnualGoal      decimal.NullDecimal
}

// InputFrom extracts the projection inputs of a goal configuration.
func InputFrom(cfg core.GoalConfig) ProjectionInput {
	return ProjectionInput{
		StartingBalance: cfg.StartingBalance,
		FixedCosts:      cfg.FixedCosts,
		NetSalary:       cfg.NetSalary,
		GrossSalary:     cfg.GrossSalary,
		AnnualRate:      cfg.AnnualRate,
		AnnualGoal:      cfg.AnnualGoal,
	}
}

// Projection is the outcome of Project.
type Projection struct {
	MonthlyRate      decimal.Decimal `json:"monthly_rate"`
	MonthlyYield     decimal.Decimal `json:"monthly_yield"`
	AnnualYield      decimal.Decimal `json:"annual_yield"`
	MonthlyPotential decimal.Decimal `json:"monthly_potential"`
	AnnualPotential  decimal.Decimal `json:"annual_potential"`
	AnnualGoal       decimal.Decimal `json:"annual_goal"`
	GoalOverridden   bool            `json:"goal_overridden"`
	ProjectedFinal   decimal.Decimal `json:"projected_final_balance"`
}

// MonthlyRate converts a nominal annual percentage into the equivalent
// compound monthly rate: (1 + annual/100)^(1/12) - 1. Rates whose float
// form is not finite fail with core.ErrRateOutOfRange.
func MonthlyRate(annualPercent decimal.Decimal) (decimal.Decimal, error) {
	annual := annualPercent.Div(hundred).InexactFloat64()
	monthly := math.Pow(1+annual, 1.0/Months) - 1
	if math.IsInf(monthly, 0) || math.IsNaN(monthly) {
		return decimal.Zero, fmt.Errorf("%w: %s%%", core.ErrRateOutOfRange, annualPercent)
	}
	return decimal.NewFromFloat(monthly), nil
}

// Project computes yields and savings potential. The annual goal defaults
// to the annual potential unless the input overrides it.
func Project(in ProjectionInput) (Projection, error) {
	monthlyRate, err := MonthlyRate(in.AnnualRate)
	if err != nil {
		return Projection{}, err
	}
	monthlyYield := in.StartingBalance.Mul(monthlyRate)
	annualYield := in.StartingBalance.Mul(in.AnnualRate).Div(hundred)
	surplus := in.NetSalary.Sub(in.FixedCosts)

	p := Projection{
		MonthlyRate:      monthlyRate,
		MonthlyYield:     monthlyYield,
		AnnualYield:      annualYield,
		MonthlyPotential: surplus.Add(monthlyYield),
		AnnualPotential:  surplus.Mul(twelve).Add(annualYield),
	}

	p.AnnualGoal = p.AnnualPotential
	if in.AnnualGoal.Valid {
		p.AnnualGoal = in.AnnualGoal.Decimal
		p.GoalOverridden = true
	}
	p.ProjectedFinal = p.AnnualGoal.Add(in.StartingBalance)
	return p, nil
}

// StartingBalance is the total of the last row dated on or before the goal start.
func StartingBalance(totals []core.DailyTotal, goalStart core.Date) decimal.NullDecimal {
	if balance, ok := aggregate.BalanceAt(totals, goalStart); ok {
		return core.Some(balance)
	}
	return core.Null()
}
