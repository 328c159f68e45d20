package core

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the day-first layout used by uploaded tables and query parameters.
const DateLayout = "02/01/2006"

type (
	// Date is a calendar day at UTC midnight. Values built through NewDate,
	// ParseDate or DateOf are comparable and usable as map keys.
	Date struct {
		time.Time
	}

	// Transaction is one row of the uploaded table.
	Transaction struct {
		Date        Date
		Institution string
		Amount      decimal.Decimal
	}

	// DailyTotal is the sum of every transaction sharing a date.
	DailyTotal struct {
		Date  Date
		Total decimal.Decimal
	}

	// EvolutionRow extends a DailyTotal with period-over-period metrics.
	// Null fields mean "not enough history", never zero.
	EvolutionRow struct {
		DailyTotal
		Delta          decimal.NullDecimal
		DeltaMean6     decimal.NullDecimal
		DeltaMean12    decimal.NullDecimal
		DeltaSum6      decimal.NullDecimal
		DeltaSum12     decimal.NullDecimal
		RelDelta       decimal.NullDecimal
		RelDeltaMean6  decimal.NullDecimal
		RelDeltaMean12 decimal.NullDecimal
	}

	// RateRecord is an annual interest rate in force during [EffectiveStart, EffectiveEnd).
	// Open records had no end in the source and were closed at load time.
	RateRecord struct {
		EffectiveStart Date
		EffectiveEnd   Date
		AnnualRate     decimal.Decimal // percent, 13.75 means 13.75%
		Open           bool
	}

	// GoalConfig holds the user-entered goal parameters plus the starting
	// balance derived from the uploaded series.
	GoalConfig struct {
		GoalStart       Date
		StartingBalance decimal.Decimal
		FixedCosts      decimal.Decimal
		GrossSalary     decimal.Decimal
		NetSalary       decimal.Decimal
		AnnualRate      decimal.Decimal // percent
		AnnualGoal      decimal.NullDecimal
	}

	// MonthlyGoalRow is one month of the goal attainment schedule.
	MonthlyGoalRow struct {
		ReferenceMonth     Date
		TargetCumulative   decimal.Decimal
		ActualCumulative   decimal.NullDecimal
		Attainment         decimal.NullDecimal
		YearAttainment     decimal.NullDecimal
		ExpectedAttainment decimal.NullDecimal
	}
)

var (
	ErrInvalidDate       = errors.New("invalid date")
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrMissingColumn     = errors.New("missing required column")
	ErrEmptyTable        = errors.New("table has no rows")
	ErrNoApplicableRate  = errors.New("no applicable rate")
	ErrNegativeAmount    = errors.New("amount must not be negative")
	ErrInvalidRateRecord = errors.New("rate record ends before it starts")
	ErrRateOutOfRange    = errors.New("annual rate out of range")
)

// MaxAnnualRate is the largest annual percentage a goal accepts.
var MaxAnnualRate = decimal.NewFromInt(1000)

// InputParseError reports the first malformed cell of an uploaded table.
// Line is 1-based and counts the header.
type InputParseError struct {
	Line   int
	Column string
	Value  string
	Err    error
}

func (e *InputParseError) Error() string {
	if e.Line == 0 {
		return fmt.Sprintf("parse input: %v", e.Err)
	}
	if e.Column == "" {
		return fmt.Sprintf("parse input: line %d: %v", e.Line, e.Err)
	}
	return fmt.Sprintf("parse input: line %d, column %q, value %q: %v", e.Line, e.Column, e.Value, e.Err)
}

func (e *InputParseError) Unwrap() error { return e.Err }

// NewDate creates a Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates t to its calendar day.
func DateOf(t time.Time) Date {
	return NewDate(t.Year(), int(t.Month()), t.Day())
}

// Today returns the current calendar day.
func Today() Date {
	return DateOf(time.Now())
}

// ParseDate parses a DD/MM/YYYY string. Day and month may omit the leading zero.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse("2/1/2006", strings.TrimSpace(s))
	if err != nil {
		return Date{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return DateOf(t), nil
}

// ParseDateFlexible accepts DD/MM/YYYY and ISO YYYY-MM-DD.
func ParseDateFlexible(s string) (Date, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return DateOf(t), nil
	}
	return ParseDate(s)
}

func (d Date) String() string {
	return d.Format(DateLayout)
}

// ISO returns the date as YYYY-MM-DD.
func (d Date) ISO() string {
	return d.Format("2006-01-02")
}

// Before reports whether d is an earlier day than o.
func (d Date) Before(o Date) bool { return d.Time.Before(o.Time) }

// After reports whether d is a later day than o.
func (d Date) After(o Date) bool { return d.Time.After(o.Time) }

// Equal reports whether d and o are the same day.
func (d Date) Equal(o Date) bool { return d.Time.Equal(o.Time) }

// AddMonths moves n calendar months, clamping the day to the target month's
// last day (31/01 + 1 month is 28/02 or 29/02).
func (d Date) AddMonths(n int) Date {
	y, m, day := d.Date()
	first := time.Date(y, m+time.Month(n), 1, 0, 0, 0, 0, time.UTC)
	last := first.AddDate(0, 1, -1).Day()
	if day > last {
		day = last
	}
	return NewDate(first.Year(), int(first.Month()), day)
}

// MarshalJSON encodes the date as YYYY-MM-DD.
func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return []byte(`"` + d.ISO() + `"`), nil
}

// UnmarshalJSON accepts YYYY-MM-DD or DD/MM/YYYY.
func (d *Date) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDateFlexible(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Validate checks the interval invariant start <= end.
func (r RateRecord) Validate() error {
	if r.EffectiveEnd.Before(r.EffectiveStart) {
		return fmt.Errorf("%w: %s > %s", ErrInvalidRateRecord, r.EffectiveStart, r.EffectiveEnd)
	}
	return nil
}

// Validate checks that every money field except the goal is non-negative
// and that the annual rate is at most MaxAnnualRate.
func (g GoalConfig) Validate() error {
	fields := []struct {
		name  string
		value decimal.Decimal
	}{
		{"starting balance", g.StartingBalance},
		{"fixed costs", g.FixedCosts},
		{"gross salary", g.GrossSalary},
		{"net salary", g.NetSalary},
		{"annual rate", g.AnnualRate},
	}
	for _, f := range fields {
		if f.value.IsNegative() {
			return fmt.Errorf("%s: %w", f.name, ErrNegativeAmount)
		}
	}
	if g.AnnualRate.GreaterThan(MaxAnnualRate) {
		return fmt.Errorf("%w: %s%% > %s%%", ErrRateOutOfRange, g.AnnualRate, MaxAnnualRate)
	}
	if g.GoalStart.IsZero() {
		return fmt.Errorf("goal start: %w", ErrInvalidDate)
	}
	return nil
}

// Null is the undefined value of an optional decimal.
func Null() decimal.NullDecimal {
	return decimal.NullDecimal{}
}

// Some wraps a defined optional decimal.
func Some(d decimal.Decimal) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: d, Valid: true}
}

// SafeDiv divides two optional values; a null operand or a zero divisor
// yields null.
func SafeDiv(num, den decimal.NullDecimal) decimal.NullDecimal {
	if !num.Valid || !den.Valid || den.Decimal.IsZero() {
		return Null()
	}
	return Some(num.Decimal.Div(den.Decimal))
}
