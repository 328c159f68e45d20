package core

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestParseDate(t *testing.T) {
	cases := []struct {
		in   string
		want Date
		ok   bool
	}{
		{"01/01/2025", NewDate(2025, 1, 1), true},
		{"31/12/2024", NewDate(2024, 12, 31), true},
		{" 15/06/2023 ", NewDate(2023, 6, 15), true},
		{"1/2/2025", NewDate(2025, 2, 1), true},
		{"2025-01-01", Date{}, false},
		{"32/01/2025", Date{}, false},
		{"01/13/2025", Date{}, false},
		{"", Date{}, false},
	}
	for _, tc := range cases {
		got, err := ParseDate(tc.in)
		if tc.ok {
			if err != nil || !got.Equal(tc.want) {
				t.Fatalf("%q expected %s, got %s (err=%v)", tc.in, tc.want, got, err)
			}
			continue
		}
		if !errors.Is(err, ErrInvalidDate) {
			t.Fatalf("%q expected ErrInvalidDate, got %v", tc.in, err)
		}
	}
}

func TestParseDateFlexible(t *testing.T) {
	for _, in := range []string{"2025-03-10", "10/03/2025"} {
		got, err := ParseDateFlexible(in)
		if err != nil || !got.Equal(NewDate(2025, 3, 10)) {
			t.Fatalf("%q: got %s (err=%v)", in, got, err)
		}
	}
}

func TestDateAddMonths(t *testing.T) {
	cases := []struct {
		from Date
		n    int
		want Date
	}{
		{NewDate(2025, 1, 15), 1, NewDate(2025, 2, 15)},
		{NewDate(2025, 1, 31), 1, NewDate(2025, 2, 28)},
		{NewDate(2024, 1, 31), 1, NewDate(2024, 2, 29)},
		{NewDate(2025, 3, 31), 1, NewDate(2025, 4, 30)},
		{NewDate(2025, 11, 30), 2, NewDate(2026, 1, 30)},
		{NewDate(2025, 1, 1), 12, NewDate(2026, 1, 1)},
	}
	for _, tc := range cases {
		if got := tc.from.AddMonths(tc.n); !got.Equal(tc.want) {
			t.Fatalf("%s + %d months = %s, want %s", tc.from, tc.n, got, tc.want)
		}
	}
}

func TestDateAsMapKey(t *testing.T) {
	d1, _ := ParseDate("05/05/2025")
	d2 := NewDate(2025, 5, 5)
	m := map[Date]int{d1: 1}
	if m[d2] != 1 {
		t.Fatalf("dates built differently should share a key")
	}
}

func TestDateJSON(t *testing.T) {
	b, err := json.Marshal(NewDate(2025, 2, 3))
	if err != nil || string(b) != `"2025-02-03"` {
		t.Fatalf("marshal: %s (err=%v)", b, err)
	}
	var d Date
	if err := json.Unmarshal([]byte(`"03/02/2025"`), &d); err != nil || !d.Equal(NewDate(2025, 2, 3)) {
		t.Fatalf("unmarshal day-first: %s (err=%v)", d, err)
	}
	if err := json.Unmarshal([]byte(`"2025-02-03"`), &d); err != nil || !d.Equal(NewDate(2025, 2, 3)) {
		t.Fatalf("unmarshal iso: %s (err=%v)", d, err)
	}
}

func TestRateRecordValidate(t *testing.T) {
	ok := RateRecord{EffectiveStart: NewDate(2025, 1, 1), EffectiveEnd: NewDate(2025, 2, 1)}
	if err := ok.Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	bad := RateRecord{EffectiveStart: NewDate(2025, 2, 1), EffectiveEnd: NewDate(2025, 1, 1)}
	if err := bad.Validate(); !errors.Is(err, ErrInvalidRateRecord) {
		t.Fatalf("expected ErrInvalidRateRecord, got %v", err)
	}
}

func TestGoalConfigValidate(t *testing.T) {
	good := GoalConfig{
		GoalStart:       NewDate(2025, 1, 1),
		StartingBalance: decimal.NewFromInt(1000),
		NetSalary:       decimal.NewFromInt(2000),
		FixedCosts:      decimal.NewFromInt(500),
		AnnualRate:      decimal.NewFromInt(12),
		AnnualGoal:      Some(decimal.NewFromInt(-100)),
	}
	if err := good.Validate(); err != nil {
		t.Fatalf("negative goal should be accepted, got %v", err)
	}

	bad := good
	bad.FixedCosts = decimal.NewFromInt(-1)
	if err := bad.Validate(); !errors.Is(err, ErrNegativeAmount) {
		t.Fatalf("expected ErrNegativeAmount, got %v", err)
	}

	noStart := good
	noStart.GoalStart = Date{}
	if err := noStart.Validate(); !errors.Is(err, ErrInvalidDate) {
		t.Fatalf("expected ErrInvalidDate, got %v", err)
	}

	atMax := good
	atMax.AnnualRate = MaxAnnualRate
	if err := atMax.Validate(); err != nil {
		t.Fatalf("maximum rate should be accepted, got %v", err)
	}

	huge := good
	huge.AnnualRate = decimal.RequireFromString("1e400")
	if err := huge.Validate(); !errors.Is(err, ErrRateOutOfRange) {
		t.Fatalf("expected ErrRateOutOfRange, got %v", err)
	}
}

func TestSafeDiv(t *testing.T) {
	one := Some(decimal.NewFromInt(1))
	zero := Some(decimal.Zero)
	if got := SafeDiv(one, zero); got.Valid {
		t.Fatalf("division by zero should be null")
	}
	if got := SafeDiv(Null(), one); got.Valid {
		t.Fatalf("null numerator should be null")
	}
	if got := SafeDiv(Some(decimal.NewFromInt(3)), Some(decimal.NewFromInt(4))); !got.Valid || !got.Decimal.Equal(decimal.RequireFromString("0.75")) {
		t.Fatalf("3/4: got %v", got)
	}
}

func TestInputParseErrorUnwrap(t *testing.T) {
	err := error(&InputParseError{Line: 3, Column: "Valor", Value: "x", Err: ErrInvalidAmount})
	if !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected wrapped ErrInvalidAmount")
	}
	var pe *InputParseError
	if !errors.As(err, &pe) || pe.Line != 3 {
		t.Fatalf("expected *InputParseError with line 3")
	}
}
