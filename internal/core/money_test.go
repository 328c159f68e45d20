package core

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestParseAmount(t *testing.T) {
	cases := []struct {
		in  string
		out string
		ok  bool
	}{
		{"1", "1", true},
		{"1.0", "1", true},
		{"1.23", "1.23", true},
		{"1,23", "1.23", true},
		{"1.234,56", "1234.56", true},
		{"1,234.56", "1234.56", true},
		{"1.234.567", "1234567", true},
		{" 2.50 ", "2.5", true},
		{"-10.5", "-10.5", true},
		{"+7", "7", true},
		{"R$ 100,10", "100.1", true},
		{"R$ -1,234.5", "-1234.5", true},
		{"0", "0", true},
		{"abc", "", false},
		{"1.2a", "", false},
		{"", "", false},
		{"-", "", false},
		{"R$", "", false},
		{"1e3", "1000", true},
		{"1.5E-2", "0.015", true},
		{"2,5e+1", "25", true},
		{"-1e2", "-100", true},
		{"R$ 1.234,5e1", "12345", true},
		{"1e308", "1e308", true},
		{"1e", "", false},
		{"e3", "", false},
		{"1e3.5", "", false},
		{"1e+-3", "", false},
		{"1e309", "", false},
		{"1e2e3", "", false},
	}
	for _, tc := range cases {
		got, err := ParseAmount(tc.in)
		if !tc.ok {
			if err == nil {
				t.Fatalf("%q expected error, got %s", tc.in, got)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%q unexpected error: %v", tc.in, err)
		}
		want := decimal.RequireFromString(tc.out)
		if !got.Equal(want) {
			t.Fatalf("%q expected %s, got %s", tc.in, want, got)
		}
	}
}

func TestFormatCurrency(t *testing.T) {
	cases := map[string]string{
		"1234.5":  "R$ 1234.50",
		"0":       "R$ 0.00",
		"-12.345": "R$ -12.34",
		"9.4888":  "R$ 9.49",
		"18120":   "R$ 18120.00",
	}
	for in, want := range cases {
		if got := FormatCurrency(decimal.RequireFromString(in)); got != want {
			t.Fatalf("FormatCurrency(%s) = %q, want %q", in, got, want)
		}
	}
	if got := FormatNullCurrency(Null()); got != "" {
		t.Fatalf("null currency should render empty, got %q", got)
	}
}

func TestFormatPercent(t *testing.T) {
	if got := FormatPercent(Some(decimal.RequireFromString("0.1234"))); got != "12.34%" {
		t.Fatalf("got %q", got)
	}
	if got := FormatPercent(Some(decimal.NewFromInt(1))); got != "100.00%" {
		t.Fatalf("got %q", got)
	}
	if got := FormatPercent(Null()); got != "" {
		t.Fatalf("null percent should render empty, got %q", got)
	}
}
