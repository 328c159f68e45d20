package aggregate

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"financas/internal/core"
)

var ErrUnknownDate = errors.New("date not present in table")

// InstitutionAmount is one bar of the distribution chart.
type InstitutionAmount struct {
	Institution string
	Amount      decimal.Decimal
}

// Pivot is the dates x institutions table of summed amounts.
// Cells without any transaction are null.
type Pivot struct {
	Dates        []core.Date
	Institutions []string
	Cells        [][]decimal.NullDecimal // [date][institution]
}

// NewPivot builds the pivot from raw transactions. Dates are ascending and
// institutions sorted by name.
func NewPivot(txs []core.Transaction) Pivot {
	type key struct {
		date core.Date
		inst string
	}
	sums := make(map[key]decimal.Decimal)
	dateSet := make(map[core.Date]struct{})
	instSet := make(map[string]struct{})
	for _, tx := range txs {
		k := key{tx.Date, tx.Institution}
		sums[k] = sums[k].Add(tx.Amount)
		dateSet[tx.Date] = struct{}{}
		instSet[tx.Institution] = struct{}{}
	}

	p := Pivot{
		Dates:        make([]core.Date, 0, len(dateSet)),
		Institutions: make([]string, 0, len(instSet)),
	}
	for d := range dateSet {
		p.Dates = append(p.Dates, d)
	}
	sort.Slice(p.Dates, func(i, j int) bool { return p.Dates[i].Before(p.Dates[j]) })
	for inst := range instSet {
		p.Institutions = append(p.Institutions, inst)
	}
	sort.Strings(p.Institutions)

	p.Cells = make([][]decimal.NullDecimal, len(p.Dates))
	for i, d := range p.Dates {
		row := make([]decimal.NullDecimal, len(p.Institutions))
		for j, inst := range p.Institutions {
			if v, ok := sums[key{d, inst}]; ok {
				row[j] = core.Some(v)
			}
		}
		p.Cells[i] = row
	}
	return p
}

func (p Pivot) dateIndex(d core.Date) int {
	idx := sort.Search(len(p.Dates), func(i int) bool { return !p.Dates[i].Before(d) })
	if idx < len(p.Dates) && p.Dates[idx].Equal(d) {
		return idx
	}
	return -1
}

// Distribution returns the amount per institution on a single date,
// skipping institutions without data on that date.
func (p Pivot) Distribution(d core.Date) ([]InstitutionAmount, error) {
	i := p.dateIndex(d)
	if i < 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDate, d)
	}
	out := make([]InstitutionAmount, 0, len(p.Institutions))
	for j, inst := range p.Institutions {
		if c := p.Cells[i][j]; c.Valid {
			out = append(out, InstitutionAmount{Institution: inst, Amount: c.Decimal})
		}
	}
	return out, nil
}

// Series returns the column of one institution, aligned with Dates.
func (p Pivot) Series(institution string) []decimal.NullDecimal {
	j := sort.SearchStrings(p.Institutions, institution)
	if j >= len(p.Institutions) || p.Institutions[j] != institution {
		return nil
	}
	out := make([]decimal.NullDecimal, len(p.Dates))
	for i := range p.Dates {
		out[i] = p.Cells[i][j]
	}
	return out
}
