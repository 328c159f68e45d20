// Package ingest validates the uploaded transaction table at the load
// boundary and turns it into typed transactions. A single malformed row
// fails the whole load.
package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"financas/internal/core"
)

// Column headers of the transaction table.
const (
	ColumnDate        = "Data"
	ColumnAmount      = "Valor"
	ColumnInstitution = "Instituição"
)

// headerAliases lists accepted spellings per column, compared case-insensitively.
var headerAliases = map[string][]string{
	ColumnDate:        {"Data", "Date"},
	ColumnAmount:      {"Valor", "Amount"},
	ColumnInstitution: {"Instituição", "Instituicao", "Institution"},
}

// ReadCSV reads a comma or semicolon separated table with a header row.
func ReadCSV(r io.Reader) ([]core.Transaction, error) {
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}

	cr := csv.NewReader(strings.NewReader(string(body)))
	cr.Comma = detectDelimiter(body)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	rows, err := cr.ReadAll()
	if err != nil {
		var pe *csv.ParseError
		if errors.As(err, &pe) {
			return nil, &core.InputParseError{Line: pe.Line, Err: err}
		}
		return nil, &core.InputParseError{Err: err}
	}
	return ParseRows(rows)
}

// ParseRows converts a header row plus data rows into transactions.
// Blank rows are skipped; line numbers in errors count the header as 1.
func ParseRows(rows [][]string) ([]core.Transaction, error) {
	if len(rows) == 0 {
		return nil, &core.InputParseError{Err: core.ErrEmptyTable}
	}

	header := append([]string(nil), rows[0]...)
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	cols := make(map[string]int, len(headerAliases))
	for _, name := range []string{ColumnDate, ColumnAmount, ColumnInstitution} {
		idx := indexOfAny(header, headerAliases[name])
		if idx == -1 {
			return nil, &core.InputParseError{Line: 1, Column: name, Err: core.ErrMissingColumn}
		}
		cols[name] = idx
	}

	txs := make([]core.Transaction, 0, len(rows)-1)
	for i, row := range rows[1:] {
		line := i + 2
		if blank(row) {
			continue
		}

		rawDate := safeGet(row, cols[ColumnDate])
		d, err := core.ParseDate(rawDate)
		if err != nil {
			return nil, &core.InputParseError{Line: line, Column: ColumnDate, Value: rawDate, Err: core.ErrInvalidDate}
		}

		rawAmount := safeGet(row, cols[ColumnAmount])
		amount, err := core.ParseAmount(rawAmount)
		if err != nil {
			return nil, &core.InputParseError{Line: line, Column: ColumnAmount, Value: rawAmount, Err: core.ErrInvalidAmount}
		}

		txs = append(txs, core.Transaction{
			Date:        d,
			Institution: strings.TrimSpace(safeGet(row, cols[ColumnInstitution])),
			Amount:      amount,
		})
	}

	if len(txs) == 0 {
		return nil, &core.InputParseError{Err: core.ErrEmptyTable}
	}
	return txs, nil
}

// detectDelimiter picks ';' when the header has more semicolons than commas,
// the usual export format of pt-BR spreadsheets.
func detectDelimiter(body []byte) rune {
	header := string(body)
	if i := strings.IndexByte(header, '\n'); i >= 0 {
		header = header[:i]
	}
	if strings.Count(header, ";") > strings.Count(header, ",") {
		return ';'
	}
	return ','
}

func indexOfAny(headers []string, names []string) int {
	for i, h := range headers {
		for _, n := range names {
			if strings.EqualFold(strings.TrimSpace(h), n) {
				return i
			}
		}
	}
	return -1
}

func safeGet(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return row[idx]
}

func blank(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
