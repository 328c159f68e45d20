package memory

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"financas/internal/core"
	"financas/internal/ingest"
	ports "financas/internal/sheets"
)

var (
	_ ports.TransactionReader = (*Store)(nil)
	_ ports.SourceDescriber   = (*Store)(nil)
)

// Store serves transactions loaded from seed CSV files.
type Store struct {
	mu    sync.Mutex
	name  string
	items []core.Transaction
}

func New(txs []core.Transaction) *Store {
	return &Store{name: "memory", items: append([]core.Transaction(nil), txs...)}
}

// NewFromFiles loads every *.csv file under base, in name order. Files are
// parsed independently so a bad file names itself in the error.
func NewFromFiles(base string) (*Store, error) {
	paths, err := filepath.Glob(filepath.Join(base, "*.csv"))
	if err != nil {
		return nil, fmt.Errorf("list seed files: %w", err)
	}
	sort.Strings(paths)

	var all []core.Transaction
	for _, p := range paths {
		txs, err := readFile(p)
		if err != nil {
			return nil, err
		}
		all = append(all, txs...)
	}

	s := New(all)
	s.name = "memory:" + base
	return s, nil
}

// ReadTransactions returns a copy of the seeded table.
func (s *Store) ReadTransactions(_ context.Context) ([]core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.items) == 0 {
		return nil, &core.InputParseError{Err: core.ErrEmptyTable}
	}
	return append([]core.Transaction(nil), s.items...), nil
}

// Replace swaps the whole table.
func (s *Store) Replace(txs []core.Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append([]core.Transaction(nil), txs...)
}

// Describe implements ports.SourceDescriber.
func (s *Store) Describe() string { return s.name }

func readFile(path string) ([]core.Transaction, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open seed file: %w", err)
	}
	defer f.Close()

	txs, err := ingest.ReadCSV(f)
	if err != nil {
		// Header-only seed files contribute nothing.
		if errors.Is(err, core.ErrEmptyTable) {
			return nil, nil
		}
		return nil, fmt.Errorf("%s: %w", strings.TrimSuffix(filepath.Base(path), ".csv"), err)
	}
	return txs, nil
}
