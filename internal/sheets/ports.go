package sheets

import (
	"context"

	"financas/internal/core"
)

// Ports for outbound adapters.
type (
	// TransactionReader loads the full transaction table from a source.
	TransactionReader interface {
		ReadTransactions(ctx context.Context) ([]core.Transaction, error)
	}

	// SourceDescriber names a source in logs and API responses.
	SourceDescriber interface {
		Describe() string
	}
)
