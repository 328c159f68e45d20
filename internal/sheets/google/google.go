package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"financas/internal/core"
	"financas/internal/ingest"
	ports "financas/internal/sheets"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"
)

// DefaultSheetName is the tab read when no name is configured.
const DefaultSheetName = "Transacoes"

type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	sheetName     string
	columns       string
	log           *slog.Logger
}

// Ensure interface conformance
var (
	_ ports.TransactionReader = (*Client)(nil)
	_ ports.SourceDescriber   = (*Client)(nil)
)

// Config selects the spreadsheet and the service account used to read it.
type Config struct {
	SpreadsheetID   string
	SheetName       string
	Columns         string // A1 column span, default "A:C"
	CredentialsJSON string
	CredentialsFile string
}

// New creates a Sheets client. Extra options are appended after the
// credentials, which lets tests point the client at a local endpoint.
func New(ctx context.Context, cfg Config, log *slog.Logger, opts ...goption.ClientOption) (*Client, error) {
	spreadsheetID := strings.TrimSpace(cfg.SpreadsheetID)
	if spreadsheetID == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}
	if log == nil {
		log = slog.Default()
	}

	sheetName := strings.TrimSpace(cfg.SheetName)
	if sheetName == "" {
		sheetName = DefaultSheetName
	}
	columns := strings.TrimSpace(cfg.Columns)
	if columns == "" {
		columns = "A:C"
	}

	svc, err := newSheetsService(ctx, cfg, log, opts...)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}

	return &Client{
		svc:           svc,
		spreadsheetID: spreadsheetID,
		sheetName:     sheetName,
		columns:       columns,
		log:           log,
	}, nil
}

// newSheetsService initializes a read-only Sheets service. Credentials come
// from inline JSON, a file, or GOOGLE_APPLICATION_CREDENTIALS; when opts are
// supplied and no credentials are set, opts alone configure the client.
func newSheetsService(ctx context.Context, cfg Config, log *slog.Logger, opts ...goption.ClientOption) (*gsheet.Service, error) {
	credentialsJSON := strings.TrimSpace(cfg.CredentialsJSON)
	credentialsFile := strings.TrimSpace(cfg.CredentialsFile)
	if credentialsJSON == "" && credentialsFile == "" {
		credentialsFile = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}

	var clientOpts []goption.ClientOption
	switch {
	case credentialsJSON != "":
		log.InfoContext(ctx, "Using inline service account credentials", "json_length", len(credentialsJSON))
		clientOpts = append(clientOpts, goption.WithCredentialsJSON([]byte(credentialsJSON)))
	case credentialsFile != "":
		log.InfoContext(ctx, "Reading service account credentials", "path", credentialsFile)
		data, err := os.ReadFile(credentialsFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		clientOpts = append(clientOpts, goption.WithCredentialsJSON(data))
	case len(opts) == 0:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}
	clientOpts = append(clientOpts, goption.WithScopes(gsheet.SpreadsheetsReadonlyScope))
	clientOpts = append(clientOpts, opts...)

	service, err := gsheet.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return service, nil
}

// Range is the A1 notation read by ReadTransactions.
func (c *Client) Range() string {
	return fmt.Sprintf("%s!%s", c.sheetName, c.columns)
}

// Describe implements ports.SourceDescriber.
func (c *Client) Describe() string {
	return "sheets:" + c.Range()
}

// ReadTransactions reads the configured range. The first row must carry the
// Data, Valor and Instituição headers.
func (c *Client) ReadTransactions(ctx context.Context) ([]core.Transaction, error) {
	if c.svc == nil {
		return nil, errors.New("sheets service not initialized")
	}

	rng := c.Range()
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, rng).
		ValueRenderOption("FORMATTED_VALUE").
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rng, err)
	}

	rows := make([][]string, len(resp.Values))
	for i, row := range resp.Values {
		rows[i] = toStrings(row)
	}

	txs, err := ingest.ParseRows(rows)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", rng, err)
	}
	c.log.InfoContext(ctx, "Transactions read from spreadsheet", "range", rng, "rows", len(txs))
	return txs, nil
}

func toStrings(in []interface{}) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = strings.TrimSpace(fmt.Sprint(v))
	}
	return out
}
