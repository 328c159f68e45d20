package rates

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"financas/internal/core"
)

// DefaultSourceURL is the Copom target-rate history published by Banco Central do Brasil.
const DefaultSourceURL = "https://www.bcb.gov.br/api/servico/sitebcb/historicotaxasjuros"

var ErrEmptySchedule = errors.New("rate schedule is empty")

// Fetcher returns the full published rate history.
type Fetcher interface {
	FetchSchedule(ctx context.Context) ([]core.RateRecord, error)
}

// HTTPProvider downloads the rate history as JSON. It understands the
// {"conteudo":[...]} envelope as well as a bare array of records.
type HTTPProvider struct {
	url    string
	client *http.Client
	now    func() time.Time
	log    *slog.Logger
}

// NewHTTPProvider initializes a provider with a bounded request timeout.
func NewHTTPProvider(url string, timeout time.Duration, log *slog.Logger) *HTTPProvider {
	if url == "" {
		url = DefaultSourceURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &HTTPProvider{
		url:    url,
		client: &http.Client{Timeout: timeout},
		now:    time.Now,
		log:    log,
	}
}

// rateEntry accepts the Banco Central field names and neutral aliases.
type rateEntry struct {
	DataInicioVigencia *string          `json:"DataInicioVigencia"`
	DataFimVigencia    *string          `json:"DataFimVigencia"`
	MetaSelic          *decimal.Decimal `json:"MetaSelic"`

	EffectiveStart *string          `json:"effective_start"`
	EffectiveEnd   *string          `json:"effective_end"`
	Rate           *decimal.Decimal `json:"rate"`
}

type rateEnvelope struct {
	Conteudo []rateEntry `json:"conteudo"`
}

// FetchSchedule retrieves and decodes the rate history.
func (p *HTTPProvider) FetchSchedule(ctx context.Context) ([]core.RateRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	p.log.DebugContext(ctx, "Rate schedule response received", "url", p.url, "bytes", len(body))

	records, err := DecodeSchedule(body, core.DateOf(p.now()))
	if err != nil {
		return nil, err
	}
	p.log.InfoContext(ctx, "Rate schedule fetched", "url", p.url, "records", len(records))
	return records, nil
}

// DecodeSchedule parses a rate history document. Records without an end
// date are still in effect and are closed at today.
func DecodeSchedule(body []byte, today core.Date) ([]core.RateRecord, error) {
	var entries []rateEntry
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &entries); err != nil {
			return nil, fmt.Errorf("decode rate schedule: %w", err)
		}
	} else {
		var env rateEnvelope
		if err := json.Unmarshal(trimmed, &env); err != nil {
			return nil, fmt.Errorf("decode rate schedule: %w", err)
		}
		entries = env.Conteudo
	}
	if len(entries) == 0 {
		return nil, ErrEmptySchedule
	}

	records := make([]core.RateRecord, 0, len(entries))
	for i, e := range entries {
		rec, err := e.record(today)
		if err != nil {
			return nil, fmt.Errorf("rate record %d: %w", i, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

func (e rateEntry) record(today core.Date) (core.RateRecord, error) {
	startRaw := firstNonEmpty(e.DataInicioVigencia, e.EffectiveStart)
	if startRaw == "" {
		return core.RateRecord{}, fmt.Errorf("missing effective start")
	}
	start, err := parseSourceDate(startRaw)
	if err != nil {
		return core.RateRecord{}, err
	}

	rate := e.MetaSelic
	if rate == nil {
		rate = e.Rate
	}
	if rate == nil {
		return core.RateRecord{}, fmt.Errorf("missing rate")
	}

	rec := core.RateRecord{EffectiveStart: start, AnnualRate: *rate}
	if endRaw := firstNonEmpty(e.DataFimVigencia, e.EffectiveEnd); endRaw != "" {
		if rec.EffectiveEnd, err = parseSourceDate(endRaw); err != nil {
			return core.RateRecord{}, err
		}
	} else {
		rec.EffectiveEnd = today
		if today.Before(start) {
			rec.EffectiveEnd = start
		}
		rec.Open = true
	}
	if err := rec.Validate(); err != nil {
		return core.RateRecord{}, err
	}
	return rec, nil
}

var sourceDateLayouts = []string{
	"2006-01-02T15:04:05",
	time.RFC3339,
	"2006-01-02",
	core.DateLayout,
}

func parseSourceDate(s string) (core.Date, error) {
	s = strings.TrimSpace(s)
	for _, layout := range sourceDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return core.DateOf(t), nil
		}
	}
	return core.Date{}, fmt.Errorf("%w: %q", core.ErrInvalidDate, s)
}

func firstNonEmpty(values ...*string) string {
	for _, v := range values {
		if v != nil && strings.TrimSpace(*v) != "" {
			return *v
		}
	}
	return ""
}
