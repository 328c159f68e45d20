package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"financas/internal/core"
	"financas/internal/log"
	"financas/internal/middleware/ratelimit"
	"financas/internal/rates"
	"financas/internal/session"
	"financas/internal/storage"
)

const sampleCSV = "Data,Instituição,Valor\n" +
	"10/01/2024,Nubank,900\n" +
	"10/01/2024,XP,100\n" +
	"10/02/2024,Nubank,1000\n" +
	"10/02/2024,XP,100\n"

type fakeRates struct {
	records []core.RateRecord
	err     error
}

func (f *fakeRates) RateAt(_ context.Context, d core.Date) (core.RateRecord, rates.Source, error) {
	if f.err != nil {
		return core.RateRecord{}, "", f.err
	}
	for _, r := range f.records {
		if d.After(r.EffectiveStart) && d.Before(r.EffectiveEnd) {
			return r, rates.SourceNetwork, nil
		}
	}
	return core.RateRecord{}, rates.SourceNetwork, core.ErrNoApplicableRate
}

func (f *fakeRates) Schedule(context.Context) (rates.Schedule, error) {
	if f.err != nil {
		return rates.Schedule{}, f.err
	}
	return rates.Schedule{Records: f.records, Source: rates.SourceCache, FetchedAt: time.Date(2024, 3, 1, 6, 0, 0, 0, time.UTC)}, nil
}

type fakeSource struct {
	txs []core.Transaction
	err error
}

func (f fakeSource) ReadTransactions(context.Context) ([]core.Transaction, error) { return f.txs, f.err }
func (f fakeSource) Describe() string                                             { return "fake:sheet" }

type fakeSnapshots struct {
	err     error
	listErr error
	infos   []storage.SnapshotInfo
}

func (f fakeSnapshots) Ping(context.Context) error { return f.err }

func (f fakeSnapshots) ListSnapshots(context.Context) ([]storage.SnapshotInfo, error) {
	return f.infos, f.listErr
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func testRates() *fakeRates {
	return &fakeRates{records: []core.RateRecord{
		{EffectiveStart: core.NewDate(2023, 9, 21), EffectiveEnd: core.NewDate(2024, 3, 21), AnnualRate: dec("11.75")},
	}}
}

func newTestServer(t *testing.T, mutate func(*Deps)) *Server {
	t.Helper()
	rr := testRates()
	deps := Deps{
		Sessions: session.NewStore(10, time.Hour, session.Options{Rates: rr, FallbackRate: dec("10.5")}, nil),
		Rates:    rr,
		Logger:   log.New(log.Config{Level: slog.LevelError, Output: io.Discard}),
	}
	if mutate != nil {
		mutate(&deps)
	}
	srv := NewServer(":0", deps)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return srv
}

func do(t *testing.T, srv *Server, method, target string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func upload(t *testing.T, srv *Server) sessionDTO {
	t.Helper()
	rec := do(t, srv, http.MethodPost, "/sessions", strings.NewReader(sampleCSV), "text/csv")
	if rec.Code != http.StatusCreated {
		t.Fatalf("upload status = %d, body = %s", rec.Code, rec.Body.String())
	}
	return decode[sessionDTO](t, rec)
}

func TestHealthAndReady(t *testing.T) {
	tests := []struct {
		name       string
		snapshots  SnapshotStore
		version    func() (uint, bool, error)
		wantStatus int
		wantState  string
	}{
		{"no storage", nil, nil, http.StatusOK, "disabled"},
		{"storage ok", fakeSnapshots{}, func() (uint, bool, error) { return 1, false, nil }, http.StatusOK, "ok"},
		{"storage down", fakeSnapshots{err: errors.New("closed")}, nil, http.StatusServiceUnavailable, "unreachable"},
		{"dirty schema", fakeSnapshots{}, func() (uint, bool, error) { return 1, true, nil }, http.StatusServiceUnavailable, "migration_dirty"},
		{"listing fails", fakeSnapshots{listErr: errors.New("no such table")}, nil, http.StatusServiceUnavailable, "query_failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, func(d *Deps) {
				d.Snapshots = tt.snapshots
				d.SchemaVersion = tt.version
			})

			if rec := do(t, srv, http.MethodGet, "/healthz", nil, ""); rec.Code != http.StatusOK {
				t.Fatalf("healthz status = %d", rec.Code)
			}
			rec := do(t, srv, http.MethodGet, "/readyz", nil, "")
			if rec.Code != tt.wantStatus {
				t.Fatalf("readyz status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if got := decode[readiness](t, rec); got.Storage != tt.wantState {
				t.Errorf("storage = %q, want %q", got.Storage, tt.wantState)
			}
		})
	}
}

func TestReadyReportsSnapshots(t *testing.T) {
	fetched := time.Now().Add(-2 * time.Hour).UTC()
	srv := newTestServer(t, func(d *Deps) {
		d.Snapshots = fakeSnapshots{infos: []storage.SnapshotInfo{
			{Series: "selic", FetchedAt: fetched, RecordCount: 42},
		}}
	})

	rec := do(t, srv, http.MethodGet, "/readyz", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("readyz status = %d, body = %s", rec.Code, rec.Body.String())
	}
	got := decode[readiness](t, rec)
	if len(got.Snapshots) != 1 {
		t.Fatalf("snapshots = %+v", got.Snapshots)
	}
	snap := got.Snapshots[0]
	if snap.Series != "selic" || snap.RecordCount != 42 || !snap.FetchedAt.Equal(fetched) {
		t.Errorf("snapshot = %+v", snap)
	}
	if snap.AgeSeconds < 7200 || snap.AgeSeconds > 7260 {
		t.Errorf("age = %ds, want about two hours", snap.AgeSeconds)
	}
}

func TestUploadAndViews(t *testing.T) {
	srv := newTestServer(t, nil)
	created := upload(t, srv)

	if created.Transactions != 4 || created.Dates != 2 {
		t.Fatalf("created = %+v", created)
	}
	if !created.FirstDate.Equal(core.NewDate(2024, 1, 10)) || !created.LastDate.Equal(core.NewDate(2024, 2, 10)) {
		t.Errorf("date range = %s..%s", created.FirstDate, created.LastDate)
	}
	if created.Source != "upload:body" {
		t.Errorf("source = %q", created.Source)
	}
	base := "/sessions/" + created.ID

	rec := do(t, srv, http.MethodGet, base+"/transactions", nil, "")
	if txs := decode[[]transactionDTO](t, rec); len(txs) != 4 || txs[0].AmountFmt != "R$ 900.00" {
		t.Errorf("transactions = %+v", txs)
	}

	rec = do(t, srv, http.MethodGet, base+"/evolution", nil, "")
	evo := decode[[]evolutionDTO](t, rec)
	if len(evo) != 2 {
		t.Fatalf("evolution rows = %d", len(evo))
	}
	if evo[0].Delta.Valid {
		t.Error("first delta should be null")
	}
	if !evo[1].Delta.Decimal.Equal(dec("100")) || evo[1].TotalFmt != "R$ 1100.00" || evo[1].RelDeltaFmt != "10.00%" {
		t.Errorf("second row = %+v", evo[1])
	}

	rec = do(t, srv, http.MethodGet, base+"/institutions", nil, "")
	pivot := decode[pivotDTO](t, rec)
	if len(pivot.Institutions) != 2 || len(pivot.Series) != 2 || len(pivot.Cells) != 2 {
		t.Errorf("pivot = %+v", pivot)
	}

	rec = do(t, srv, http.MethodGet, base+"/institutions/distribution", nil, "")
	dist := decode[distributionDTO](t, rec)
	if !dist.Date.Equal(core.NewDate(2024, 2, 10)) || !dist.Total.Equal(dec("1100")) {
		t.Errorf("distribution = %+v", dist)
	}

	rec = do(t, srv, http.MethodGet, base+"/institutions/distribution?date=10/01/2024", nil, "")
	dist = decode[distributionDTO](t, rec)
	for _, item := range dist.Items {
		if item.Institution == "XP" && item.ShareFmt != "10.00%" {
			t.Errorf("XP share = %s, want 10.00%%", item.ShareFmt)
		}
	}

	rec = do(t, srv, http.MethodGet, base+"/institutions/distribution?date=2024-01-11", nil, "")
	if rec.Code != http.StatusNotFound || decode[ErrorBody](t, rec).Code != CodeUnknownDate {
		t.Errorf("unknown date: status = %d, body = %s", rec.Code, rec.Body.String())
	}

	rec = do(t, srv, http.MethodGet, base+"/institutions/distribution?date=soon", nil, "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad date: status = %d", rec.Code)
	}
}

func TestUploadMultipart(t *testing.T) {
	srv := newTestServer(t, nil)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "extrato.csv")
	if err != nil {
		t.Fatal(err)
	}
	_, _ = part.Write([]byte(sampleCSV))
	_ = mw.Close()

	rec := do(t, srv, http.MethodPost, "/sessions", &buf, mw.FormDataContentType())
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if got := decode[sessionDTO](t, rec); got.Source != "upload:extrato.csv" {
		t.Errorf("source = %q", got.Source)
	}
}

func TestUploadRejectsBadTables(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantCode   string
	}{
		{"empty body", "", http.StatusBadRequest, CodeBadRequest},
		{"missing column", "Data,Valor\n10/01/2024,1\n", http.StatusUnprocessableEntity, CodeInvalidInput},
		{"bad amount", "Data,Instituição,Valor\n10/01/2024,XP,abc\n", http.StatusUnprocessableEntity, CodeInvalidInput},
		{"header only", "Data,Instituição,Valor\n", http.StatusUnprocessableEntity, CodeInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, nil)
			rec := do(t, srv, http.MethodPost, "/sessions", strings.NewReader(tt.body), "text/csv")
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if got := decode[ErrorBody](t, rec); got.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", got.Code, tt.wantCode)
			}
		})
	}
}

func TestUploadReportsBadCellLocation(t *testing.T) {
	srv := newTestServer(t, nil)
	body := "Data,Instituição,Valor\n10/01/2024,XP,1\n31/02/2024,XP,2\n"
	rec := do(t, srv, http.MethodPost, "/sessions", strings.NewReader(body), "text/csv")

	var got struct {
		Code    string            `json:"code"`
		Details parseErrorDetails `json:"details"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.Details.Line != 3 || got.Details.Value != "31/02/2024" {
		t.Errorf("details = %+v", got.Details)
	}
}

func TestImport(t *testing.T) {
	txs := []core.Transaction{
		{Date: core.NewDate(2024, 1, 10), Institution: "XP", Amount: dec("100")},
	}
	tests := []struct {
		name       string
		source     *fakeSource
		wantStatus int
	}{
		{"no source", nil, http.StatusServiceUnavailable},
		{"source ok", &fakeSource{txs: txs}, http.StatusCreated},
		{"source down", &fakeSource{err: errors.New("quota exceeded")}, http.StatusBadGateway},
		{"source table invalid", &fakeSource{err: &core.InputParseError{Line: 2, Err: core.ErrInvalidAmount}}, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, func(d *Deps) {
				if tt.source != nil {
					d.Source = *tt.source
				}
			})
			rec := do(t, srv, http.MethodPost, "/sessions/import", nil, "")
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if rec.Code == http.StatusCreated && decode[sessionDTO](t, rec).Source != "fake:sheet" {
				t.Error("session should be named after its source")
			}
		})
	}
}

func TestGoalLifecycle(t *testing.T) {
	srv := newTestServer(t, nil)
	base := "/sessions/" + upload(t, srv).ID

	rec := do(t, srv, http.MethodGet, base+"/goal", nil, "")
	if rec.Code != http.StatusNotFound || decode[ErrorBody](t, rec).Code != CodeGoalNotSet {
		t.Fatalf("goal before update: status = %d, body = %s", rec.Code, rec.Body.String())
	}

	body := `{"goal_start":"2024-01-10","fixed_costs":"500","gross_salary":3000,"net_salary":"2.000,00"}`
	rec = do(t, srv, http.MethodPut, base+"/goal", strings.NewReader(body), "application/json")
	if rec.Code != http.StatusOK {
		t.Fatalf("update status = %d, body = %s", rec.Code, rec.Body.String())
	}
	got := decode[goalDTO](t, rec)
	if got.RateSource != string(rates.SourceNetwork) || got.RateRecord == nil {
		t.Errorf("rate = %q, record = %v", got.RateSource, got.RateRecord)
	}
	if !got.Projection.StartingBalance.Equal(dec("1000")) || !got.Projection.AnnualRate.Equal(dec("11.75")) {
		t.Errorf("projection = %+v", got.Projection)
	}
	if !got.Projection.MonthlyPotential.GreaterThan(dec("1500")) {
		t.Errorf("monthly potential = %s, want surplus 1500 plus yield", got.Projection.MonthlyPotential)
	}
	if got.Projection.StartingBalanceFmt != "R$ 1000.00" {
		t.Errorf("starting balance fmt = %q", got.Projection.StartingBalanceFmt)
	}
	if len(got.Schedule) == 0 {
		t.Error("schedule should not be empty")
	}

	rec = do(t, srv, http.MethodGet, base+"/goal", nil, "")
	if rec.Code != http.StatusOK || decode[goalDTO](t, rec).Input.GoalStart.ISO() != "2024-01-10" {
		t.Errorf("goal after update: status = %d, body = %s", rec.Code, rec.Body.String())
	}

	form := "goal_start=10/01/2024&net_salary=2000&annual_rate=9,5%25"
	rec = do(t, srv, http.MethodPost, base+"/goal", strings.NewReader(form), "application/x-www-form-urlencoded")
	if rec.Code != http.StatusOK {
		t.Fatalf("form update status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if g := decode[goalDTO](t, rec); g.RateSource != session.RateSourceOverride || !g.Projection.AnnualRate.Equal(dec("9.5")) {
		t.Errorf("override = %q %s", g.RateSource, g.Projection.AnnualRate)
	}
}

func TestGoalErrors(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantCode   string
	}{
		{"missing start", `{"net_salary":"1"}`, http.StatusBadRequest, CodeBadRequest},
		{"bad amount", `{"goal_start":"2024-01-10","fixed_costs":"lots"}`, http.StatusBadRequest, CodeBadRequest},
		{"before first balance", `{"goal_start":"2023-12-31"}`, http.StatusUnprocessableEntity, CodeNoStartingBalance},
		{"negative costs", `{"goal_start":"2024-01-10","fixed_costs":"-1"}`, http.StatusUnprocessableEntity, CodeInvalidGoal},
		{"rate above maximum", `{"goal_start":"2024-01-10","annual_rate":"1000,5"}`, http.StatusUnprocessableEntity, CodeInvalidGoal},
		{"rate overflows float", `{"goal_start":"01/01/2025","net_salary":"2000","annual_rate":"1` + strings.Repeat("0", 400) + `"}`, http.StatusUnprocessableEntity, CodeInvalidGoal},
		{"malformed json", `{"goal_start":`, http.StatusBadRequest, CodeBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, nil)
			base := "/sessions/" + upload(t, srv).ID
			rec := do(t, srv, http.MethodPut, base+"/goal", strings.NewReader(tt.body), "application/json")
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if got := decode[ErrorBody](t, rec); got.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", got.Code, tt.wantCode)
			}
		})
	}
}

func TestGoalFallsBackWhenRateUnavailable(t *testing.T) {
	srv := newTestServer(t, func(d *Deps) {
		failing := &fakeRates{err: errors.New("upstream down")}
		d.Sessions = session.NewStore(10, time.Hour, session.Options{Rates: failing, FallbackRate: dec("10.5")}, nil)
	})
	base := "/sessions/" + upload(t, srv).ID

	rec := do(t, srv, http.MethodPut, base+"/goal", strings.NewReader(`{"goal_start":"2024-01-10"}`), "application/json")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	got := decode[goalDTO](t, rec)
	if got.RateSource != session.RateSourceFallback || got.RateError == "" || !got.Projection.AnnualRate.Equal(dec("10.5")) {
		t.Errorf("fallback = %q %q %s", got.RateSource, got.RateError, got.Projection.AnnualRate)
	}
}

func TestDeleteSession(t *testing.T) {
	srv := newTestServer(t, nil)
	base := "/sessions/" + upload(t, srv).ID

	if rec := do(t, srv, http.MethodGet, base, nil, ""); rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	if rec := do(t, srv, http.MethodDelete, base, nil, ""); rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rec.Code)
	}
	rec := do(t, srv, http.MethodGet, base+"/evolution", nil, "")
	if rec.Code != http.StatusNotFound || decode[ErrorBody](t, rec).Code != CodeSessionNotFound {
		t.Errorf("after delete: status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if rec := do(t, srv, http.MethodDelete, base, nil, ""); rec.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d", rec.Code)
	}
}

func TestRates(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := do(t, srv, http.MethodGet, "/rates?date=2024-01-10", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("lookup status = %d, body = %s", rec.Code, rec.Body.String())
	}
	got := decode[rateLookupDTO](t, rec)
	if !got.AnnualRate.Equal(dec("11.75")) || got.Source != string(rates.SourceNetwork) || got.MonthlyRate.IsZero() {
		t.Errorf("lookup = %+v", got)
	}

	rec = do(t, srv, http.MethodGet, "/rates?date=2023-09-21", nil, "")
	if rec.Code != http.StatusNotFound || decode[ErrorBody](t, rec).Code != CodeNoApplicableRate {
		t.Errorf("boundary date: status = %d, body = %s", rec.Code, rec.Body.String())
	}

	rec = do(t, srv, http.MethodGet, "/rates", nil, "")
	if sched := decode[rateScheduleDTO](t, rec); len(sched.Records) != 1 || sched.Source != string(rates.SourceCache) {
		t.Errorf("schedule = %+v", sched)
	}
}

func TestRatesUnavailable(t *testing.T) {
	disabled := newTestServer(t, func(d *Deps) { d.Rates = nil })
	if rec := do(t, disabled, http.MethodGet, "/rates", nil, ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("disabled status = %d", rec.Code)
	}

	failing := newTestServer(t, func(d *Deps) { d.Rates = &fakeRates{err: errors.New("timeout")} })
	if rec := do(t, failing, http.MethodGet, "/rates?date=2024-01-10", nil, ""); rec.Code != http.StatusBadGateway {
		t.Errorf("failing status = %d", rec.Code)
	}

	huge := newTestServer(t, func(d *Deps) {
		d.Rates = &fakeRates{records: []core.RateRecord{
			{EffectiveStart: core.NewDate(2023, 9, 21), EffectiveEnd: core.NewDate(2024, 3, 21), AnnualRate: dec("1e400")},
		}}
	})
	if rec := do(t, huge, http.MethodGet, "/rates?date=2024-01-10", nil, ""); rec.Code != http.StatusBadGateway {
		t.Errorf("out of range rate status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestRoutingAndMiddleware(t *testing.T) {
	srv := newTestServer(t, func(d *Deps) { d.RateLimit = ratelimit.Config{RequestsPerMinute: 1} })

	rec := do(t, srv, http.MethodGet, "/nope", nil, "")
	if rec.Code != http.StatusNotFound || decode[ErrorBody](t, rec).Code != CodeNotFound {
		t.Errorf("unknown route: status = %d, body = %s", rec.Code, rec.Body.String())
	}

	if rec := do(t, srv, http.MethodPatch, "/rates", nil, ""); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("wrong method status = %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "req_abc")
	rec = httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, req)
	if rec.Header().Get("X-Request-ID") != "req_abc" {
		t.Errorf("request id = %q", rec.Header().Get("X-Request-ID"))
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("security headers missing")
	}

	if rec := do(t, srv, http.MethodGet, "/sessions/../etc/passwd", nil, ""); rec.Code == http.StatusOK {
		t.Error("path traversal should be rejected")
	}

	first := do(t, srv, http.MethodPost, "/sessions", strings.NewReader(sampleCSV), "text/csv")
	second := do(t, srv, http.MethodPost, "/sessions", strings.NewReader(sampleCSV), "text/csv")
	if first.Code != http.StatusCreated || second.Code != http.StatusTooManyRequests {
		t.Errorf("rate limit: %d then %d", first.Code, second.Code)
	}
	if second.Header().Get("Retry-After") == "" {
		t.Error("Retry-After missing")
	}
	if m := srv.RateLimitMetrics(); m.Rejected != 1 {
		t.Errorf("rejected = %d", m.Rejected)
	}
	if m := srv.TraceMetrics(); m.TotalRequests == 0 {
		t.Error("trace metrics not recorded")
	}
}
