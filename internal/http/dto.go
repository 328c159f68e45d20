package http

import (
	"time"

	"github.com/shopspring/decimal"

	"financas/internal/aggregate"
	"financas/internal/core"
	"financas/internal/goal"
	"financas/internal/session"
)

// Response payloads. Amounts are decimal strings, undefined values are
// null, and *_fmt fields carry the display rendering ("R$ 1234.56", "12.34%").

type transactionDTO struct {
	Date        core.Date       `json:"date"`
	Institution string          `json:"institution"`
	Amount      decimal.Decimal `json:"amount"`
	AmountFmt   string          `json:"amount_fmt"`
}

type sessionDTO struct {
	ID           string           `json:"id"`
	Source       string           `json:"source"`
	CreatedAt    time.Time        `json:"created_at"`
	Transactions int              `json:"transactions"`
	Dates        int              `json:"dates"`
	FirstDate    core.Date        `json:"first_date"`
	LastDate     core.Date        `json:"last_date"`
	Table        []transactionDTO `json:"table,omitempty"`
}

type evolutionDTO struct {
	Date           core.Date           `json:"date"`
	Total          decimal.Decimal     `json:"total"`
	Delta          decimal.NullDecimal `json:"delta"`
	DeltaMean6     decimal.NullDecimal `json:"delta_mean_6"`
	DeltaMean12    decimal.NullDecimal `json:"delta_mean_12"`
	DeltaSum6      decimal.NullDecimal `json:"delta_sum_6"`
	DeltaSum12     decimal.NullDecimal `json:"delta_sum_12"`
	RelDelta       decimal.NullDecimal `json:"rel_delta"`
	RelDeltaMean6  decimal.NullDecimal `json:"rel_delta_mean_6"`
	RelDeltaMean12 decimal.NullDecimal `json:"rel_delta_mean_12"`
	TotalFmt       string              `json:"total_fmt"`
	DeltaFmt       string              `json:"delta_fmt"`
	RelDeltaFmt    string              `json:"rel_delta_fmt"`
}

type seriesDTO struct {
	Institution string                `json:"institution"`
	Values      []decimal.NullDecimal `json:"values"`
}

type pivotDTO struct {
	Dates        []core.Date             `json:"dates"`
	Institutions []string                `json:"institutions"`
	Cells        [][]decimal.NullDecimal `json:"cells"`
	Series       []seriesDTO             `json:"series"`
}

type shareDTO struct {
	Institution string              `json:"institution"`
	Amount      decimal.Decimal     `json:"amount"`
	Share       decimal.NullDecimal `json:"share"`
	AmountFmt   string              `json:"amount_fmt"`
	ShareFmt    string              `json:"share_fmt"`
}

type distributionDTO struct {
	Date     core.Date       `json:"date"`
	Total    decimal.Decimal `json:"total"`
	TotalFmt string          `json:"total_fmt"`
	Items    []shareDTO      `json:"items"`
}

type rateRecordDTO struct {
	EffectiveStart core.Date       `json:"effective_start"`
	EffectiveEnd   core.Date       `json:"effective_end"`
	AnnualRate     decimal.Decimal `json:"annual_rate"`
	Open           bool            `json:"open"`
}

type goalInputDTO struct {
	GoalStart   core.Date           `json:"goal_start"`
	FixedCosts  decimal.Decimal     `json:"fixed_costs"`
	GrossSalary decimal.Decimal     `json:"gross_salary"`
	NetSalary   decimal.Decimal     `json:"net_salary"`
	AnnualRate  decimal.NullDecimal `json:"annual_rate"`
	AnnualGoal  decimal.NullDecimal `json:"annual_goal"`
}

type projectionDTO struct {
	StartingBalance     decimal.Decimal `json:"starting_balance"`
	AnnualRate          decimal.Decimal `json:"annual_rate"`
	MonthlyRate         decimal.Decimal `json:"monthly_rate"`
	MonthlyYield        decimal.Decimal `json:"monthly_yield"`
	AnnualYield         decimal.Decimal `json:"annual_yield"`
	MonthlyPotential    decimal.Decimal `json:"monthly_potential"`
	AnnualPotential     decimal.Decimal `json:"annual_potential"`
	AnnualGoal          decimal.Decimal `json:"annual_goal"`
	GoalOverridden      bool            `json:"goal_overridden"`
	ProjectedFinal      decimal.Decimal `json:"projected_final_balance"`
	StartingBalanceFmt  string          `json:"starting_balance_fmt"`
	MonthlyRateFmt      string          `json:"monthly_rate_fmt"`
	MonthlyYieldFmt     string          `json:"monthly_yield_fmt"`
	AnnualYieldFmt      string          `json:"annual_yield_fmt"`
	MonthlyPotentialFmt string          `json:"monthly_potential_fmt"`
	AnnualPotentialFmt  string          `json:"annual_potential_fmt"`
	AnnualGoalFmt       string          `json:"annual_goal_fmt"`
	ProjectedFinalFmt   string          `json:"projected_final_balance_fmt"`
}

type goalRowDTO struct {
	ReferenceMonth        core.Date           `json:"reference_month"`
	TargetCumulative      decimal.Decimal     `json:"target_cumulative"`
	ActualCumulative      decimal.NullDecimal `json:"actual_cumulative"`
	Attainment            decimal.NullDecimal `json:"attainment"`
	YearAttainment        decimal.NullDecimal `json:"year_attainment"`
	ExpectedAttainment    decimal.NullDecimal `json:"expected_attainment"`
	TargetCumulativeFmt   string              `json:"target_cumulative_fmt"`
	ActualCumulativeFmt   string              `json:"actual_cumulative_fmt"`
	AttainmentFmt         string              `json:"attainment_fmt"`
	YearAttainmentFmt     string              `json:"year_attainment_fmt"`
	ExpectedAttainmentFmt string              `json:"expected_attainment_fmt"`
}

type goalDTO struct {
	SessionID  string         `json:"session_id"`
	Input      goalInputDTO   `json:"input"`
	RateSource string         `json:"rate_source"`
	RateError  string         `json:"rate_error,omitempty"`
	RateRecord *rateRecordDTO `json:"rate_record,omitempty"`
	Projection projectionDTO  `json:"projection"`
	Schedule   []goalRowDTO   `json:"schedule"`
	Summary    goal.Summary   `json:"summary"`
	ComputedAt time.Time      `json:"computed_at"`
}

type rateLookupDTO struct {
	Date        core.Date       `json:"date"`
	AnnualRate  decimal.Decimal `json:"annual_rate"`
	MonthlyRate decimal.Decimal `json:"monthly_rate"`
	Source      string          `json:"source"`
	Record      rateRecordDTO   `json:"record"`
}

type rateScheduleDTO struct {
	Source    string          `json:"source"`
	FetchedAt time.Time       `json:"fetched_at"`
	Records   []rateRecordDTO `json:"records"`
}

func newSessionDTO(s *session.Session, withTable bool) sessionDTO {
	totals := s.Totals()
	dto := sessionDTO{
		ID:           s.ID,
		Source:       s.Source,
		CreatedAt:    s.CreatedAt,
		Transactions: len(s.Transactions()),
		Dates:        len(totals),
	}
	if len(totals) > 0 {
		dto.FirstDate = totals[0].Date
		dto.LastDate = totals[len(totals)-1].Date
	}
	if withTable {
		dto.Table = newTransactionDTOs(s.Transactions())
	}
	return dto
}

func newTransactionDTOs(txs []core.Transaction) []transactionDTO {
	out := make([]transactionDTO, len(txs))
	for i, tx := range txs {
		out[i] = transactionDTO{
			Date:        tx.Date,
			Institution: tx.Institution,
			Amount:      tx.Amount,
			AmountFmt:   core.FormatCurrency(tx.Amount),
		}
	}
	return out
}

func newEvolutionDTOs(rows []core.EvolutionRow) []evolutionDTO {
	out := make([]evolutionDTO, len(rows))
	for i, r := range rows {
		out[i] = evolutionDTO{
			Date:           r.Date,
			Total:          r.Total,
			Delta:          r.Delta,
			DeltaMean6:     r.DeltaMean6,
			DeltaMean12:    r.DeltaMean12,
			DeltaSum6:      r.DeltaSum6,
			DeltaSum12:     r.DeltaSum12,
			RelDelta:       r.RelDelta,
			RelDeltaMean6:  r.RelDeltaMean6,
			RelDeltaMean12: r.RelDeltaMean12,
			TotalFmt:       core.FormatCurrency(r.Total),
			DeltaFmt:       core.FormatNullCurrency(r.Delta),
			RelDeltaFmt:    core.FormatPercent(r.RelDelta),
		}
	}
	return out
}

func newPivotDTO(p aggregate.Pivot) pivotDTO {
	dto := pivotDTO{
		Dates:        p.Dates,
		Institutions: p.Institutions,
		Cells:        p.Cells,
		Series:       make([]seriesDTO, len(p.Institutions)),
	}
	for i, inst := range p.Institutions {
		dto.Series[i] = seriesDTO{Institution: inst, Values: p.Series(inst)}
	}
	return dto
}

func newDistributionDTO(d core.Date, items []aggregate.InstitutionAmount) distributionDTO {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.Amount)
	}
	dto := distributionDTO{
		Date:     d,
		Total:    total,
		TotalFmt: core.FormatCurrency(total),
		Items:    make([]shareDTO, len(items)),
	}
	for i, it := range items {
		share := core.SafeDiv(core.Some(it.Amount), core.Some(total))
		dto.Items[i] = shareDTO{
			Institution: it.Institution,
			Amount:      it.Amount,
			Share:       share,
			AmountFmt:   core.FormatCurrency(it.Amount),
			ShareFmt:    core.FormatPercent(share),
		}
	}
	return dto
}

func newRateRecordDTO(r core.RateRecord) rateRecordDTO {
	return rateRecordDTO{
		EffectiveStart: r.EffectiveStart,
		EffectiveEnd:   r.EffectiveEnd,
		AnnualRate:     r.AnnualRate,
		Open:           r.Open,
	}
}

func newGoalDTO(sessionID string, g session.GoalState) goalDTO {
	p := g.Projection
	dto := goalDTO{
		SessionID: sessionID,
		Input: goalInputDTO{
			GoalStart:   g.Input.GoalStart,
			FixedCosts:  g.Input.FixedCosts,
			GrossSalary: g.Input.GrossSalary,
			NetSalary:   g.Input.NetSalary,
			AnnualRate:  g.Input.AnnualRate,
			AnnualGoal:  g.Input.AnnualGoal,
		},
		RateSource: g.Rate.Source,
		RateError:  g.Rate.Error,
		Projection: projectionDTO{
			StartingBalance:     g.Config.StartingBalance,
			AnnualRate:          g.Config.AnnualRate,
			MonthlyRate:         p.MonthlyRate,
			MonthlyYield:        p.MonthlyYield,
			AnnualYield:         p.AnnualYield,
			MonthlyPotential:    p.MonthlyPotential,
			AnnualPotential:     p.AnnualPotential,
			AnnualGoal:          p.AnnualGoal,
			GoalOverridden:      p.GoalOverridden,
			ProjectedFinal:      p.ProjectedFinal,
			StartingBalanceFmt:  core.FormatCurrency(g.Config.StartingBalance),
			MonthlyRateFmt:      core.FormatPercent(core.Some(p.MonthlyRate)),
			MonthlyYieldFmt:     core.FormatCurrency(p.MonthlyYield),
			AnnualYieldFmt:      core.FormatCurrency(p.AnnualYield),
			MonthlyPotentialFmt: core.FormatCurrency(p.MonthlyPotential),
			AnnualPotentialFmt:  core.FormatCurrency(p.AnnualPotential),
			AnnualGoalFmt:       core.FormatCurrency(p.AnnualGoal),
			ProjectedFinalFmt:   core.FormatCurrency(p.ProjectedFinal),
		},
		Schedule:   make([]goalRowDTO, len(g.Schedule)),
		Summary:    g.Summary,
		ComputedAt: g.ComputedAt,
	}
	if g.Rate.Record != nil {
		rec := newRateRecordDTO(*g.Rate.Record)
		dto.RateRecord = &rec
	}
	for i, r := range g.Schedule {
		dto.Schedule[i] = goalRowDTO{
			ReferenceMonth:        r.ReferenceMonth,
			TargetCumulative:      r.TargetCumulative,
			ActualCumulative:      r.ActualCumulative,
			Attainment:            r.Attainment,
			YearAttainment:        r.YearAttainment,
			ExpectedAttainment:    r.ExpectedAttainment,
			TargetCumulativeFmt:   core.FormatCurrency(r.TargetCumulative),
			ActualCumulativeFmt:   core.FormatNullCurrency(r.ActualCumulative),
			AttainmentFmt:         core.FormatPercent(r.Attainment),
			YearAttainmentFmt:     core.FormatPercent(r.YearAttainment),
			ExpectedAttainmentFmt: core.FormatPercent(r.ExpectedAttainment),
		}
	}
	return dto
}
