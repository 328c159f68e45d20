// Package session holds one uploaded table with every series derived from
// it and the goal the user is tracking against it.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"financas/internal/aggregate"
	"financas/internal/core"
	"financas/internal/goal"
	"financas/internal/rates"
)

var ErrNoStartingBalance = errors.New("no balance on or before the goal start")

// Rate sources that do not come from the rates service.
const (
	RateSourceOverride = "override"
	RateSourceFallback = "fallback"
)

// RateResolver finds the annual rate in force at a date.
type RateResolver interface {
	RateAt(ctx context.Context, d core.Date) (core.RateRecord, rates.Source, error)
}

// Options are shared by every session of a store.
type Options struct {
	Rates        RateResolver
	FallbackRate decimal.Decimal // percent
}

// GoalInput is what the user types into the goal form.
type GoalInput struct {
	GoalStart   core.Date           `json:"goal_start"`
	FixedCosts  decimal.Decimal     `json:"fixed_costs"`
	GrossSalary decimal.Decimal     `json:"gross_salary"`
	NetSalary   decimal.Decimal     `json:"net_salary"`
	AnnualRate  decimal.NullDecimal `json:"annual_rate"`
	AnnualGoal  decimal.NullDecimal `json:"annual_goal"`
}

// RateOutcome records which rate the projection used and why.
type RateOutcome struct {
	AnnualRate decimal.Decimal  `json:"annual_rate"`
	Source     string           `json:"source"`
	Record     *core.RateRecord `json:"record,omitempty"`
	Error      string           `json:"error,omitempty"`
}

// GoalState is the result of the last goal recomputation.
type GoalState struct {
	Input      GoalInput             `json:"input"`
	Config     core.GoalConfig       `json:"config"`
	Rate       RateOutcome           `json:"rate"`
	Projection goal.Projection       `json:"projection"`
	Schedule   []core.MonthlyGoalRow `json:"schedule"`
	Summary    goal.Summary          `json:"summary"`
	ComputedAt time.Time             `json:"computed_at"`
}

// Session is safe for concurrent use; goal updates are applied one at a time.
type Session struct {
	ID        string
	Source    string
	CreatedAt time.Time

	opts         Options
	transactions []core.Transaction
	totals       []core.DailyTotal
	evolution    []core.EvolutionRow
	pivot        aggregate.Pivot

	mu   sync.Mutex
	goal *GoalState
}

// New derives every series from txs. The table is copied and never mutated.
func New(txs []core.Transaction, source string, opts Options) (*Session, error) {
	if len(txs) == 0 {
		return nil, &core.InputParseError{Err: core.ErrEmptyTable}
	}
	own := append([]core.Transaction(nil), txs...)
	totals := aggregate.DailyTotals(own)

	return &Session{
		ID:           uuid.New().String(),
		Source:       source,
		CreatedAt:    time.Now().UTC(),
		opts:         opts,
		transactions: own,
		totals:       totals,
		evolution:    aggregate.Evolution(totals),
		pivot:        aggregate.NewPivot(own),
	}, nil
}

func (s *Session) Transactions() []core.Transaction { return s.transactions }
func (s *Session) Totals() []core.DailyTotal { return s.totals }
func (s *Session) Evolution() []core.EvolutionRow { return s.evolution }
func (s *Session) Pivot() aggregate.Pivot { return s.pivot }

// Goal returns the last computed goal, if any.
func (s *Session) Goal() (GoalState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.goal == nil {
		return GoalState{}, false
	}
	return *s.goal, true
}

// UpdateGoal recomputes the projection and schedule from scratch. The rate
// is the user's override, else the one in force at the goal start, else the
// configured fallback; lookup failures never fail the update.
func (s *Session) UpdateGoal(ctx context.Context, in GoalInput) (GoalState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if in.GoalStart.IsZero() {
		return GoalState{}, fmt.Errorf("goal start: %w", core.ErrInvalidDate)
	}
	starting := goal.StartingBalance(s.totals, in.GoalStart)
	if !starting.Valid {
		return GoalState{}, fmt.Errorf("%w: %s", ErrNoStartingBalance, in.GoalStart)
	}

	rate := s.resolveRate(ctx, in)
	cfg := core.GoalConfig{
		GoalStart:       in.GoalStart,
		StartingBalance: starting.Decimal,
		FixedCosts:      in.FixedCosts,
		GrossSalary:     in.GrossSalary,
		NetSalary:       in.NetSalary,
		AnnualRate:      rate.AnnualRate,
		AnnualGoal:      in.AnnualGoal,
	}
	if err := cfg.Validate(); err != nil {
		return GoalState{}, err
	}

	projection, err := goal.Project(goal.InputFrom(cfg))
	if err != nil {
		return GoalState{}, err
	}
	schedule := goal.Schedule(cfg, projection, s.totals)
	state := &GoalState{
		Input:      in,
		Config:     cfg,
		Rate:       rate,
		Projection: projection,
		Schedule:   schedule,
		Summary:    goal.Summarize(schedule),
		ComputedAt: time.Now().UTC(),
	}
	s.goal = state
	return *state, nil
}

func (s *Session) resolveRate(ctx context.Context, in GoalInput) RateOutcome {
	if in.AnnualRate.Valid {
		return RateOutcome{AnnualRate: in.AnnualRate.Decimal, Source: RateSourceOverride}
	}

	fallback := RateOutcome{AnnualRate: s.opts.FallbackRate, Source: RateSourceFallback}
	if s.opts.Rates == nil {
		fallback.Error = "rate lookup disabled"
		return fallback
	}

	rec, source, err := s.opts.Rates.RateAt(ctx, in.GoalStart)
	if err != nil {
		fallback.Error = err.Error()
		return fallback
	}
	if rec.AnnualRate.GreaterThan(core.MaxAnnualRate) {
		fallback.Error = fmt.Sprintf("%s: %s%%", core.ErrRateOutOfRange, rec.AnnualRate)
		return fallback
	}
	return RateOutcome{AnnualRate: rec.AnnualRate, Source: string(source), Record: &rec}
}
