package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"financas/internal/amqp"
	"financas/internal/core"
	"financas/internal/log"
	"financas/internal/rates"
)

// Refresher fetches the rate schedule bypassing any memo.
type Refresher interface {
	Refresh(ctx context.Context) (rates.Schedule, error)
}

// Publisher announces a fresh schedule to other processes.
type Publisher interface {
	PublishRatesRefreshed(ctx context.Context, msg *amqp.RatesRefreshedMessage) error
}

// ErrStaleSchedule is returned when the source was unreachable and the
// refresh fell back to the persisted snapshot.
var ErrStaleSchedule = errors.New("rate source unreachable, snapshot served")

// RateRefresher periodically refreshes the rate schedule and notifies
// subscribers when a new one was fetched from the source.
type RateRefresher struct {
	rates     Refresher
	publisher Publisher
	series    string
	timeout   time.Duration
	cron      *cron.Cron
	log       *slog.Logger
}

// NewRateRefresher wires a refresher; publisher may be nil when AMQP is disabled.
func NewRateRefresher(r Refresher, publisher Publisher, series string, timeout time.Duration, logger *slog.Logger) *RateRefresher {
	if series == "" {
		series = rates.DefaultSeries
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RateRefresher{
		rates:     r,
		publisher: publisher,
		series:    series,
		timeout:   timeout,
		log:       logger,
	}
}

// RefreshOnce runs a single refresh. A failed publish is logged and does
// not fail the refresh since the snapshot is already persisted.
func (w *RateRefresher) RefreshOnce(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	sched, err := w.rates.Refresh(ctx)
	if err != nil {
		return fmt.Errorf("refresh rates: %w", err)
	}
	if sched.Source != rates.SourceNetwork {
		w.log.WarnContext(ctx, "Rate refresh served from snapshot",
			log.FieldOperation, log.OpRefresh,
			log.FieldSeries, w.series,
			"fetched_at", sched.FetchedAt)
		return ErrStaleSchedule
	}

	latest := LatestRate(sched.Records)
	w.log.InfoContext(ctx, "Rate schedule refreshed",
		log.FieldOperation, log.OpRefresh,
		log.FieldSeries, w.series,
		log.FieldRecords, len(sched.Records),
		"latest_rate", latest)

	if w.publisher == nil {
		return nil
	}
	msg := amqp.NewRatesRefreshedMessage(w.series, len(sched.Records), latest, sched.FetchedAt)
	if err := w.publisher.PublishRatesRefreshed(ctx, msg); err != nil {
		w.log.ErrorContext(ctx, "Failed to publish rates refreshed message",
			log.FieldSeries, w.series,
			"error", err)
	}
	return nil
}

// Start schedules RefreshOnce on a standard five-field cron expression.
// Overlapping runs are skipped.
func (w *RateRefresher) Start(ctx context.Context, schedule string) error {
	if _, err := cron.ParseStandard(schedule); err != nil {
		return fmt.Errorf("invalid refresh schedule %q: %w", schedule, err)
	}

	logger := cronLogger{log: w.log}
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	if _, err := c.AddFunc(schedule, func() {
		if err := w.RefreshOnce(ctx); err != nil && !errors.Is(err, ErrStaleSchedule) {
			w.log.ErrorContext(ctx, "Scheduled rate refresh failed",
				log.FieldOperation, log.OpRefresh,
				log.FieldError, err)
		}
	}); err != nil {
		return fmt.Errorf("schedule rate refresh: %w", err)
	}

	w.cron = c
	c.Start()
	w.log.InfoContext(ctx, "Rate refresher started", log.FieldCronSchedule, schedule)
	return nil
}

// Stop halts the scheduler and waits for a running refresh or ctx.
func (w *RateRefresher) Stop(ctx context.Context) {
	if w.cron == nil {
		return
	}
	done := w.cron.Stop()
	select {
	case <-done.Done():
		w.log.Info("Rate refresher stopped")
	case <-ctx.Done():
		w.log.Warn("Rate refresher stop timed out", "error", ctx.Err())
	}
}

// LatestRate formats the annual rate of the record with the latest start.
func LatestRate(records []core.RateRecord) string {
	if len(records) == 0 {
		return ""
	}
	latest := records[0]
	for _, r := range records[1:] {
		if r.EffectiveStart.After(latest.EffectiveStart) {
			latest = r
		}
	}
	return latest.AnnualRate.String()
}

// cronLogger adapts slog to the cron.Logger interface.
type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
