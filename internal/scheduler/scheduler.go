// Package scheduler drives the eligibility pipeline on a timer and decides
// whether each run earns the normal refresh interval or the shorter retry
// interval.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/GustavoSena/ArenaBadges-sub001/internal/alert"
	"github.com/GustavoSena/ArenaBadges-sub001/internal/domain/model"
	"github.com/GustavoSena/ArenaBadges-sub001/internal/fetch"
	"github.com/GustavoSena/ArenaBadges-sub001/internal/identity"
	"github.com/GustavoSena/ArenaBadges-sub001/internal/metrics"
	"github.com/GustavoSena/ArenaBadges-sub001/internal/sender"
	"github.com/GustavoSena/ArenaBadges-sub001/internal/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Outcome tags one completed run.
type Outcome string

const (
	OutcomeSuccess      Outcome = "success"
	OutcomeRetryFailure Outcome = "retry_failure"
)

// Pipeline produces one run's eligibility result.
type Pipeline func(ctx context.Context) (*model.EligibilityResult, error)

// Callbacks notify interested parties of scheduler activity. Either hook may
// be nil.
type Callbacks struct {
	OnSchedule func(next time.Time)
	OnRun      func()
}

// Config carries the two cadences. RetryInterval is the shorter one, chosen
// after a run that must not publish its result.
type Config struct {
	Interval      time.Duration
	RetryInterval time.Duration
}

// Scheduler loops the pipeline. A RetryFailure run never reaches the
// sender: publishing an empty or partial eligibility set would revoke
// badges that are still earned.
type Scheduler struct {
	pipeline  Pipeline
	sender    sender.Sender
	cfg       Config
	alerter   alert.Alerter
	project   string
	callbacks Callbacks
	logger    *slog.Logger

	nowFn       func() time.Time
	lastOutcome Outcome
}

// New creates a scheduler. alerter may be nil.
func New(pipeline Pipeline, snd sender.Sender, cfg Config, alerter alert.Alerter, project string, callbacks Callbacks, logger *slog.Logger) *Scheduler {
	if alerter == nil {
		alerter = &alert.NoopAlerter{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		pipeline:  pipeline,
		sender:    snd,
		cfg:       cfg,
		alerter:   alerter,
		project:   project,
		callbacks: callbacks,
		logger:    logger.With("component", "scheduler"),
		nowFn:     time.Now,
	}
}

// RunOnce executes one isolated pipeline pass and classifies the outcome.
// The result is non-nil only on success.
func (s *Scheduler) RunOnce(ctx context.Context) (Outcome, *model.EligibilityResult) {
	ctx, span := tracing.Tracer("scheduler").Start(ctx, "scheduler.run_once", trace.WithAttributes(
		attribute.String("project", s.project),
	))
	defer span.End()

	started := s.nowFn()
	outcome, result := s.runOnce(ctx)
	span.SetAttributes(attribute.String("outcome", string(outcome)))
	metrics.SchedulerRunsTotal.WithLabelValues(string(outcome)).Inc()
	metrics.SchedulerRunDuration.Observe(s.nowFn().Sub(started).Seconds())

	if outcome == OutcomeSuccess && s.lastOutcome == OutcomeRetryFailure {
		s.alerter.Send(ctx, alert.Alert{
			Type:    alert.AlertTypeRecovery,
			Project: s.project,
			Title:   "pipeline recovered",
			Message: "run completed and result was published after a retry failure",
		})
	}
	s.lastOutcome = outcome
	return outcome, result
}

func (s *Scheduler) runOnce(ctx context.Context) (Outcome, *model.EligibilityResult) {
	result, err := s.pipeline(ctx)
	if err != nil {
		s.classifyPipelineError(ctx, err)
		return OutcomeRetryFailure, nil
	}

	if len(result.BasicAddresses) == 0 {
		s.logger.Warn("run produced zero qualifying basic holders, suppressing send",
			"run_id", result.RunID,
		)
		s.alerter.Send(ctx, alert.Alert{
			Type:    alert.AlertTypeRetryFailure,
			Project: s.project,
			Title:   "empty basic holder set",
			Message: "run produced zero qualifying basic holders; send suppressed",
		})
		return OutcomeRetryFailure, nil
	}

	status, err := s.sender.Send(ctx, result)
	if err != nil {
		if fetch.IsKind(err, fetch.KindRateLimited) || fetch.IsExhaustion(err) {
			s.logger.Warn("downstream rate limited, rescheduling sooner",
				"run_id", result.RunID,
				"error", err,
			)
			s.alerter.Send(ctx, alert.Alert{
				Type:    alert.AlertTypeRetryFailure,
				Project: s.project,
				Title:   "downstream rate limited",
				Message: err.Error(),
			})
			return OutcomeRetryFailure, nil
		}
		s.logger.Error("send failed", "run_id", result.RunID, "error", err)
		s.alerter.Send(ctx, alert.Alert{
			Type:    alert.AlertTypeSendFailed,
			Project: s.project,
			Title:   "result send failed",
			Message: err.Error(),
		})
		return OutcomeRetryFailure, nil
	}

	s.logger.Info("run complete",
		"run_id", result.RunID,
		"send_status", string(status),
		"basic_handles", len(result.BasicHandles),
		"upgraded_handles", len(result.UpgradedHandles),
	)
	return OutcomeSuccess, result
}

func (s *Scheduler) classifyPipelineError(ctx context.Context, err error) {
	switch {
	case fetch.IsKind(err, fetch.KindAuthExhausted):
		s.logger.Error("credential pool exhausted", "error", err)
		s.alerter.Send(ctx, alert.Alert{
			Type:    alert.AlertTypeAuthExhausted,
			Project: s.project,
			Title:   "all provider credentials rejected",
			Message: err.Error(),
		})
	case fetch.IsExhaustion(err), errors.Is(err, identity.ErrResolutionAborted):
		s.logger.Warn("pipeline exhausted upstream budget", "error", err)
		s.alerter.Send(ctx, alert.Alert{
			Type:    alert.AlertTypeRetryFailure,
			Project: s.project,
			Title:   "upstream exhaustion",
			Message: err.Error(),
		})
	default:
		s.logger.Error("pipeline failed", "error", err)
		s.alerter.Send(ctx, alert.Alert{
			Type:    alert.AlertTypeRetryFailure,
			Project: s.project,
			Title:   "pipeline failure",
			Message: err.Error(),
		})
	}
}

// nextDelay selects the cadence the outcome earns: the normal refresh
// interval after success, the shorter retry interval after a run whose
// result was suppressed.
func (s *Scheduler) nextDelay(outcome Outcome) time.Duration {
	if outcome == OutcomeRetryFailure {
		return s.cfg.RetryInterval
	}
	return s.cfg.Interval
}

// Run loops RunOnce until the context is cancelled. The first run starts
// immediately; each later run is scheduled by the previous outcome.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		if s.callbacks.OnRun != nil {
			s.callbacks.OnRun()
		}
		outcome, _ := s.RunOnce(ctx)

		delay := s.nextDelay(outcome)
		next := s.nowFn().Add(delay)
		s.logger.Info("next run scheduled",
			"outcome", string(outcome),
			"next_run", next.UTC().Format(time.RFC3339),
		)
		if s.callbacks.OnSchedule != nil {
			s.callbacks.OnSchedule(next)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
