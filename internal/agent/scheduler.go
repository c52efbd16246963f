package agent

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"

	"github.com/iRazvan2745/Storm/internal/agent/prober"
	"github.com/iRazvan2745/Storm/internal/model"
)

// Scheduler runs one periodic check job per target. Each target maps to
// exactly one gocron job, tagged with the target id. Jobs run in singleton
// mode: if a target's previous check is still running when the next tick
// fires, that tick is skipped so checks never overlap.
type Scheduler struct {
	cron   gocron.Scheduler
	prober *prober.Prober
	client *Client
	logger *zap.Logger
}

// NewScheduler creates a Scheduler. Call Replace to install targets and
// Start to begin ticking.
func NewScheduler(p *prober.Prober, client *Client, logger *zap.Logger) (*Scheduler, error) {
	cron, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}
	return &Scheduler{
		cron:   cron,
		prober: p,
		client: client,
		logger: logger.Named("scheduler"),
	}, nil
}

// Start begins processing scheduled jobs.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop shuts the underlying gocron scheduler down, waiting for running
// checks to finish.
func (s *Scheduler) Stop() error {
	if err := s.cron.Shutdown(); err != nil {
		return fmt.Errorf("scheduler shutdown error: %w", err)
	}
	return nil
}

// Replace swaps the scheduled target set: every existing job is removed and
// one job per given target is installed. Each new job fires its first check
// immediately, then follows the target's interval.
func (s *Scheduler) Replace(targets []model.Target) error {
	for _, job := range s.cron.Jobs() {
		s.cron.RemoveByTags(job.Tags()...)
	}

	for i := range targets {
		if err := s.addJob(targets[i]); err != nil {
			s.logger.Error("failed to schedule target",
				zap.Int("target_id", targets[i].ID),
				zap.String("target_name", targets[i].Name),
				zap.Error(err),
			)
		}
	}

	s.logger.Info("target schedule installed", zap.Int("targets", len(targets)))
	return nil
}

// addJob registers a single target as a gocron duration job. The target id
// is used as the gocron tag for later removal.
func (s *Scheduler) addJob(t model.Target) error {
	_, err := s.cron.NewJob(
		gocron.DurationJob(time.Duration(t.Interval)*time.Millisecond),
		gocron.NewTask(func(target model.Target) {
			s.runCheck(target)
		}, t),
		gocron.WithTags(strconv.Itoa(t.ID)),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		return fmt.Errorf("gocron.NewJob failed for target %d (interval: %dms): %w",
			t.ID, t.Interval, err)
	}
	return nil
}

// runCheck probes the target once and submits the result. A submission that
// still fails after the retry policy is exhausted is dropped with a loud
// log line; the next tick produces a fresh result anyway.
func (s *Scheduler) runCheck(t model.Target) {
	res := s.prober.Check(context.Background(), t)
	s.logger.Debug("check completed",
		zap.Int("target_id", t.ID),
		zap.String("endpoint", t.Endpoint()),
		zap.Bool("success", res.Success),
		zap.Float64("response_time_ms", res.ResponseTime),
	)

	// Submission gets its own deadline covering the full retry schedule.
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if err := s.client.SubmitResults(ctx, []model.CheckResult{res}); err != nil {
		s.logger.Error("dropping check result, submission exhausted retries",
			zap.Int("target_id", t.ID),
			zap.Int64("timestamp", res.Timestamp),
			zap.Bool("success", res.Success),
			zap.Error(err),
		)
	}
}
