package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/iRazvan2745/Storm/internal/agent/prober"
)

const (
	// heartbeatInterval is how often the agent refreshes its liveness.
	heartbeatInterval = 30 * time.Second

	// updatePollInterval is how often the agent asks the coordinator whether
	// the target set changed.
	updatePollInterval = 120 * time.Second
)

// Agent is the probing runtime: it registers with the coordinator, keeps a
// local snapshot of the target set, and drives the per-target check
// schedulers plus the heartbeat and update-poll loops.
type Agent struct {
	cfg       Config
	client    *Client
	scheduler *Scheduler
	logger    *zap.Logger

	// lastChecked is the target-set version covered by the current schedule.
	lastChecked int64
}

// New wires up an Agent from its config. Run does the actual work.
func New(cfg Config, logger *zap.Logger) (*Agent, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client := NewClient(cfg.ServerURL, cfg.APIKey, logger)
	sched, err := NewScheduler(prober.New(cfg.Name), client, logger)
	if err != nil {
		return nil, err
	}

	return &Agent{
		cfg:       cfg,
		client:    client,
		scheduler: sched,
		logger:    logger.Named("agent"),
	}, nil
}

// Run registers, installs the initial schedule, and blocks servicing the
// heartbeat and update-poll loops until ctx is cancelled. Registration and
// the initial target fetch are fatal on failure; everything after that is
// retried on its own cadence.
func (a *Agent) Run(ctx context.Context) error {
	if err := a.client.Register(ctx, a.cfg.Name, a.cfg.Location); err != nil {
		return fmt.Errorf("initial registration failed: %w", err)
	}
	if err := a.installTargets(ctx); err != nil {
		return fmt.Errorf("initial target fetch failed: %w", err)
	}

	a.scheduler.Start()
	a.logger.Info("agent running",
		zap.String("agent_id", a.client.AgentID()),
		zap.String("name", a.cfg.Name),
		zap.String("location", a.cfg.Location),
	)

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()
	updates := time.NewTicker(updatePollInterval)
	defer updates.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := a.scheduler.Stop(); err != nil {
				a.logger.Warn("scheduler stop", zap.Error(err))
			}
			return ctx.Err()
		case <-heartbeat.C:
			a.beat(ctx)
		case <-updates.C:
			a.pollUpdates(ctx)
		}
	}
}

// beat sends one heartbeat. If the coordinator no longer knows us (registry
// wiped or reset) we re-register; the same name gets the same id back.
func (a *Agent) beat(ctx context.Context) {
	err := a.client.Heartbeat(ctx)
	if err == nil {
		return
	}

	if errors.Is(err, ErrUnknownAgent) {
		a.logger.Warn("coordinator lost our registration, re-registering")
		if rerr := a.client.Register(ctx, a.cfg.Name, a.cfg.Location); rerr != nil {
			a.logger.Error("re-registration failed", zap.Error(rerr))
		}
		return
	}

	a.logger.Warn("heartbeat failed", zap.Error(err))
}

// pollUpdates asks whether the target set changed and, if so, rebuilds the
// schedule from a fresh fetch.
func (a *Agent) pollUpdates(ctx context.Context) {
	changed, _, err := a.client.CheckUpdates(ctx, a.lastChecked)
	if err != nil {
		a.logger.Warn("update check failed", zap.Error(err))
		return
	}
	if !changed {
		return
	}

	a.logger.Info("target set changed, reloading")
	if err := a.installTargets(ctx); err != nil {
		a.logger.Error("target reload failed, keeping current schedule", zap.Error(err))
	}
}

// installTargets fetches the full target list and swaps the schedule to it,
// recording the version so the next poll starts from there.
func (a *Agent) installTargets(ctx context.Context) error {
	targets, version, err := a.client.FetchTargets(ctx)
	if err != nil {
		return err
	}
	if err := a.scheduler.Replace(targets); err != nil {
		return err
	}
	a.lastChecked = version
	return nil
}
