// Package scheduler runs the periodic enforcement passes: the bulk activity
// sweep, the at-risk warning sweep, the auto-revoke sweep and the retention
// sweep. A pass never overlaps with itself, whether it was started by cron or
// by an administrator.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/0xRichardL/vibe-copy-trading/licensing/internal/domain"
	"github.com/0xRichardL/vibe-copy-trading/licensing/internal/engine"
	"github.com/0xRichardL/vibe-copy-trading/licensing/internal/metrics"
	"github.com/0xRichardL/vibe-copy-trading/licensing/internal/store"
	"github.com/coder/quartz"
	"github.com/hashicorp/go-multierror"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

type Pass string

const (
	PassActivitySweep Pass = "activity_sweep"
	PassWarningSweep  Pass = "warning_sweep"
	PassAutoRevoke    Pass = "auto_revoke"
	PassRetention     Pass = "retention"
)

// ErrPassInProgress is returned to manual triggers when another replica holds the pass.
var ErrPassInProgress = errors.New("scheduler: pass already running elsewhere")

// Specs are the cron expressions of each pass. An empty expression disables
// the scheduled run; manual triggers still work.
type Specs struct {
	ActivitySweep string
	WarningSweep  string
	AutoRevoke    string
	Retention     string
}

// DefaultSpecs run the activity sweep every 6 hours, warnings hourly,
// auto-revoke at 03:00 and retention at 02:00.
var DefaultSpecs = Specs{
	ActivitySweep: "0 */6 * * *",
	WarningSweep:  "0 * * * *",
	AutoRevoke:    "0 3 * * *",
	Retention:     "0 2 * * *",
}

// Locker coordinates passes between replicas.
type Locker interface {
	TryAcquire(ctx context.Context, pass string) (release func(), ok bool, err error)
}

// SweepResult summarises one pass. One user's failure never stops the pass;
// it is counted and kept in Errors.
type SweepResult struct {
	Pass       Pass              `json:"pass"`
	Skipped    bool              `json:"skipped"`
	Processed  int               `json:"processed"`
	Succeeded  int               `json:"succeeded"`
	Failed     int               `json:"failed"`
	Touched    int               `json:"touched"`
	Revoked    int               `json:"revoked"`
	Warned     int               `json:"warned"`
	Purged     store.PurgeResult `json:"purged"`
	StartedAt  time.Time         `json:"startedAt"`
	FinishedAt time.Time         `json:"finishedAt"`
	Errors     *multierror.Error `json:"-"`
}

// Err returns the aggregated per-user errors, or nil.
func (r SweepResult) Err() error { return r.Errors.ErrorOrNil() }

func (r *SweepResult) fail(userID string, err error) {
	r.Failed++
	r.Errors = multierror.Append(r.Errors, fmt.Errorf("user %s: %w", userID, err))
}

// Config carries the knobs of a Scheduler.
type Config struct {
	Specs     Specs
	UserDelay time.Duration
	Retention store.RetentionPolicy
}

type Scheduler struct {
	engine  *engine.Engine
	purger  *store.Purger
	locker  Locker
	clock   quartz.Clock
	cfg     Config
	metrics *metrics.Metrics
	logger  *zap.Logger

	mu     sync.Mutex
	passes map[Pass]*sync.Mutex
}

// New builds a Scheduler. locker may be nil for a single replica.
func New(e *engine.Engine, purger *store.Purger, locker Locker, clock quartz.Clock, cfg Config, m *metrics.Metrics, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		engine:  e,
		purger:  purger,
		locker:  locker,
		clock:   clock,
		cfg:     cfg,
		metrics: m,
		logger:  logger,
		passes: map[Pass]*sync.Mutex{
			PassActivitySweep: {},
			PassWarningSweep:  {},
			PassAutoRevoke:    {},
			PassRetention:     {},
		},
	}
}

// Run schedules every pass and blocks until ctx is done, then waits for
// running passes to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	cl := cronLogger{s.logger.Sugar()}
	c := cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)))
	jobs := []struct {
		spec string
		pass Pass
	}{
		{s.cfg.Specs.ActivitySweep, PassActivitySweep},
		{s.cfg.Specs.WarningSweep, PassWarningSweep},
		{s.cfg.Specs.AutoRevoke, PassAutoRevoke},
		{s.cfg.Specs.Retention, PassRetention},
	}
	for _, j := range jobs {
		if j.spec == "" {
			continue
		}
		pass := j.pass
		if _, err := c.AddFunc(j.spec, func() { s.scheduled(ctx, pass) }); err != nil {
			return fmt.Errorf("schedule %s %q: %w", pass, j.spec, err)
		}
	}
	c.Start()
	s.logger.Info("enforcement scheduler started", zap.Int("jobs", len(c.Entries())))

	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

func (s *Scheduler) scheduled(ctx context.Context, pass Pass) {
	res, err := s.run(ctx, pass, false)
	if err != nil {
		s.logger.Error("enforcement pass failed", zap.String("pass", string(pass)), zap.Error(err))
		return
	}
	if res.Skipped {
		return
	}
	if perr := res.Err(); perr != nil {
		s.logger.Warn("enforcement pass finished with errors",
			zap.String("pass", string(pass)),
			zap.Int("succeeded", res.Succeeded),
			zap.Int("failed", res.Failed),
			zap.Error(perr))
	}
}

// ActivitySweep refreshes every active license from its broker's activity.
func (s *Scheduler) ActivitySweep(ctx context.Context) (SweepResult, error) {
	return s.run(ctx, PassActivitySweep, true)
}

// WarningSweep queues inactivity warnings for licenses reaching the warning threshold.
func (s *Scheduler) WarningSweep(ctx context.Context) (SweepResult, error) {
	return s.run(ctx, PassWarningSweep, true)
}

// AutoRevokeSweep re-checks licenses past the inactivity threshold and revokes
// those with verified inactivity.
func (s *Scheduler) AutoRevokeSweep(ctx context.Context) (SweepResult, error) {
	return s.run(ctx, PassAutoRevoke, true)
}

// RetentionSweep deletes ledger rows, read notifications and audit entries
// past their retention age.
func (s *Scheduler) RetentionSweep(ctx context.Context) (SweepResult, error) {
	return s.run(ctx, PassRetention, true)
}

// run executes pass. Manual callers (wait=true) queue behind a running
// instance; scheduled callers skip.
func (s *Scheduler) run(ctx context.Context, pass Pass, wait bool) (SweepResult, error) {
	res := SweepResult{Pass: pass}
	mu := s.passes[pass]
	if wait {
		mu.Lock()
	} else if !mu.TryLock() {
		res.Skipped = true
		s.logger.Info("enforcement pass still running, skipped", zap.String("pass", string(pass)))
		s.metrics.Sweep(string(pass), "skipped", 0)
		return res, nil
	}
	defer mu.Unlock()

	if s.locker != nil {
		release, ok, err := s.locker.TryAcquire(ctx, string(pass))
		switch {
		case err != nil:
			// The local mutex still guards this replica; per-user writes are
			// serialized in the engine either way.
			s.logger.Warn("pass lock unavailable, running unlocked", zap.String("pass", string(pass)), zap.Error(err))
		case !ok:
			res.Skipped = true
			s.metrics.Sweep(string(pass), "skipped", 0)
			if wait {
				return res, ErrPassInProgress
			}
			return res, nil
		default:
			defer release()
		}
	}

	res.StartedAt = s.clock.Now().UTC()
	var err error
	switch pass {
	case PassActivitySweep:
		err = s.activitySweep(ctx, &res)
	case PassWarningSweep:
		err = s.warningSweep(ctx, &res)
	case PassAutoRevoke:
		err = s.autoRevokeSweep(ctx, &res)
	case PassRetention:
		err = s.retentionSweep(ctx, &res)
	default:
		err = fmt.Errorf("unknown pass %q", pass)
	}
	res.FinishedAt = s.clock.Now().UTC()

	outcome := "ok"
	switch {
	case err != nil:
		outcome = "error"
	case res.Failed > 0:
		outcome = "partial"
	}
	s.metrics.Sweep(string(pass), outcome, res.FinishedAt.Sub(res.StartedAt))
	s.logger.Info("enforcement pass finished",
		zap.String("pass", string(pass)),
		zap.Int("processed", res.Processed),
		zap.Int("succeeded", res.Succeeded),
		zap.Int("failed", res.Failed),
		zap.Int("touched", res.Touched),
		zap.Int("revoked", res.Revoked),
		zap.Int("warned", res.Warned))
	return res, err
}

func (s *Scheduler) activitySweep(ctx context.Context, res *SweepResult) error {
	licenses, err := s.engine.ActiveLicenses(ctx)
	if err != nil {
		return err
	}
	return s.each(ctx, res, licenses, true, func(lic domain.License) error {
		ev, err := s.engine.Sync(ctx, lic.UserID)
		if ev.Outcome == engine.OutcomeTouched {
			res.Touched++
		}
		return err
	})
}

func (s *Scheduler) warningSweep(ctx context.Context, res *SweepResult) error {
	licenses, err := s.engine.ActiveLicenses(ctx)
	if err != nil {
		return err
	}
	return s.each(ctx, res, licenses, false, func(lic domain.License) error {
		sent, err := s.engine.WarnIfDue(ctx, lic)
		if sent {
			res.Warned++
		}
		return err
	})
}

func (s *Scheduler) autoRevokeSweep(ctx context.Context, res *SweepResult) error {
	licenses, err := s.engine.ActiveLicenses(ctx)
	if err != nil {
		return err
	}
	due := licenses[:0]
	for _, lic := range licenses {
		if s.engine.Eligible(lic) {
			due = append(due, lic)
		}
	}
	return s.each(ctx, res, due, true, func(lic domain.License) error {
		ev, err := s.engine.RecheckAndRevoke(ctx, lic.UserID)
		switch ev.Outcome {
		case engine.OutcomeRevoked:
			res.Revoked++
		case engine.OutcomeTouched:
			res.Touched++
		}
		return err
	})
}

func (s *Scheduler) retentionSweep(ctx context.Context, res *SweepResult) error {
	purged, err := s.purger.Purge(ctx, s.clock.Now(), s.cfg.Retention)
	if err != nil {
		return err
	}
	res.Purged = purged
	return nil
}

// each applies fn to every license, pausing between users when throttled.
// It stops early only when ctx ends.
func (s *Scheduler) each(ctx context.Context, res *SweepResult, licenses []domain.License, throttled bool, fn func(domain.License) error) error {
	for i, lic := range licenses {
		if i > 0 && throttled {
			if err := s.pause(ctx); err != nil {
				return err
			}
		}
		res.Processed++
		if err := fn(lic); err != nil {
			res.fail(lic.UserID, err)
			s.logger.Warn("enforcement step failed",
				zap.String("pass", string(res.Pass)),
				zap.String("user_id", lic.UserID),
				zap.Error(err))
			continue
		}
		res.Succeeded++
	}
	return nil
}

func (s *Scheduler) pause(ctx context.Context) error {
	if s.cfg.UserDelay <= 0 {
		return ctx.Err()
	}
	t := s.clock.NewTimer(s.cfg.UserDelay, "scheduler", "delay")
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
