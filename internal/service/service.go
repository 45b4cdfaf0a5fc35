package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"relay-weather/internal/config"
	"relay-weather/internal/contact"
	"relay-weather/internal/eligibility"
	"relay-weather/internal/history"
	"relay-weather/internal/metrics"
	"relay-weather/internal/notify"
	"relay-weather/internal/onionoo"
	"relay-weather/internal/storage"
	"relay-weather/internal/tracker"
)

// Report summarises one evaluation pass.
type Report struct {
	StartedAt  time.Time
	Duration   time.Duration
	Relays     int
	Welcome    int
	Reward     int
	Skipped    int
	MarkedDown int64
	Pruned     int64
	// LockHeld is set when another process owned the run lock and nothing was done.
	LockHeld bool
}

// Service runs the fetch, evaluate, dispatch and prune pass.
type Service struct {
	fetcher    onionoo.Fetcher
	tracker    *tracker.Tracker
	dispatcher notify.Dispatcher
	summary    notify.SummaryNotifier
	recorder   *metrics.Recorder
	locker     storage.AdvisoryLocker
	logger     zerolog.Logger

	checkDeployTime bool
	exitPorts       []int
	linksBaseURL    string
	lockKey         int64
	extractContact  func(string) string
	now             func() time.Time
}

// Option customises a Service.
type Option func(*Service)

// WithLocker serialises passes through an advisory lock.
func WithLocker(locker storage.AdvisoryLocker) Option {
	return func(s *Service) { s.locker = locker }
}

// WithRecorder records run metrics.
func WithRecorder(recorder *metrics.Recorder) Option {
	return func(s *Service) { s.recorder = recorder }
}

// WithSummaryNotifier reports each finished pass to the operators.
func WithSummaryNotifier(n notify.SummaryNotifier) Option {
	return func(s *Service) { s.summary = n }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithContactExtractor overrides how contact addresses are pulled from relay metadata.
func WithContactExtractor(extract func(string) string) Option {
	return func(s *Service) {
		if extract != nil {
			s.extractContact = extract
		}
	}
}

// New constructs the evaluation service.
func New(cfg *config.Config, fetcher onionoo.Fetcher, tr *tracker.Tracker, dispatcher notify.Dispatcher, logger zerolog.Logger, opts ...Option) *Service {
	exitPorts := cfg.Eligibility.ExitPorts
	if len(exitPorts) == 0 {
		exitPorts = eligibility.DefaultExitPorts
	}

	s := &Service{
		fetcher:         fetcher,
		tracker:         tr,
		dispatcher:      dispatcher,
		logger:          logger.With().Str("component", "service").Logger(),
		checkDeployTime: cfg.Eligibility.CheckDeployTime,
		exitPorts:       exitPorts,
		linksBaseURL:    strings.TrimRight(cfg.Links.BaseURL, "/"),
		lockKey:         cfg.Scheduler.AdvisoryLockKey,
		extractContact:  contact.Extract,
		now:             func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Tick adapts RunOnce to the scheduler callback.
func (s *Service) Tick(ctx context.Context, bucket time.Time) error {
	_, err := s.RunOnce(ctx)
	return err
}

// RunOnce performs a single pass. Persisted state is not rolled back on error;
// every transition is guarded so the next pass picks up where this one stopped.
func (s *Service) RunOnce(ctx context.Context) (Report, error) {
	report := Report{StartedAt: s.now()}

	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return s.finish(ctx, report, err)
	}
	if !proceed {
		report.LockHeld = true
		s.logger.Info().Int64("lock_key", s.lockKey).Msg("skip run because advisory lock held elsewhere")
		return s.finish(ctx, report, nil)
	}
	if unlock != nil {
		defer unlock()
	}

	err = s.execute(ctx, &report)
	return s.finish(ctx, report, err)
}

func (s *Service) execute(ctx context.Context, report *Report) error {
	details, err := s.fetcher.FetchDetails(ctx)
	if err != nil {
		return fmt.Errorf("fetch details: %w", err)
	}
	uptime, err := s.fetcher.FetchUptime(ctx)
	if err != nil {
		return fmt.Errorf("fetch uptime: %w", err)
	}
	bandwidth, err := s.fetcher.FetchBandwidth(ctx)
	if err != nil {
		return fmt.Errorf("fetch bandwidth: %w", err)
	}

	records, err := Join(details, uptime, bandwidth)
	if err != nil {
		return err
	}
	report.Relays = len(records)

	deployment, err := s.tracker.DeploymentTime(ctx)
	if err != nil {
		return err
	}
	now := s.now()

	var batch []notify.Notification
	running := make([]string, 0, len(records))
	for _, rec := range records {
		running = append(running, rec.Detail.Fingerprint)
		notes, err := s.evaluate(ctx, rec, deployment, now, report)
		if err != nil {
			return err
		}
		batch = append(batch, notes...)
	}

	if len(batch) > 0 {
		if err := s.dispatcher.Dispatch(ctx, batch); err != nil {
			return fmt.Errorf("dispatch %d notifications: %w", len(batch), err)
		}
	}

	report.MarkedDown, err = s.tracker.MarkAbsentDown(ctx, running)
	if err != nil {
		return err
	}

	report.Pruned, err = s.tracker.PruneStale(ctx, deployment, eligibility.RollingCutoff(now))
	return err
}

// evaluate runs the welcome check and then the reward check for one relay.
func (s *Service) evaluate(ctx context.Context, rec onionoo.RelayRecord, deployment, now time.Time, report *Report) ([]notify.Notification, error) {
	detail := rec.Detail
	exit := eligibility.IsExit(detail.ExitPolicySummary, s.exitPorts)
	address := s.extractContact(detail.Contact)

	var notes []notify.Notification

	existing, err := s.tracker.FindExisting(ctx, detail.Fingerprint)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if err := s.tracker.Touch(ctx, *existing, detail, exit); err != nil {
			return nil, err
		}
	}

	recent := eligibility.IsRecent(detail.FirstSeen, now, deployment, s.checkDeployTime)
	if eligibility.WelcomeEligible(eligibility.IsStable(detail), recent, existing != nil) {
		if _, err := s.tracker.RegisterNewRelay(ctx, detail, exit); err != nil {
			return nil, err
		}
		if address != "" {
			notes = append(notes, notify.Welcome(address, detail.Fingerprint, detail.Nickname, exit))
			report.Welcome++
		}
	}

	m := history.Compute(rec.Uptime, rec.Bandwidth, now)
	eligible, err := eligibility.CheckReward(eligibility.IsMature(detail.FirstSeen, now), exit, m.UptimePercent, m.AverageBandwidth)
	if errors.Is(err, eligibility.ErrInsufficientData) {
		report.Skipped++
		s.logger.Debug().Err(err).Str("fingerprint", detail.Fingerprint).Msg("reward check skipped")
		return notes, nil
	}
	if err != nil || !eligible {
		return notes, err
	}

	bandwidth := m.AverageBandwidth.Decimal
	hours := eligibility.HoursSince(detail.FirstSeen, now)

	subs, err := s.tracker.CollectRewardSubscribers(ctx, detail.Fingerprint)
	if err != nil {
		return nil, err
	}

	if len(subs) == 0 {
		sub, suppressed, err := s.tracker.RecordOperatorSoleSubscription(ctx, detail, address, exit, bandwidth)
		if err != nil {
			return nil, err
		}
		if suppressed {
			return notes, nil
		}
		notes = append(notes, notify.Reward(address, detail.Fingerprint, detail.Nickname, bandwidth, hours, exit,
			s.link("unsubscribe", sub.UnsubscribeToken), s.link("preferences", sub.PreferencesToken)))
		report.Reward++
		return notes, nil
	}

	for _, sub := range subs {
		if err := s.tracker.MarkNotified(ctx, sub, bandwidth); err != nil {
			return nil, err
		}
		notes = append(notes, notify.Reward(sub.Email, detail.Fingerprint, detail.Nickname, bandwidth, hours, exit,
			s.link("unsubscribe", sub.UnsubscribeToken), s.link("preferences", sub.PreferencesToken)))
		report.Reward++
	}
	return notes, nil
}

func (s *Service) link(action, token string) string {
	return s.linksBaseURL + "/" + action + "/" + token
}

func (s *Service) finish(ctx context.Context, report Report, runErr error) (Report, error) {
	report.Duration = s.now().Sub(report.StartedAt)

	if s.recorder != nil {
		s.recorder.ObserveRun(metrics.RunStats{
			Duration:   report.Duration,
			Relays:     report.Relays,
			Welcome:    report.Welcome,
			Reward:     report.Reward,
			Skipped:    report.Skipped,
			MarkedDown: report.MarkedDown,
			Pruned:     report.Pruned,
			Err:        runErr,
			LockHeld:   report.LockHeld,
		})
	}

	if runErr != nil {
		s.logger.Error().Err(runErr).Int("relays", report.Relays).Msg("run failed")
	} else if !report.LockHeld {
		s.logger.Info().
			Int("relays", report.Relays).
			Int("welcome", report.Welcome).
			Int("reward", report.Reward).
			Int("skipped", report.Skipped).
			Int64("marked_down", report.MarkedDown).
			Int64("pruned", report.Pruned).
			Dur("duration", report.Duration).
			Msg("run completed")
	}

	if s.summary != nil && !report.LockHeld {
		summary := notify.Summary{
			StartedAt:  report.StartedAt,
			Duration:   report.Duration,
			Relays:     report.Relays,
			Welcome:    report.Welcome,
			Reward:     report.Reward,
			Skipped:    report.Skipped,
			MarkedDown: report.MarkedDown,
			Pruned:     report.Pruned,
			Err:        runErr,
		}
		if err := s.summary.NotifySummary(ctx, summary); err != nil {
			s.logger.Error().Err(err).Msg("failed to send run summary")
		}
	}

	return report, runErr
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
