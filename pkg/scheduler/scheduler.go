// Package scheduler drains an AddressBook through a bounded pool of
// PeerSessions until the book reaches fix-point or a pass deadline expires.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/RaxTzu/AtlasP2P/pkg/addrbook"
	"github.com/RaxTzu/AtlasP2P/pkg/metrics"
	"github.com/RaxTzu/AtlasP2P/pkg/peer"
)

// pollInterval is how often an idle dispatcher rechecks the AddressBook
// when claim() returns nothing.
const pollInterval = 50 * time.Millisecond

// Config parameterizes a pass.
type Config struct {
	MaxConcurrent  int
	SettleInterval time.Duration
	PassDeadline   time.Duration // 0 means no deadline
	ReportConfig   addrbook.ReportConfig
}

// Runner is the part of peer.Session the Scheduler depends on; *peer.Session
// satisfies it, and tests can substitute a fake.
type Runner interface {
	Run(ctx context.Context) peer.SessionOutcome
}

// SessionFactory builds the Runner to drive for one claimed candidate.
// extended reports whether this probe should use the larger extended
// timeout rather than the base connection timeout: either the candidate
// is known reachable from a previous pass, or this attempt is itself a
// retry following a timeout-class failure, where the extra budget is what
// gives a merely slow peer the chance to complete.
type SessionFactory func(cand *addrbook.Candidate, attempt int, extended bool) Runner

// Result summarizes one completed pass.
type Result struct {
	Duration    time.Duration
	Cancelled   bool
	Reachable   int64
	Unreachable int64
	Stale       int64
	Admissions  int64
	Saturated   int64
}

// Scheduler drains book by repeatedly claiming candidates and running a
// PeerSession for each, bounded to cfg.MaxConcurrent concurrent sessions.
type Scheduler struct {
	cfg     Config
	book    *addrbook.Book
	factory SessionFactory
	metrics *metrics.Metrics
	logger  *zap.Logger

	attempts sync.Map // wire.Endpoint -> *atomic.Int64, attempt counters
}

// New builds a Scheduler. m and logger may be nil.
func New(cfg Config, book *addrbook.Book, factory SessionFactory, m *metrics.Metrics, logger *zap.Logger) *Scheduler {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 100
	}
	if cfg.SettleInterval <= 0 {
		cfg.SettleInterval = 2 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{cfg: cfg, book: book, factory: factory, metrics: m, logger: logger}
}

// Run drains the book to fix-point (or until the pass deadline expires),
// running up to cfg.MaxConcurrent PeerSessions concurrently.
func (s *Scheduler) Run(ctx context.Context) Result {
	start := time.Now()

	runCtx := ctx
	if s.cfg.PassDeadline > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.cfg.PassDeadline)
		defer cancel()
	}

	sem := semaphore.NewWeighted(int64(s.cfg.MaxConcurrent))
	var wg sync.WaitGroup
	var idleSince time.Time
	cancelled := false

dispatch:
	for {
		select {
		case <-runCtx.Done():
			cancelled = true
			break dispatch
		default:
		}

		cand := s.book.Claim()
		if cand == nil {
			if s.book.FixpointReached() {
				if idleSince.IsZero() {
					idleSince = time.Now()
				} else if time.Since(idleSince) >= s.cfg.SettleInterval {
					break dispatch
				}
			} else {
				idleSince = time.Time{}
			}
			select {
			case <-time.After(pollInterval):
			case <-runCtx.Done():
				cancelled = true
				break dispatch
			}
			continue
		}
		idleSince = time.Time{}

		if err := sem.Acquire(runCtx, 1); err != nil {
			cancelled = true
			break dispatch
		}

		attempt := int(s.nextAttempt(cand))
		extended := cand.EverReachable || (attempt > 1 && cand.LastErrorKind.Timeout())

		wg.Add(1)
		go func(cand *addrbook.Candidate) {
			defer wg.Done()
			defer sem.Release(1)

			if s.metrics != nil {
				s.metrics.InFlightSessions.Inc()
				defer s.metrics.InFlightSessions.Dec()
			}

			sess := s.factory(cand, attempt, extended)
			outcome := sess.Run(runCtx)
			outcome.Attempt = attempt

			s.book.Report(outcome, s.cfg.ReportConfig)
			s.recordMetrics(outcome)
		}(cand)
	}

	wg.Wait()

	res := Result{
		Duration:    time.Since(start),
		Cancelled:   cancelled,
		Reachable:   s.book.Count(peer.Reachable),
		Unreachable: s.book.Count(peer.Unreachable),
		Stale:       s.book.Count(peer.Stale),
		Admissions:  s.book.Admissions(),
		Saturated:   s.book.Saturated(),
	}
	if s.metrics != nil {
		s.metrics.ObserveFixpoint(res.Duration)
	}
	return res
}

func (s *Scheduler) nextAttempt(cand *addrbook.Candidate) int64 {
	v, _ := s.attempts.LoadOrStore(cand.Endpoint, atomic.NewInt64(0))
	counter := v.(*atomic.Int64)
	return counter.Inc()
}

func (s *Scheduler) recordMetrics(outcome peer.SessionOutcome) {
	if s.metrics == nil {
		return
	}
	s.metrics.ClassificationTotal.WithLabelValues(string(outcome.Classification)).Inc()
	if outcome.RTT > 0 {
		s.metrics.HandshakeRTT.Observe(outcome.RTT.Seconds())
	}
	if outcome.ErrorKind != "" && outcome.ErrorKind.Retryable() {
		s.metrics.RetriesTotal.WithLabelValues(string(outcome.ErrorKind)).Inc()
	}
}

// JitteredBackoff computes an exponential backoff delay jittered +/-20%,
// for use as an addrbook.ReportConfig.Jitter function. It walks
// backoff.ExponentialBackOff forward attempt steps rather than tracking one
// long-lived instance, since each retry decision here is independent and
// keyed by the candidate's own attempt count.
func JitteredBackoff(initial time.Duration, multiplier float64, attempt int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	b.Multiplier = multiplier
	b.RandomizationFactor = 0.2
	b.MaxElapsedTime = 0
	b.Reset()

	d := b.NextBackOff()
	for i := 1; i < attempt; i++ {
		d = b.NextBackOff()
	}
	return d
}
