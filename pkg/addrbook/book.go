// Package addrbook tracks every endpoint the crawler has discovered in the
// current pass: its classification, attempt history, and retry schedule.
package addrbook

import (
	"container/list"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/RaxTzu/AtlasP2P/pkg/peer"
	"github.com/RaxTzu/AtlasP2P/pkg/wire"
)

// maxCandidates is the hard cap on total admissions in a single pass; past
// it, new admissions are rejected with Saturated so already-admitted
// candidates can keep draining without unbounded memory growth. A var
// rather than a const so tests can shrink it.
var maxCandidates int64 = 250_000

// Source identifies who is proposing an endpoint for admission. Manual seed
// configuration bypasses the private/loopback/multicast filter; everything
// learned from a peer's addr payload does not.
type Source int

const (
	SourceSeed Source = iota
	SourceLearned
)

// Candidate is one endpoint tracked by the book.
type Candidate struct {
	Endpoint       wire.Endpoint
	Classification peer.Classification
	Attempts       int
	NextAttempt    time.Time
	LastErrorKind  peer.ErrorKind
	VersionPayload *wire.VersionPayload
	Services       uint64
	// EverReachable stays true once the candidate has classified
	// Reachable at least once, surviving later InFlight/retry
	// transitions, so the Scheduler can pick the extended timeout for a
	// sticky peer that's currently failing a later probe. It can also
	// start true from admission, seeded from a previous pass via
	// SeedKnownReachable.
	EverReachable bool
}

// Book is a deduplicating, concurrency-safe set of Candidates. All
// mutations are serialized behind a single mutex; claim and report are each
// atomic with respect to the other.
type Book struct {
	mu sync.Mutex

	byEndpoint map[wire.Endpoint]*Candidate
	unprobed   *list.List // FIFO of wire.Endpoint
	delayed    []delayedEntry

	selfIP string

	// knownReachable carries endpoints classified Reachable in a previous
	// pass, so the Candidate created for them this pass starts already
	// EverReachable instead of losing that history when the Book itself
	// is rebuilt. Populated by SeedKnownReachable before any Admit call.
	knownReachable map[wire.Endpoint]bool

	admissions atomic.Int64
	saturated  atomic.Int64
	inFlight   atomic.Int64

	counts map[peer.Classification]*atomic.Int64
}

type delayedEntry struct {
	endpoint wire.Endpoint
	deadline time.Time
}

// New builds an empty Book. selfIP, if non-empty, is the crawler's own
// external IP and is used by the self-advertisement filter.
func New(selfIP string) *Book {
	b := &Book{
		byEndpoint:     make(map[wire.Endpoint]*Candidate),
		unprobed:       list.New(),
		selfIP:         selfIP,
		knownReachable: make(map[wire.Endpoint]bool),
		counts:         make(map[peer.Classification]*atomic.Int64),
	}
	for _, c := range []peer.Classification{peer.Unprobed, peer.InFlight, peer.Reachable, peer.Unreachable, peer.Stale} {
		b.counts[c] = atomic.NewInt64(0)
	}
	return b
}

// SeedKnownReachable marks endpoints that classified Reachable in an
// earlier pass against the same chain. Call it once, before any Admit, on
// a freshly built Book: the Candidate created the first time one of these
// endpoints is admitted starts with EverReachable already true, so a
// sticky peer that merely stalls this pass is re-probed with the extended
// timeout from its very first retry rather than forgetting it was ever
// good.
func (b *Book) SeedKnownReachable(endpoints []wire.Endpoint) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, e := range endpoints {
		b.knownReachable[e] = true
	}
}

// AdmitResult reports what Admit actually did, for callers (tests,
// metrics) that care.
type AdmitResult int

const (
	Admitted AdmitResult = iota
	AlreadyKnown
	RejectedUnroutable
	RejectedPort0
	Saturated
)

// Admit proposes endpoint for tracking. Unknown endpoints become new
// unprobed Candidates and are enqueued; known endpoints are left untouched.
// Private/loopback/multicast/reserved IPs are rejected unless source is
// SourceSeed (manual configuration). Port 0 is always rejected. IPv6
// ::ffff:a.b.c.d addresses are canonicalized down to IPv4 before lookup, so
// the two forms always collide on the same Candidate.
func (b *Book) Admit(endpoint wire.Endpoint, source Source) AdmitResult {
	canon, err := wire.NewEndpoint(endpoint.IP, endpoint.Port)
	if err != nil {
		return RejectedUnroutable
	}
	endpoint = canon

	if endpoint.Port == 0 {
		return RejectedPort0
	}
	if source != SourceSeed && !endpoint.IsRoutable() {
		return RejectedUnroutable
	}
	if b.selfIP != "" && endpoint.IP == b.selfIP {
		return RejectedUnroutable
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.byEndpoint[endpoint]; ok {
		return AlreadyKnown
	}
	if b.admissions.Load() >= maxCandidates {
		b.saturated.Inc()
		return Saturated
	}

	cand := &Candidate{Endpoint: endpoint, Classification: peer.Unprobed, EverReachable: b.knownReachable[endpoint]}
	b.byEndpoint[endpoint] = cand
	b.unprobed.PushBack(endpoint)
	b.admissions.Inc()
	b.counts[peer.Unprobed].Inc()
	return Admitted
}

// AdmitAddrRecv filters a learned endpoint against the peer's own
// self-reported addr_recv, dropping it (commonly the peer's view of us)
// rather than admitting it as a distinct candidate.
func (b *Book) AdmitAddrRecv(endpoint wire.Endpoint, addrRecv wire.Endpoint) AdmitResult {
	if endpoint == addrRecv {
		return RejectedUnroutable
	}
	return b.Admit(endpoint, SourceLearned)
}

// Claim atomically pops one ready endpoint (unprobed, or delay-queue
// entries whose deadline has passed) and transitions it to in-flight. It
// returns nil if nothing is currently ready.
func (b *Book) Claim() *Candidate {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	b.promoteReadyDelayedLocked(now)

	for e := b.unprobed.Front(); e != nil; {
		next := e.Next()
		endpoint := e.Value.(wire.Endpoint)
		cand, ok := b.byEndpoint[endpoint]
		if !ok || cand.Classification != peer.Unprobed {
			b.unprobed.Remove(e)
			e = next
			continue
		}
		b.unprobed.Remove(e)
		b.counts[peer.Unprobed].Dec()
		cand.Classification = peer.InFlight
		b.counts[peer.InFlight].Inc()
		b.inFlight.Inc()
		return cand
	}
	return nil
}

func (b *Book) promoteReadyDelayedLocked(now time.Time) {
	kept := b.delayed[:0]
	for _, d := range b.delayed {
		if !now.Before(d.deadline) {
			if cand, ok := b.byEndpoint[d.endpoint]; ok && cand.Classification == peer.Unprobed {
				b.unprobed.PushBack(d.endpoint)
			}
			continue
		}
		kept = append(kept, d)
	}
	b.delayed = kept
}

// ReportConfig carries the retry policy Report needs to compute a
// reinsertion deadline on retryable failure; it mirrors the crawler's
// configuration surface without importing the config package (avoiding a
// dependency cycle).
type ReportConfig struct {
	MaxRetries             int
	InitialRetryDelay      time.Duration
	RetryBackoffMultiplier float64
	Jitter                 func(initial time.Duration, multiplier float64, attempt int) time.Duration
}

// Report applies the classification carried by outcome, admits any learned
// endpoints, and — for a retryable terminal failure within budget —
// reinserts the endpoint into the delay queue.
func (b *Book) Report(outcome peer.SessionOutcome, cfg ReportConfig) {
	b.mu.Lock()
	cand, ok := b.byEndpoint[outcome.Endpoint]
	if !ok {
		b.mu.Unlock()
		return
	}

	b.counts[cand.Classification].Dec()
	b.inFlight.Dec()

	cand.Attempts = outcome.Attempt
	cand.LastErrorKind = outcome.ErrorKind
	if outcome.VersionPayload != nil {
		cand.VersionPayload = outcome.VersionPayload
		cand.Services = outcome.VersionPayload.Services
	}

	retry := outcome.Classification == peer.Unreachable &&
		outcome.ErrorKind.Retryable() &&
		outcome.Attempt < cfg.MaxRetries+1

	if retry {
		cand.Classification = peer.Unprobed
		b.counts[peer.Unprobed].Inc()
		jitter := cfg.Jitter
		if jitter == nil {
			jitter = func(initial time.Duration, multiplier float64, attempt int) time.Duration {
				d := initial
				for i := 0; i < attempt; i++ {
					d = time.Duration(float64(d) * multiplier)
				}
				return d
			}
		}
		delay := jitter(cfg.InitialRetryDelay, cfg.RetryBackoffMultiplier, outcome.Attempt)
		b.delayed = append(b.delayed, delayedEntry{endpoint: outcome.Endpoint, deadline: time.Now().Add(delay)})
	} else {
		cand.Classification = outcome.Classification
		b.counts[outcome.Classification].Inc()
		if outcome.Classification == peer.Reachable {
			cand.EverReachable = true
		}
	}
	b.mu.Unlock()

	var addrRecv wire.Endpoint
	if outcome.VersionPayload != nil {
		addrRecv = outcome.VersionPayload.AddrRecv.Endpoint
	}
	for _, learned := range outcome.Learned {
		b.AdmitAddrRecv(learned.Endpoint, addrRecv)
	}
}

// FixpointReached reports whether the book has nothing left to do: no
// unprobed candidates, no delay-queue entries ready or pending, and zero
// in-flight sessions.
func (b *Book) FixpointReached() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.unprobed.Len() == 0 && len(b.delayed) == 0 && b.inFlight.Load() == 0
}

// InFlight returns the current number of in-flight sessions.
func (b *Book) InFlight() int64 {
	return b.inFlight.Load()
}

// Count returns the number of Candidates currently in a given
// classification.
func (b *Book) Count(c peer.Classification) int64 {
	return b.counts[c].Load()
}

// Admissions returns the total number of Candidates ever admitted this pass.
func (b *Book) Admissions() int64 {
	return b.admissions.Load()
}

// Saturated returns the number of admissions rejected for exceeding
// maxCandidates.
func (b *Book) Saturated() int64 {
	return b.saturated.Load()
}

// Snapshot returns a copy of every Candidate currently tracked, for the
// outer driver to hand to the Sinks once a pass completes.
func (b *Book) Snapshot() []Candidate {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Candidate, 0, len(b.byEndpoint))
	for _, c := range b.byEndpoint {
		out = append(out, *c)
	}
	return out
}
