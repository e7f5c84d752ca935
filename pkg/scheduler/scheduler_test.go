package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RaxTzu/AtlasP2P/pkg/addrbook"
	"github.com/RaxTzu/AtlasP2P/pkg/peer"
	"github.com/RaxTzu/AtlasP2P/pkg/wire"
)

type fakeRunner struct {
	outcome peer.SessionOutcome
	delay   time.Duration
	onRun   func()
	onDone  func()
}

func (f fakeRunner) Run(ctx context.Context) peer.SessionOutcome {
	if f.onRun != nil {
		f.onRun()
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
		}
	}
	if f.onDone != nil {
		f.onDone()
	}
	return f.outcome
}

func mustEndpoint(t *testing.T, ip string, port uint16) wire.Endpoint {
	t.Helper()
	e, err := wire.NewEndpoint(ip, port)
	require.NoError(t, err)
	return e
}

func TestSchedulerDrainsToFixpoint(t *testing.T) {
	book := addrbook.New("")
	endpoints := []wire.Endpoint{
		mustEndpoint(t, "8.8.8.1", 8333),
		mustEndpoint(t, "8.8.8.2", 8333),
		mustEndpoint(t, "8.8.8.3", 8333),
	}
	for _, e := range endpoints {
		require.Equal(t, addrbook.Admitted, book.Admit(e, addrbook.SourceSeed))
	}

	factory := func(cand *addrbook.Candidate, attempt int, extended bool) Runner {
		return fakeRunner{outcome: peer.SessionOutcome{Endpoint: cand.Endpoint, Classification: peer.Reachable}}
	}

	sched := New(Config{MaxConcurrent: 2, SettleInterval: 100 * time.Millisecond}, book, factory, nil, nil)
	res := sched.Run(context.Background())

	assert.False(t, res.Cancelled)
	assert.Equal(t, int64(3), res.Reachable)
	assert.True(t, book.FixpointReached())
}

func TestSchedulerBoundsConcurrency(t *testing.T) {
	book := addrbook.New("")
	for i := 0; i < 10; i++ {
		e := mustEndpoint(t, "8.8.8.1", uint16(1000+i))
		require.Equal(t, addrbook.Admitted, book.Admit(e, addrbook.SourceSeed))
	}

	var current, peak int32
	var mu sync.Mutex
	factory := func(cand *addrbook.Candidate, attempt int, extended bool) Runner {
		return fakeRunner{
			outcome: peer.SessionOutcome{Endpoint: cand.Endpoint, Classification: peer.Reachable},
			delay:   20 * time.Millisecond,
			onRun: func() {
				n := atomic.AddInt32(&current, 1)
				mu.Lock()
				if n > peak {
					peak = n
				}
				mu.Unlock()
			},
			onDone: func() {
				atomic.AddInt32(&current, -1)
			},
		}
	}

	sched := New(Config{MaxConcurrent: 3, SettleInterval: 50 * time.Millisecond}, book, factory, nil, nil)
	sched.Run(context.Background())

	mu.Lock()
	defer mu.Unlock()
	assert.LessOrEqual(t, peak, int32(3))
}

// TestSchedulerAppliesExtendedTimeoutAfterTimeoutRetry drives the "timeout
// then success" scenario: a peer's first probe times out during the
// handshake, and the retry — which the Scheduler must mark extended — then
// completes. Final classification is Reachable after two attempts.
func TestSchedulerAppliesExtendedTimeoutAfterTimeoutRetry(t *testing.T) {
	book := addrbook.New("")
	e := mustEndpoint(t, "8.8.8.1", 8333)
	require.Equal(t, addrbook.Admitted, book.Admit(e, addrbook.SourceSeed))

	var mu sync.Mutex
	var seenExtended []bool

	factory := func(cand *addrbook.Candidate, attempt int, extended bool) Runner {
		mu.Lock()
		seenExtended = append(seenExtended, extended)
		mu.Unlock()

		if attempt == 1 {
			return fakeRunner{outcome: peer.SessionOutcome{
				Endpoint:       cand.Endpoint,
				Classification: peer.Unreachable,
				ErrorKind:      peer.ErrHandshakeTimeout,
			}}
		}
		return fakeRunner{outcome: peer.SessionOutcome{Endpoint: cand.Endpoint, Classification: peer.Reachable}}
	}

	sched := New(Config{
		MaxConcurrent:  1,
		SettleInterval: 50 * time.Millisecond,
		ReportConfig: addrbook.ReportConfig{
			MaxRetries:             1,
			InitialRetryDelay:      time.Millisecond,
			RetryBackoffMultiplier: 1,
		},
	}, book, factory, nil, nil)

	res := sched.Run(context.Background())

	assert.Equal(t, int64(1), res.Reachable)
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seenExtended, 2)
	assert.False(t, seenExtended[0], "first attempt should use the base timeout")
	assert.True(t, seenExtended[1], "retry after a handshake timeout should use the extended timeout")
}

// TestSchedulerAppliesExtendedTimeoutForKnownReachableCandidate covers the
// cross-pass sticky-peer case: a candidate seeded as known-reachable from
// an earlier pass gets the extended timeout from its very first probe.
func TestSchedulerAppliesExtendedTimeoutForKnownReachableCandidate(t *testing.T) {
	book := addrbook.New("")
	e := mustEndpoint(t, "8.8.8.1", 8333)
	book.SeedKnownReachable([]wire.Endpoint{e})
	require.Equal(t, addrbook.Admitted, book.Admit(e, addrbook.SourceSeed))

	var firstExtended bool
	factory := func(cand *addrbook.Candidate, attempt int, extended bool) Runner {
		firstExtended = extended
		return fakeRunner{outcome: peer.SessionOutcome{Endpoint: cand.Endpoint, Classification: peer.Reachable}}
	}

	sched := New(Config{MaxConcurrent: 1, SettleInterval: 50 * time.Millisecond}, book, factory, nil, nil)
	sched.Run(context.Background())

	assert.True(t, firstExtended)
}

func TestSchedulerHonorsPassDeadline(t *testing.T) {
	book := addrbook.New("")
	e := mustEndpoint(t, "8.8.8.1", 8333)
	require.Equal(t, addrbook.Admitted, book.Admit(e, addrbook.SourceSeed))

	factory := func(cand *addrbook.Candidate, attempt int, extended bool) Runner {
		return fakeRunner{
			outcome: peer.SessionOutcome{Endpoint: cand.Endpoint, Classification: peer.Reachable},
			delay:   time.Hour,
		}
	}

	sched := New(Config{MaxConcurrent: 1, PassDeadline: 30 * time.Millisecond}, book, factory, nil, nil)
	res := sched.Run(context.Background())

	assert.True(t, res.Cancelled)
	assert.LessOrEqual(t, res.Duration, time.Second)
}
