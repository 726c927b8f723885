// File: internal/portal/correlate.go
package portal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"mpesa-portal/internal/config"
	"mpesa-portal/internal/infra/logging"
	"mpesa-portal/internal/infra/metrics"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrNoCorrelationIDs means the initiation response carried no identifier to
// poll for; the flow ends at the initiation response.
var ErrNoCorrelationIDs = errors.New("initiation response carried no correlation identifiers")

// State is the lifecycle of one poll session.
type State int

const (
	StateIdle State = iota
	StatePolling
	StateMatched
	StateTimedOut
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePolling:
		return "polling"
	case StateMatched:
		return "matched"
	case StateTimedOut:
		return "timed_out"
	case StateAborted:
		return "aborted"
	}
	return "unknown"
}

// Correlator turns a one-shot initiation result into an eventual settled
// signal by polling a results listing through the transport envelope.
//
// One session runs at a time: Start aborts and waits out any prior session
// before the new one begins. Lookups execute inline in the session goroutine,
// so at most one is in flight; ticker signals arriving during a slow lookup
// coalesce. A network-level lookup error is a skipped tick; any non-2xx
// lookup status aborts the session (which covers the mandatory 401/403 stop).
type Correlator struct {
	client   *Client
	path     string
	interval time.Duration
	timeout  time.Duration
	log      *zerolog.Logger
	now      func() time.Time

	mu     sync.Mutex
	active *Session
}

func NewCorrelator(client *Client, cfg config.PollConfig, logger *zerolog.Logger) *Correlator {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	path := cfg.ResultsPath
	if path == "" {
		path = "/api/v1/admin/logs/callbacks"
	}
	if cfg.Limit > 0 {
		path = fmt.Sprintf("%s?limit=%d", path, cfg.Limit)
	}
	return &Correlator{
		client:   client,
		path:     path,
		interval: interval,
		timeout:  timeout,
		log:      logger,
		now:      time.Now,
	}
}

// Session is one bounded, cancellable correlation loop. It is owned by the
// caller that started it; the only external control is Stop.
type Session struct {
	ids    CorrelationIDs
	cancel context.CancelFunc
	done   chan struct{}

	stopOnce sync.Once

	mu      sync.Mutex
	state   State
	matched *ResultRecord
}

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done closes when the session reaches a terminal state.
func (s *Session) Done() <-chan struct{} { return s.done }

// Result returns the matched record once the session is Matched, else nil.
func (s *Session) Result() *ResultRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.matched
}

// Stop releases the session's timer and moves it to Aborted if it was still
// polling. Safe to call multiple times and from any exit path; an in-flight
// lookup is not preempted, its late result is discarded.
func (s *Session) Stop() {
	s.stopOnce.Do(s.cancel)
}

// finish transitions to a terminal state exactly once; the first caller wins.
func (s *Session) finish(st State, rec *ResultRecord) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StatePolling {
		return false
	}
	s.state = st
	s.matched = rec
	return true
}

// Start begins a poll session for the given identifier set. The first lookup
// runs immediately, then on a fixed cadence until a record matches, the
// wall-clock deadline passes, a lookup is refused, or the session is stopped.
// onMatch fires at most once, from the session goroutine.
func (c *Correlator) Start(ctx context.Context, ids CorrelationIDs, onMatch func(ResultRecord)) (*Session, error) {
	if ids.Empty() {
		return nil, ErrNoCorrelationIDs
	}

	c.mu.Lock()
	prev := c.active
	c.mu.Unlock()
	if prev != nil {
		// Sessions never overlap: force the previous one out and wait for
		// its timer to be released before starting the next.
		prev.Stop()
		<-prev.Done()
	}

	sctx, cancel := context.WithCancel(ctx)
	sctx = logging.WithPollID(sctx, uuid.NewString())
	s := &Session{
		ids:    ids,
		cancel: cancel,
		done:   make(chan struct{}),
		state:  StatePolling,
	}
	c.mu.Lock()
	c.active = s
	c.mu.Unlock()

	go c.run(sctx, s, onMatch)
	return s, nil
}

func (c *Correlator) run(ctx context.Context, s *Session, onMatch func(ResultRecord)) {
	defer close(s.done)

	deadline := c.now().Add(c.timeout)
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	log := logging.With(ctx, c.log).With().
		Str("merchant_request_id", s.ids.MerchantRequestID).
		Str("checkout_request_id", s.ids.CheckoutRequestID).
		Logger()
	log.Info().Dur("timeout", c.timeout).Msg("poll session started")

	for {
		rec, outcome := c.lookup(ctx, s.ids)
		switch outcome {
		case lookupMatch:
			if ctx.Err() != nil {
				// Stop raced the lookup; the late match is discarded.
				if s.finish(StateAborted, nil) {
					metrics.IncPollSession("aborted")
					log.Info().Msg("poll session stopped")
				}
				return
			}
			if s.finish(StateMatched, rec) {
				metrics.IncPollSession("matched")
				log.Info().Msg("poll session matched")
				if onMatch != nil {
					onMatch(*rec)
				}
			}
			return
		case lookupAbort:
			if s.finish(StateAborted, nil) {
				metrics.IncPollSession("aborted")
				log.Warn().Msg("poll session aborted")
			}
			return
		}
		// miss or skipped tick: keep going until the deadline.

		if !c.now().Before(deadline) {
			if s.finish(StateTimedOut, nil) {
				metrics.IncPollSession("timed_out")
				log.Warn().Msg("poll session timed out")
			}
			return
		}

		select {
		case <-ctx.Done():
			if s.finish(StateAborted, nil) {
				metrics.IncPollSession("aborted")
				log.Info().Msg("poll session stopped")
			}
			return
		case <-ticker.C:
			if !c.now().Before(deadline) {
				if s.finish(StateTimedOut, nil) {
					metrics.IncPollSession("timed_out")
					log.Warn().Msg("poll session timed out")
				}
				return
			}
		}
	}
}

type lookupOutcome int

const (
	lookupMiss lookupOutcome = iota
	lookupMatch
	lookupSkip
	lookupAbort
)

func (c *Correlator) lookup(ctx context.Context, ids CorrelationIDs) (*ResultRecord, lookupOutcome) {
	res, err := c.client.Do(ctx, c.path, RequestOptions{})
	if err != nil {
		if ctx.Err() != nil {
			return nil, lookupAbort
		}
		// Transient network failure: skip this tick, the deadline still holds.
		metrics.IncPollTick("skipped")
		c.log.Warn().Err(err).Msg("poll lookup failed, skipping tick")
		return nil, lookupSkip
	}
	if !res.OK() {
		// Includes 401/403: the caller lost authorization mid-poll.
		metrics.IncPollTick("failed")
		c.log.Warn().Int("status", res.Status).Msg("poll lookup refused")
		return nil, lookupAbort
	}
	for _, rec := range ResultRecords(res.JSON) {
		if rec.Matches(ids) {
			rec := rec
			metrics.IncPollTick("match")
			return &rec, lookupMatch
		}
	}
	metrics.IncPollTick("miss")
	return nil, lookupMiss
}
