// File: internal/portal/correlate_test.go
package portal

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"mpesa-portal/internal/config"
)

func newTestCorrelator(t *testing.T, baseURL string, interval, timeout time.Duration) *Correlator {
	t.Helper()
	c := newTestClient(t, baseURL, config.PortalConfig{}, nil)
	return NewCorrelator(c, config.PollConfig{
		Interval:    interval,
		Timeout:     timeout,
		ResultsPath: PathCallbackLogs,
		Limit:       50,
	}, c.log)
}

func writeListing(w http.ResponseWriter, rows ...map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	if rows == nil {
		rows = []map[string]any{}
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"results": rows})
}

func waitDone(t *testing.T, s *Session) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("session did not finish; state = %v", s.State())
	}
}

func TestCorrelatorMatch(t *testing.T) {
	var calls int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt64(&calls, 1) < 3 {
			writeListing(w)
			return
		}
		writeListing(w,
			map[string]any{"checkout_request_id": "ws_CO_other"},
			map[string]any{
				"checkout_request_id":  "ws_CO_1",
				"mpesa_receipt_number": "QBC123",
			},
		)
	}))
	defer srv.Close()

	cor := newTestCorrelator(t, srv.URL, 10*time.Millisecond, 5*time.Second)

	var matches int64
	s, err := cor.Start(context.Background(), CorrelationIDs{CheckoutRequestID: "ws_CO_1"}, func(rec ResultRecord) {
		atomic.AddInt64(&matches, 1)
		if rec.Fields["mpesa_receipt_number"] != "QBC123" {
			t.Errorf("matched record = %+v", rec.Fields)
		}
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitDone(t, s)

	if got := s.State(); got != StateMatched {
		t.Fatalf("state = %v, want matched", got)
	}
	if s.Result() == nil || s.Result().CheckoutRequestID != "ws_CO_1" {
		t.Errorf("Result = %+v", s.Result())
	}
	if n := atomic.LoadInt64(&matches); n != 1 {
		t.Errorf("continuation fired %d times, want exactly once", n)
	}
	if n := atomic.LoadInt64(&calls); n < 3 {
		t.Errorf("lookups = %d, want at least 3", n)
	}
}

func TestCorrelatorTimeout(t *testing.T) {
	var calls int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
		writeListing(w)
	}))
	defer srv.Close()

	interval := 20 * time.Millisecond
	cor := newTestCorrelator(t, srv.URL, interval, 90*time.Millisecond)

	s, err := cor.Start(context.Background(), CorrelationIDs{MerchantRequestID: "m-1"}, nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitDone(t, s)

	if got := s.State(); got != StateTimedOut {
		t.Fatalf("state = %v, want timed_out", got)
	}
	if s.Result() != nil {
		t.Errorf("Result = %+v on timeout, want nil", s.Result())
	}

	// No lookups may happen after the deadline has passed.
	settled := atomic.LoadInt64(&calls)
	time.Sleep(3 * interval)
	if after := atomic.LoadInt64(&calls); after != settled {
		t.Errorf("lookups kept running after timeout: %d -> %d", settled, after)
	}
}

func TestCorrelatorAbortOnRefusal(t *testing.T) {
	var calls int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_ = json.NewEncoder(w).Encode(map[string]any{"error": "Staff access required"})
	}))
	defer srv.Close()

	cor := newTestCorrelator(t, srv.URL, 10*time.Millisecond, 5*time.Second)
	s, err := cor.Start(context.Background(), CorrelationIDs{MerchantRequestID: "m-1"}, nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitDone(t, s)

	if got := s.State(); got != StateAborted {
		t.Fatalf("state = %v, want aborted", got)
	}
	if n := atomic.LoadInt64(&calls); n != 1 {
		t.Errorf("lookups = %d, want a single refused lookup", n)
	}
}

func TestCorrelatorNetworkErrorSkipsTick(t *testing.T) {
	var calls int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt64(&calls, 1) == 1 {
			// Kill the connection mid-request; the client sees a transport
			// error, not a status.
			hj, ok := w.(http.Hijacker)
			if !ok {
				t.Error("response writer is not a hijacker")
				return
			}
			conn, _, err := hj.Hijack()
			if err == nil {
				conn.Close()
			}
			return
		}
		writeListing(w, map[string]any{"merchant_request_id": "m-1"})
	}))
	defer srv.Close()

	cor := newTestCorrelator(t, srv.URL, 10*time.Millisecond, 5*time.Second)
	s, err := cor.Start(context.Background(), CorrelationIDs{MerchantRequestID: "m-1"}, nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitDone(t, s)

	if got := s.State(); got != StateMatched {
		t.Fatalf("state = %v, want matched after a skipped tick", got)
	}
}

func TestCorrelatorStopIsIdempotent(t *testing.T) {
	var calls int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
		writeListing(w)
	}))
	defer srv.Close()

	cor := newTestCorrelator(t, srv.URL, 10*time.Millisecond, 5*time.Second)
	s, err := cor.Start(context.Background(), CorrelationIDs{MerchantRequestID: "m-1"}, nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	s.Stop()
	s.Stop()
	waitDone(t, s)
	s.Stop() // after terminal state, still a no-op

	if got := s.State(); got != StateAborted {
		t.Fatalf("state = %v, want aborted", got)
	}
	if s.Result() != nil {
		t.Errorf("Result = %+v after Stop, want nil", s.Result())
	}

	// A stopped session issues no further lookups.
	settled := atomic.LoadInt64(&calls)
	time.Sleep(50 * time.Millisecond)
	if after := atomic.LoadInt64(&calls); after != settled {
		t.Errorf("lookups kept running after Stop: %d -> %d", settled, after)
	}
}

// stopThenRespondTransport stops the session while its lookup is in flight,
// then hands back a listing that would otherwise match.
type stopThenRespondTransport struct {
	sessions chan *Session
}

func (tr *stopThenRespondTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	s := <-tr.sessions
	s.Stop()
	body := `{"results":[{"merchant_request_id":"m-1"}]}`
	return &http.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(body)),
		Request:    r,
	}, nil
}

func TestCorrelatorStopDuringLookupDiscardsMatch(t *testing.T) {
	c := newTestClient(t, "http://gateway.invalid", config.PortalConfig{}, nil)
	tr := &stopThenRespondTransport{sessions: make(chan *Session, 1)}
	c.http.Transport = tr

	cor := NewCorrelator(c, config.PollConfig{
		Interval:    10 * time.Millisecond,
		Timeout:     time.Second,
		ResultsPath: PathCallbackLogs,
	}, c.log)

	var matches int64
	s, err := cor.Start(context.Background(), CorrelationIDs{MerchantRequestID: "m-1"}, func(ResultRecord) {
		atomic.AddInt64(&matches, 1)
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	tr.sessions <- s
	waitDone(t, s)

	if got := s.State(); got != StateAborted {
		t.Fatalf("state = %v, want aborted (match arrived after Stop)", got)
	}
	if n := atomic.LoadInt64(&matches); n != 0 {
		t.Errorf("continuation fired %d times after Stop", n)
	}
	if s.Result() != nil {
		t.Errorf("Result = %+v, want nil for a discarded match", s.Result())
	}
}

func TestCorrelatorStartSupersedes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeListing(w)
	}))
	defer srv.Close()

	cor := newTestCorrelator(t, srv.URL, 10*time.Millisecond, 5*time.Second)
	ctx := context.Background()

	first, err := cor.Start(ctx, CorrelationIDs{MerchantRequestID: "m-1"}, nil)
	if err != nil {
		t.Fatalf("Start #1: %v", err)
	}
	second, err := cor.Start(ctx, CorrelationIDs{MerchantRequestID: "m-2"}, nil)
	if err != nil {
		t.Fatalf("Start #2: %v", err)
	}

	// Starting the second session must have forced the first out already.
	select {
	case <-first.Done():
	default:
		t.Fatal("first session still running after a second Start")
	}
	if got := first.State(); got != StateAborted {
		t.Errorf("first session state = %v, want aborted", got)
	}

	second.Stop()
	waitDone(t, second)
}

func TestCorrelatorContextCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeListing(w)
	}))
	defer srv.Close()

	cor := newTestCorrelator(t, srv.URL, 10*time.Millisecond, 5*time.Second)
	ctx, cancel := context.WithCancel(context.Background())

	s, err := cor.Start(ctx, CorrelationIDs{MerchantRequestID: "m-1"}, nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	cancel()
	waitDone(t, s)

	if got := s.State(); got != StateAborted {
		t.Fatalf("state = %v, want aborted on context cancel", got)
	}
}

func TestCorrelatorRejectsEmptyIDs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("a lookup was issued for an empty identifier set")
	}))
	defer srv.Close()

	cor := newTestCorrelator(t, srv.URL, 10*time.Millisecond, time.Second)
	s, err := cor.Start(context.Background(), CorrelationIDs{}, nil)
	if err != ErrNoCorrelationIDs {
		t.Fatalf("err = %v, want ErrNoCorrelationIDs", err)
	}
	if s != nil {
		t.Fatalf("session = %+v, want nil", s)
	}
}

func TestStateString(t *testing.T) {
	want := map[State]string{
		StateIdle:     "idle",
		StatePolling:  "polling",
		StateMatched:  "matched",
		StateTimedOut: "timed_out",
		StateAborted:  "aborted",
		State(99):     "unknown",
	}
	for st, s := range want {
		if st.String() != s {
			t.Errorf("State(%d).String() = %q, want %q", st, st.String(), s)
		}
	}
}
