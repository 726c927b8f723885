// File: internal/infra/metrics/requests_test.go
package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRequestCounters(t *testing.T) {
	t.Run("status label", func(t *testing.T) {
		ctr := portalRequestsTotal.WithLabelValues("api", "503")
		before := testutil.ToFloat64(ctr)
		IncRequest(" API ", 503)
		if got := testutil.ToFloat64(ctr); got != before+1 {
			t.Errorf("counter = %v, want %v", got, before+1)
		}
	})

	t.Run("transport failures count as error", func(t *testing.T) {
		ctr := portalRequestsTotal.WithLabelValues("api", "error")
		before := testutil.ToFloat64(ctr)
		IncRequestError("api")
		if got := testutil.ToFloat64(ctr); got != before+1 {
			t.Errorf("counter = %v, want %v", got, before+1)
		}
	})
}
