package obs

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInstrumentRecordsStatus(t *testing.T) {
	handler := Instrument(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "/missing", "404"))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/missing", nil))

	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rr.Code)
	}
	after := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "/missing", "404"))
	if after != before+1 {
		t.Fatalf("counter = %v, want %v", after, before+1)
	}
	if testutil.ToFloat64(httpInFlight) != 0 {
		t.Fatal("in-flight gauge not released")
	}
}

func TestDomainCounters(t *testing.T) {
	before := testutil.ToFloat64(sessionsReapedTotal)
	SessionsReaped(3)
	if got := testutil.ToFloat64(sessionsReapedTotal); got != before+3 {
		t.Fatalf("reaped counter = %v, want %v", got, before+3)
	}

	beforeLogin := testutil.ToFloat64(loginsTotal.WithLabelValues("success"))
	LoginAttempt("success")
	if got := testutil.ToFloat64(loginsTotal.WithLabelValues("success")); got != beforeLogin+1 {
		t.Fatalf("login counter = %v", got)
	}

	beforeSwitch := testutil.ToFloat64(centerSwitchesTotal.WithLabelValues("unauthorized"))
	CenterSwitch("unauthorized")
	if got := testutil.ToFloat64(centerSwitchesTotal.WithLabelValues("unauthorized")); got != beforeSwitch+1 {
		t.Fatalf("switch counter = %v", got)
	}
}
