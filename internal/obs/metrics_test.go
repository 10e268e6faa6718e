package obs

import (
	"net/http"
	"net/http/httptest"
	"runtime"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestCanonicalPath(t *testing.T) {
	cases := []struct{ in, want string }{
		{"", "/"},
		{"/metrics", "/metrics"},
		{"/v1/auth/login", "/v1/auth/login"},
		{"/v1/auth/login?x=1", "/v1/auth/login"},
		{"/v1/admin/accounts", "/v1/admin/accounts"},
		{"/v1/admin/accounts/01HZX/revoke-sessions", "/v1/admin/accounts/:id/revoke-sessions"},
		{"/v1/admin/accounts/01HZX/other", "/v1/admin/accounts/01HZX/other"},
		{"/v1/admin/tokens/revoke", "/v1/admin/tokens/revoke"},
		{"/v1/admin/tokens/6f1c", "/v1/admin/tokens/:jti"},
	}
	for _, tc := range cases {
		if got := CanonicalPath(tc.in); got != tc.want {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestInstrumentCountsRequests(t *testing.T) {
	Init()
	h := Instrument(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	before := counterValue(t, httpRequestsTotal.WithLabelValues(http.MethodGet, "/v1/admin/tokens/:jti", "418"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/admin/tokens/abc", nil))
	after := counterValue(t, httpRequestsTotal.WithLabelValues(http.MethodGet, "/v1/admin/tokens/:jti", "418"))
	if after-before != 1 {
		t.Fatalf("expected one counted request, got %v", after-before)
	}
}

func TestObserveAuth(t *testing.T) {
	before := counterValue(t, authOutcomes.WithLabelValues("login", "ok"))
	ObserveAuth("login", "ok")
	if got := counterValue(t, authOutcomes.WithLabelValues("login", "ok")); got-before != 1 {
		t.Fatalf("expected increment, got %v", got-before)
	}
	ObservePurge("denylist", 0)
	ObservePurge("denylist", 3)
	if got := counterValue(t, janitorPurged.WithLabelValues("denylist")); got != 3 {
		t.Fatalf("unexpected purge count %v", got)
	}
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("read counter: %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestBuildInfo(t *testing.T) {
	InitBuildInfo("1.2.3", "abc123")
	InitBuildInfo("1.2.3", "abc123")

	var m dto.Metric
	g := buildInfo.WithLabelValues("1.2.3", "abc123", runtime.Version())
	if err := g.Write(&m); err != nil {
		t.Fatalf("read gauge: %v", err)
	}
	if m.GetGauge().GetValue() != 1 {
		t.Fatalf("build info gauge = %v", m.GetGauge().GetValue())
	}
	if got := resolveCommit("dev"); got == "" {
		t.Fatalf("resolveCommit returned empty")
	}
}
