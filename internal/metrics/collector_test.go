package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCounter_SameKeyReturnsSameCounter(t *testing.T) {
	c := NewMetricsCollector()
	a := c.Counter("x_total", "help", `type="close"`)
	b := c.Counter("x_total", "help", `type="close"`)
	a.Inc()
	b.Add(2)
	if a.Value() != 3 {
		t.Fatalf("expected 3, got %d", a.Value())
	}
}

func TestHistogram_Observe(t *testing.T) {
	c := NewMetricsCollector()
	h := c.Histogram("lat_seconds", "latency", "", []float64{1, 5})
	h.Observe(0.5)
	h.Observe(3)
	h.Observe(10)

	rec := httptest.NewRecorder()
	c.Handler()(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()

	for _, want := range []string{
		`lat_seconds_bucket{le="1"} 1`,
		`lat_seconds_bucket{le="5"} 2`,
		`lat_seconds_bucket{le="+Inf"} 3`,
		`lat_seconds_count 3`,
		"# TYPE lat_seconds histogram",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("missing %q in output:\n%s", want, body)
		}
	}
}

func TestHandler_LabeledCountersSorted(t *testing.T) {
	c := NewMetricsCollector()
	c.Counter("req_total", "requests", `outcome="ok"`).Inc()
	c.Counter("req_total", "requests", `outcome="error"`).Inc()

	rec := httptest.NewRecorder()
	c.Handler()(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()

	if strings.Count(body, "# HELP req_total") != 1 {
		t.Fatalf("expected a single HELP line:\n%s", body)
	}
	errIdx := strings.Index(body, `req_total{outcome="error"} 1`)
	okIdx := strings.Index(body, `req_total{outcome="ok"} 1`)
	if errIdx < 0 || okIdx < 0 || errIdx > okIdx {
		t.Fatalf("expected sorted labeled series:\n%s", body)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("unexpected content type %q", ct)
	}
}

func TestPipelineHelpers(t *testing.T) {
	AgentRequest("scoped", "ok")
	ActionApplied("close")
	ProtocolError()

	if v := Collector.Counter("supportdesk_agent_requests_total", "", `mode="scoped",outcome="ok"`).Value(); v < 1 {
		t.Fatalf("expected agent request counter, got %d", v)
	}
	if v := Collector.Counter("supportdesk_actions_applied_total", "", `type="close"`).Value(); v < 1 {
		t.Fatalf("expected action counter, got %d", v)
	}
}
