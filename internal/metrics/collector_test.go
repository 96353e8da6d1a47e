package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"memoryagent/internal/events"
)

func TestRecordEvent_CountsByTypeAndSource(t *testing.T) {
	c := NewCollector()
	c.RecordEvent(events.Event{Type: events.TypeMessageStored, Source: "WhatsApp"})
	c.RecordEvent(events.Event{Type: events.TypeMessageStored, Source: "WhatsApp"})
	c.RecordEvent(events.Event{Type: events.TypeFileFailed, Source: "Telegram"})

	out := c.Render()
	for _, want := range []string{
		`memoryagent_events_total{type="message.stored",source="WhatsApp"} 2`,
		`memoryagent_events_total{type="file.failed",source="Telegram"} 1`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
	if strings.Count(out, "# TYPE memoryagent_events_total counter") != 1 {
		t.Errorf("expected one TYPE line per metric name:\n%s", out)
	}
}

func TestObserveRequest_Histogram(t *testing.T) {
	c := NewCollector()
	c.ObserveRequest("webhook", 200, 30*time.Millisecond)
	c.ObserveRequest("webhook", 200, 3*time.Second)
	c.ObserveRequest("webhook", 404, time.Millisecond)

	out := c.Render()
	for _, want := range []string{
		`memoryagent_http_requests_total{route="webhook",code="200"} 2`,
		`memoryagent_http_requests_total{route="webhook",code="404"} 1`,
		`memoryagent_http_request_seconds_bucket{route="webhook",le="0.05"} 2`,
		`memoryagent_http_request_seconds_bucket{route="webhook",le="5"} 3`,
		`memoryagent_http_request_seconds_bucket{route="webhook",le="+Inf"} 3`,
		`memoryagent_http_request_seconds_count{route="webhook"} 3`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
}

func TestCounter_SameKeyReturnsSameCounter(t *testing.T) {
	c := NewCollector()
	a := c.Counter("x_total", "x", `a="1"`)
	b := c.Counter("x_total", "x", `a="1"`)
	if a != b {
		t.Fatal("expected the same counter instance")
	}
	a.Inc()
	if b.Value() != 1 {
		t.Fatalf("expected 1, got %d", b.Value())
	}
}

func TestHandler_ContentType(t *testing.T) {
	c := NewCollector()
	rec := httptest.NewRecorder()
	c.Handler()(rec, httptest.NewRequest("GET", "/metrics", nil))

	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("unexpected content type %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "memoryagent_uptime_seconds") {
		t.Error("uptime gauge missing")
	}
}
