package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollector_RecordsCounters(t *testing.T) {
	c := NewCollector(prometheus.NewRegistry())

	c.RecordSubmission("created")
	c.RecordSubmission("created")
	c.RecordSubmission("duplicate")
	c.RecordChatResolution("form", "field")
	c.RecordSpeech("fallback")
	c.RecordHTTPRequest("GET", "/healthz", 200, 5*time.Millisecond)

	if got := testutil.ToFloat64(c.submissionsTotal.WithLabelValues("created")); got != 2 {
		t.Errorf("expected 2 created submissions, got %v", got)
	}
	if got := testutil.ToFloat64(c.chatResolutions.WithLabelValues("form", "field")); got != 1 {
		t.Errorf("expected 1 field resolution, got %v", got)
	}
	if got := testutil.ToFloat64(c.httpRequestsTotal.WithLabelValues("GET", "/healthz", "200")); got != 1 {
		t.Errorf("expected 1 request, got %v", got)
	}
}

func TestCollector_NilIsNoop(t *testing.T) {
	var c *Collector
	c.RecordSubmission("created")
	c.RecordReviewDecision("approved")
	c.SetActiveFormSessions(3)
	c.RecordHTTPRequest("GET", "/", 200, time.Second)
}

func TestNewCollector_SeparateRegistries(t *testing.T) {
	// two collectors on distinct registries must not collide
	_ = NewCollector(prometheus.NewRegistry())
	_ = NewCollector(prometheus.NewRegistry())
}
