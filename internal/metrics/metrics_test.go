package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestHandlerExposesChatstreamMetrics(t *testing.T) {
	ConnectionStatus.Set(2)
	EventsReceivedTotal.WithLabelValues("message.new").Inc()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	for _, name := range []string{
		"chatstream_connection_status 2",
		`chatstream_events_received_total{type="message.new"}`,
	} {
		if !strings.Contains(string(body), name) {
			t.Errorf("metrics output missing %q", name)
		}
	}
}

func TestCounterVecLabels(t *testing.T) {
	before := testutil.ToFloat64(FramesDroppedTotal.WithLabelValues("malformed"))
	FramesDroppedTotal.WithLabelValues("malformed").Inc()
	if got := testutil.ToFloat64(FramesDroppedTotal.WithLabelValues("malformed")); got != before+1 {
		t.Fatalf("frames_dropped_total = %v, want %v", got, before+1)
	}
}
