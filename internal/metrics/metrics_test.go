package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordFunctions_DoNotPanic(t *testing.T) {
	assert.NotPanics(t, func() {
		RecordHTTPRequest("gateway", "POST", "/emit", "200", 10*time.Millisecond)
		InFlightInc()
		InFlightDec()
		RecordDispatch("stripe", "unified", "success", 25*time.Millisecond)
		RecordPipelineStage("root", "succeeded", 5*time.Millisecond)
		RecordPipelineOutcome("pipeline", "dropped")
		RecordStreamProcess("target", "ok", 2*time.Millisecond)
		RecordWatchdogPoll(100*time.Millisecond, 3, 2, 1)
	})
}

func TestHandler_ExposesRegisteredCollectors(t *testing.T) {
	RecordDispatch("shopify", "passthrough", "error", time.Millisecond)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "integration_core_dispatcher_requests_total"))
	assert.True(t, strings.Contains(body, "integration_core_watchdog_poll_duration_seconds"))
}
