package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestOutcome(t *testing.T) {
	assert.Equal(t, OutcomeOK, Outcome(nil))
	assert.Equal(t, OutcomeError, Outcome(errors.New("x")))
}

func TestCountersRegistered(t *testing.T) {
	before := testutil.ToFloat64(NotificationsSuppressed)
	NotificationsSuppressed.Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(NotificationsSuppressed))

	c := GuardEvaluations.WithLabelValues("matched")
	before = testutil.ToFloat64(c)
	c.Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(c))
}
