package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Access(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.Access("crisp-write", true)
	m.Access("crisp-write", true)
	m.Access("crisp-write", false)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.AccessDecisions.WithLabelValues("crisp-write", "allowed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AccessDecisions.WithLabelValues("crisp-write", "denied")))
}

func TestMetrics_RegisterTwicePanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })
}
