package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.CacheRequest("requirements", "hit")
	m.StoreFetch("requirements", nil)
	m.Mutation("requirements", "create", nil)
	m.IndexBuild("requirements", "rebuilt")
	m.IndexSize("requirements", 3)
	m.Search(time.Millisecond, 2)
}

// value returns the value of the first series of family name whose labels include want.
func value(t *testing.T, reg *prometheus.Registry, name string, want map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	series:
		for _, m := range mf.GetMetric() {
			labels := map[string]string{}
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			for k, v := range want {
				if labels[k] != v {
					continue series
				}
			}
			if m.GetCounter() != nil {
				return m.GetCounter().GetValue()
			}
			if m.GetGauge() != nil {
				return m.GetGauge().GetValue()
			}
		}
	}
	t.Fatalf("series %s %v not found", name, want)
	return 0
}

func TestMetrics_Counts(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.CacheRequest("requirements", "hit")
	m.CacheRequest("requirements", "hit")
	m.StoreFetch("requirements", errors.New("boom"))
	m.Mutation("goals_and_objectives", "delete", nil)
	m.IndexSize("requirements", 5)

	assert.Equal(t, 2.0, value(t, reg, "reqai_cache_requests_total", map[string]string{"entity_type": "requirements", "outcome": "hit"}))
	assert.Equal(t, 1.0, value(t, reg, "reqai_store_fetches_total", map[string]string{"outcome": "error"}))
	assert.Equal(t, 1.0, value(t, reg, "reqai_mutations_total", map[string]string{"op": "delete", "outcome": "ok"}))
	assert.Equal(t, 5.0, value(t, reg, "reqai_index_records", map[string]string{"entity_type": "requirements"}))
}

func TestNew_NilRegistererSkipsRegistration(t *testing.T) {
	m := New(nil)
	require.NotNil(t, m)
	m.Search(5*time.Millisecond, 1)
}
