package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/stakeregistry/internal/domain"
)

func TestObserveOperationLabelsByCategory(t *testing.T) {
	m := New()

	m.ObserveOperation("apply", nil, time.Millisecond)
	m.ObserveOperation("apply", domain.ErrAlreadyExists, time.Millisecond)
	m.ObserveOperation("finalize_exit", domain.ErrTooEarly, time.Millisecond)
	m.ObserveOperation("challenge", errors.New("db down"), time.Millisecond)

	counts := operationCounts(t, m)
	assert.Equal(t, 1.0, counts["apply/ok"])
	assert.Equal(t, 1.0, counts["apply/precondition"])
	assert.Equal(t, 1.0, counts["finalize_exit/timing"])
	assert.Equal(t, 1.0, counts["challenge/error"])
}

func operationCounts(t *testing.T, m *Metrics) map[string]float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)

	out := make(map[string]float64)
	for _, mf := range families {
		if mf.GetName() != "registry_operations_total" {
			continue
		}
		for _, metric := range mf.GetMetric() {
			labels := make(map[string]string)
			for _, lp := range metric.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			out[labels["op"]+"/"+labels["result"]] = metric.GetCounter().GetValue()
		}
	}
	return out
}

func TestHandlerExposesEscrow(t *testing.T) {
	m := New()
	m.SetEscrow(300)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "registry_escrow_balance 300"))
}
