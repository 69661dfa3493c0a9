package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/basicitems/internal/core"
)

func TestRecorder(t *testing.T) {
	reg := NewRegistry()
	r := New(reg)

	r.CodeAllocated("parent")
	r.CodeAllocated("parent")
	r.CodeAllocated("child")
	r.AllocationRetried()
	r.AllocationFailed("range_exhausted")
	r.ImportRows("accepted", 9)
	r.ImportRows("rejected", 0)
	r.ImportCommitted("partial", 40*time.Millisecond)
	r.ImportCommitted("rejected", 0)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.codesAllocated.WithLabelValues("parent")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.codesAllocated.WithLabelValues("child")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.allocationRetries))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.allocationFailures.WithLabelValues("range_exhausted")))
	assert.Equal(t, 9.0, testutil.ToFloat64(r.importRows.WithLabelValues("accepted")))
	assert.Equal(t, 1, testutil.CollectAndCount(r.importRows), "zero counts create no series")
	assert.Equal(t, 2, testutil.CollectAndCount(r.importCommits))

	// Only the commit that ran is observed.
	families, err := reg.Gather()
	require.NoError(t, err)
	var observed uint64
	for _, mf := range families {
		if mf.GetName() == "basicitems_import_commit_seconds" {
			observed = mf.GetMetric()[0].GetHistogram().GetSampleCount()
		}
	}
	assert.Equal(t, uint64(1), observed)
}

func TestHandler(t *testing.T) {
	reg := NewRegistry()
	New(reg).CodeAllocated("child")
	RegisterLimiter(reg, core.NewImportLimiter(3, time.Second))

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, `basicitems_codes_allocated_total{kind="child"} 1`)
	assert.Contains(t, body, "basicitems_imports_max_concurrent 3")
	assert.Contains(t, body, "basicitems_imports_active 0")
	assert.True(t, strings.Contains(body, "go_goroutines"))
}
