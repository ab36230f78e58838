package couchbase

import (
	"net/http"
	"testing"
	"time"

	"github.com/pior/couchbase/engine"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_RecordsOperations(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)

	ft := newFakeTransport()
	cfg := ft.config()
	cfg.Metrics = metrics
	client, err := NewClient("localhost", "", "", cfg)
	require.NoError(t, err)

	b, err := client.Bucket("default")
	require.NoError(t, err)
	defer b.Close()

	_, _ = b.Set("k", 0, 0, []byte("v"))
	_, _ = b.Get("k")
	_, _ = b.Get("missing")
	_, _ = b.Add("k", 0, 0, []byte("v"))

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.opsTotal.WithLabelValues("default", "set", "success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.opsTotal.WithLabelValues("default", "get", "success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.opsTotal.WithLabelValues("default", "get", "not found")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.opsTotal.WithLabelValues("default", "add", "already exists")))
	assert.Equal(t, 3, testutil.CollectAndCount(metrics.opsDuration))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() { m.observe("b", "get", time.Time{}, nil) })
}

func TestResultLabel(t *testing.T) {
	assert.Equal(t, "success", resultLabel(nil))
	assert.Equal(t, "closed", resultLabel(ErrClosed))
	assert.Equal(t, "in progress", resultLabel(ErrOperationInProgress))
	assert.Equal(t, "unexpected http status", resultLabel(httpError("view", "p", http.StatusBadRequest, nil)))
	assert.Equal(t, "timeout", resultLabel(codeError("get", "k", engine.CodeTimeout)))
}
