package httpserver_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/bulk-download-service/internal/domain"
)

func TestStatus_Snapshot(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 16)
	j := f.seedJob(t, domain.JobRunning, nil, nil)

	rec := f.do(http.MethodGet, "/v1/download/status/"+j.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, j.ID, out["jobId"])
	assert.Equal(t, "running", out["status"])
	assert.Equal(t, float64(1), out["attempts"])
	assert.NotContains(t, out, "result")
	assert.NotContains(t, out, "error")
}

func TestStatus_NotModified(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 16)
	j := f.seedJob(t, domain.JobQueued, nil, nil)

	rec := f.do(http.MethodGet, "/v1/download/status/"+j.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	etag := rec.Header().Get("ETag")
	require.NotEmpty(t, etag)

	req := httptest.NewRequest(http.MethodGet, "/v1/download/status/"+j.ID, nil)
	req.Header.Set("If-None-Match", etag)
	rec2 := httptest.NewRecorder()
	f.router.ServeHTTP(rec2, req)
	assert.Equal(t, http.StatusNotModified, rec2.Code)
}

func TestStatus_NotFound(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 16)
	rec := f.do(http.MethodGet, "/v1/download/status/unknown-id", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatus_CompletedCarriesResult(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 16)
	j := f.seedJob(t, domain.JobCompleted, nil, nil)

	rec := f.do(http.MethodGet, "/v1/download/status/"+j.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "completed", out["status"])
	assert.Equal(t, float64(100), out["progressPercent"])
	res, ok := out["result"].(map[string]any)
	require.True(t, ok, "completed snapshot must embed result")
	assert.NotEmpty(t, res["url"])
	assert.NotEmpty(t, res["checksum"])
	assert.NotContains(t, out, "error")
}
