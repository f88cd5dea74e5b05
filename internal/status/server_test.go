package status

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthEndpoint(t *testing.T) {
	router := NewRouter(NewTracker())

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.NotEmpty(t, body["uptime"])
}

func TestStatusEndpoint(t *testing.T) {
	tracker := NewTracker()
	now := time.Now()
	tracker.CycleStarted("mean_reversion", now)
	tracker.CycleFinished(now.Add(time.Second), nil)
	tracker.CycleStarted("mean_reversion", now.Add(time.Minute))
	tracker.CycleFinished(now.Add(time.Minute+time.Second), errors.New("venue timeout"))

	router := NewRouter(tracker)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var snap Snapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.Equal(t, "mean_reversion", snap.Strategy)
	assert.Equal(t, int64(2), snap.Cycles)
	assert.Equal(t, "venue timeout", snap.LastError)
	require.NotNil(t, snap.LastCycleEnd)
}

func TestTrackerClearsErrorOnSuccess(t *testing.T) {
	tracker := NewTracker()
	now := time.Now()

	tracker.CycleFinished(now, errors.New("boom"))
	assert.Equal(t, "boom", tracker.Snapshot().LastError)

	tracker.CycleFinished(now.Add(time.Second), nil)
	snap := tracker.Snapshot()
	assert.Empty(t, snap.LastError)
	assert.Equal(t, int64(2), snap.Cycles)
}

func TestUnknownRoute(t *testing.T) {
	router := NewRouter(NewTracker())

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/nope", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}
