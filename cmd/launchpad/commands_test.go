package main

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildRootHasAllCommands(t *testing.T) {
	root := buildRoot()
	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{
		"serve", "start", "stop", "start-all", "stop-all",
		"status", "logs", "preset", "history",
	} {
		assert.True(t, names[want], "missing command %s", want)
	}
}

func TestAPIClientDefaults(t *testing.T) {
	c := NewAPIClient("", 0)
	assert.Equal(t, defaultAPIURL, c.baseURL)
	assert.Equal(t, 60*time.Second, c.client.Timeout)
}

func TestAPIClientSurfacesDaemonError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"dependency redis did not become running in time"}`))
	}))
	defer srv.Close()

	c := NewAPIClient(srv.URL, time.Second)
	err := c.Start("backend")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dependency redis")
}

func TestAPIClientStatusRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/status", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"id":"redis","state":"running","restarts":0}]`))
	}))
	defer srv.Close()

	c := NewAPIClient(srv.URL, time.Second)
	assert.True(t, c.IsReachable())
	statuses, err := c.Status()
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.Equal(t, "redis", statuses[0].ID)
	assert.Equal(t, "running", statuses[0].State)
}
