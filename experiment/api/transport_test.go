package api_test

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/max-27/mlmi-federated-learning/checkpoint"
	"github.com/max-27/mlmi-federated-learning/experiment"
	"github.com/max-27/mlmi-federated-learning/experiment/api"
	"github.com/max-27/mlmi-federated-learning/pkg/pubsub"
	"github.com/max-27/mlmi-federated-learning/pkg/storage"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()

	dir := t.TempDir()
	ckpts, err := checkpoint.NewStore(filepath.Join(dir, "checkpoints"))
	require.NoError(t, err)

	svc := experiment.NewService(storage.NewInMemoryStorage(), ckpts, pubsub.NewNoop(), dir)
	srv := httptest.NewServer(api.MakeHandler(svc, slog.Default(), "test-instance"))
	t.Cleanup(srv.Close)

	return srv
}

func createDemoRun(t *testing.T, srv *httptest.Server) experiment.Run {
	t.Helper()

	res, err := http.Post(srv.URL+"/experiments", "application/json",
		strings.NewReader(`{"preset":"demo"}`))
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusCreated, res.StatusCode)

	var page experiment.RunPage
	require.NoError(t, json.NewDecoder(res.Body).Decode(&page))
	require.Len(t, page.Runs, 1)

	return page.Runs[0]
}

func TestCreateRunFromPreset(t *testing.T) {
	t.Parallel()
	srv := newServer(t)

	r := createDemoRun(t, srv)
	assert.NotEmpty(t, r.ID)
	assert.Equal(t, "demo", r.Config.Preset)
}

func TestCreateRunExpandsGrid(t *testing.T) {
	t.Parallel()
	srv := newServer(t)

	res, err := http.Post(srv.URL+"/experiments", "application/json",
		strings.NewReader(`{"preset":"hpsearch"}`))
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusCreated, res.StatusCode)

	var page experiment.RunPage
	require.NoError(t, json.NewDecoder(res.Body).Decode(&page))
	assert.Len(t, page.Runs, 3)
}

func TestCreateRunValidation(t *testing.T) {
	t.Parallel()
	srv := newServer(t)

	cases := []struct {
		desc        string
		contentType string
		body        string
		code        int
	}{
		{desc: "unknown preset", contentType: "application/json", body: `{"preset":"cifar"}`, code: http.StatusBadRequest},
		{desc: "empty request", contentType: "application/json", body: `{}`, code: http.StatusBadRequest},
		{desc: "bad content type", contentType: "text/plain", body: `{"preset":"demo"}`, code: http.StatusBadRequest},
		{desc: "broken json", contentType: "application/json", body: `{`, code: http.StatusBadRequest},
	}
	for _, tc := range cases {
		res, err := http.Post(srv.URL+"/experiments", tc.contentType, strings.NewReader(tc.body))
		require.NoError(t, err, tc.desc)
		res.Body.Close()
		assert.Equal(t, tc.code, res.StatusCode, tc.desc)
	}
}

func TestGetRun(t *testing.T) {
	t.Parallel()
	srv := newServer(t)
	r := createDemoRun(t, srv)

	res, err := http.Get(srv.URL + "/experiments/" + r.ID)
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	var got experiment.Run
	require.NoError(t, json.NewDecoder(res.Body).Decode(&got))
	assert.Equal(t, r.ID, got.ID)

	missing, err := http.Get(srv.URL + "/experiments/does-not-exist")
	require.NoError(t, err)
	missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestListRunsPaging(t *testing.T) {
	t.Parallel()
	srv := newServer(t)
	createDemoRun(t, srv)
	createDemoRun(t, srv)

	res, err := http.Get(srv.URL + "/experiments?offset=0&limit=1")
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	var page experiment.RunPage
	require.NoError(t, json.NewDecoder(res.Body).Decode(&page))
	assert.Equal(t, uint64(2), page.Total)
	assert.Len(t, page.Runs, 1)

	tooBig, err := http.Get(srv.URL + "/experiments?limit=1000")
	require.NoError(t, err)
	tooBig.Body.Close()
	assert.Equal(t, http.StatusBadRequest, tooBig.StatusCode)
}

func TestFederatedRoundsAndClusters(t *testing.T) {
	t.Parallel()
	srv := newServer(t)
	r := createDemoRun(t, srv)

	res, err := http.Post(srv.URL+"/experiments/"+r.ID+"/federated", "application/json", http.NoBody)
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	var done experiment.Run
	require.NoError(t, json.NewDecoder(res.Body).Decode(&done))
	assert.Equal(t, experiment.Completed, done.State)

	rounds, err := http.Get(srv.URL + "/experiments/" + r.ID + "/rounds")
	require.NoError(t, err)
	defer rounds.Body.Close()
	require.Equal(t, http.StatusOK, rounds.StatusCode)

	var page experiment.RoundPage
	require.NoError(t, json.NewDecoder(rounds.Body).Decode(&page))
	assert.Len(t, page.Rounds, done.Config.TotalRounds)

	// No cluster assignment exists until the clustering stage runs.
	notYet, err := http.Get(srv.URL + "/experiments/" + r.ID + "/clusters")
	require.NoError(t, err)
	notYet.Body.Close()
	assert.Equal(t, http.StatusNotFound, notYet.StatusCode)

	hier, err := http.Post(srv.URL+"/experiments/"+r.ID+"/hierarchical", "application/json", http.NoBody)
	require.NoError(t, err)
	hier.Body.Close()
	require.Equal(t, http.StatusOK, hier.StatusCode)

	clusters, err := http.Get(srv.URL + "/experiments/" + r.ID + "/clusters")
	require.NoError(t, err)
	defer clusters.Body.Close()
	require.Equal(t, http.StatusOK, clusters.StatusCode)

	var cr struct {
		RunID    string              `json:"run_id"`
		Clusters map[string][]string `json:"clusters"`
	}
	require.NoError(t, json.NewDecoder(clusters.Body).Decode(&cr))
	assert.Equal(t, r.ID, cr.RunID)
	assert.NotEmpty(t, cr.Clusters)
}

func TestHealthAndMetrics(t *testing.T) {
	t.Parallel()
	srv := newServer(t)

	res, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)

	var health map[string]string
	require.NoError(t, json.NewDecoder(res.Body).Decode(&health))
	assert.Equal(t, "pass", health["status"])
	assert.Equal(t, "test-instance", health["instance_id"])

	metrics, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	metrics.Body.Close()
	assert.Equal(t, http.StatusOK, metrics.StatusCode)
}

func TestUpdateRun(t *testing.T) {
	t.Parallel()
	srv := newServer(t)
	r := createDemoRun(t, srv)

	r.Config.TotalRounds = 7
	body, err := json.Marshal(r)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPut,
		fmt.Sprintf("%s/experiments/%s", srv.URL, r.ID), strings.NewReader(string(body)))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	var got experiment.Run
	require.NoError(t, json.NewDecoder(res.Body).Decode(&got))
	assert.Equal(t, 7, got.Config.TotalRounds)
}
