package cmd

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ingestlab/fetchd/internal/manager"
)

func TestPortFileRoundTrip(t *testing.T) {
	t.Setenv("FETCHD_HOME", t.TempDir())

	assert.Equal(t, 0, readActivePort(), "no port file yet")

	writeActivePort(8733)
	assert.Equal(t, 8733, readActivePort())

	removeActivePort()
	assert.Equal(t, 0, readActivePort())
}

// fakePort extracts the loopback port an httptest.Server bound to, for
// writing into the port-discovery file client subcommands read.
func fakePort(t *testing.T, srv *httptest.Server) int {
	t.Helper()
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return port
}

func TestFetchSnapshotDecodesBody(t *testing.T) {
	want := manager.Snapshot{ActiveCount: 2, OverallProgress: 0.5}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/snapshot", r.URL.Path)
		json.NewEncoder(w).Encode(want)
	}))
	defer srv.Close()

	got, err := fetchSnapshot(fakePort(t, srv))
	require.NoError(t, err)
	assert.Equal(t, want.ActiveCount, got.ActiveCount)
	assert.Equal(t, want.OverallProgress, got.OverallProgress)
}

func TestFetchSnapshotPropagatesServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := fetchSnapshot(fakePort(t, srv))
	assert.Error(t, err)
}

func TestPostTaskActionHitsCorrectRoute(t *testing.T) {
	var gotPath, gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotMethod = r.URL.Path, r.Method
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	require.NoError(t, postTaskAction(fakePort(t, srv), "abc123", "pause"))
	assert.Equal(t, "/tasks/abc123/pause", gotPath)
	assert.Equal(t, http.MethodPost, gotMethod)
}

func TestPostControlActionHitsCorrectRoute(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	require.NoError(t, postControlAction(fakePort(t, srv), "pause-all"))
	assert.Equal(t, "/control/pause-all", gotPath)
}

func TestPostEmptyPropagatesErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	}))
	defer srv.Close()

	err := postTaskAction(fakePort(t, srv), "abc", "bogus")
	assert.Error(t, err)
}

func TestPostManifestSendsPath(t *testing.T) {
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	require.NoError(t, postManifest(fakePort(t, srv), "/tmp/manifest.json"))
	assert.Equal(t, "/tmp/manifest.json", gotBody["path"])
}
