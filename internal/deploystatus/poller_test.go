package deploystatus_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/maxbolgarin/sitepub/internal/deploystatus"
	"github.com/maxbolgarin/sitepub/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sha = "0123456789abcdef0123456789abcdef01234567"

// hosting serves /v6/deployments, returning states[i] on the i-th poll and
// repeating the last state afterwards.
func hosting(t *testing.T, states ...string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var polls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v6/deployments", r.URL.Path)
		assert.Equal(t, "prj_1", r.URL.Query().Get("projectId"))
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))

		n := int(polls.Add(1)) - 1
		state := states[min(n, len(states)-1)]
		body := map[string]any{"deployments": []map[string]any{
			{"uid": "dpl_other", "url": "other.vercel.app", "readyState": "READY", "meta": map[string]any{"githubCommitSha": "ffff"}},
			{"uid": "dpl_1", "url": "site-abc.vercel.app", "readyState": state, "meta": map[string]any{"githubCommitSha": sha}},
		}}
		w.Header().Set("Content-Type", "application/json")
		_ = jsoniter.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(srv.Close)
	return srv, &polls
}

func newPoller(t *testing.T, baseURL string, timeout time.Duration) *deploystatus.Poller {
	t.Helper()
	p, err := deploystatus.New(deploystatus.Config{
		Token:        "tok",
		ProjectID:    "prj_1",
		BaseURL:      baseURL,
		PollInterval: 10 * time.Millisecond,
		Timeout:      timeout,
	})
	require.NoError(t, err)
	return p
}

func TestWaitForCommitReady(t *testing.T) {
	srv, polls := hosting(t, "QUEUED", "BUILDING", "READY")
	p := newPoller(t, srv.URL, 5*time.Second)

	dep, err := p.WaitForCommit(context.Background(), sha)
	require.NoError(t, err)
	assert.True(t, dep.Success)
	assert.Equal(t, "https://site-abc.vercel.app", dep.URL)
	assert.Equal(t, "dpl_1", dep.DeploymentID)
	assert.Equal(t, int32(3), polls.Load())
}

func TestWaitForCommitFailedDeployment(t *testing.T) {
	for _, state := range []string{deploystatus.StateError, deploystatus.StateCanceled} {
		t.Run(state, func(t *testing.T) {
			srv, _ := hosting(t, "BUILDING", state)
			p := newPoller(t, srv.URL, 5*time.Second)

			dep, err := p.WaitForCommit(context.Background(), sha)
			require.Error(t, err)
			assert.False(t, dep.Success)
			assert.Equal(t, state, dep.State)
			assert.Contains(t, dep.Error, state)
		})
	}
}

func TestWaitForCommitTimeout(t *testing.T) {
	srv, _ := hosting(t, "BUILDING")
	p := newPoller(t, srv.URL, 50*time.Millisecond)

	dep, err := p.WaitForCommit(context.Background(), sha)
	require.ErrorIs(t, err, model.ErrTransient)
	assert.False(t, dep.Success)
	assert.Contains(t, dep.Error, "timed out")
}

func TestConfig(t *testing.T) {
	cfg := deploystatus.Config{}
	require.NoError(t, cfg.PrepareAndValidate())
	assert.False(t, cfg.Enabled())

	cfg = deploystatus.Config{ProjectID: "prj_1"}
	require.ErrorIs(t, cfg.PrepareAndValidate(), model.ErrConfiguration)

	_, err := deploystatus.New(deploystatus.Config{})
	require.ErrorIs(t, err, model.ErrConfiguration)
}
