package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/maxbolgarin/sitepub/internal/config"
	"github.com/maxbolgarin/sitepub/internal/deploystatus"
	"github.com/maxbolgarin/sitepub/internal/gitstore"
	"github.com/maxbolgarin/sitepub/internal/model"
	"github.com/maxbolgarin/sitepub/internal/version"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
github:
  owner: acme
  repo: site
  branch: production
  token: file-token
snapshots:
  path: /history/snapshots/
version:
  source: commit_count
deploy:
  token: vercel-token
  project_id: prj_1
publish:
  commit_retries: 2
  timeouts:
    commit: 45s
log:
  level: DEBUG
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadFromFile(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "acme", cfg.GitHub.Owner)
	assert.Equal(t, "production", cfg.GitHub.Branch)
	assert.Equal(t, "production", cfg.Publish.Branch)
	assert.Equal(t, "prj_1", cfg.Publish.ProjectID)
	assert.Equal(t, "history/snapshots", cfg.Snapshots.Path)
	assert.Equal(t, version.SourceCommitCount, cfg.Version.Source)
	assert.Equal(t, 2, cfg.Publish.CommitRetries)
	assert.Equal(t, 45*time.Second, cfg.Publish.Timeouts.Commit)
	assert.Equal(t, 10*time.Minute, cfg.Publish.Timeouts.Wait)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 8, cfg.CommitWorkers)
	assert.False(t, cfg.Agent.Enabled())
}

func TestLoadEnvOverridesFile(t *testing.T) {
	t.Setenv("GITHUB_TOKEN", "env-token")
	t.Setenv("DRY_RUN", "true")

	cfg, err := config.Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "env-token", cfg.GitHub.Token)
	assert.True(t, cfg.Publish.DryRun)
}

func TestLoadRequiresToken(t *testing.T) {
	t.Setenv("GITHUB_TOKEN", "")

	_, err := config.Load(writeConfig(t, "github:\n  owner: acme\n  repo: site\n"))
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrConfiguration)
	assert.Contains(t, err.Error(), "github.token")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestPrepareAndValidate(t *testing.T) {
	for _, tc := range []struct {
		name  string
		cfg   config.Config
		field string
	}{
		{
			name:  "unknown log level",
			cfg:   config.Config{Log: config.LogConfig{Level: "loud"}},
			field: "log.level",
		},
		{
			name:  "negative workers",
			cfg:   config.Config{CommitWorkers: -1},
			field: "commit_workers",
		},
		{
			name:  "half configured deployment provider",
			cfg:   config.Config{GitHub: validGitHub(), Deploy: deployWithToken()},
			field: "deploy.project_id",
		},
		{
			name:  "bad version source",
			cfg:   config.Config{GitHub: validGitHub(), Version: version.Config{Source: "dates"}},
			field: "version.source",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.PrepareAndValidate()
			var cfgErr *model.ConfigurationError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tc.field, cfgErr.Field)
		})
	}
}

func TestVerbosePropagates(t *testing.T) {
	cfg := config.Config{GitHub: validGitHub(), Log: config.LogConfig{Verbose: true}}
	require.NoError(t, cfg.PrepareAndValidate())

	assert.True(t, cfg.GitHub.Verbose)
	assert.True(t, cfg.Publish.Verbose)
	assert.Equal(t, "main", cfg.Publish.Branch)
}

func validGitHub() gitstore.Config {
	return gitstore.Config{Owner: "acme", Repo: "site", Token: "t"}
}

func deployWithToken() deploystatus.Config {
	return deploystatus.Config{Token: "t"}
}
