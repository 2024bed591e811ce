package deploystatus

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/maxbolgarin/abstract"
	"github.com/maxbolgarin/cliex"
	"github.com/maxbolgarin/errm"
	"github.com/maxbolgarin/lang"
	"github.com/maxbolgarin/logze/v2"
	"github.com/maxbolgarin/sitepub/internal/model"
)

const (
	defaultBaseURL        = "https://api.vercel.com"
	defaultPollInterval   = 5 * time.Second
	defaultTimeout        = 5 * time.Minute
	defaultRequestTimeout = 15 * time.Second
	deploymentsLimit      = 10
)

// Deployment states reported by the hosting API.
const (
	StateReady    = "READY"
	StateError    = "ERROR"
	StateCanceled = "CANCELED"
)

// Config represents hosting provider access configuration
type Config struct {
	Token     string `yaml:"token" env:"VERCEL_TOKEN"`
	ProjectID string `yaml:"project_id" env:"VERCEL_PROJECT_ID"`
	TeamID    string `yaml:"team_id" env:"VERCEL_TEAM_ID"`
	BaseURL   string `yaml:"base_url" env:"VERCEL_BASE_URL"`

	PollInterval   time.Duration `yaml:"poll_interval" env:"VERCEL_POLL_INTERVAL"`
	Timeout        time.Duration `yaml:"timeout" env:"VERCEL_TIMEOUT"`
	RequestTimeout time.Duration `yaml:"request_timeout" env:"VERCEL_REQUEST_TIMEOUT"`

	Verbose bool `yaml:"verbose" env:"VERCEL_VERBOSE"`
}

// Enabled reports whether deployment waiting is configured at all.
func (c Config) Enabled() bool {
	return c.Token != "" || c.ProjectID != ""
}

func (c *Config) PrepareAndValidate() error {
	if !c.Enabled() {
		return nil
	}
	if c.Token == "" {
		return model.NewConfigurationError("deploy.token", "hosting API token is required when a project is set (VERCEL_TOKEN)")
	}
	if c.ProjectID == "" {
		return model.NewConfigurationError("deploy.project_id", "project ID is required when a token is set (VERCEL_PROJECT_ID)")
	}
	c.BaseURL = strings.TrimSuffix(lang.Check(c.BaseURL, defaultBaseURL), "/")
	c.PollInterval = lang.Check(c.PollInterval, defaultPollInterval)
	c.Timeout = lang.Check(c.Timeout, defaultTimeout)
	c.RequestTimeout = lang.Check(c.RequestTimeout, defaultRequestTimeout)
	return nil
}

// Poller waits for the hosting deployment built from a given commit.
type Poller struct {
	cli *cliex.HTTP
	cfg Config
	log logze.Logger
}

func New(cfg Config) (*Poller, error) {
	if err := cfg.PrepareAndValidate(); err != nil {
		return nil, err
	}
	if !cfg.Enabled() {
		return nil, model.NewConfigurationError("deploy", "deployment provider is not configured")
	}

	cli, err := cliex.NewWithConfig(cliex.Config{
		BaseURL:        cfg.BaseURL,
		RequestTimeout: cfg.RequestTimeout,
	})
	if err != nil {
		return nil, errm.Wrap(err, "failed to create HTTP client")
	}
	cli.C().SetAuthToken(cfg.Token)

	return &Poller{
		cli: cli,
		cfg: cfg,
		log: logze.With("component", "deploystatus", "project", cfg.ProjectID),
	}, nil
}

// WaitForCommit polls until the deployment of commitSHA is ready, has failed,
// or the configured timeout elapses. Failed and timed out deployments are
// returned together with an error.
func (p *Poller) WaitForCommit(ctx context.Context, commitSHA string) (model.LiveDeployment, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	timer := abstract.StartTimer()
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	var last model.LiveDeployment
	for {
		dep, found, err := p.find(ctx, commitSHA)
		switch {
		case err != nil:
			p.log.Warn("failed to fetch deployments", "error", err)
		case found:
			last = dep
			p.log.DebugIf(p.cfg.Verbose, "deployment state", "id", dep.DeploymentID, "state", dep.State)

			switch dep.State {
			case StateReady:
				dep.Success = true
				p.log.Info("deployment is live", "url", dep.URL, "elapsed", timer.ElapsedTime())
				return dep, nil
			case StateError, StateCanceled:
				dep.Error = lang.Check(dep.Error, "deployment finished in state "+dep.State)
				return dep, errm.New(dep.Error)
			}
		}

		select {
		case <-ctx.Done():
			last.Success = false
			last.Error = "timed out waiting for deployment of " + shortSHA(commitSHA)
			return last, &model.RemoteError{Kind: model.ErrTransient, Op: "wait for deployment", Message: last.Error, Err: ctx.Err()}
		case <-ticker.C:
		}
	}
}

func (p *Poller) find(ctx context.Context, commitSHA string) (model.LiveDeployment, bool, error) {
	q := url.Values{}
	q.Set("projectId", p.cfg.ProjectID)
	q.Set("limit", strconv.Itoa(deploymentsLimit))
	if p.cfg.TeamID != "" {
		q.Set("teamId", p.cfg.TeamID)
	}

	var out deploymentsResponse
	resp, err := p.cli.Get(ctx, p.cfg.BaseURL+"/v6/deployments?"+q.Encode(), &out)
	if err != nil {
		return model.LiveDeployment{}, false, errm.Wrap(err, "list deployments")
	}
	if resp != nil && resp.IsError() {
		return model.LiveDeployment{}, false, &model.RemoteError{
			Kind:       lang.If(resp.StatusCode() >= 500, model.ErrTransient, model.ErrRemote),
			Op:         "list deployments",
			StatusCode: resp.StatusCode(),
			Message:    out.Error.Message,
		}
	}

	for _, d := range out.Deployments {
		if d.Meta.GithubCommitSha != commitSHA {
			continue
		}
		return model.LiveDeployment{
			URL:          deploymentURL(d.URL),
			DeploymentID: d.UID,
			State:        lang.Check(d.ReadyState, d.State),
			Error:        d.ErrorMessage,
		}, true, nil
	}
	return model.LiveDeployment{}, false, nil
}

func deploymentURL(host string) string {
	if host == "" || strings.HasPrefix(host, "http://") || strings.HasPrefix(host, "https://") {
		return host
	}
	return "https://" + host
}

func shortSHA(sha string) string {
	if len(sha) > 7 {
		return sha[:7]
	}
	return sha
}

type deploymentsResponse struct {
	Deployments []deployment `json:"deployments"`
	Error       struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type deployment struct {
	UID          string `json:"uid"`
	URL          string `json:"url"`
	State        string `json:"state"`
	ReadyState   string `json:"readyState"`
	ErrorMessage string `json:"errorMessage"`
	Meta         struct {
		GithubCommitSha string `json:"githubCommitSha"`
	} `json:"meta"`
}
