package publisher

import (
	"time"

	"github.com/maxbolgarin/lang"
	"github.com/maxbolgarin/sitepub/internal/model"
)

const (
	defaultSiteDataPath  = "data/website.json"
	defaultSEODataPath   = "data/seo.json"
	defaultLocalSiteFile = "website.json"

	defaultValidateTimeout = 10 * time.Second
	defaultSEOTimeout      = 2 * time.Minute
	defaultFilesTimeout    = 5 * time.Minute
	defaultReviewTimeout   = 5 * time.Minute
	defaultCommitTimeout   = 2 * time.Minute
	defaultWaitTimeout     = 10 * time.Minute
)

type Config struct {
	ProjectID string `yaml:"project_id" env:"PROJECT_ID"`
	// Branch is filled from the repository config.
	Branch string `yaml:"-"`

	DryRun        bool `yaml:"dry_run" env:"DRY_RUN"`
	CommitRetries int  `yaml:"commit_retries" env:"COMMIT_RETRIES"`

	// Repository paths of the data files committed with every publish.
	SiteDataPath string `yaml:"site_data_path" env:"SITE_DATA_PATH"`
	SEODataPath  string `yaml:"seo_data_path" env:"SEO_DATA_PATH"`

	// OutputDir mirrors generated files locally when set.
	OutputDir     string `yaml:"output_dir" env:"OUTPUT_DIR"`
	LocalSiteFile string `yaml:"local_site_file" env:"LOCAL_SITE_FILE"`

	Timeouts Timeouts `yaml:"timeouts"`

	Verbose bool `yaml:"verbose" env:"PUBLISH_VERBOSE"`
}

// Timeouts bound each stage separately.
type Timeouts struct {
	Validate time.Duration `yaml:"validate" env:"TIMEOUT_VALIDATE"`
	SEO      time.Duration `yaml:"seo" env:"TIMEOUT_SEO"`
	Files    time.Duration `yaml:"files" env:"TIMEOUT_FILES"`
	Review   time.Duration `yaml:"review" env:"TIMEOUT_REVIEW"`
	Commit   time.Duration `yaml:"commit" env:"TIMEOUT_COMMIT"`
	Wait     time.Duration `yaml:"wait" env:"TIMEOUT_WAIT"`
}

func (c *Config) PrepareAndValidate() error {
	if c.CommitRetries < 0 {
		return model.NewConfigurationError("publish.commit_retries", "must not be negative")
	}
	c.Branch = lang.Check(c.Branch, "main")

	var err error
	if c.SiteDataPath, err = model.NormalizePath(lang.Check(c.SiteDataPath, defaultSiteDataPath)); err != nil {
		return model.NewConfigurationError("publish.site_data_path", err.Error())
	}
	if c.SEODataPath, err = model.NormalizePath(lang.Check(c.SEODataPath, defaultSEODataPath)); err != nil {
		return model.NewConfigurationError("publish.seo_data_path", err.Error())
	}
	if c.SiteDataPath == c.SEODataPath {
		return model.NewConfigurationError("publish.seo_data_path", "must differ from site_data_path")
	}
	if c.LocalSiteFile, err = model.NormalizePath(lang.Check(c.LocalSiteFile, defaultLocalSiteFile)); err != nil {
		return model.NewConfigurationError("publish.local_site_file", err.Error())
	}

	c.Timeouts.Validate = lang.Check(c.Timeouts.Validate, defaultValidateTimeout)
	c.Timeouts.SEO = lang.Check(c.Timeouts.SEO, defaultSEOTimeout)
	c.Timeouts.Files = lang.Check(c.Timeouts.Files, defaultFilesTimeout)
	c.Timeouts.Review = lang.Check(c.Timeouts.Review, defaultReviewTimeout)
	c.Timeouts.Commit = lang.Check(c.Timeouts.Commit, defaultCommitTimeout)
	c.Timeouts.Wait = lang.Check(c.Timeouts.Wait, defaultWaitTimeout)
	return nil
}
