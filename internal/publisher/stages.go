package publisher

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/maxbolgarin/errm"
	"github.com/maxbolgarin/lang"
	"github.com/maxbolgarin/sitepub/internal/commit"
	"github.com/maxbolgarin/sitepub/internal/model"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const deploymentReady = "deployment is ready"

func (p *Publisher) validate(_ context.Context, b *publishBundle) StageOutcome {
	res := p.deps.Validator.Validate(b.req.Website)
	b.report.Warnings = append(b.report.Warnings, res.Warnings...)
	if !res.Valid {
		return Failed(res.Err(), true)
	}
	return Completed(fmt.Sprintf("site is valid, %d pages", len(b.req.Website.Pages)))
}

func (p *Publisher) generateSEO(ctx context.Context, b *publishBundle) StageOutcome {
	b.seo = defaultSEO(b.req.Website)
	if p.deps.SEO == nil {
		return Skipped("no SEO generator configured, using site metadata")
	}

	seo, err := p.deps.SEO.GenerateSEO(ctx, b.req.Website)
	if err != nil {
		b.log.Warn("SEO generation failed, using site metadata", "error", err)
		return Skipped("SEO generation failed, using site metadata").
			WithWarning("SEO metadata not generated: " + err.Error())
	}
	b.seo = seo
	return Completed(fmt.Sprintf("metadata for %d pages", len(seo.Pages)))
}

func (p *Publisher) generateFiles(ctx context.Context, b *publishBundle) StageOutcome {
	data, err := p.dataFiles(b)
	if err != nil {
		return Failed(err, true)
	}

	var generated []model.GeneratedFile
	if p.deps.Files != nil {
		generated, err = p.deps.Files.GenerateFiles(ctx, b.req.Website, b.seo)
		if err != nil {
			return Failed(errm.Wrap(err, "generate files"), true)
		}
	}
	b.files = mergeFiles(generated, data)

	if !b.dryRun && p.deps.Local != nil {
		records, err := p.deps.Local.WriteBatch(toChanges(b.files))
		if err != nil {
			return Failed(errm.Wrap(err, "mirror generated files"), true)
		}
		b.local = append(b.local, records...)
	}

	b.report.FilesGenerated = len(b.files)
	if p.deps.Files == nil {
		return Completed(fmt.Sprintf("no file generator configured, %d data files", len(b.files)))
	}
	return Completed(fmt.Sprintf("%d files generated", len(b.files)))
}

func (p *Publisher) review(ctx context.Context, b *publishBundle) StageOutcome {
	if p.deps.Reviewer == nil {
		return Skipped("no code reviewer configured")
	}

	review, err := p.deps.Reviewer.ReviewFiles(ctx, b.files)
	if err != nil {
		b.log.Warn("code review unavailable", "error", err)
		return Skipped("code review unavailable").WithWarning("code review skipped: " + err.Error())
	}
	if !review.Approved {
		return Failed(&ReviewRejectedError{Issues: review.Issues, Summary: review.Summary}, true)
	}

	b.report.CodeReviewPassed = true
	return Completed(lang.Check(review.Summary, "approved"))
}

func (p *Publisher) commit(ctx context.Context, b *publishBundle) StageOutcome {
	changes := toChanges(b.files)

	var (
		result        model.CommitResult
		allocWarnings []string
		err           error
	)
	// Only the warnings of the attempt that ends the loop are reported.
	for attempt := 0; ; attempt++ {
		alloc := p.deps.Versions.Next(ctx, p.cfg.Branch)
		allocWarnings = alloc.Warnings

		result, err = p.deps.Committer.Commit(ctx, commit.Request{
			Branch:  p.cfg.Branch,
			Message: lang.Check(b.req.CommitMessage, fmt.Sprintf("Publish site v%d", alloc.Version)),
			Version: alloc.Version,
			Changes: changes,
			Attach:  p.snapshotFor(b, alloc.Version),
			DryRun:  b.dryRun,
		})
		if err == nil {
			if !b.dryRun {
				v, warnings := p.deps.Versions.Confirm(ctx, p.cfg.Branch, alloc)
				result.VersionNumber = v
				allocWarnings = append(slices.Clip(allocWarnings), warnings...)
			}
			break
		}
		if !errors.Is(err, model.ErrConflict) {
			b.report.Warnings = append(b.report.Warnings, allocWarnings...)
			return Failed(err, true)
		}
		if p.deps.Metrics != nil {
			p.deps.Metrics.CommitConflict()
		}
		if attempt >= p.cfg.CommitRetries {
			b.report.Warnings = append(b.report.Warnings, allocWarnings...)
			return Failed(err, true)
		}
		b.log.Warn("branch moved during commit, retrying", "attempt", attempt+1, "error", err)
	}

	b.report.Warnings = append(b.report.Warnings, allocWarnings...)
	b.result = result
	b.committed = true
	b.report.Version = result.VersionNumber
	b.report.CommitSHA = result.CommitSHA
	b.report.CommitURL = result.CommitURL
	b.report.PagesDeployed = b.req.Website.Slugs()
	if b.report.PagesDeployed == nil {
		b.report.PagesDeployed = []string{}
	}

	if !b.dryRun {
		p.writeLocalSite(b)
	}

	return Completed(fmt.Sprintf("%d files committed as version %d", len(changes), result.VersionNumber))
}

func (p *Publisher) waitForLive(ctx context.Context, b *publishBundle) StageOutcome {
	if p.deps.Waiter == nil {
		return Skipped("no deployment provider configured")
	}
	if b.dryRun {
		b.log.Info("dry run, not waiting for deployment")
		return Completed(deploymentReady)
	}

	dep, err := p.deps.Waiter.WaitForCommit(ctx, b.result.CommitSHA)
	if err != nil {
		return Failed(err, false).WithWarning("deployment not confirmed: " + lang.Check(dep.Error, err.Error()))
	}
	b.report.DeploymentURL = dep.URL
	return Completed(deploymentReady)
}

// snapshotFor returns the commit hook that stores the site state under version,
// recording the base commit it was built on.
func (p *Publisher) snapshotFor(b *publishBundle, version int) func(model.GitCommit) ([]model.FileChange, error) {
	if p.deps.Snapshots == nil {
		return nil
	}
	return func(base model.GitCommit) ([]model.FileChange, error) {
		change, err := p.deps.Snapshots.Change(model.Snapshot{
			Version:     version,
			Timestamp:   time.Now().UTC(),
			CommitSHA:   base.SHA,
			WebsiteData: b.req.Website,
		})
		if err != nil {
			return nil, err
		}
		return []model.FileChange{change}, nil
	}
}

// writeLocalSite stores the published site state next to the mirrored files.
// The commit has already landed, so a failure here is only a warning.
func (p *Publisher) writeLocalSite(b *publishBundle) {
	if p.deps.Local == nil {
		return
	}
	data, err := encode(b.req.Website)
	if err == nil {
		var records []model.FileChangeRecord
		records, err = p.deps.Local.WriteBatch([]model.FileChange{{
			Path:    p.cfg.LocalSiteFile,
			Content: data,
			Action:  model.ActionModify,
		}})
		b.local = append(b.local, records...)
	}
	if err != nil {
		b.log.Warn("cannot write local site state", "error", err)
		b.report.Warnings = append(b.report.Warnings, "local site state not saved: "+err.Error())
	}
}

// dataFiles are the site and SEO JSON documents committed with every publish.
func (p *Publisher) dataFiles(b *publishBundle) ([]model.GeneratedFile, error) {
	site, err := encode(b.req.Website)
	if err != nil {
		return nil, errm.Wrap(err, "encode site")
	}
	seo, err := encode(b.seo)
	if err != nil {
		return nil, errm.Wrap(err, "encode seo")
	}
	return []model.GeneratedFile{
		{Path: p.cfg.SiteDataPath, Content: string(site)},
		{Path: p.cfg.SEODataPath, Content: string(seo)},
	}, nil
}

// mergeFiles appends data files to generated ones. Data files replace generated
// files with the same path.
func mergeFiles(generated, data []model.GeneratedFile) []model.GeneratedFile {
	reserved := make(map[string]struct{}, len(data))
	for _, f := range data {
		reserved[f.Path] = struct{}{}
	}
	out := make([]model.GeneratedFile, 0, len(generated)+len(data))
	for _, f := range generated {
		if path, err := model.NormalizePath(f.Path); err == nil {
			if _, ok := reserved[path]; ok {
				continue
			}
		}
		out = append(out, f)
	}
	return append(out, data...)
}

func toChanges(files []model.GeneratedFile) []model.FileChange {
	out := make([]model.FileChange, 0, len(files))
	for _, f := range files {
		out = append(out, model.FileChange{Path: f.Path, Content: []byte(f.Content), Action: model.ActionModify})
	}
	return out
}

func defaultSEO(site model.Website) model.SEOMetadata {
	seo := model.SEOMetadata{
		Title:       site.Meta.Title,
		Description: site.Meta.Description,
		Keywords:    site.Meta.Keywords,
		Pages:       make([]model.PageSEO, 0, len(site.Pages)),
	}
	for _, page := range site.Pages {
		seo.Pages = append(seo.Pages, model.PageSEO{
			Slug:        page.Slug,
			Title:       lang.Check(page.Title, site.Meta.Title),
			Description: site.Meta.Description,
		})
	}
	return seo
}

func encode(v any) ([]byte, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}
