package main

import (
	"os"
	"strings"

	"github.com/alecthomas/kingpin/v2"
	jsoniter "github.com/json-iterator/go"
	"github.com/maxbolgarin/contem"
	"github.com/maxbolgarin/erro"
	"github.com/maxbolgarin/logze/v2"
	"github.com/maxbolgarin/sitepub/internal/app"
	"github.com/maxbolgarin/sitepub/internal/config"
	"github.com/maxbolgarin/sitepub/internal/model"
)

var (
	Version, Branch, Commit, BuildDate string
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	configPath = kingpin.Flag("config", "path to config file").Short('c').Envar("SITEPUB_CONFIG").String()

	serveCmd = kingpin.Command("serve", "run the HTTP API")

	publishCmd     = kingpin.Command("publish", "validate, generate, commit and deploy a site state")
	publishSite    = publishCmd.Flag("site", "path to the site state JSON").Required().ExistingFile()
	publishDryRun  = publishCmd.Flag("dry-run", "simulate every write").Bool()
	publishMessage = publishCmd.Flag("message", "commit message").Short('m').String()

	validateCmd  = kingpin.Command("validate", "check a site state without publishing")
	validateSite = validateCmd.Flag("site", "path to the site state JSON").Required().ExistingFile()

	versionsCmd     = kingpin.Command("versions", "inspect published snapshots")
	versionsListCmd = versionsCmd.Command("list", "list snapshot versions").Default()
	versionsGetCmd  = versionsCmd.Command("get", "print one snapshot")
	versionsGetArg  = versionsGetCmd.Arg("version", "snapshot version").Required().Int()
)

func main() {
	kingpin.Version(strings.Join([]string{Version, Branch, Commit, BuildDate}, " "))
	command := kingpin.Parse()

	var err error
	ctx := contem.New(contem.WithLogger(logze.DefaultPtr()), contem.Exit(&err))
	defer ctx.Shutdown()
	err = run(ctx, command)
	if err != nil {
		logze.DefaultPtr().Error("cannot run", "error", err)
	}
}

func run(ctx contem.Context, command string) error {
	cfg, err := config.Load(*configPath)
	if err != nil {
		return erro.Wrap(err, "load config")
	}
	logze.Init(logze.C().WithConsole().WithLevel(cfg.Log.Level))

	sitepub, err := app.New(ctx, cfg)
	if err != nil {
		return erro.Wrap(err, "create service")
	}

	switch command {
	case serveCmd.FullCommand():
		if err := sitepub.StartServer(ctx); err != nil {
			return err
		}
		<-ctx.Done()
		return nil

	case publishCmd.FullCommand():
		site, err := readSite(*publishSite)
		if err != nil {
			return err
		}
		report := sitepub.Publish(ctx, model.PublishRequest{
			Website:       site,
			CommitMessage: *publishMessage,
			DryRun:        *publishDryRun,
		})
		if err := printJSON(report); err != nil {
			return err
		}
		if !report.Success {
			return erro.New("publish failed: %s", strings.Join(report.Errors, "; "))
		}
		return nil

	case validateCmd.FullCommand():
		site, err := readSite(*validateSite)
		if err != nil {
			return err
		}
		result := sitepub.Validate(site)
		if err := printJSON(result); err != nil {
			return err
		}
		if !result.Valid {
			return erro.New("site state is invalid")
		}
		return nil

	case versionsListCmd.FullCommand():
		list, err := sitepub.ListVersions(ctx)
		if err != nil {
			return erro.Wrap(err, "list versions")
		}
		return printJSON(list)

	case versionsGetCmd.FullCommand():
		snap, err := sitepub.GetVersion(ctx, *versionsGetArg)
		if err != nil {
			return erro.Wrap(err, "get version")
		}
		return printJSON(snap)
	}

	return erro.New("unknown command %q", command)
}

func readSite(path string) (model.Website, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.Website{}, erro.Wrap(err, "read site state")
	}
	var site model.Website
	if err := json.Unmarshal(data, &site); err != nil {
		return model.Website{}, erro.Wrap(err, "decode site state")
	}
	return site, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
