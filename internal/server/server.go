package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/maxbolgarin/erro"
	"github.com/maxbolgarin/lang"
	"github.com/maxbolgarin/logze/v2"
	"github.com/maxbolgarin/servex/v2"
	"github.com/maxbolgarin/sitepub/internal/model"
)

type Publisher interface {
	Publish(ctx context.Context, req model.PublishRequest) model.Report
	Validate(site model.Website) model.ValidationResult
}

type Snapshots interface {
	List(ctx context.Context) ([]model.SnapshotInfo, error)
	Get(ctx context.Context, version int) (model.Snapshot, error)
}

type History interface {
	List(ctx context.Context, projectID string, limit int) ([]model.DeploymentRecord, error)
}

// Server exposes the publish pipeline over HTTP
type Server struct {
	publisher Publisher
	snapshots Snapshots
	history   History
	metrics   http.Handler
	projectID string

	config Config
	log    logze.Logger
	server *servex.Server
}

// New creates the API server. history and metrics may be nil.
func New(cfg Config, projectID string, publisher Publisher, snapshots Snapshots, history History, metrics http.Handler) (*Server, error) {
	if err := cfg.PrepareAndValidate(); err != nil {
		return nil, erro.Wrap(err, "validate config")
	}

	log := logze.With("module", "server")

	server, err := servex.NewServer(
		servex.WithReadTimeout(cfg.Timeout),
		servex.WithIdleTimeout(cfg.Timeout*2),
		servex.WithLogger(log),
		servex.WithHealthEndpoint(),
		servex.WithCertificate(cfg.Certificate),
	)
	if err != nil {
		return nil, erro.Wrap(err, "failed to create server")
	}

	h := &Server{
		publisher: publisher,
		snapshots: snapshots,
		history:   history,
		metrics:   metrics,
		projectID: projectID,
		config:    cfg,
		log:       log,
		server:    server,
	}
	for _, r := range h.routes() {
		server.HandleFunc(r.path, r.handler, r.method)
	}

	return h, nil
}

// Start starts the API server
func (h *Server) Start(ctx context.Context) error {
	h.log.Info("starting server", "address", h.config.Address, "https", h.config.EnableHTTPS)
	if h.config.EnableHTTPS {
		return h.server.StartHTTPS(h.config.Address)
	}
	return h.server.StartHTTP(h.config.Address)
}

// Stop stops the API server
func (h *Server) Stop(ctx context.Context) error {
	return h.server.Shutdown(ctx)
}

type route struct {
	path    string
	method  string
	handler http.HandlerFunc
}

func (h *Server) routes() []route {
	routes := []route{
		{"/api/deploy", http.MethodPost, h.handleDeploy},
		{"/api/validate", http.MethodPost, h.handleValidate},
		{"/api/versions", http.MethodGet, h.handleVersions},
		{"/api/versions/get", http.MethodGet, h.handleVersion},
		{"/api/deployments", http.MethodGet, h.handleDeployments},
	}
	if h.metrics != nil {
		routes = append(routes, route{"/metrics", http.MethodGet, h.metrics.ServeHTTP})
	}
	return routes
}

// handleDeploy runs a publish and replies with its report. The publish is not
// canceled when the client disconnects.
func (h *Server) handleDeploy(w http.ResponseWriter, r *http.Request) {
	ctx := servex.NewContext(w, r)

	var req model.PublishRequest
	if !h.read(ctx, r, &req) {
		return
	}

	report := h.publisher.Publish(context.WithoutCancel(r.Context()), req)
	ctx.Response(lang.If(report.Success, http.StatusOK, http.StatusUnprocessableEntity), report)
}

func (h *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	ctx := servex.NewContext(w, r)

	var site model.Website
	if !h.read(ctx, r, &site) {
		return
	}
	ctx.Response(http.StatusOK, h.publisher.Validate(site))
}

func (h *Server) handleVersions(w http.ResponseWriter, r *http.Request) {
	ctx := servex.NewContext(w, r)

	list, err := h.snapshots.List(r.Context())
	if err != nil {
		h.fail(ctx, r, err, "failed to list versions")
		return
	}
	ctx.Response(http.StatusOK, map[string]any{"versions": list})
}

func (h *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	ctx := servex.NewContext(w, r)

	version, err := strconv.Atoi(r.URL.Query().Get("version"))
	if err != nil || version <= 0 {
		ctx.BadRequest(errors.New("version must be a positive integer"), "invalid version")
		return
	}
	snap, err := h.snapshots.Get(r.Context(), version)
	if err != nil {
		h.fail(ctx, r, err, "failed to get version")
		return
	}
	ctx.Response(http.StatusOK, snap)
}

func (h *Server) handleDeployments(w http.ResponseWriter, r *http.Request) {
	ctx := servex.NewContext(w, r)

	if h.history == nil {
		ctx.Response(http.StatusOK, map[string]any{"deployments": []model.DeploymentRecord{}})
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		var err error
		if limit, err = strconv.Atoi(raw); err != nil || limit < 0 {
			ctx.BadRequest(errors.New("limit must be a non-negative integer"), "invalid limit")
			return
		}
	}
	list, err := h.history.List(r.Context(), h.projectID, limit)
	if err != nil {
		h.fail(ctx, r, err, "failed to list deployments")
		return
	}
	ctx.Response(http.StatusOK, map[string]any{"deployments": list})
}

// read decodes a JSON body of at most MaxBodyBytes.
func (h *Server) read(ctx *servex.Context, r *http.Request, out any) bool {
	if r.ContentLength > h.config.MaxBodyBytes {
		ctx.Response(http.StatusRequestEntityTooLarge, errorBody{Message: "request body is too large"})
		return false
	}
	if err := ctx.ReadJSONWithLimit(out, h.config.MaxBodyBytes); err != nil {
		ctx.BadRequest(err, "invalid JSON body")
		return false
	}
	return true
}

func (h *Server) fail(ctx *servex.Context, r *http.Request, err error, msg string) {
	if errors.Is(err, model.ErrNotFound) {
		ctx.Response(http.StatusNotFound, errorBody{Message: err.Error()})
		return
	}
	h.log.Error(msg, "error", err, "path", r.URL.Path)
	ctx.InternalServerError(err, msg)
}

type errorBody struct {
	Message string `json:"message"`
}
