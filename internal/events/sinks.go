package events

import (
	"context"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/maxbolgarin/errm"
	"github.com/maxbolgarin/logze/v2"
	"github.com/redis/go-redis/v9"
)

const (
	defaultStream = "sitepub:events"
	defaultMaxLen = 10000
	pingTimeout   = 2 * time.Second
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// LogSink writes every event to the structured log.
type LogSink struct {
	log     logze.Logger
	verbose bool
}

func NewLogSink(verbose bool) *LogSink {
	return &LogSink{log: logze.With("component", "pipeline"), verbose: verbose}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Handle(_ context.Context, e Event) error {
	log := s.log.WithFields("deployment_id", e.DeploymentID)
	switch e.Type {
	case PublishStarted:
		log.Info("publish started", "dry_run", e.DryRun, "message", e.CommitMessage)
	case StageStarted:
		log.DebugIf(s.verbose, "stage started", "stage", e.Stage)
	case StageFinished:
		log.Info("stage finished", "stage", e.Stage, "status", e.Status, "message", e.Message, "elapsed", e.Elapsed)
	case PublishFinished:
		if e.Report == nil {
			return nil
		}
		if e.Report.Success {
			log.Info("publish finished", "version", e.Report.Version, "commit", e.Report.CommitSHA, "warnings", len(e.Report.Warnings), "elapsed", e.Elapsed)
		} else {
			log.Warn("publish failed", "errors", e.Report.Errors, "elapsed", e.Elapsed)
		}
	}
	return nil
}

// RedisSink appends events to a redis stream for external consumers.
type RedisSink struct {
	client *redis.Client
	stream string
	maxLen int64
}

func NewRedisSink(ctx context.Context, cfg Config) (*RedisSink, error) {
	if err := cfg.PrepareAndValidate(); err != nil {
		return nil, err
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, errm.Wrap(err, "ping redis", "addr", cfg.RedisAddr)
	}

	return &RedisSink{client: client, stream: cfg.RedisStream, maxLen: cfg.RedisMaxLen}, nil
}

func (s *RedisSink) Name() string { return "redis" }

func (s *RedisSink) Handle(ctx context.Context, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return errm.Wrap(err, "encode event")
	}
	err = s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: s.maxLen,
		Approx: true,
		Values: map[string]any{
			"type":          string(e.Type),
			"deployment_id": e.DeploymentID,
			"payload":       payload,
		},
	}).Err()
	if err != nil {
		return errm.Wrap(err, "xadd", "stream", s.stream)
	}
	return nil
}

func (s *RedisSink) Close() error {
	return s.client.Close()
}
