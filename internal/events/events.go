package events

import (
	"context"
	"sync"
	"time"

	"github.com/maxbolgarin/errm"
	"github.com/maxbolgarin/lang"
	"github.com/maxbolgarin/logze/v2"
	"github.com/maxbolgarin/sitepub/internal/model"
)

const (
	defaultBufferSize  = 256
	defaultSinkTimeout = 5 * time.Second
)

type Type string

const (
	PublishStarted  Type = "publish.started"
	StageStarted    Type = "stage.started"
	StageFinished   Type = "stage.finished"
	PublishFinished Type = "publish.finished"
)

// Event is a single pipeline notification. Report is set on PublishFinished only.
type Event struct {
	Type          Type              `json:"type"`
	Time          time.Time         `json:"time"`
	DeploymentID  string            `json:"deploymentId"`
	ProjectID     string            `json:"projectId,omitempty"`
	CommitMessage string            `json:"commitMessage,omitempty"`
	DryRun        bool              `json:"dryRun"`
	Stage         model.StageID     `json:"stage,omitempty"`
	Status        model.StageStatus `json:"status,omitempty"`
	Message       string            `json:"message,omitempty"`
	Elapsed       time.Duration     `json:"elapsed,omitempty"`
	Report        *model.Report     `json:"report,omitempty"`
}

// Sink consumes events on the dispatcher goroutine.
type Sink interface {
	Name() string
	Handle(ctx context.Context, e Event) error
}

type Config struct {
	BufferSize  int           `yaml:"buffer_size" env:"EVENTS_BUFFER_SIZE"`
	SinkTimeout time.Duration `yaml:"sink_timeout" env:"EVENTS_SINK_TIMEOUT"`

	RedisAddr     string `yaml:"redis_addr" env:"EVENTS_REDIS_ADDR"`
	RedisPassword string `yaml:"redis_password" env:"EVENTS_REDIS_PASSWORD"`
	RedisDB       int    `yaml:"redis_db" env:"EVENTS_REDIS_DB"`
	RedisStream   string `yaml:"redis_stream" env:"EVENTS_REDIS_STREAM"`
	RedisMaxLen   int64  `yaml:"redis_max_len" env:"EVENTS_REDIS_MAX_LEN"`
}

func (c *Config) PrepareAndValidate() error {
	if c.BufferSize < 0 {
		return model.NewConfigurationError("events.buffer_size", "must not be negative")
	}
	c.BufferSize = lang.Check(c.BufferSize, defaultBufferSize)
	c.SinkTimeout = lang.Check(c.SinkTimeout, defaultSinkTimeout)
	c.RedisStream = lang.Check(c.RedisStream, defaultStream)
	c.RedisMaxLen = lang.Check(c.RedisMaxLen, defaultMaxLen)
	return nil
}

// durable events carry the deployment lifecycle and are never dropped.
func (t Type) durable() bool {
	return t == PublishStarted || t == PublishFinished
}

// Dispatcher fans events out to sinks from one goroutine, so sinks see
// events in emit order. Emit never blocks: stage events are dropped when
// BufferSize events are already pending, lifecycle events are always queued.
type Dispatcher struct {
	cfg    Config
	sinks  []Sink
	onDrop func()
	log    logze.Logger

	mu      sync.Mutex
	queue   []Event
	closed  bool
	started bool
	notify  chan struct{}
	done    chan struct{}
}

func NewDispatcher(cfg Config, onDrop func(), sinks ...Sink) (*Dispatcher, error) {
	if err := cfg.PrepareAndValidate(); err != nil {
		return nil, err
	}
	return &Dispatcher{
		cfg:    cfg,
		sinks:  sinks,
		onDrop: onDrop,
		log:    logze.With("component", "events"),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}, nil
}

// Start launches the delivery goroutine. It is safe to call once.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return
	}
	d.started = true
	go d.run()
}

// Emit queues an event and reports whether it was accepted.
func (d *Dispatcher) Emit(e Event) bool {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return false
	}
	if !e.Type.durable() && len(d.queue) >= d.cfg.BufferSize {
		d.mu.Unlock()
		if d.onDrop != nil {
			d.onDrop()
		}
		d.log.Warn("event dropped, buffer is full", "type", e.Type, "deployment_id", e.DeploymentID)
		return false
	}
	d.queue = append(d.queue, e)
	d.mu.Unlock()

	d.wake()
	return true
}

// Close stops accepting events and waits until queued ones are delivered.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	started := d.started
	d.mu.Unlock()

	if !started {
		return nil
	}
	d.wake()

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return errm.Wrap(ctx.Err(), "events were not delivered")
	}
}

func (d *Dispatcher) wake() {
	select {
	case d.notify <- struct{}{}:
	default:
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for {
		d.mu.Lock()
		batch, closed := d.queue, d.closed
		d.queue = nil
		d.mu.Unlock()

		if len(batch) == 0 {
			if closed {
				return
			}
			<-d.notify
			continue
		}
		for _, e := range batch {
			for _, sink := range d.sinks {
				d.deliver(sink, e)
			}
		}
	}
}

func (d *Dispatcher) deliver(sink Sink, e Event) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("sink panicked", "sink", sink.Name(), "panic", r)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.SinkTimeout)
	defer cancel()

	if err := sink.Handle(ctx, e); err != nil {
		d.log.Warn("sink failed", "sink", sink.Name(), "type", e.Type, "error", err)
	}
}
