package events_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/maxbolgarin/sitepub/internal/events"
	"github.com/maxbolgarin/sitepub/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu     sync.Mutex
	events []events.Event
	err    error
	panic  bool
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Handle(_ context.Context, e events.Event) error {
	if s.panic {
		panic("boom")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return s.err
}

func (s *recordingSink) types() []events.Type {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]events.Type, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.Type)
	}
	return out
}

func TestDispatcherDeliversInOrder(t *testing.T) {
	first, second := &recordingSink{}, &recordingSink{err: errors.New("sink down")}
	d, err := events.NewDispatcher(events.Config{}, nil, first, second)
	require.NoError(t, err)
	d.Start()

	require.True(t, d.Emit(events.Event{Type: events.PublishStarted, DeploymentID: "d1"}))
	require.True(t, d.Emit(events.Event{Type: events.StageFinished, DeploymentID: "d1", Stage: model.StageValidate, Status: model.StageCompleted}))
	require.True(t, d.Emit(events.Event{Type: events.PublishFinished, DeploymentID: "d1", Report: &model.Report{Success: true}}))
	require.NoError(t, d.Close(context.Background()))

	want := []events.Type{events.PublishStarted, events.StageFinished, events.PublishFinished}
	assert.Equal(t, want, first.types())
	assert.Equal(t, want, second.types())
	assert.False(t, first.events[0].Time.IsZero())
}

func TestDispatcherDropsOnFullBuffer(t *testing.T) {
	sink := &recordingSink{}
	dropped := 0
	d, err := events.NewDispatcher(events.Config{BufferSize: 1}, func() { dropped++ }, sink)
	require.NoError(t, err)

	assert.True(t, d.Emit(events.Event{Type: events.PublishStarted}))
	assert.False(t, d.Emit(events.Event{Type: events.StageStarted}))
	assert.False(t, d.Emit(events.Event{Type: events.StageFinished}))
	assert.True(t, d.Emit(events.Event{Type: events.PublishFinished}))
	assert.Equal(t, 2, dropped)

	d.Start()
	require.NoError(t, d.Close(context.Background()))
	assert.Equal(t, []events.Type{events.PublishStarted, events.PublishFinished}, sink.types())
}

func TestNewDispatcherRejectsNegativeBuffer(t *testing.T) {
	_, err := events.NewDispatcher(events.Config{BufferSize: -1}, nil)
	require.ErrorIs(t, err, model.ErrConfiguration)
}

func TestDispatcherAfterClose(t *testing.T) {
	d, err := events.NewDispatcher(events.Config{}, nil)
	require.NoError(t, err)
	d.Start()
	require.NoError(t, d.Close(context.Background()))
	require.NoError(t, d.Close(context.Background()))

	assert.False(t, d.Emit(events.Event{Type: events.PublishStarted}))
}

func TestDispatcherSurvivesPanickingSink(t *testing.T) {
	bad, good := &recordingSink{panic: true}, &recordingSink{}
	d, err := events.NewDispatcher(events.Config{SinkTimeout: time.Second}, nil, bad, good)
	require.NoError(t, err)
	d.Start()

	d.Emit(events.Event{Type: events.PublishStarted})
	d.Emit(events.Event{Type: events.PublishFinished})
	require.NoError(t, d.Close(context.Background()))

	assert.Len(t, good.types(), 2)
}

func TestLogSinkAcceptsAllTypes(t *testing.T) {
	sink := events.NewLogSink(true)
	for _, e := range []events.Event{
		{Type: events.PublishStarted},
		{Type: events.StageStarted, Stage: model.StageCommit},
		{Type: events.StageFinished, Stage: model.StageCommit, Status: model.StageFailed},
		{Type: events.PublishFinished},
		{Type: events.PublishFinished, Report: &model.Report{Errors: []string{"x"}}},
	} {
		assert.NoError(t, sink.Handle(context.Background(), e))
	}
}

func TestRedisSinkUnreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	_, err := events.NewRedisSink(ctx, events.Config{RedisAddr: "127.0.0.1:1"})
	require.Error(t, err)
}
