package app

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
)

func TestSchedulerRunsImmediateJobAndStops(t *testing.T) {
	log, _ := test.NewNullLogger()
	var immediate, ticked atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())

	s := NewScheduler(log,
		Job{Name: "now", Interval: time.Hour, Immediate: true, Run: func(context.Context) error {
			immediate.Add(1)
			cancel()
			return nil
		}},
		Job{Name: "later", Interval: time.Hour, Run: func(context.Context) error {
			ticked.Add(1)
			return nil
		}},
	)

	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	assert.EqualValues(t, 1, immediate.Load())
	assert.Zero(t, ticked.Load())
}

func TestSchedulerSurvivesFailingAndPanickingJobs(t *testing.T) {
	log, hook := test.NewNullLogger()
	var runs atomic.Int32
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	s := NewScheduler(log, Job{Name: "flaky", Interval: 10 * time.Millisecond, Immediate: true, Run: func(context.Context) error {
		switch runs.Add(1) {
		case 1:
			return errors.New("transient")
		case 2:
			panic("bad input")
		default:
			cancel()
			return nil
		}
	}})

	assert.NoError(t, s.Start(ctx))
	assert.GreaterOrEqual(t, runs.Load(), int32(3))

	var messages []string
	for _, e := range hook.AllEntries() {
		messages = append(messages, e.Message)
	}
	assert.Contains(t, messages, "job failed")
	assert.Contains(t, messages, "job panicked")
}

func TestSchedulerSkipsDisabledJobs(t *testing.T) {
	log, _ := test.NewNullLogger()
	called := false
	s := NewScheduler(log, Job{Name: "off", Interval: 0, Immediate: true, Run: func(context.Context) error {
		called = true
		return nil
	}})

	assert.NoError(t, s.Start(context.Background()))
	assert.False(t, called)
}
