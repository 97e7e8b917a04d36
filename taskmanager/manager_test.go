package taskmanager

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T, cfg Config) *Manager {
	t.Helper()
	log := logrus.New()
	log.SetOutput(os.Stderr)
	m, err := New(t.TempDir(), cfg, log)
	require.NoError(t, err)
	return m
}

func drain(t *testing.T, ch <-chan Task, timeout time.Duration) Task {
	t.Helper()
	var last Task
	deadline := time.After(timeout)
	for {
		select {
		case task, ok := <-ch:
			if !ok {
				return last
			}
			last = task
			if task.State.Terminal() {
				return last
			}
		case <-deadline:
			t.Fatal("timed out waiting for terminal task state")
		}
	}
}

func TestSubmitAndRunToSuccess(t *testing.T) {
	m := newTestManager(t, Config{Workers: 2, QueueDepth: 4})
	m.RegisterHandler("echo", func(ctx context.Context, input map[string]interface{}) (interface{}, error) {
		return input["value"], nil
	})
	require.NoError(t, m.Initialize(context.Background()))
	defer m.Cleanup(context.Background())

	id, err := m.Submit(context.Background(), "echo", map[string]interface{}{"value": "hi"})
	require.NoError(t, err)

	ch, ok := m.Subscribe(id)
	require.True(t, ok)
	final := drain(t, ch, 2*time.Second)
	require.Equal(t, StateSucceeded, final.State)
	require.Equal(t, "hi", final.Result)
}

func TestSubmitFailsWhenQueueFull(t *testing.T) {
	m := newTestManager(t, Config{Workers: 1, QueueDepth: 1})
	m.RegisterHandler("noop", func(ctx context.Context, input map[string]interface{}) (interface{}, error) { return nil, nil })
	// Initialize is never called, so no worker drains the queue.
	_, err := m.Submit(context.Background(), "noop", nil)
	require.NoError(t, err)
	_, err = m.Submit(context.Background(), "noop", nil)
	require.Error(t, err)
}

func TestRetryableErrorReenqueuesUpToLimit(t *testing.T) {
	attempts := 0
	m := newTestManager(t, Config{Workers: 1, QueueDepth: 4, RetryLimits: map[string]int{"flaky": 2}})
	m.RegisterHandler("flaky", func(ctx context.Context, input map[string]interface{}) (interface{}, error) {
		attempts++
		if attempts < 3 {
			return nil, Retryable(errors.New("transient"))
		}
		return "ok", nil
	})
	require.NoError(t, m.Initialize(context.Background()))
	defer m.Cleanup(context.Background())

	id, err := m.Submit(context.Background(), "flaky", nil)
	require.NoError(t, err)
	ch, _ := m.Subscribe(id)
	final := drain(t, ch, 2*time.Second)
	require.Equal(t, StateSucceeded, final.State)
	require.Equal(t, 3, final.Attempts)
}

func TestCancelQueuedTask(t *testing.T) {
	// New turns Workers <= 0 into one worker, so that worker is kept busy on
	// a blocking task to leave the next submission in the queue.
	m := newTestManager(t, Config{Workers: 1, QueueDepth: 4})
	release := make(chan struct{})
	m.RegisterHandler("block", func(ctx context.Context, input map[string]interface{}) (interface{}, error) {
		<-release
		return nil, nil
	})
	m.RegisterHandler("noop", func(ctx context.Context, input map[string]interface{}) (interface{}, error) { return nil, nil })
	require.NoError(t, m.Initialize(context.Background()))
	defer m.Cleanup(context.Background())
	defer close(release)

	_, err := m.Submit(context.Background(), "block", nil)
	require.NoError(t, err)
	id, err := m.Submit(context.Background(), "noop", nil)
	require.NoError(t, err)
	require.NoError(t, m.Cancel(id))

	task, ok := m.Get(id)
	require.True(t, ok)
	require.Equal(t, StateCanceled, task.State)
}

func TestWorkerPanicMarksTaskFailed(t *testing.T) {
	m := newTestManager(t, Config{Workers: 1, QueueDepth: 4})
	m.RegisterHandler("boom", func(ctx context.Context, input map[string]interface{}) (interface{}, error) {
		panic("kaboom")
	})
	require.NoError(t, m.Initialize(context.Background()))
	defer m.Cleanup(context.Background())

	id, err := m.Submit(context.Background(), "boom", nil)
	require.NoError(t, err)
	ch, _ := m.Subscribe(id)
	final := drain(t, ch, 2*time.Second)
	require.Equal(t, StateFailed, final.State)
	require.Equal(t, "internal-error", final.ErrorKind)
}
